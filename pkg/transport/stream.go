// Package transport implements the two network transports used by the
// system: a stream transport (TCP) carrying the peer envelope protocol, and
// a datagram transport (UDP) carrying the directory request/response
// protocol.
package transport

import (
	"context"
	"fmt"
	"log"
	"net"
)

// StreamHandler processes one accepted or dialed connection. It receives
// the connection's remote address and is expected to loop reading frames
// until the connection closes or ctx is done.
type StreamHandler func(ctx context.Context, conn *StreamConn, remote net.Addr)

// StreamConn wraps a net.Conn with the fixed-length exact-read helper the
// envelope protocol needs.
type StreamConn struct {
	net.Conn
}

// RecvExact blocks until exactly size bytes have been read, matching the
// reference implementation's recv_exact: a short read is not an error, only
// a closed connection before size bytes arrive is.
func (c *StreamConn) RecvExact(size int) ([]byte, error) {
	buf := make([]byte, size)
	read := 0
	for read < size {
		n, err := c.Conn.Read(buf[read:])
		if n > 0 {
			read += n
		}
		if err != nil {
			if read < size {
				return nil, fmt.Errorf("transport: connection closed before full packet received: %w", err)
			}
			break
		}
		if n == 0 {
			return nil, fmt.Errorf("transport: connection closed before full packet received")
		}
	}
	return buf, nil
}

// Send writes data in full, matching sendall semantics.
func (c *StreamConn) Send(data []byte) error {
	_, err := c.Conn.Write(data)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// StreamListener accepts inbound stream connections and dispatches each to
// a handler on its own goroutine, mirroring the reference TcpSocket's
// accept-loop-plus-thread-per-connection shape.
type StreamListener struct {
	ln     net.Listener
	logger *log.Logger
}

// Listen binds a stream listener on addr ("host:port").
func Listen(addr string) (*StreamListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &StreamListener{ln: ln, logger: log.Default()}, nil
}

// SetLogger overrides the listener's logger (tests pass a discard logger).
func (l *StreamListener) SetLogger(logger *log.Logger) {
	l.logger = logger
}

// Addr returns the listener's bound address.
func (l *StreamListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *StreamListener) Close() error {
	return l.ln.Close()
}

// Serve accepts connections until ctx is done or the listener is closed,
// dispatching each accepted connection to handler on its own goroutine.
func (l *StreamListener) Serve(ctx context.Context, handler StreamHandler) {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			l.logger.Printf("[Transport] accept error: %v", err)
			return
		}
		sc := &StreamConn{Conn: conn}
		go handler(ctx, sc, conn.RemoteAddr())
	}
}

// Dial connects to addr and runs handler on the resulting connection on the
// caller's goroutine's behalf (in its own goroutine), mirroring the
// reference TcpSocket.connect's symmetric dispatch: both accepted and
// dialed connections run the same handler shape.
func Dial(ctx context.Context, addr string, handler StreamHandler) (*StreamConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	sc := &StreamConn{Conn: conn}
	go handler(ctx, sc, conn.RemoteAddr())
	return sc, nil
}
