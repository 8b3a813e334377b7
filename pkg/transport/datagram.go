package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"
)

// DatagramMaxMessageSize bounds a single directory-protocol datagram,
// matching the reference implementation's 4096-byte recv buffer.
const DatagramMaxMessageSize = 4096

// pollInterval is how often the listen loop wakes to check for shutdown —
// grounded on the teacher's gossip listenLoop 1-second read-deadline poll.
const pollInterval = 1 * time.Second

// DatagramHandler processes one received datagram. It runs on its own
// goroutine per the reference UdpSocket's thread-per-datagram dispatch.
type DatagramHandler func(data []byte, from net.Addr)

// UDPTransport is a thin wrapper over net.UDPConn providing the
// bind/send/recv shape the directory request/response protocol needs.
type UDPTransport struct {
	conn   *net.UDPConn
	logger *log.Logger
}

// Bind opens a UDP socket on addr ("host:port").
func Bind(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	return &UDPTransport{conn: conn, logger: log.Default()}, nil
}

// SetLogger overrides the transport's logger (tests pass a discard logger).
func (t *UDPTransport) SetLogger(logger *log.Logger) {
	t.logger = logger
}

// LocalAddr returns the transport's bound address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// Send writes data to the given address.
func (t *UDPTransport) Send(data []byte, to *net.UDPAddr) error {
	if _, err := t.conn.WriteToUDP(data, to); err != nil {
		return fmt.Errorf("transport: udp send to %s: %w", to, err)
	}
	return nil
}

// Recv blocks for a single datagram, matching the reference client's
// synchronous recvfrom-based request/response call shape.
func (t *UDPTransport) Recv() ([]byte, *net.UDPAddr, error) {
	buf := make([]byte, DatagramMaxMessageSize)
	n, from, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: udp recv: %w", err)
	}
	return buf[:n], from, nil
}

// RecvTimeout blocks for a single datagram or until timeout elapses.
func (t *UDPTransport) RecvTimeout(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("transport: set read deadline: %w", err)
	}
	defer t.conn.SetReadDeadline(time.Time{})
	return t.Recv()
}

// Serve reads datagrams until ctx is done, dispatching each to handler on
// its own goroutine — mirroring the reference UdpSocket._recv_loop's
// thread-per-datagram shape, adapted to Go's context/read-deadline
// cancellation idiom (pkg/discovery/gossip.go's listenLoop).
func (t *UDPTransport) Serve(ctx context.Context, handler DatagramHandler) {
	buf := make([]byte, DatagramMaxMessageSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			t.logger.Printf("[Transport] udp recv error: %v", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		go handler(data, from)
	}
}
