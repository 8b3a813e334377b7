package transport

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

func TestStreamListenerAcceptAndRecvExact(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	go ln.Serve(ctx, func(_ context.Context, conn *StreamConn, _ net.Addr) {
		defer conn.Close()
		data, err := conn.RecvExact(5)
		if err != nil {
			t.Errorf("server RecvExact: %v", err)
			return
		}
		received <- data
	})

	var wg sync.WaitGroup
	wg.Add(1)
	conn, err := Dial(ctx, ln.Addr().String(), func(_ context.Context, _ *StreamConn, _ net.Addr) {
		wg.Done()
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-received:
		if !bytes.Equal(data, []byte("hello")) {
			t.Fatalf("received %q, want %q", data, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive data")
	}
}

func TestStreamConnRecvExactErrorsOnEarlyClose(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go ln.Serve(ctx, func(_ context.Context, conn *StreamConn, _ net.Addr) {
		_, err := conn.RecvExact(100)
		errCh <- err
	})

	conn, err := Dial(ctx, ln.Addr().String(), func(context.Context, *StreamConn, net.Addr) {})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := conn.Send([]byte("short")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conn.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error for a connection closed before full packet received")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side error")
	}
}

func TestUDPTransportSendRecv(t *testing.T) {
	server, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind server: %v", err)
	}
	defer server.Close()

	client, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind client: %v", err)
	}
	defer client.Close()

	serverAddr := server.LocalAddr().(*net.UDPAddr)
	if err := client.Send([]byte("ping"), serverAddr); err != nil {
		t.Fatalf("Send: %v", err)
	}

	data, _, err := server.RecvTimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout: %v", err)
	}
	if !bytes.Equal(data, []byte("ping")) {
		t.Fatalf("received %q, want %q", data, "ping")
	}
}

func TestUDPTransportServeDispatchesHandler(t *testing.T) {
	server, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind server: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	go server.Serve(ctx, func(data []byte, _ net.Addr) {
		received <- data
	})

	client, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind client: %v", err)
	}
	defer client.Close()

	serverAddr := server.LocalAddr().(*net.UDPAddr)
	if err := client.Send([]byte("hello-udp"), serverAddr); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-received:
		if !bytes.Equal(data, []byte("hello-udp")) {
			t.Fatalf("received %q, want %q", data, "hello-udp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched handler")
	}
}
