package cap

import (
	"errors"
	"testing"
	"time"
)

func testOptions() *Options {
	o := DefaultOptions()
	o.RTOInitial = 50 * time.Millisecond
	o.RTOMin = 20 * time.Millisecond
	o.TimeWait = 100 * time.Millisecond
	o.HandshakeRetries = 10
	o.MaxRetries = 10
	o.PayloadMax = 4
	return o
}

func TestHandshakeAndSingleMessageTransfer(t *testing.T) {
	server, err := Bind("127.0.0.1:0", testOptions())
	if err != nil {
		t.Fatalf("server bind: %v", err)
	}
	defer server.Close()
	if err := server.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	client, err := Bind("127.0.0.1:0", testOptions())
	if err != nil {
		t.Fatalf("client bind: %v", err)
	}
	defer client.Close()

	type acceptResult struct {
		conn *Connection
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := server.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	clientConn, err := client.Connect(server.LocalAddr().String())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	var serverConn *Connection
	select {
	case res := <-acceptCh:
		if res.err != nil {
			t.Fatalf("accept: %v", res.err)
		}
		serverConn = res.conn
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}

	if err := clientConn.Send([]byte("HELLO")); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		msg, err := serverConn.Recv()
		if err != nil {
			errCh <- err
			return
		}
		msgCh <- msg
	}()

	select {
	case msg := <-msgCh:
		if string(msg) != "HELLO" {
			t.Fatalf("got %q, want %q", msg, "HELLO")
		}
	case err := <-errCh:
		t.Fatalf("recv: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("recv timed out")
	}

	if err := clientConn.Close(); err != nil {
		t.Fatalf("client close: %v", err)
	}

	doneCh := make(chan error, 1)
	go func() {
		_, err := serverConn.Recv()
		doneCh <- err
	}()
	select {
	case err := <-doneCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("expected ConnectionClosed after peer FIN, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed peer close")
	}
}

func TestConnectFailsWhenNoListener(t *testing.T) {
	client, err := Bind("127.0.0.1:0", testOptions())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer client.Close()

	if err := client.SetOption(SOHandshakeRetries, 2); err != nil {
		t.Fatalf("set option: %v", err)
	}
	if err := client.SetOption(SORTOInitial, 10*time.Millisecond); err != nil {
		t.Fatalf("set option: %v", err)
	}

	unreachable, err := Bind("127.0.0.1:0", testOptions())
	if err != nil {
		t.Fatalf("bind unreachable: %v", err)
	}
	peer := unreachable.LocalAddr().String()
	unreachable.Close()

	_, err = client.Connect(peer)
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("expected ConnectTimeout, got %v", err)
	}
}
