package net

import (
	"context"
	"testing"

	ring "github.com/ringio/ringio"
	"github.com/ringio/ringio/internal/buf"
)

func newTestContext(t *testing.T) (context.Context, func()) {
	t.Helper()
	rt, err := ring.NewBuilder().WithEntries(32).Build()
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	rt.Start(context.Background())
	ctx := rt.Context(context.Background())
	return ctx, func() { rt.Close() }
}

func TestTCPListenAcceptEcho(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	ln, err := ListenTCP(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close(ctx)

	accepted := make(chan *TCPStream, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	client, err := DialTCP(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer client.Close(ctx)

	var server *TCPStream
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("Accept: %v", err)
	}
	defer server.Close(ctx)

	payload := buf.FromBytes([]byte("hello"))
	wres := client.Write(ctx, payload)
	if wres.Err != nil {
		t.Fatalf("Write: %v", wres.Err)
	}
	if wres.Val != 5 {
		t.Fatalf("wrote %d bytes, want 5", wres.Val)
	}

	rbuf := buf.NewBuf(5)
	rres := server.Read(ctx, rbuf)
	if rres.Err != nil {
		t.Fatalf("Read: %v", rres.Err)
	}
	if string(rbuf.Bytes()) != "hello" {
		t.Fatalf("read %q, want %q", rbuf.Bytes(), "hello")
	}

	echoRes := server.Write(ctx, rbuf)
	if echoRes.Err != nil {
		t.Fatalf("echo Write: %v", echoRes.Err)
	}

	back := buf.NewBuf(5)
	backRes := client.Read(ctx, back)
	if backRes.Err != nil {
		t.Fatalf("client Read: %v", backRes.Err)
	}
	if string(back.Bytes()) != "hello" {
		t.Fatalf("echoed %q, want %q", back.Bytes(), "hello")
	}
}

func TestTCPReadAfterPeerCloseReturnsZero(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	ln, err := ListenTCP(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close(ctx)

	accepted := make(chan *TCPStream, 1)
	go func() {
		conn, _ := ln.Accept(ctx)
		accepted <- conn
	}()

	client, err := DialTCP(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}

	server := <-accepted
	defer server.Close(ctx)

	client.Close(ctx)

	rbuf := buf.NewBuf(8)
	rres := server.Read(ctx, rbuf)
	if rres.Err != nil {
		t.Fatalf("Read after peer close: %v", rres.Err)
	}
	if rres.Val != 0 {
		t.Fatalf("expected 0 bytes after peer close, got %d", rres.Val)
	}
}
