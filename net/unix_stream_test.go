package net

import (
	"path/filepath"
	"testing"

	"github.com/ringio/ringio/internal/buf"
)

func TestUnixListenAcceptRoundTrip(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	sockPath := filepath.Join(t.TempDir(), "ringio-test.sock")
	ln, err := ListenUnix(ctx, sockPath)
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	defer ln.Close(ctx)

	accepted := make(chan *UnixStream, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	client, err := DialUnix(ctx, sockPath)
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	defer client.Close(ctx)

	var server *UnixStream
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("Accept: %v", err)
	}
	defer server.Close(ctx)

	wb := buf.FromBytes([]byte("ping"))
	wres := client.Write(ctx, wb)
	if wres.Err != nil {
		t.Fatalf("Write: %v", wres.Err)
	}

	rb := buf.NewBuf(4)
	rres := server.Read(ctx, rb)
	if rres.Err != nil {
		t.Fatalf("Read: %v", rres.Err)
	}
	if string(rb.Bytes()) != "ping" {
		t.Fatalf("read %q, want %q", rb.Bytes(), "ping")
	}
}
