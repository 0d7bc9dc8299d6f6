package net

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"

	ring "github.com/ringio/ringio"
)

// TestShareListenerAcceptsAcrossTwoRuntimes mirrors echo-multi-threaded's
// two-runtime listener clone: each runtime owns its own Ring and dups the
// same listening socket, and every dialed connection lands on exactly one
// of the two accept loops, never both.
func TestShareListenerAcceptsAcrossTwoRuntimes(t *testing.T) {
	rt0, err := ring.NewBuilder().WithEntries(32).Build()
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	defer rt0.Close()
	rt0.Start(context.Background())
	ctx0 := rt0.Context(context.Background())

	rt1, err := ring.NewBuilder().WithEntries(32).Build()
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	defer rt1.Close()
	rt1.Start(context.Background())
	ctx1 := rt1.Context(context.Background())

	ln0, err := ListenTCP(ctx0, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln0.Close(ctx0)

	ln1, err := ShareListener(ctx1, ln0)
	if err != nil {
		t.Fatalf("ShareListener: %v", err)
	}
	defer ln1.Close(ctx1)

	const conns = 4
	accepted := make(chan *TCPStream, conns)

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < conns/2; i++ {
			conn, err := ln0.Accept(ctx0)
			if err != nil {
				return err
			}
			accepted <- conn
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < conns/2; i++ {
			conn, err := ln1.Accept(ctx1)
			if err != nil {
				return err
			}
			accepted <- conn
		}
		return nil
	})

	var dialErr error
	for i := 0; i < conns; i++ {
		client, err := DialTCP(ctx0, ln0.Addr().String())
		if err != nil {
			dialErr = err
			break
		}
		defer client.Close(ctx0)
	}
	if dialErr != nil {
		t.Fatalf("DialTCP: %v", dialErr)
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("accept loops: %v", err)
	}

	seen := 0
	for i := 0; i < conns; i++ {
		conn := <-accepted
		defer conn.Close(ctx0)
		seen++
	}
	if seen != conns {
		t.Fatalf("accepted %d connections across both runtimes, want %d", seen, conns)
	}
}

// TestShareListenerFixedPoolSatisfiesConcurrentCheckouts exercises the
// fixed-buffer pool under contention (many more borrowers than buffers)
// driven by an errgroup, confirming every CheckOutFixed call eventually
// succeeds (a lost wakeup would hang the test). It does not check which
// buffer each borrower received.
func TestShareListenerFixedPoolSatisfiesConcurrentCheckouts(t *testing.T) {
	rt, err := ring.NewBuilder().
		WithEntries(32).
		WithFixedBufferClass(4096, 2).
		Build()
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			h, err := rt.CheckOutFixed(ctx, 4096)
			if err != nil {
				return err
			}
			defer h.Close()
			h.Buf().SetInit(0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent CheckOutFixed: %v", err)
	}
}
