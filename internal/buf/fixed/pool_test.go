package fixed

import (
	"context"
	"testing"
	"time"
)

func TestPoolCheckOutImmediateWhenAvailable(t *testing.T) {
	p := NewPool(nil)
	p.AddClass(4096, 2)

	h, err := p.CheckOut(context.Background(), 4096)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	h.Close()
}

func TestPoolCheckOutUnknownClass(t *testing.T) {
	p := NewPool(nil)
	p.AddClass(4096, 1)

	if _, err := p.CheckOut(context.Background(), 8192); err == nil {
		t.Fatal("expected error for unregistered class")
	}
}

func TestPoolCheckOutBlocksAndWakesOnCheckIn(t *testing.T) {
	p := NewPool(nil)
	p.AddClass(4096, 1)

	h1, err := p.CheckOut(context.Background(), 4096)
	if err != nil {
		t.Fatalf("first CheckOut: %v", err)
	}

	got := make(chan *Handle, 1)
	go func() {
		h2, err := p.CheckOut(context.Background(), 4096)
		if err != nil {
			t.Errorf("second CheckOut: %v", err)
			return
		}
		got <- h2
	}()

	select {
	case <-got:
		t.Fatal("second CheckOut should have blocked while the only buffer is checked out")
	case <-time.After(20 * time.Millisecond):
	}

	h1.Close()

	select {
	case h2 := <-got:
		h2.Close()
	case <-time.After(time.Second):
		t.Fatal("second CheckOut did not unblock after check-in")
	}
}

func TestPoolCheckOutFIFOOrdering(t *testing.T) {
	p := NewPool(nil)
	p.AddClass(4096, 2)

	// Check out both buffers so the next three callers all queue.
	h1, err := p.CheckOut(context.Background(), 4096)
	if err != nil {
		t.Fatalf("CheckOut 1: %v", err)
	}
	h2, err := p.CheckOut(context.Background(), 4096)
	if err != nil {
		t.Fatalf("CheckOut 2: %v", err)
	}

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			h, err := p.CheckOut(context.Background(), 4096)
			if err != nil {
				t.Errorf("waiter %d CheckOut: %v", i, err)
				return
			}
			order <- i
			// Hold briefly so the next check-in has to wait for this
			// waiter's turn rather than racing ahead of it.
			time.Sleep(5 * time.Millisecond)
			h.Close()
		}()

		// Wait until waiter i has enqueued before launching the next one,
		// so waiter i is the i-th in line.
		for {
			p.mu.Lock()
			n := p.waiters.Len()
			p.mu.Unlock()
			if n == i+1 {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}

	h1.Close()
	first := <-order
	h2.Close()
	second := <-order
	third := <-order

	if first != 0 || second != 1 || third != 2 {
		t.Errorf("expected FIFO order 0,1,2; got %d,%d,%d", first, second, third)
	}
}

func TestPoolSetBaseOffsetsGlobalIndex(t *testing.T) {
	p := NewPool(nil)
	p.AddClass(4096, 2)
	p.AddClass(8192, 2)
	p.SetBase(4096, 0)
	p.SetBase(8192, 2)

	h, err := p.CheckOut(context.Background(), 8192)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	defer h.Close()

	if h.Index() < 2 {
		t.Fatalf("expected global index >= 2 for the second class, got %d", h.Index())
	}
}

func TestPoolCheckOutSatisfiesRequestFromLargerClass(t *testing.T) {
	p := NewPool(nil)
	p.AddClass(8192, 1)

	h, err := p.CheckOut(context.Background(), 2048)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	defer h.Close()
	if h.Buf().BytesTotal() != 8192 {
		t.Fatalf("expected a buffer from the 8192 class, got capacity %d", h.Buf().BytesTotal())
	}
}

func TestPoolCheckOutPrefersSmallestSufficientClass(t *testing.T) {
	p := NewPool(nil)
	p.AddClass(4096, 1)
	p.AddClass(8192, 1)

	h, err := p.CheckOut(context.Background(), 2048)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	defer h.Close()
	if h.Buf().BytesTotal() != 4096 {
		t.Fatalf("expected the smaller sufficient class (4096), got capacity %d", h.Buf().BytesTotal())
	}
}

func TestPoolCheckOutNoClassLargeEnoughReturnsError(t *testing.T) {
	p := NewPool(nil)
	p.AddClass(4096, 1)

	if _, err := p.CheckOut(context.Background(), 8192); err == nil {
		t.Fatal("expected error when no class is large enough to satisfy the request")
	}
}

func TestPoolCheckInWakesSmallerWaiterFromLargerClass(t *testing.T) {
	p := NewPool(nil)
	p.AddClass(8192, 1)

	h, err := p.CheckOut(context.Background(), 8192)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}

	got := make(chan *Handle, 1)
	go func() {
		h2, err := p.CheckOut(context.Background(), 2048)
		if err != nil {
			t.Errorf("waiter CheckOut: %v", err)
			return
		}
		got <- h2
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter enqueue
	h.Close()

	select {
	case h2 := <-got:
		defer h2.Close()
		if h2.Buf().BytesTotal() != 8192 {
			t.Fatalf("expected the waiter to receive the freed 8192 buffer, got capacity %d", h2.Buf().BytesTotal())
		}
	case <-time.After(time.Second):
		t.Fatal("waiter requesting a smaller capacity was not woken by check-in of a larger class")
	}
}

func TestPoolCheckOutContextDoneRacingCheckInDoesNotLeakTheBuffer(t *testing.T) {
	p := NewPool(nil)
	p.AddClass(4096, 1)

	h, err := p.CheckOut(context.Background(), 4096)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone)
		// Expected to race cancel() against the check-in below; either
		// outcome (a delivered handle or ctx.Err()) is fine, but the
		// buffer itself must never end up stuck checked-out with no
		// handle anywhere holding it.
		if h2, err := p.CheckOut(ctx, 4096); err == nil {
			h2.Close()
		}
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter enqueue
	cancel()
	h.Close()
	<-waiterDone

	// If the race left the buffer checked out with no handle, this
	// CheckOut would block forever; the deadline proves it didn't.
	finalCtx, finalCancel := context.WithTimeout(context.Background(), time.Second)
	defer finalCancel()
	h3, err := p.CheckOut(finalCtx, 4096)
	if err != nil {
		t.Fatalf("buffer leaked after ctx-done/check-in race: %v", err)
	}
	h3.Close()
}

func TestPoolCheckOutContextCancellation(t *testing.T) {
	p := NewPool(nil)
	p.AddClass(4096, 1)

	h, err := p.CheckOut(context.Background(), 4096)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := p.CheckOut(ctx, 4096); err == nil {
		t.Fatal("expected context deadline error")
	}
}
