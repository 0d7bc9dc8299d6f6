package driver

import (
	"context"
	"testing"
	"time"

	"github.com/pawelgaczynski/giouring"
)

func newTestRing(t *testing.T) *Ring {
	t.Helper()
	ring, err := NewRing(Config{Entries: 32})
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { _ = ring.Close() })
	return ring
}

type nopCompletion struct{}

func (nopCompletion) Complete(cqe CqeResult) CqeResult { return cqe }

func TestRingSubmitAndTickDeliversNopCompletion(t *testing.T) {
	ring := newTestRing(t)

	op, err := Submit[CqeResult, nopCompletion](ring, nopCompletion{}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareNop()
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := make(chan struct{})
	var res CqeResult
	var waitErr error
	go func() {
		res, waitErr = op.Wait(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-done:
			if waitErr != nil {
				t.Fatalf("Wait: %v", waitErr)
			}
			if res.Res != 0 {
				t.Errorf("expected nop completion Res=0, got %d", res.Res)
			}
			return
		default:
			if err := ring.Tick(int64(50 * time.Millisecond)); err != nil {
				t.Fatalf("Tick: %v", err)
			}
		}
	}
	t.Fatal("timed out waiting for nop completion")
}

func TestRingSubmitAfterCloseFails(t *testing.T) {
	ring := newTestRing(t)
	if err := ring.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := Submit[CqeResult, nopCompletion](ring, nopCompletion{}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareNop()
	})
	if err == nil {
		t.Fatal("expected Submit after Close to fail")
	}
}

func TestRingFlushReportsQueueDepth(t *testing.T) {
	ring := newTestRing(t)
	if err := ring.Flush(); err != nil {
		t.Fatalf("Flush on empty backlog: %v", err)
	}
}
