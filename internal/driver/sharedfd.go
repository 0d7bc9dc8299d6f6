package driver

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pawelgaczynski/giouring"
)

// SharedFd is a reference-counted file descriptor. Every in-flight
// operation against a fs.File or net.Conn holds one reference; the
// descriptor is only submitted for an async IORING_OP_CLOSE once the last
// reference drops, so a completion racing a caller's Close never operates
// on a closed fd.
type SharedFd struct {
	fd    int
	ring  *Ring
	count atomic.Int64

	mu     sync.Mutex
	closed chan struct{} // closed once the kernel confirms the fd is gone
}

// NewSharedFd wraps fd, owned by ring, with an initial reference count of 1.
func NewSharedFd(ring *Ring, fd int) *SharedFd {
	s := &SharedFd{fd: fd, ring: ring, closed: make(chan struct{})}
	s.count.Store(1)
	return s
}

// Fd returns the raw descriptor. Valid only while the caller holds a
// reference (i.e. between Acquire and Release, or before the first Close).
func (s *SharedFd) Fd() int { return s.fd }

// Acquire adds a reference, to be matched by a later Release once the
// operation holding it has completed or been detached.
func (s *SharedFd) Acquire() {
	s.count.Add(1)
}

// Release drops a reference. When the count reaches zero, the descriptor
// is submitted for an async close.
func (s *SharedFd) Release() {
	if s.count.Add(-1) == 0 {
		s.submitClose()
	}
}

type closeCompletion struct{ fd *SharedFd }

func (c closeCompletion) Complete(cqe CqeResult) struct{} {
	close(c.fd.closed)
	return struct{}{}
}

func (s *SharedFd) submitClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return // already closing
	default:
	}

	op, err := Submit[struct{}, closeCompletion](s.ring, closeCompletion{fd: s}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareClose(s.fd)
	})
	if err != nil {
		// Backlog saturated: close synchronously rather than leaking the
		// descriptor, mirroring what a dropped Rust SharedFd falls back to.
		syscallClose(s.fd)
		close(s.closed)
		return
	}

	// submitClose is fire-and-forget: nothing is waiting on this Op's
	// result, so something still has to read its completion off the slab
	// or closeCompletion.Complete (and the close(s.closed) it does) never
	// runs. A background goroutine plays that role; it outlives
	// submitClose's own caller by design, blocking only on the kernel's own
	// completion (context.Background(), no deadline).
	go op.Wait(context.Background())
}

// Close blocks until the kernel has confirmed the descriptor is closed,
// releasing the caller's own reference first. It is the explicit
// replacement for Rust's Drop-triggered close: Go has no destructor to run
// this automatically, so callers that need the close to have landed before
// proceeding (tests, graceful shutdown) must call it.
func (s *SharedFd) Close(ctx context.Context) error {
	s.Release()
	select {
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
