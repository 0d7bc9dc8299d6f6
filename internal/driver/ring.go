// Package driver wraps a single Linux io_uring instance: the submission
// and completion queues, a token-addressed slab of in-flight operations,
// and the goroutine loop that drives them. Everything above this package
// (fs, net, the result types) talks to the kernel only through a Ring.
package driver

import (
	"sync"
	"syscall"

	"github.com/pawelgaczynski/giouring"

	"github.com/ringio/ringio/internal/obslog"
	"github.com/ringio/ringio/internal/obsmetrics"
)

// cqeBatch bounds how many completions Tick drains from the kernel ring in
// one PeekBatchCQE call before looping back to check for more.
const cqeBatch = 128

// CqeResult is the decoded outcome of one completion queue entry.
type CqeResult struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// Negative reports whether the completion carries a negated errno.
func (c CqeResult) Negative() bool { return c.Res < 0 }

// Errno extracts the errno from a negative completion result. It is only
// meaningful when Negative() is true.
func (c CqeResult) Errno() syscall.Errno { return syscall.Errno(-c.Res) }

// More reports whether this is one completion of a multi-shot operation
// that will produce further completions.
func (c CqeResult) More() bool { return c.Flags&giouring.CQEFMore != 0 }

// Ring owns one io_uring instance plus the bookkeeping needed to correlate
// completions back to waiting callers. A Ring is safe for concurrent use:
// Submit and Close may be called from any goroutine, but Tick (and the SQE
// preparation that happens inside Submit) touches the underlying
// giouring.Ring and so is serialized by mu, mirroring the teacher's
// per-tag mutex discipline around shared ring state.
type Ring struct {
	mu   sync.Mutex
	ring *giouring.Ring
	slab *slab

	// backlog holds prepare funcs that couldn't get an SQE immediately
	// because the submission queue was full; Flush retries them before
	// calling into the kernel.
	backlog []func(*giouring.SubmissionQueueEntry)

	log      *obslog.Logger
	observer obsmetrics.Observer

	closed bool
}

// Config configures a new Ring.
type Config struct {
	// Entries is the submission queue depth, rounded up to a power of two
	// by the kernel. Zero selects DefaultEntries.
	Entries uint32

	Logger   *obslog.Logger
	Observer obsmetrics.Observer
}

// NewRing creates and initializes a new io_uring instance.
func NewRing(cfg Config) (*Ring, error) {
	entries := cfg.Entries
	if entries == 0 {
		entries = DefaultEntries
	}
	gr, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, wrapErrno("create_ring", err)
	}

	log := cfg.Logger
	if log == nil {
		log = obslog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = obsmetrics.NoOpObserver{}
	}

	return &Ring{
		ring:     gr,
		slab:     newSlab(int(entries)),
		log:      log.WithOp("driver"),
		observer: observer,
	}, nil
}

// Fd returns the io_uring instance's file descriptor, usable with epoll.
func (r *Ring) Fd() int {
	return r.ring.Fd()
}

// RegisterBuffers pre-registers bufs with the kernel (IORING_REGISTER_BUFFERS),
// letting subsequent PrepareReadFixed/PrepareWriteFixed submissions address
// them by index instead of pinning a fresh iovec per op. Must be called
// before any fixed-buffer submission and only once per Ring.
func (r *Ring) RegisterBuffers(bufs [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errClosed("register_buffers")
	}

	iovecs := make([]syscall.Iovec, len(bufs))
	for i, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovecs[i].Base = &b[0]
		iovecs[i].SetLen(len(b))
	}
	if err := r.ring.RegisterBuffers(iovecs); err != nil {
		return wrapErrno("register_buffers", err)
	}
	return nil
}

// reserve inserts a new slab slot for an in-flight operation and returns
// its token, to be stashed as the SQE's UserData.
func (r *Ring) reserve(entry *slabEntry) uint64 {
	return r.slab.insert(entry)
}

// prepareLocked obtains an SQE and runs prep against it, falling back to
// the backlog when the submission queue has no room. Caller must hold mu.
func (r *Ring) prepareLocked(prep func(*giouring.SubmissionQueueEntry)) {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		r.backlog = append(r.backlog, prep)
		return
	}
	prep(sqe)
}

// submit queues prep for submission, assigning it the given token as the
// SQE's UserData. It returns ErrQueueFull only when the backlog itself is
// saturated (DefaultBacklogLimit), since a full submission queue alone is
// absorbed by the backlog.
func (r *Ring) submit(token uint64, prep func(*giouring.SubmissionQueueEntry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errClosed("submit")
	}
	if len(r.backlog) >= DefaultBacklogLimit {
		return errQueueFull()
	}

	wrapped := func(sqe *giouring.SubmissionQueueEntry) {
		prep(sqe)
		sqe.UserData = token
	}
	r.prepareLocked(wrapped)
	r.observer.ObserveSubmit("submit")
	return nil
}

// cancel submits an async cancel for the operation identified by token.
// Best-effort: nothing is returned or logged, and the cancel's own
// completion is dropped by dispatch, since cancellation races naturally
// with the original operation completing on its own.
func (r *Ring) cancel(token uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.prepareLocked(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareCancel64(token, 0)
		sqe.UserData = 0
	})
}

// Flush drains the backlog into the submission queue and submits it to the
// kernel without waiting for completions. Called at executor-park points,
// mirroring the teacher's processRequests/FlushSubmissions split.
func (r *Ring) Flush() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errClosed("flush")
	}
	for len(r.backlog) > 0 {
		prep := r.backlog[0]
		sqe := r.ring.GetSQE()
		if sqe == nil {
			break
		}
		prep(sqe)
		r.backlog = r.backlog[1:]
	}
	depth := len(r.backlog)
	_, err := r.ring.SubmitAndWait(0)
	r.mu.Unlock()

	r.observer.ObserveQueueDepth(depth)
	if err != nil && !temporary(err) {
		return wrapErrno("flush", err)
	}
	return nil
}

// Tick submits any pending SQEs and waits for at least one completion (or
// for timeoutNs to elapse, when nonzero), then drains and dispatches every
// completion currently available. It is the sole place that calls into
// slab.complete and must be invoked only from the thread running the
// Runtime's drive loop.
func (r *Ring) Tick(timeoutNs int64) error {
	if err := r.Flush(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errClosed("tick")
	}
	var ts *syscall.Timespec
	if timeoutNs > 0 {
		t := syscall.NsecToTimespec(timeoutNs)
		ts = &t
	}
	_, err := r.ring.WaitCQEs(1, ts, nil)
	r.mu.Unlock()
	if err != nil && !temporary(err) {
		return wrapErrno("tick", err)
	}

	r.dispatch()
	return nil
}

// dispatch peeks and advances every completion currently queued, routing
// each to its slab entry's completion channel.
func (r *Ring) dispatch() {
	var cqes [cqeBatch]*giouring.CompletionQueueEvent
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		n := r.ring.PeekBatchCQE(cqes[:])
		results := make([]CqeResult, n)
		for i := uint32(0); i < n; i++ {
			cqe := cqes[i]
			results[i] = CqeResult{UserData: cqe.UserData, Res: cqe.Res, Flags: cqe.Flags}
		}
		r.ring.CQAdvance(n)
		r.mu.Unlock()

		for _, res := range results {
			if res.UserData == 0 {
				continue // cancel SQEs and other fire-and-forget ops carry no token
			}
			r.slab.complete(res)
		}
		if n < cqeBatch {
			return
		}
	}
}

// Close tears down the ring. In-flight operations still waiting on a
// completion channel will never receive one; callers are expected to have
// drained or detached them first via the Runtime shutdown sequence.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.ring.QueueExit()
	return nil
}

// temporary reports whether an io_uring_enter failure should be retried
// rather than surfaced to the caller.
func temporary(err error) bool {
	errno, ok := err.(syscall.Errno)
	if !ok {
		return false
	}
	return errno == syscall.EINTR || errno == syscall.EAGAIN
}
