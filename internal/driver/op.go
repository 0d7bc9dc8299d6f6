package driver

import (
	"context"
	"time"

	"github.com/pawelgaczynski/giouring"
)

// Completable turns a raw completion into a typed result. Resources is the
// type carrying whatever the operation owns while the kernel has a
// reference to it (a buffer, an address struct) so it can be recovered and
// handed back to the caller regardless of success or failure, per the
// owned-buffer convention.
type Completable[T any] interface {
	Complete(cqe CqeResult) T
}

// Op represents one in-flight, single-shot io_uring operation. Resources
// holds the Completable implementation (and whatever buffers/params it
// owns) until the operation's completion arrives.
type Op[T any, C Completable[T]] struct {
	ring      *Ring
	token     uint64
	entry     *slabEntry
	resources C
	submitted time.Time
}

// Submit reserves a slab slot, prepares an SQE via prep, and submits it.
// The returned Op's Wait method must be called exactly once.
func Submit[T any, C Completable[T]](ring *Ring, resources C, prep func(*giouring.SubmissionQueueEntry)) (*Op[T, C], error) {
	entry := &slabEntry{done: make(chan CqeResult, 1)}
	token := ring.reserve(entry)

	if err := ring.submit(token, prep); err != nil {
		ring.slab.release(token)
		return nil, err
	}

	return &Op[T, C]{ring: ring, token: token, entry: entry, resources: resources, submitted: time.Now()}, nil
}

// Wait blocks until the operation completes or ctx is canceled. On
// cancellation the operation is detached: an async cancel is submitted to
// the kernel, and this call returns ctx.Err() immediately rather than
// waiting for the kernel to acknowledge the cancellation. The slab keeps
// op.resources reachable (slab.detach) until the kernel's real completion
// eventually drains the slot, since the kernel may still be writing into
// the caller's buffer well after this call returns; ringio's public API
// surfaces this by refusing to reuse a canceled operation's buffer
// synchronously.
func (op *Op[T, C]) Wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case res := <-op.entry.done:
		return op.resources.Complete(res), nil
	case <-ctx.Done():
		op.ring.cancel(op.token)
		op.ring.slab.detach(op.token, op.resources)
		return zero, ctx.Err()
	}
}

// Resources returns the operation's owned resources without waiting. Used
// by callers that need to inspect (but not yet consume) what an Op holds,
// e.g. to log the buffer length before a cancel.
func (op *Op[T, C]) Resources() C {
	return op.resources
}

// MultiOp represents a multi-shot operation (multi-shot accept, multi-shot
// recv): one Submit produces a stream of completions, each delivered
// through the same channel. Per the persistent-waker policy, the channel
// is a buffered Go channel rather than being re-armed on every completion;
// a slow consumer sees only the most recent undelivered completion for a
// given slot, never an unbounded backlog.
type MultiOp[T any, C Completable[T]] struct {
	ring      *Ring
	token     uint64
	entry     *slabEntry
	resources C
}

// SubmitMulti is the multi-shot counterpart to Submit.
func SubmitMulti[T any, C Completable[T]](ring *Ring, resources C, prep func(*giouring.SubmissionQueueEntry)) (*MultiOp[T, C], error) {
	entry := &slabEntry{done: make(chan CqeResult, 1), multi: true}
	token := ring.reserve(entry)

	if err := ring.submit(token, prep); err != nil {
		ring.slab.release(token)
		return nil, err
	}

	return &MultiOp[T, C]{ring: ring, token: token, entry: entry, resources: resources}, nil
}

// Next blocks for the next completion in the stream. When the kernel
// reports no further completions will arrive (CQEFMore unset), Next
// returns the final result and ok=false.
func (op *MultiOp[T, C]) Next(ctx context.Context) (result T, ok bool, err error) {
	var zero T
	select {
	case res := <-op.entry.done:
		more := res.More()
		return op.resources.Complete(res), more, nil
	case <-ctx.Done():
		op.ring.cancel(op.token)
		return zero, false, ctx.Err()
	}
}

// Stop cancels the multi-shot operation and releases its slab slot.
// Safe to call after the stream has already ended naturally.
func (op *MultiOp[T, C]) Stop() {
	op.ring.cancel(op.token)
	op.ring.slab.release(op.token)
}
