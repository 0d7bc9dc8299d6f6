package fixed

import (
	"sync"

	"github.com/ringio/ringio/internal/buf"
)

// checkInSink abstracts over Registry and Pool so Handle doesn't need to
// know which kind of collection it came from.
type checkInSink interface {
	checkIn(index uint16)
}

// Handle is a unique, checked-out reference to one fixed buffer. Go has no
// destructor to run an automatic check-in the way the Rust FixedBuf's Drop
// impl does, so every Handle obtained from Registry.CheckOut or
// Pool.CheckOut must have Close called on it exactly once, regardless of
// whether the I/O operation it was used for succeeded.
type Handle struct {
	sink  checkInSink
	b     *buf.Buf
	index uint16

	mu     sync.Mutex
	closed bool
}

func newHandle(sink checkInSink, b *buf.Buf, index uint16) *Handle {
	return &Handle{sink: sink, b: b, index: index}
}

// Index returns the buffer's position in its registry, or for a Pool its
// class's base (see Pool.SetBase) plus its position within the class: the
// value io_uring's fixed-buffer ops need as buf_index.
func (h *Handle) Index() uint16 { return h.index }

// Buf exposes the underlying owned buffer for use as an operation's
// StableBufMut/StableBuf resource.
func (h *Handle) Buf() *buf.Buf { return h.b }

// Close checks the buffer back in, making it available to the next
// caller (or waiter, for a Pool). Safe to call more than once; only the
// first call checks the buffer in.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.sink.checkIn(h.index)
}
