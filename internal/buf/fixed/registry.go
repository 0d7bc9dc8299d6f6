// Package fixed implements kernel-registered fixed buffers: a
// fixed-size or fixed-count collection of byte slices registered once
// with a driver.Ring via IORING_REGISTER_BUFFERS, then checked out and in
// by index for each operation that opts into them (IOSQE_FIXED_FILE-style
// zero-copy I/O). A buffer checked out to the application cannot be
// checked out again until it is checked back in, avoiding data races
// between in-flight kernel operations and application code.
package fixed

import (
	"sync"

	"github.com/ringio/ringio/internal/buf"
)

// Registry is an index-addressed collection of fixed buffers, all
// registered with the kernel up front. Unlike Pool, a Registry hands out a
// specific buffer by index rather than picking one from a size class; it
// fits callers that pre-size and pre-register exactly the buffers they
// need (e.g. one per worker slot).
type Registry struct {
	mu       sync.Mutex
	bufs     []*buf.Buf
	checked  []bool
	poisoned bool
}

// NewRegistry wraps bufs as a Registry. Index i of the returned registry
// corresponds to index i of the kernel's registered iovec array; callers
// are responsible for having registered bufs with the Ring via the same
// slice before constructing the Registry.
func NewRegistry(bufs []*buf.Buf) *Registry {
	return &Registry{bufs: bufs, checked: make([]bool, len(bufs))}
}

// Len returns the number of buffers in the registry.
func (r *Registry) Len() int { return len(r.bufs) }

// CheckOut hands out the buffer at index for exclusive use, returning a
// Handle the caller must Close to check it back in. Returns an error if
// the index is out of range, already checked out, or the registry was
// poisoned by a panic during a previous check-in.
func (r *Registry) CheckOut(index int) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poisoned {
		return nil, errPoisoned("check_out")
	}
	if index < 0 || index >= len(r.bufs) {
		return nil, errInvalidIndex("check_out", index)
	}
	if r.checked[index] {
		return nil, errAlreadyCheckedOut("check_out", index)
	}
	r.checked[index] = true
	return newHandle(registrySink{r}, r.bufs[index], uint16(index)), nil
}

// checkIn returns the buffer at index to the registry, marking it
// available again. Recovers a panic from the caller's own bookkeeping
// (mirroring the Rust handle's "still checked out if panicking" rule) by
// poisoning the registry rather than leaving it in an inconsistent state
// silently.
func (r *Registry) checkIn(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if recover() != nil {
			r.poisoned = true
		}
	}()
	if index < 0 || index >= len(r.checked) {
		panic("fixed: check-in index out of range")
	}
	r.checked[index] = false
}

type registrySink struct{ r *Registry }

func (s registrySink) checkIn(index uint16) { s.r.checkIn(int(index)) }
