package fixed

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/ringio/ringio/internal/buf"
	"github.com/ringio/ringio/internal/obsmetrics"
)

// classEntry is one buffer slot within a size class: its backing Buf and
// whether it is currently checked out.
type classEntry struct {
	b          *buf.Buf
	checkedOut bool
}

// class holds every buffer of one capacity. base is the class's offset
// into the Ring's single flat kernel buffer registration, since
// IORING_REGISTER_BUFFERS addresses every registered buffer by one global
// index regardless of which size class it belongs to.
type class struct {
	capacity int
	base     int
	entries  []*classEntry
}

// firstFree returns the index of the first unchecked-out entry, if any.
// Caller must hold the pool's mu.
func (c *class) firstFree() (int, bool) {
	for i, e := range c.entries {
		if !e.checkedOut {
			return i, true
		}
	}
	return 0, false
}

// waiter is a blocked CheckOut call queued in Pool's single, class-spanning
// FIFO: a check-in wakes the earliest waiter whose requested capacity fits
// the buffer being freed, not necessarily one from the same class.
type waiter struct {
	capacity int
	result   chan checkoutResult
}

// checkoutResult is what a check-in hands a waiter: which class the freed
// buffer belongs to and its index local to that class.
type checkoutResult struct {
	capacity int
	index    int
}

// Pool is a size-keyed collection of fixed buffers: callers ask for a
// capacity and get back a buffer whose class capacity is greater than or
// equal to it (the smallest sufficient class, if more than one fits),
// blocking (respecting ctx) until one is available. Waiters are served in
// one FIFO order spanning every class, so a caller asking for a small
// buffer isn't stuck behind callers waiting on a larger class that
// happens to be busy.
type Pool struct {
	mu       sync.Mutex
	classes  map[int]*class
	sorted   []int // capacities, ascending; kept in sync with classes
	waiters  *list.List
	poisoned bool
	observer obsmetrics.Observer
}

// NewPool creates an empty Pool. Classes are added with AddClass before
// first use.
func NewPool(observer obsmetrics.Observer) *Pool {
	if observer == nil {
		observer = obsmetrics.NoOpObserver{}
	}
	return &Pool{classes: make(map[int]*class), waiters: list.New(), observer: observer}
}

// AddClass registers count buffers of the given capacity, each allocated
// fresh and intended to be registered with the kernel by the caller before
// any CheckOut is issued.
func (p *Pool) AddClass(capacity, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]*classEntry, count)
	for i := range entries {
		entries[i] = &classEntry{b: buf.NewBuf(capacity)}
	}
	if _, exists := p.classes[capacity]; !exists {
		p.sorted = append(p.sorted, capacity)
		sort.Ints(p.sorted)
	}
	p.classes[capacity] = &class{capacity: capacity, entries: entries}
}

// Backing returns the capacity class's buffers' backing slices, in the
// same order CheckOut hands out local indices, for the caller to pass to
// Ring.RegisterBuffers before any fixed-buffer submission is issued.
func (p *Pool) Backing(capacity int) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.classes[capacity]
	if !ok {
		return nil
	}
	out := make([][]byte, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.b.Full()
	}
	return out
}

// SetBase records capacity's offset into the Ring's flat kernel buffer
// registration, so Handle.Index can return a global buf_index instead of
// a class-local one. Must be called once, after RegisterBuffers, before
// any CheckOut for that capacity.
func (p *Pool) SetBase(capacity, base int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.classes[capacity]; ok {
		c.base = base
	}
}

// firstFreeFitting returns the first free entry among classes whose
// capacity is >= requested, preferring the smallest such class. Caller
// must hold p.mu.
func (p *Pool) firstFreeFitting(requested int) (idx int, c *class, ok bool) {
	for _, capacity := range p.sorted {
		if capacity < requested {
			continue
		}
		cl := p.classes[capacity]
		if i, free := cl.firstFree(); free {
			return i, cl, true
		}
	}
	return 0, nil, false
}

// hasClassFitting reports whether any registered class could ever satisfy
// requested, regardless of current availability. Caller must hold p.mu.
func (p *Pool) hasClassFitting(requested int) bool {
	for _, capacity := range p.sorted {
		if capacity >= requested {
			return true
		}
	}
	return false
}

// CheckOut blocks until a buffer whose capacity is >= requested is
// available, or ctx is done.
func (p *Pool) CheckOut(ctx context.Context, requested int) (*Handle, error) {
	p.mu.Lock()
	if p.poisoned {
		p.mu.Unlock()
		return nil, errPoisoned("check_out")
	}

	if idx, c, ok := p.firstFreeFitting(requested); ok {
		c.entries[idx].checkedOut = true
		base, capacity, b := c.base, c.capacity, c.entries[idx].b
		p.mu.Unlock()
		p.observer.ObserveBufferWait(requested, false)
		return newHandle(poolSink{p, capacity}, b, uint16(base+idx)), nil
	}

	if !p.hasClassFitting(requested) {
		p.mu.Unlock()
		return nil, errNoClass("check_out", requested)
	}

	w := &waiter{capacity: requested, result: make(chan checkoutResult, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	p.observer.ObserveBufferWait(requested, true)

	select {
	case res := <-w.result:
		p.mu.Lock()
		c := p.classes[res.capacity]
		base, b := c.base, c.entries[res.index].b
		p.mu.Unlock()
		return newHandle(poolSink{p, res.capacity}, b, uint16(base+res.index)), nil
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case res := <-w.result:
			// checkIn already handed this waiter a buffer in the race
			// with ctx firing. The caller no longer wants it, so check
			// it straight back in rather than leaving it checked-out
			// with no handle ever holding it.
			p.waiters.Remove(elem)
			c := p.classes[res.capacity]
			global := c.base + res.index
			p.mu.Unlock()
			p.checkIn(res.capacity, global)
		default:
			p.waiters.Remove(elem)
			p.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

// checkIn returns the buffer at index (global, class-base-adjusted) back
// to capacity's class, waking the earliest-queued waiter across every
// class whose requested capacity is satisfied by this buffer, if any.
func (p *Pool) checkIn(capacity int, index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() {
		if recover() != nil {
			p.poisoned = true
		}
	}()

	c, ok := p.classes[capacity]
	if !ok {
		panic("fixed: check-in for unknown class")
	}
	local := index - c.base
	if local < 0 || local >= len(c.entries) {
		panic("fixed: check-in index out of range")
	}

	for el := p.waiters.Front(); el != nil; el = el.Next() {
		w := el.Value.(*waiter)
		if w.capacity > capacity {
			continue
		}
		p.waiters.Remove(el)
		// Entry stays checked out: ownership transfers directly to the
		// waiter without ever being observably free.
		w.result <- checkoutResult{capacity: capacity, index: local}
		return
	}
	c.entries[local].checkedOut = false
}

type poolSink struct {
	p        *Pool
	capacity int
}

func (s poolSink) checkIn(index uint16) { s.p.checkIn(s.capacity, int(index)) }
