package buf

import "sync"

// Scratch pool size classes: requests up to 64KB reuse a 64KB buffer,
// larger ones step up through 256KB/1MB/4MB classes rather than allocating
// exactly-sized slices.
//
// This pool is for ordinary (non-fixed) buffers only; the fs and net
// packages do not draw from it. Uses a *[]byte pattern to avoid the
// sync.Pool interface-boxing allocation.
const (
	size64k = 64 * 1024
	size256k = 256 * 1024
	size1m  = 1024 * 1024
	size4m  = 4 * 1024 * 1024
)

var scratch = struct {
	p64k, p256k, p1m, p4m sync.Pool
}{
	p64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	p256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	p1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
	p4m:   sync.Pool{New: func() any { b := make([]byte, size4m); return &b }},
}

// GetScratch returns a pooled byte slice of at least size bytes, sliced to
// exactly size. Callers needing a Buf should wrap the result with
// FromBytes or NewBuf-style ownership as appropriate. PutScratch accepts the
// slice as returned here and restores its full capacity itself.
func GetScratch(size int) []byte {
	switch {
	case size <= size64k:
		return (*scratch.p64k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*scratch.p256k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*scratch.p1m.Get().(*[]byte))[:size]
	case size <= size4m:
		return (*scratch.p4m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutScratch returns a scratch buffer to its size-class pool. Buffers
// whose capacity doesn't match one of the known classes (e.g. the
// make-directly fallback above size4m) are simply dropped.
func PutScratch(b []byte) {
	c := cap(b)
	b = b[:c]
	switch c {
	case size64k:
		scratch.p64k.Put(&b)
	case size256k:
		scratch.p256k.Put(&b)
	case size1m:
		scratch.p1m.Put(&b)
	case size4m:
		scratch.p4m.Put(&b)
	}
}
