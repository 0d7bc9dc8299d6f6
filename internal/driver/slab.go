package driver

import "sync"

// slabEntry is what a submitted operation leaves behind for Ring.dispatch
// to find by token: a channel to deliver the completion on. The channel is
// buffered by one so dispatch never blocks on a caller that has stopped
// waiting (detached).
type slabEntry struct {
	done chan CqeResult
	// multi indicates this entry stays registered across multiple
	// completions (an io_uring multi-shot operation) instead of being
	// removed from the slab after its first delivery.
	multi bool
	// ignored roots a detached (canceled) operation's owned resources —
	// typically its buffer — for as long as the kernel might still be
	// writing into them. Set by detach, cleared (along with the rest of
	// the entry) once the real completion arrives and release runs.
	ignored any
}

// slab is a generation-guarded, token-addressed table of in-flight
// operations, mirroring the teacher's per-tag state array but sized
// dynamically instead of being fixed to a queue depth. The token packs a
// generation counter into the high bits so a stale token from a reused
// index slot is detected rather than silently handed someone else's
// completion.
type slab struct {
	mu      sync.Mutex
	entries []*slabEntry
	gen     []uint32
	free    []int
}

const slabIndexBits = 32

func newSlab(initialCap int) *slab {
	return &slab{
		entries: make([]*slabEntry, 0, initialCap),
		gen:     make([]uint32, 0, initialCap),
	}
}

// packToken stores index+1 in the low bits so that no token is 0, the
// UserData value Ring.dispatch reserves for completions that carry no token.
func packToken(index int, generation uint32) uint64 {
	return uint64(generation)<<slabIndexBits | uint64(uint32(index+1))
}

func unpackToken(token uint64) (index int, generation uint32) {
	return int(uint32(token)) - 1, uint32(token >> slabIndexBits)
}

// insert assigns a token to e and returns it.
func (s *slab) insert(e *slabEntry) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.entries[idx] = e
		return packToken(idx, s.gen[idx])
	}

	idx := len(s.entries)
	s.entries = append(s.entries, e)
	s.gen = append(s.gen, 0)
	return packToken(idx, 0)
}

// lookup returns the entry for token, or nil if it has been detached or
// the token is stale.
func (s *slab) lookup(token uint64) *slabEntry {
	idx, generation := unpackToken(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.entries) {
		return nil
	}
	if s.gen[idx] != generation {
		return nil
	}
	return s.entries[idx]
}

// release frees the slab slot for reuse, bumping its generation so any
// token still held by a detached waiter is recognized as stale.
func (s *slab) release(token uint64) {
	idx, generation := unpackToken(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.entries) || s.gen[idx] != generation {
		return
	}
	s.entries[idx] = nil
	s.gen[idx]++
	s.free = append(s.free, idx)
}

// detach marks a canceled operation's slot as ignored: resources is kept
// reachable from the slab (rather than only from the Op the caller just
// gave up on) and the slot is left live — not freed, not generation-bumped
// — so the real completion still due from the kernel finds it via lookup
// and drains it normally through complete. Only that drain actually frees
// the slot and releases resources, per the detach/ignore discipline a
// canceled operation's owned buffer needs: the kernel may still write
// into it after the caller has stopped waiting.
func (s *slab) detach(token uint64, resources any) {
	idx, generation := unpackToken(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.entries) || s.gen[idx] != generation {
		return
	}
	if e := s.entries[idx]; e != nil {
		e.ignored = resources
	}
}

// complete routes one decoded completion to its slab entry's channel. It
// is called from Ring.dispatch, never concurrently with itself.
func (s *slab) complete(res CqeResult) {
	e := s.lookup(res.UserData)
	if e == nil {
		return // stale or unknown token: drop the completion
	}
	select {
	case e.done <- res:
	default:
		// Channel already holds an undelivered completion (waiter fell
		// behind a multi-shot stream); drop the oldest in favor of the
		// newest rather than blocking the dispatch loop.
		select {
		case <-e.done:
		default:
		}
		e.done <- res
	}
	if !e.multi || !res.More() {
		s.release(res.UserData)
	}
}
