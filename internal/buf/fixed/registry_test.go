package fixed

import (
	"testing"

	"github.com/ringio/ringio/internal/buf"
)

func newTestRegistry(n, capacity int) *Registry {
	bufs := make([]*buf.Buf, n)
	for i := range bufs {
		bufs[i] = buf.NewBuf(capacity)
	}
	return NewRegistry(bufs)
}

func TestRegistryCheckOutAndClose(t *testing.T) {
	r := newTestRegistry(2, 4096)

	h, err := r.CheckOut(0)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if h.Index() != 0 {
		t.Errorf("expected index 0, got %d", h.Index())
	}

	if _, err := r.CheckOut(0); err == nil {
		t.Fatal("expected error checking out an already-checked-out index")
	}

	h.Close()
	h2, err := r.CheckOut(0)
	if err != nil {
		t.Fatalf("CheckOut after Close: %v", err)
	}
	h2.Close()
}

func TestRegistryCheckOutOutOfRange(t *testing.T) {
	r := newTestRegistry(1, 4096)
	if _, err := r.CheckOut(5); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
}

func TestRegistryCloseIsIdempotent(t *testing.T) {
	r := newTestRegistry(1, 4096)
	h, err := r.CheckOut(0)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	h.Close()
	h.Close() // must not panic or double-release

	if _, err := r.CheckOut(0); err != nil {
		t.Fatalf("expected index to be available after single logical close: %v", err)
	}
}
