package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	ring "github.com/ringio/ringio"
	"github.com/ringio/ringio/internal/buf"
)

func newTestContext(t *testing.T) (context.Context, func()) {
	t.Helper()
	rt, err := ring.NewBuilder().WithEntries(32).Build()
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	rt.Start(context.Background())
	ctx := rt.Context(context.Background())
	return ctx, func() { rt.Close() }
}

func TestFileCreateWriteReadAt(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	path := filepath.Join(t.TempDir(), "roundtrip")
	f, err := Create(ctx, path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := []byte("hello io_uring")
	wb := buf.FromBytes(append([]byte(nil), want...))
	res := f.WriteAt(ctx, wb, 0)
	if res.Err != nil {
		t.Fatalf("WriteAt: %v", res.Err)
	}
	if res.Val != len(want) {
		t.Fatalf("WriteAt wrote %d bytes, want %d", res.Val, len(want))
	}

	if err := f.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if err := f.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rf, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rf.Close(ctx)

	rb := buf.NewBuf(len(want))
	rres := rf.ReadAt(ctx, rb, 0)
	if rres.Err != nil {
		t.Fatalf("ReadAt: %v", rres.Err)
	}
	if rres.Val != len(want) {
		t.Fatalf("ReadAt read %d bytes, want %d", rres.Val, len(want))
	}
	if string(rb.Bytes()) != string(want) {
		t.Fatalf("ReadAt got %q, want %q", rb.Bytes(), want)
	}
}

func TestFileReadExactAtShortFileReturnsUnexpectedEOF(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	path := filepath.Join(t.TempDir(), "short")
	f, err := Create(ctx, path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	short := buf.FromBytes([]byte("abc"))
	res := f.WriteAt(ctx, short, 0)
	if res.Err != nil {
		t.Fatalf("WriteAt: %v", res.Err)
	}
	f.Close(ctx)

	rf, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rf.Close(ctx)

	want := buf.NewBuf(16)
	rres := rf.ReadExactAt(ctx, want, 0)
	if rres.Err == nil {
		t.Fatal("expected CodeUnexpectedEOF error, got nil")
	}
	if !ring.IsCode(rres.Err, ring.CodeUnexpectedEOF) {
		t.Fatalf("expected CodeUnexpectedEOF, got %v", rres.Err)
	}
}

func TestFileWriteAllAtWritesFullBuffer(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	path := filepath.Join(t.TempDir(), "writeall")
	f, err := Create(ctx, path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close(ctx)

	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	wb := buf.FromBytes(payload)
	res := f.WriteAllAt(ctx, wb, 0)
	if res.Err != nil {
		t.Fatalf("WriteAllAt: %v", res.Err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != int64(len(payload)) {
		t.Fatalf("file size = %d, want %d", fi.Size(), len(payload))
	}
}

func TestReadAtCanceledBeforeDataArrivesLeavesNoDanglingState(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer w.Close()

	rf, err := FromFd(ctx, int(r.Fd()))
	if err != nil {
		t.Fatalf("FromFd: %v", err)
	}
	defer rf.Close(ctx)
	r.Close() // fs.File owns a dup of the fd now

	readCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	rb := buf.NewBuf(8)
	res := rf.ReadAt(readCtx, rb, 0)
	if res.Err == nil {
		t.Fatal("expected the canceled read to return an error")
	}

	// The canceled read's own buffer is left alone; the kernel may still
	// complete it asynchronously once data shows up, but that completion
	// has nowhere public to land. A fresh read on the same file afterward
	// must still work, confirming the file and its Ring weren't left in a
	// broken state by the cancellation.
	if _, err := w.Write([]byte("later")); err != nil {
		t.Fatalf("write to pipe: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	rb2 := buf.NewBuf(8)
	res2 := rf.ReadAt(ctx, rb2, 0)
	if res2.Err != nil {
		t.Fatalf("ReadAt after cancellation: %v", res2.Err)
	}
}

func TestOpenFileMissingPathReturnsError(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	_, err := Open(ctx, filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("expected error opening missing file")
	}
}
