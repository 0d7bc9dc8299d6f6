// Package fs provides positional, buffer-owning file I/O backed by
// io_uring: File has no internal cursor, so every read and write names its
// offset explicitly, matching how the kernel operation itself works.
package fs

import (
	"context"
	"os"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	ring "github.com/ringio/ringio"
	"github.com/ringio/ringio/internal/buf"
	"github.com/ringio/ringio/internal/buf/fixed"
	"github.com/ringio/ringio/internal/driver"
)

// File is an open file descriptor driven entirely through one Ring. Unlike
// os.File, File never blocks a goroutine's OS thread: every read, write,
// and close goes through the kernel's completion queue.
type File struct {
	fd *driver.SharedFd
}

// Open opens path read-only.
func Open(ctx context.Context, path string) (*File, error) {
	return openFile(ctx, path, os.O_RDONLY, 0)
}

// Create opens path for writing, creating it if necessary and truncating
// it if it already exists.
func Create(ctx context.Context, path string) (*File, error) {
	return openFile(ctx, path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// OpenFile opens path with the given flags and (when creating) mode,
// mirroring os.OpenFile.
func OpenFile(ctx context.Context, path string, flags int, mode os.FileMode) (*File, error) {
	return openFile(ctx, path, flags, uint32(mode))
}

func openFile(ctx context.Context, path string, flags int, mode uint32) (*File, error) {
	// Opening itself goes through the standard library rather than an
	// async OP_OPENAT: the path string has to be pinned and NUL-terminated
	// for the kernel regardless, and every other File method needs a
	// driver.Ring pulled from ctx, so there is no latency win opening
	// asynchronously for what's almost always a cold, one-shot call.
	osFile, err := os.OpenFile(path, flags, os.FileMode(mode))
	if err != nil {
		return nil, ring.WrapError("open", err)
	}

	r, ok := driver.FromContext(ctx)
	if !ok {
		osFile.Close()
		return nil, ring.NewError("open", ring.CodeInvalidInput, "context has no driver.Ring attached")
	}

	fd := int(osFile.Fd())
	dupFd, err := syscall.Dup(fd)
	osFile.Close()
	if err != nil {
		return nil, ring.WrapError("open", err)
	}

	return &File{fd: driver.NewSharedFd(r, dupFd)}, nil
}

// FromFd wraps an already-open file descriptor. Ownership of fd transfers
// to the File.
func FromFd(ctx context.Context, fd int) (*File, error) {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return nil, ring.NewError("from_fd", ring.CodeInvalidInput, "context has no driver.Ring attached")
	}
	return &File{fd: driver.NewSharedFd(r, fd)}, nil
}

type readOp struct {
	fd  *driver.SharedFd
	buf buf.StableBufMut
}

func (op readOp) Complete(cqe driver.CqeResult) ring.BufResult[int, buf.StableBufMut] {
	op.fd.Release()
	if cqe.Negative() {
		return ring.Fail[int, buf.StableBufMut](ring.WrapErrno("read_at", cqe.Errno()), op.buf)
	}
	n := int(cqe.Res)
	op.buf.SetInit(n)
	return ring.Ok[int, buf.StableBufMut](n, op.buf)
}

// ReadAt reads into b at the given file offset, returning the number of
// bytes read and b back regardless of outcome.
func (f *File) ReadAt(ctx context.Context, b *buf.Buf, offset uint64) ring.BufResult[int, buf.StableBufMut] {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.Fail[int, buf.StableBufMut](ring.NewError("read_at", ring.CodeInvalidInput, "context has no driver.Ring attached"), b)
	}

	f.fd.Acquire()
	ptr := b.StableMutPtr()
	total := uint32(b.BytesTotal())
	fd := f.fd.Fd()

	op, err := driver.Submit[ring.BufResult[int, buf.StableBufMut], readOp](r, readOp{fd: f.fd, buf: b}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareRead(fd, uintptr(unsafe.Pointer(ptr)), total, offset)
	})
	if err != nil {
		f.fd.Release()
		return ring.Fail[int, buf.StableBufMut](ring.WrapDriverError("read_at", err), b)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return ring.Fail[int, buf.StableBufMut](waitErr, b)
	}
	return res
}

type writeOp struct {
	fd  *driver.SharedFd
	buf buf.StableBuf
}

func (op writeOp) Complete(cqe driver.CqeResult) ring.BufResult[int, buf.StableBuf] {
	op.fd.Release()
	if cqe.Negative() {
		return ring.Fail[int, buf.StableBuf](ring.WrapErrno("write_at", cqe.Errno()), op.buf)
	}
	return ring.Ok[int, buf.StableBuf](int(cqe.Res), op.buf)
}

// WriteAt writes b's initialized bytes to the file at the given offset,
// returning the number of bytes written and b back regardless of outcome.
func (f *File) WriteAt(ctx context.Context, b *buf.Buf, offset uint64) ring.BufResult[int, buf.StableBuf] {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.Fail[int, buf.StableBuf](ring.NewError("write_at", ring.CodeInvalidInput, "context has no driver.Ring attached"), b)
	}

	f.fd.Acquire()
	ptr := b.StablePtr()
	n := uint32(b.BytesInit())
	fd := f.fd.Fd()

	op, err := driver.Submit[ring.BufResult[int, buf.StableBuf], writeOp](r, writeOp{fd: f.fd, buf: b}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareWrite(fd, uintptr(unsafe.Pointer(ptr)), n, offset)
	})
	if err != nil {
		f.fd.Release()
		return ring.Fail[int, buf.StableBuf](ring.WrapDriverError("write_at", err), b)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return ring.Fail[int, buf.StableBuf](waitErr, b)
	}
	return res
}

// ReadExactAt reads exactly b's full capacity, looping ReadAt calls as
// needed. Returns CodeUnexpectedEOF if the file ends before b is filled.
func (f *File) ReadExactAt(ctx context.Context, b *buf.Buf, offset uint64) ring.BufResult[struct{}, *buf.Buf] {
	pos := offset
	want := b.BytesTotal()
	s := buf.NewSlice(b, 0, want)

	for {
		start, end := s.Bounds()
		if start == end {
			break
		}
		res := f.readAtSlice(ctx, s, pos)
		if res.Err != nil {
			return ring.Fail[struct{}, *buf.Buf](res.Err, b)
		}
		if res.Val == 0 {
			return ring.Fail[struct{}, *buf.Buf](ring.NewError("read_exact_at", ring.CodeUnexpectedEOF, "failed to fill whole buffer"), b)
		}
		pos += uint64(res.Val)
		s = buf.NewSlice(b, start+res.Val, end)
	}
	return ring.Ok[struct{}, *buf.Buf](struct{}{}, b)
}

func (f *File) readAtSlice(ctx context.Context, s *buf.Slice, offset uint64) ring.BufResult[int, buf.StableBufMut] {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.Fail[int, buf.StableBufMut](ring.NewError("read_at", ring.CodeInvalidInput, "context has no driver.Ring attached"), s)
	}

	f.fd.Acquire()
	ptr := s.StableMutPtr()
	total := uint32(s.BytesTotal())
	fd := f.fd.Fd()

	op, err := driver.Submit[ring.BufResult[int, buf.StableBufMut], readOp](r, readOp{fd: f.fd, buf: s}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareRead(fd, uintptr(unsafe.Pointer(ptr)), total, offset)
	})
	if err != nil {
		f.fd.Release()
		return ring.Fail[int, buf.StableBufMut](ring.WrapDriverError("read_at", err), s)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return ring.Fail[int, buf.StableBufMut](waitErr, s)
	}
	return res
}

// WriteAllAt writes all of b's initialized bytes, looping WriteAt calls as
// needed until the buffer is exhausted or an error (including
// CodeWriteZero) occurs.
func (f *File) WriteAllAt(ctx context.Context, b *buf.Buf, offset uint64) ring.BufResult[struct{}, *buf.Buf] {
	pos := offset
	want := b.BytesInit()
	s := buf.NewSlice(b, 0, want)

	for {
		start, end := s.Bounds()
		if s.BytesInit() == 0 || start == end {
			break
		}
		res := f.writeAtSlice(ctx, s, pos)
		if res.Err != nil {
			return ring.Fail[struct{}, *buf.Buf](res.Err, b)
		}
		if res.Val == 0 {
			return ring.Fail[struct{}, *buf.Buf](ring.NewError("write_all_at", ring.CodeWriteZero, "failed to write whole buffer"), b)
		}
		pos += uint64(res.Val)
		newStart := start + res.Val
		if newStart >= end {
			break
		}
		s = buf.NewSlice(b, newStart, end)
	}
	return ring.Ok[struct{}, *buf.Buf](struct{}{}, b)
}

func (f *File) writeAtSlice(ctx context.Context, s *buf.Slice, offset uint64) ring.BufResult[int, buf.StableBuf] {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.Fail[int, buf.StableBuf](ring.NewError("write_at", ring.CodeInvalidInput, "context has no driver.Ring attached"), s)
	}

	f.fd.Acquire()
	ptr := s.StablePtr()
	n := uint32(s.BytesInit())
	fd := f.fd.Fd()

	op, err := driver.Submit[ring.BufResult[int, buf.StableBuf], writeOp](r, writeOp{fd: f.fd, buf: s}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareWrite(fd, uintptr(unsafe.Pointer(ptr)), n, offset)
	})
	if err != nil {
		f.fd.Release()
		return ring.Fail[int, buf.StableBuf](ring.WrapDriverError("write_at", err), s)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return ring.Fail[int, buf.StableBuf](waitErr, s)
	}
	return res
}

type readFixedOp struct {
	fd *driver.SharedFd
	h  *fixed.Handle
}

func (op readFixedOp) Complete(cqe driver.CqeResult) ring.BufResult[int, *fixed.Handle] {
	op.fd.Release()
	if cqe.Negative() {
		return ring.Fail[int, *fixed.Handle](ring.WrapErrno("read_at_fixed", cqe.Errno()), op.h)
	}
	n := int(cqe.Res)
	op.h.Buf().SetInit(n)
	return ring.Ok[int, *fixed.Handle](n, op.h)
}

// ReadAtFixed reads into the fixed buffer h holds, at the given file
// offset, addressing it by its pre-registered index so the kernel skips
// per-op buffer pinning. h is returned regardless of outcome; the caller
// must still Close it exactly once.
func (f *File) ReadAtFixed(ctx context.Context, h *fixed.Handle, offset uint64) ring.BufResult[int, *fixed.Handle] {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.Fail[int, *fixed.Handle](ring.NewError("read_at_fixed", ring.CodeInvalidInput, "context has no driver.Ring attached"), h)
	}

	f.fd.Acquire()
	b := h.Buf()
	ptr := b.StableMutPtr()
	total := uint32(b.BytesTotal())
	fd := f.fd.Fd()
	index := h.Index()

	op, err := driver.Submit[ring.BufResult[int, *fixed.Handle], readFixedOp](r, readFixedOp{fd: f.fd, h: h}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareReadFixed(fd, uintptr(unsafe.Pointer(ptr)), total, offset, int(index))
	})
	if err != nil {
		f.fd.Release()
		return ring.Fail[int, *fixed.Handle](ring.WrapDriverError("read_at_fixed", err), h)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return ring.Fail[int, *fixed.Handle](waitErr, h)
	}
	return res
}

type writeFixedOp struct {
	fd *driver.SharedFd
	h  *fixed.Handle
}

func (op writeFixedOp) Complete(cqe driver.CqeResult) ring.BufResult[int, *fixed.Handle] {
	op.fd.Release()
	if cqe.Negative() {
		return ring.Fail[int, *fixed.Handle](ring.WrapErrno("write_at_fixed", cqe.Errno()), op.h)
	}
	return ring.Ok[int, *fixed.Handle](int(cqe.Res), op.h)
}

// WriteAtFixed writes h's initialized bytes at the given file offset,
// addressing the buffer by its pre-registered index. h is returned
// regardless of outcome; the caller must still Close it exactly once.
func (f *File) WriteAtFixed(ctx context.Context, h *fixed.Handle, offset uint64) ring.BufResult[int, *fixed.Handle] {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.Fail[int, *fixed.Handle](ring.NewError("write_at_fixed", ring.CodeInvalidInput, "context has no driver.Ring attached"), h)
	}

	f.fd.Acquire()
	b := h.Buf()
	ptr := b.StablePtr()
	n := uint32(b.BytesInit())
	fd := f.fd.Fd()
	index := h.Index()

	op, err := driver.Submit[ring.BufResult[int, *fixed.Handle], writeFixedOp](r, writeFixedOp{fd: f.fd, h: h}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareWriteFixed(fd, uintptr(unsafe.Pointer(ptr)), n, offset, int(index))
	})
	if err != nil {
		f.fd.Release()
		return ring.Fail[int, *fixed.Handle](ring.WrapDriverError("write_at_fixed", err), h)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return ring.Fail[int, *fixed.Handle](waitErr, h)
	}
	return res
}

type fsyncOp struct {
	fd *driver.SharedFd
	op string
}

func (op fsyncOp) Complete(cqe driver.CqeResult) error {
	op.fd.Release()
	if cqe.Negative() {
		return ring.WrapErrno(op.op, cqe.Errno())
	}
	return nil
}

// SyncAll flushes both file content and metadata to the underlying storage.
func (f *File) SyncAll(ctx context.Context) error {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.NewError("sync_all", ring.CodeInvalidInput, "context has no driver.Ring attached")
	}

	f.fd.Acquire()
	fd := f.fd.Fd()
	op, err := driver.Submit[error, fsyncOp](r, fsyncOp{fd: f.fd, op: "sync_all"}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareFsync(fd, 0)
	})
	if err != nil {
		f.fd.Release()
		return ring.WrapDriverError("sync_all", err)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return waitErr
	}
	return res
}

// SyncData flushes file content, but not necessarily metadata, to storage.
func (f *File) SyncData(ctx context.Context) error {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.NewError("sync_data", ring.CodeInvalidInput, "context has no driver.Ring attached")
	}

	f.fd.Acquire()
	fd := f.fd.Fd()
	op, err := driver.Submit[error, fsyncOp](r, fsyncOp{fd: f.fd, op: "sync_data"}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareFsync(fd, giouring.FsyncDataSync)
	})
	if err != nil {
		f.fd.Release()
		return ring.WrapDriverError("sync_data", err)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return waitErr
	}
	return res
}

// Close releases the file descriptor, blocking until the kernel has
// confirmed it. There is no implicit close on garbage collection: Go has
// no destructor equivalent to Drop, so an unclosed File simply leaks its
// fd until process exit.
func (f *File) Close(ctx context.Context) error {
	return f.fd.Close(ctx)
}
