package net

import (
	"context"
	stdnet "net"
	"runtime"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	ring "github.com/ringio/ringio"
	"github.com/ringio/ringio/internal/buf"
	"github.com/ringio/ringio/internal/driver"
)

// TCPStream is a connected TCP socket driven through one Ring, mirroring
// fs.File's owned-buffer Read/Write surface: every call hands the kernel a
// buffer and gets it back regardless of outcome.
type TCPStream struct {
	fd *driver.SharedFd
}

type connectResult struct {
	err error
}

type connectCompletable struct {
	// addr keeps the raw sockaddr reachable until the completion arrives;
	// Go's GC has no notion of "the kernel still holds this pointer" the
	// way the owned-buffer convention assumes for read/write buffers, so
	// the dial functions also pin it with a runtime.Pinner for the call.
	addr *rawSockaddr
}

func (c connectCompletable) Complete(cqe driver.CqeResult) connectResult {
	if cqe.Negative() {
		return connectResult{err: ring.WrapErrno("connect", cqe.Errno())}
	}
	return connectResult{}
}

// DialTCP connects to addr. Socket creation is synchronous (same rationale
// as fs.Open); the connect itself is submitted through the ring.
func DialTCP(ctx context.Context, addr string) (*TCPStream, error) {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return nil, ring.NewError("dial_tcp", ring.CodeInvalidInput, "context has no driver.Ring attached")
	}

	tcpAddr, err := stdnet.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, ring.WrapError("dial_tcp", err)
	}

	raw, domain, err := encodeTCPAddr(tcpAddr)
	if err != nil {
		return nil, ring.WrapError("dial_tcp", err)
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, ring.WrapError("dial_tcp", err)
	}

	var pinner runtime.Pinner
	pinner.Pin(&raw)
	defer pinner.Unpin()

	op, err := driver.Submit[connectResult, connectCompletable](r, connectCompletable{addr: &raw}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareConnect(fd, uintptr(raw.ptr()), uint64(raw.len))
	})
	if err != nil {
		unix.Close(fd)
		return nil, ring.WrapDriverError("dial_tcp", err)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		unix.Close(fd)
		return nil, waitErr
	}
	if res.err != nil {
		unix.Close(fd)
		return nil, res.err
	}

	return &TCPStream{fd: driver.NewSharedFd(r, fd)}, nil
}

type connReadOp struct {
	fd  *driver.SharedFd
	buf buf.StableBufMut
}

func (op connReadOp) Complete(cqe driver.CqeResult) ring.BufResult[int, buf.StableBufMut] {
	op.fd.Release()
	if cqe.Negative() {
		return ring.Fail[int, buf.StableBufMut](ring.WrapErrno("read", cqe.Errno()), op.buf)
	}
	n := int(cqe.Res)
	op.buf.SetInit(n)
	return ring.Ok[int, buf.StableBufMut](n, op.buf)
}

// Read reads into b, returning the number of bytes read (0 on peer close)
// and b back regardless of outcome.
func (s *TCPStream) Read(ctx context.Context, b *buf.Buf) ring.BufResult[int, buf.StableBufMut] {
	return streamRead(ctx, s.fd, b)
}

// Write writes b's initialized bytes, returning the number written and b
// back regardless of outcome.
func (s *TCPStream) Write(ctx context.Context, b *buf.Buf) ring.BufResult[int, buf.StableBuf] {
	return streamWrite(ctx, s.fd, b)
}

// LocalAddr returns the connection's local address.
func (s *TCPStream) LocalAddr() (*stdnet.TCPAddr, error) {
	return tcpAddrFromUnixSockaddr(s.fd.Fd())
}

// RemoteAddr returns the connection's peer address.
func (s *TCPStream) RemoteAddr() (*stdnet.TCPAddr, error) {
	return tcpAddrFromPeername(s.fd.Fd())
}

// Close releases the connection, blocking until the kernel confirms it.
func (s *TCPStream) Close(ctx context.Context) error {
	return s.fd.Close(ctx)
}

func streamRead(ctx context.Context, fd *driver.SharedFd, b *buf.Buf) ring.BufResult[int, buf.StableBufMut] {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.Fail[int, buf.StableBufMut](ring.NewError("read", ring.CodeInvalidInput, "context has no driver.Ring attached"), b)
	}

	fd.Acquire()
	ptr := b.StableMutPtr()
	total := uint32(b.BytesTotal())
	rawFd := fd.Fd()

	op, err := driver.Submit[ring.BufResult[int, buf.StableBufMut], connReadOp](r, connReadOp{fd: fd, buf: b}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareRead(rawFd, uintptr(unsafe.Pointer(ptr)), total, 0)
	})
	if err != nil {
		fd.Release()
		return ring.Fail[int, buf.StableBufMut](ring.WrapDriverError("read", err), b)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return ring.Fail[int, buf.StableBufMut](waitErr, b)
	}
	return res
}

type connWriteOp struct {
	fd  *driver.SharedFd
	buf buf.StableBuf
}

func (op connWriteOp) Complete(cqe driver.CqeResult) ring.BufResult[int, buf.StableBuf] {
	op.fd.Release()
	if cqe.Negative() {
		return ring.Fail[int, buf.StableBuf](ring.WrapErrno("write", cqe.Errno()), op.buf)
	}
	return ring.Ok[int, buf.StableBuf](int(cqe.Res), op.buf)
}

func streamWrite(ctx context.Context, fd *driver.SharedFd, b *buf.Buf) ring.BufResult[int, buf.StableBuf] {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.Fail[int, buf.StableBuf](ring.NewError("write", ring.CodeInvalidInput, "context has no driver.Ring attached"), b)
	}

	fd.Acquire()
	ptr := b.StablePtr()
	n := uint32(b.BytesInit())
	rawFd := fd.Fd()

	op, err := driver.Submit[ring.BufResult[int, buf.StableBuf], connWriteOp](r, connWriteOp{fd: fd, buf: b}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareWrite(rawFd, uintptr(unsafe.Pointer(ptr)), n, 0)
	})
	if err != nil {
		fd.Release()
		return ring.Fail[int, buf.StableBuf](ring.WrapDriverError("write", err), b)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return ring.Fail[int, buf.StableBuf](waitErr, b)
	}
	return res
}
