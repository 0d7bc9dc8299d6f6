package net

import (
	"context"
	stdnet "net"
	"runtime"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	ring "github.com/ringio/ringio"
	"github.com/ringio/ringio/internal/buf"
	"github.com/ringio/ringio/internal/driver"
)

// UnixListener accepts inbound Unix domain stream connections, the same
// multi-shot-accept shape as TCPListener.
type UnixListener struct {
	fd   *driver.SharedFd
	ring *driver.Ring
	addr *stdnet.UnixAddr

	accepting *driver.MultiOp[acceptResult, acceptCompletable]
}

// ListenUnix binds and listens on a Unix domain socket at path.
func ListenUnix(ctx context.Context, path string) (*UnixListener, error) {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return nil, ring.NewError("listen_unix", ring.CodeInvalidInput, "context has no driver.Ring attached")
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, ring.WrapError("listen_unix", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, ring.WrapError("listen_unix", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, ring.WrapError("listen_unix", err)
	}

	return &UnixListener{fd: driver.NewSharedFd(r, fd), ring: r, addr: &stdnet.UnixAddr{Name: path, Net: "unix"}}, nil
}

// Addr returns the listener's bound path.
func (l *UnixListener) Addr() stdnet.Addr { return l.addr }

// Accept blocks until a new connection arrives, reusing one persistent
// multi-shot accept submission across calls, same policy as TCPListener.
func (l *UnixListener) Accept(ctx context.Context) (*UnixStream, error) {
	for {
		if l.accepting == nil {
			fd := l.fd.Fd()
			op, err := driver.SubmitMulti[acceptResult, acceptCompletable](l.ring, acceptCompletable{}, func(sqe *giouring.SubmissionQueueEntry) {
				sqe.PrepareMultishotAccept(fd, 0, 0, 0)
			})
			if err != nil {
				return nil, ring.WrapDriverError("accept", err)
			}
			l.accepting = op
		}

		res, more, err := l.accepting.Next(ctx)
		if !more {
			l.accepting = nil
		}
		if err != nil {
			return nil, err
		}
		if res.err != nil {
			if !more {
				continue
			}
			return nil, res.err
		}
		return &UnixStream{fd: driver.NewSharedFd(l.ring, res.fd)}, nil
	}
}

// Close stops accepting and releases the listening socket.
func (l *UnixListener) Close(ctx context.Context) error {
	if l.accepting != nil {
		l.accepting.Stop()
		l.accepting = nil
	}
	return l.fd.Close(ctx)
}

// UnixStream is a connected Unix domain stream socket. Read/Write share
// TCPStream's implementation: both are plain byte-stream fds once
// connected, and io_uring's IORING_OP_READ/WRITE don't distinguish them.
type UnixStream struct {
	fd *driver.SharedFd
}

// DialUnix connects to the Unix domain socket at path.
func DialUnix(ctx context.Context, path string) (*UnixStream, error) {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return nil, ring.NewError("dial_unix", ring.CodeInvalidInput, "context has no driver.Ring attached")
	}

	raw, err := encodeUnixAddr(path)
	if err != nil {
		return nil, ring.WrapError("dial_unix", err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, ring.WrapError("dial_unix", err)
	}

	var pinner runtime.Pinner
	pinner.Pin(&raw)
	defer pinner.Unpin()

	op, err := driver.Submit[connectResult, connectCompletable](r, connectCompletable{addr: &raw}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareConnect(fd, uintptr(raw.ptr()), uint64(raw.len))
	})
	if err != nil {
		unix.Close(fd)
		return nil, ring.WrapDriverError("dial_unix", err)
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

	return &UnixStream{fd: driver.NewSharedFd(r, fd)}, nil
}

// Read reads into b, returning the number of bytes read and b back
// regardless of outcome.
func (s *UnixStream) Read(ctx context.Context, b *buf.Buf) ring.BufResult[int, buf.StableBufMut] {
	return streamRead(ctx, s.fd, b)
}

// Write writes b's initialized bytes, returning the number written and b
// back regardless of outcome.
func (s *UnixStream) Write(ctx context.Context, b *buf.Buf) ring.BufResult[int, buf.StableBuf] {
	return streamWrite(ctx, s.fd, b)
}

// Close releases the connection, blocking until the kernel confirms it.
func (s *UnixStream) Close(ctx context.Context) error {
	return s.fd.Close(ctx)
}
