package net

import (
	"context"
	stdnet "net"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	ring "github.com/ringio/ringio"
	"github.com/ringio/ringio/internal/driver"
)

// TCPListener accepts inbound TCP connections through a multi-shot accept
// submission: one SQE yields a new completion for every inbound connection
// until the listener is closed, per the persistent-waker multi-shot policy.
type TCPListener struct {
	fd   *driver.SharedFd
	ring *driver.Ring
	addr *stdnet.TCPAddr

	accepting *driver.MultiOp[acceptResult, acceptCompletable]
}

// ListenTCP creates a listening socket bound to addr. Socket creation,
// bind, and listen happen synchronously via golang.org/x/sys/unix: like
// fs.Open, there is no async benefit to a cold, one-shot setup call, and
// Accept is where the ring actually earns its keep.
func ListenTCP(ctx context.Context, addr string) (*TCPListener, error) {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return nil, ring.NewError("listen_tcp", ring.CodeInvalidInput, "context has no driver.Ring attached")
	}

	tcpAddr, err := stdnet.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, ring.WrapError("listen_tcp", err)
	}

	sa, domain, err := toUnixSockaddr(tcpAddr.IP, tcpAddr.Port)
	if err != nil {
		return nil, ring.WrapError("listen_tcp", err)
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, ring.WrapError("listen_tcp", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, ring.WrapError("listen_tcp", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, ring.WrapError("listen_tcp", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, ring.WrapError("listen_tcp", err)
	}

	boundAddr, err := tcpAddrFromUnixSockaddr(fd)
	if err != nil {
		boundAddr = tcpAddr
	}

	return &TCPListener{fd: driver.NewSharedFd(r, fd), ring: r, addr: boundAddr}, nil
}

// Addr returns the listener's bound address.
func (l *TCPListener) Addr() stdnet.Addr { return l.addr }

// ShareListener duplicates l's underlying socket so a second Runtime (on
// its own OS thread, with its own Ring) can accept from the same listening
// queue concurrently — the Go analogue of cloning an Arc<TcpListener>
// across threads in the original tokio-uring example. The kernel serves
// each accept() (here, each multi-shot accept SQE) from the shared backlog
// independently, so no connection is ever handed to both runtimes.
func ShareListener(ctx context.Context, l *TCPListener) (*TCPListener, error) {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return nil, ring.NewError("share_listener", ring.CodeInvalidInput, "context has no driver.Ring attached")
	}

	dupFd, err := unix.Dup(l.fd.Fd())
	if err != nil {
		return nil, ring.WrapError("share_listener", err)
	}

	return &TCPListener{fd: driver.NewSharedFd(r, dupFd), ring: r, addr: l.addr}, nil
}

type acceptResult struct {
	fd  int
	err error
}

type acceptCompletable struct{}

func (acceptCompletable) Complete(cqe driver.CqeResult) acceptResult {
	if cqe.Negative() {
		return acceptResult{err: ring.WrapErrno("accept", cqe.Errno())}
	}
	return acceptResult{fd: int(cqe.Res)}
}

// Accept blocks until a new connection arrives. It submits one multi-shot
// accept SQE lazily on first call and reuses it across subsequent calls —
// the persistent-waker policy from the driver's multi-shot design, rather
// than re-arming a fresh accept per connection.
func (l *TCPListener) Accept(ctx context.Context) (*TCPStream, error) {
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
		return &TCPStream{fd: driver.NewSharedFd(l.ring, res.fd)}, nil
	}
}

// Close stops accepting and releases the listening socket.
func (l *TCPListener) Close(ctx context.Context) error {
	if l.accepting != nil {
		l.accepting.Stop()
		l.accepting = nil
	}
	return l.fd.Close(ctx)
}
