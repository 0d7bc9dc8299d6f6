package net

import (
	"context"
	stdnet "net"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	ring "github.com/ringio/ringio"
	"github.com/ringio/ringio/internal/buf"
	"github.com/ringio/ringio/internal/driver"
)

// UDPSocket is a connectionless datagram socket. Unlike TCPStream/
// UnixStream, every read/write names the peer explicitly, so it goes
// through recvmsg/sendmsg rather than plain read/write SQEs.
type UDPSocket struct {
	fd *driver.SharedFd
}

// ListenUDP binds a UDP socket to addr.
func ListenUDP(ctx context.Context, addr string) (*UDPSocket, error) {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return nil, ring.NewError("listen_udp", ring.CodeInvalidInput, "context has no driver.Ring attached")
	}

	udpAddr, err := stdnet.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, ring.WrapError("listen_udp", err)
	}

	sa, domain, err := toUnixSockaddr(udpAddr.IP, udpAddr.Port)
	if err != nil {
		return nil, ring.WrapError("listen_udp", err)
	}

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, ring.WrapError("listen_udp", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, ring.WrapError("listen_udp", err)
	}

	return &UDPSocket{fd: driver.NewSharedFd(r, fd)}, nil
}

// RecvFromResult carries a datagram read's byte count and sender address
// alongside the BufResult's returned buffer.
type RecvFromResult struct {
	N    int
	Addr *stdnet.UDPAddr
}

type udpRecvOp struct {
	fd   *driver.SharedFd
	buf  buf.StableBufMut
	msg  *syscall.Msghdr
	name *rawSockaddr
}

func (op udpRecvOp) Complete(cqe driver.CqeResult) ring.BufResult[RecvFromResult, buf.StableBufMut] {
	op.fd.Release()
	if cqe.Negative() {
		return ring.Fail[RecvFromResult, buf.StableBufMut](ring.WrapErrno("recv_from", cqe.Errno()), op.buf)
	}
	n := int(cqe.Res)
	op.buf.SetInit(n)
	addr, err := decodeUDPAddr(op.name)
	if err != nil {
		return ring.Fail[RecvFromResult, buf.StableBufMut](ring.WrapError("recv_from", err), op.buf)
	}
	return ring.Ok[RecvFromResult, buf.StableBufMut](RecvFromResult{N: n, Addr: addr}, op.buf)
}

// RecvFrom reads one datagram into b, returning the byte count, the
// sender's address, and b back regardless of outcome.
func (s *UDPSocket) RecvFrom(ctx context.Context, b *buf.Buf) ring.BufResult[RecvFromResult, buf.StableBufMut] {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.Fail[RecvFromResult, buf.StableBufMut](ring.NewError("recv_from", ring.CodeInvalidInput, "context has no driver.Ring attached"), b)
	}

	s.fd.Acquire()
	fd := s.fd.Fd()

	iov := syscall.Iovec{Base: b.StableMutPtr()}
	iov.SetLen(b.BytesTotal())
	var name rawSockaddr
	msg := &syscall.Msghdr{
		Name:       (*byte)(name.ptr()),
		Namelen:    uint32(len(name.buf)),
		Iov:        &iov,
		Iovlen:     1,
	}

	op, err := driver.Submit[ring.BufResult[RecvFromResult, buf.StableBufMut], udpRecvOp](r, udpRecvOp{fd: s.fd, buf: b, msg: msg, name: &name}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareRecvMsg(fd, uintptr(unsafe.Pointer(msg)), 0)
	})
	if err != nil {
		s.fd.Release()
		return ring.Fail[RecvFromResult, buf.StableBufMut](ring.WrapDriverError("recv_from", err), b)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return ring.Fail[RecvFromResult, buf.StableBufMut](waitErr, b)
	}
	return res
}

type udpSendOp struct {
	fd  *driver.SharedFd
	buf buf.StableBuf
	msg *syscall.Msghdr
}

func (op udpSendOp) Complete(cqe driver.CqeResult) ring.BufResult[int, buf.StableBuf] {
	op.fd.Release()
	if cqe.Negative() {
		return ring.Fail[int, buf.StableBuf](ring.WrapErrno("send_to", cqe.Errno()), op.buf)
	}
	return ring.Ok[int, buf.StableBuf](int(cqe.Res), op.buf)
}

// SendTo sends b's initialized bytes as one datagram to addr, returning
// the byte count and b back regardless of outcome.
func (s *UDPSocket) SendTo(ctx context.Context, b *buf.Buf, addr *stdnet.UDPAddr) ring.BufResult[int, buf.StableBuf] {
	r, ok := driver.FromContext(ctx)
	if !ok {
		return ring.Fail[int, buf.StableBuf](ring.NewError("send_to", ring.CodeInvalidInput, "context has no driver.Ring attached"), b)
	}

	raw, _, err := encodeTCPAddr(&stdnet.TCPAddr{IP: addr.IP, Port: addr.Port, Zone: addr.Zone})
	if err != nil {
		return ring.Fail[int, buf.StableBuf](ring.WrapError("send_to", err), b)
	}

	s.fd.Acquire()
	fd := s.fd.Fd()

	iov := syscall.Iovec{Base: b.StablePtr()}
	iov.SetLen(b.BytesInit())
	msg := &syscall.Msghdr{
		Name:    (*byte)(raw.ptr()),
		Namelen: raw.len,
		Iov:     &iov,
		Iovlen:  1,
	}

	op, err := driver.Submit[ring.BufResult[int, buf.StableBuf], udpSendOp](r, udpSendOp{fd: s.fd, buf: b, msg: msg}, func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareSendMsg(fd, uintptr(unsafe.Pointer(msg)), 0)
	})
	if err != nil {
		s.fd.Release()
		return ring.Fail[int, buf.StableBuf](ring.WrapDriverError("send_to", err), b)
	}

	res, waitErr := op.Wait(ctx)
	if waitErr != nil {
		return ring.Fail[int, buf.StableBuf](waitErr, b)
	}
	return res
}

// LocalAddr returns the socket's bound address.
func (s *UDPSocket) LocalAddr() (*stdnet.UDPAddr, error) {
	return udpAddrFromUnixSockaddr(s.fd.Fd())
}

// Close releases the socket, blocking until the kernel confirms it.
func (s *UDPSocket) Close(ctx context.Context) error {
	return s.fd.Close(ctx)
}
