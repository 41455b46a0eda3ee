//go:build linux || darwin

package connection

import (
	"errors"
	"net/netip"

	"golang.org/x/sys/unix"
)

type unixIO struct{}

func defaultFDIO() fdIO { return unixIO{} }

func (unixIO) prepare(fd int) error {
	unix.CloseOnExec(fd)
	return unix.SetNonblock(fd, true)
}

func (unixIO) read(fd int, p []byte) (int, error) { return unix.Read(fd, p) }

func (unixIO) write(fd int, p []byte) (int, error) { return unix.Write(fd, p) }

func (unixIO) shutdownWrite(fd int) error { return unix.Shutdown(fd, unix.SHUT_WR) }

func (unixIO) close(fd int) error {
	_ = unix.Shutdown(fd, unix.SHUT_RDWR)
	return unix.Close(fd)
}

func (unixIO) sockError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || v == 0 {
		return nil
	}
	return unix.Errno(v)
}

func (unixIO) peerName(fd int) string {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return ""
	}
	ap, ok := fromSockaddr(sa)
	if !ok {
		return ""
	}
	return formatAddr(ap)
}

// isTransient reports whether a write or connect error should be retried on
// the next readiness event.
func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.EINPROGRESS)
}

func isTransientRead(err error) bool {
	return isTransient(err) ||
		errors.Is(err, unix.EALREADY) ||
		errors.Is(err, unix.ENOBUFS)
}

func sysSocket(addr netip.Addr) (int, error) {
	family := unix.AF_INET6
	if addr.Unmap().Is4() {
		family = unix.AF_INET
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func sysReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func sysBind(fd int, ap netip.AddrPort) error { return unix.Bind(fd, toSockaddr(ap)) }

// sysConnect issues a non-blocking connect, completion is detected later,
// via write readiness.
func sysConnect(fd int, ap netip.AddrPort) error {
	if err := unix.Connect(fd, toSockaddr(ap)); err != nil && !isTransient(err) {
		return err
	}
	return nil
}

func sysListen(fd int, backlog int) error { return unix.Listen(fd, backlog) }

func sysAccept(fd int) (int, netip.AddrPort, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	ap, _ := fromSockaddr(sa)
	return nfd, ap, nil
}

func sysSockName(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, err
	}
	ap, ok := fromSockaddr(sa)
	if !ok {
		return netip.AddrPort{}, unix.EAFNOSUPPORT
	}
	return ap, nil
}

func sysClose(fd int) error { return unix.Close(fd) }

func toSockaddr(ap netip.AddrPort) unix.Sockaddr {
	addr := ap.Addr().Unmap()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
}

func fromSockaddr(sa unix.Sockaddr) (netip.AddrPort, bool) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)), true
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port)), true
	default:
		return netip.AddrPort{}, false
	}
}
