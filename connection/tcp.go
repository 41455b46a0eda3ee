package connection

import (
	"context"
	"net/netip"
	"strconv"
)

// OpenTCP begins a non-blocking connect to host:port, optionally binding
// the local end to vhost first (vhost may be empty). Completion is detected
// later, via write readiness, see Connection.FinishConnect. The connection
// is registered with FlagConnecting.
func (x *Registry) OpenTCP(ctx context.Context, host, vhost string, port int, read, write Handler) (*Connection, error) {
	if host == "" || port <= 0 || port > 65535 || (read == nil && write == nil) {
		return nil, ErrInvalidArgument
	}

	addr, err := x.resolve(ctx, "ip", host)
	if err != nil {
		return nil, x.opError(OpResolve, host, err)
	}
	remote := netip.AddrPortFrom(addr, uint16(port))

	fd, err := sysSocket(addr)
	if err != nil {
		return nil, x.opError(OpSocket, host, err)
	}
	x.noteFD(fd)

	local := "[::]:0"
	if vhost != "" {
		network := "ip6"
		if addr.Unmap().Is4() {
			network = "ip4"
		}
		vaddr, err := x.resolve(ctx, network, vhost)
		if err != nil {
			_ = sysClose(fd)
			return nil, x.opError(OpResolve, vhost, err)
		}
		bindAddr := netip.AddrPortFrom(vaddr, 0)
		if err := sysReuseAddr(fd); err != nil {
			_ = sysClose(fd)
			return nil, x.opError(OpBind, vhost, err)
		}
		if err := sysBind(fd, bindAddr); err != nil {
			_ = sysClose(fd)
			return nil, x.opError(OpBind, vhost, err)
		}
		local = formatAddr(bindAddr)
	}

	if err := sysConnect(fd, remote); err != nil {
		_ = sysClose(fd)
		return nil, x.opError(OpConnect, host, err)
	}

	c, err := x.Create(local+" -> "+formatAddr(remote), fd, FlagConnecting, read, write)
	if err != nil {
		_ = sysClose(fd)
		return nil, x.opError(OpConnect, host, err)
	}
	return c, nil
}

// OpenListenerTCP creates a listening socket bound to host:port, registered
// with FlagListening. Port 0 selects an ephemeral port, see
// Connection.LocalAddr. The read handler is called when a connection is
// pending, and will typically call AcceptTCP.
func (x *Registry) OpenListenerTCP(ctx context.Context, host string, port int, read Handler) (*Connection, error) {
	if host == "" || port < 0 || port > 65535 || read == nil {
		return nil, ErrInvalidArgument
	}

	addr, err := x.resolve(ctx, "ip", host)
	if err != nil {
		return nil, x.opError(OpResolve, host, err)
	}

	fd, err := sysSocket(addr)
	if err != nil {
		return nil, x.opError(OpSocket, host, err)
	}
	x.noteFD(fd)

	if err := sysReuseAddr(fd); err != nil {
		_ = sysClose(fd)
		return nil, x.opError(OpSocket, host, err)
	}

	if err := sysBind(fd, netip.AddrPortFrom(addr, uint16(port))); err != nil {
		_ = sysClose(fd)
		return nil, x.opError(OpBind, host, err)
	}

	if err := sysListen(fd, x.backlog); err != nil {
		_ = sysClose(fd)
		return nil, x.opError(OpListen, host, err)
	}

	bound, err := sysSockName(fd)
	if err != nil {
		_ = sysClose(fd)
		return nil, x.opError(OpListen, host, err)
	}

	c, err := x.Create(formatAddr(bound), fd, FlagListening, read, nil)
	if err != nil {
		_ = sysClose(fd)
		return nil, x.opError(OpListen, host, err)
	}
	return c, nil
}

// AcceptTCP accepts one pending connection from listener, registering it
// with FlagConnected, and associating it with the listener. If the
// listener has an accept limiter, and the peer address exceeds it, the
// socket is closed and an error wrapping ErrAcceptThrottled is returned.
func (x *Registry) AcceptTCP(listener *Connection, read, write Handler) (*Connection, error) {
	if listener == nil || listener.closed || listener.flags&FlagListening == 0 {
		return nil, ErrInvalidArgument
	}

	fd, peer, err := sysAccept(listener.fd)
	if err != nil {
		if isTransientRead(err) {
			return nil, &OpError{Op: OpAccept, Host: listener.name, Err: err}
		}
		return nil, x.opError(OpAccept, listener.name, err)
	}
	x.noteFD(fd)

	peerName := formatAddr(peer)

	if listener.acceptLimiter != nil {
		if _, ok := listener.acceptLimiter.Allow(peer.Addr().Unmap()); !ok {
			_ = sysClose(fd)
			if _, ok := x.errLimit.Allow(OpAccept); ok {
				x.logger.Notice().
					Str("peer", peerName).
					Str("listener", listener.name).
					Log("connection: accept throttled")
			}
			return nil, &OpError{Op: OpAccept, Host: peerName, Err: ErrAcceptThrottled}
		}
	}

	local, err := sysSockName(fd)
	if err != nil {
		_ = sysClose(fd)
		return nil, x.opError(OpAccept, peerName, err)
	}

	c, err := x.Create(formatAddr(local)+" <- "+peerName, fd, FlagConnected, read, write)
	if err != nil {
		_ = sysClose(fd)
		return nil, x.opError(OpAccept, peerName, err)
	}
	c.listener = listener.id
	return c, nil
}

// resolve returns the first address of host, which may be numeric, within
// the given network ("ip", "ip4", or "ip6").
func (x *Registry) resolve(ctx context.Context, network, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, nil
	}
	addrs, err := x.resolver.LookupNetIP(ctx, network, host)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(addrs) == 0 {
		return netip.Addr{}, ErrInvalidArgument
	}
	return addrs[0], nil
}

// opError logs and returns an OpError. Logging is rate limited per Op.
func (x *Registry) opError(op Op, host string, err error) error {
	if _, ok := x.errLimit.Allow(op); ok {
		x.logger.Err().
			Str("op", string(op)).
			Str("host", host).
			Err(err).
			Log("connection: unable to " + string(op) + " " + strconv.Quote(host))
	}
	return &OpError{Op: op, Host: host, Err: err}
}
