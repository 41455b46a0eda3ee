//go:build !linux && !darwin

package connection

import (
	"net/netip"
)

type unsupportedIO struct{}

func defaultFDIO() fdIO { return unsupportedIO{} }

func (unsupportedIO) prepare(int) error              { return ErrUnsupported }
func (unsupportedIO) read(int, []byte) (int, error)  { return 0, ErrUnsupported }
func (unsupportedIO) write(int, []byte) (int, error) { return 0, ErrUnsupported }
func (unsupportedIO) shutdownWrite(int) error        { return ErrUnsupported }
func (unsupportedIO) close(int) error                { return ErrUnsupported }
func (unsupportedIO) sockError(int) error            { return nil }
func (unsupportedIO) peerName(int) string            { return "" }
func isTransient(error) bool                         { return false }
func isTransientRead(error) bool                     { return false }
func sysSocket(netip.Addr) (int, error)              { return -1, ErrUnsupported }
func sysReuseAddr(int) error                         { return ErrUnsupported }
func sysBind(int, netip.AddrPort) error              { return ErrUnsupported }
func sysConnect(int, netip.AddrPort) error           { return ErrUnsupported }
func sysListen(int, int) error                       { return ErrUnsupported }
func sysAccept(int) (int, netip.AddrPort, error)     { return -1, netip.AddrPort{}, ErrUnsupported }
func sysSockName(int) (netip.AddrPort, error)        { return netip.AddrPort{}, ErrUnsupported }
func sysClose(int) error                             { return ErrUnsupported }
