package adapter

import "net/netip"

// Router assigns an address to an adapter's interface and routes the default
// destination of its family through it. nt.Router implements it with the IP
// helper API; errors carry the OS code as a syscall.Errno.
type Router interface {
	SetDefaultRoute(luid uint64, prefix netip.Prefix) error
}

// RouterFunc adapts a function to Router.
type RouterFunc func(luid uint64, prefix netip.Prefix) error

func (f RouterFunc) SetDefaultRoute(luid uint64, prefix netip.Prefix) error {
	return f(luid, prefix)
}
