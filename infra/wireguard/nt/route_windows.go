package nt

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/windows"
	"golang.zx2c4.com/wireguard/windows/tunnel/winipcfg"
)

// Router assigns addresses and default routes through the IP helper API.
// Errors are the windows.Errno the API returned.
type Router struct {
	// Metric is the route metric; 0 lets the stack pick one.
	Metric uint32
}

// SetDefaultRoute replaces the interface's addresses with prefix and routes
// the default destination of prefix's family through the interface. A route
// that already exists is not an error.
func (r Router) SetDefaultRoute(luid uint64, prefix netip.Prefix) error {
	iface := winipcfg.LUID(luid)
	if err := iface.SetIPAddresses([]netip.Prefix{prefix}); err != nil {
		return fmt.Errorf("set address %s: %w", prefix, err)
	}

	unspecified := netip.IPv4Unspecified()
	if prefix.Addr().Is6() {
		unspecified = netip.IPv6Unspecified()
	}
	def := netip.PrefixFrom(unspecified, 0)
	if err := iface.AddRoute(def, unspecified, r.Metric); err != nil && !errors.Is(err, windows.ERROR_OBJECT_ALREADY_EXISTS) {
		return fmt.Errorf("add route %s: %w", def, err)
	}
	return nil
}
