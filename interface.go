// Package wgnt holds the host-side model for a WireGuard NT adapter: the
// interface and peer configuration exchanged with the driver, the driver's
// adapter states, and the log records it emits.
//
// Optional fields are pointers (or zero netip values) on the host side. They
// are mapped to the driver's "has" flag bits only by package wireformat.
package wgnt

import (
	"net/netip"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Interface is the full device configuration applied in one driver call.
type Interface struct {
	ListenPort *uint16
	PrivateKey *wgtypes.Key
	PublicKey  *wgtypes.Key
	// ReplacePeers drops every peer not listed in Peers. Never set on a
	// configuration read back from the driver.
	ReplacePeers bool
	Peers        []Peer
}

// Peer is one remote WireGuard peer.
type Peer struct {
	PublicKey    wgtypes.Key
	PresharedKey *wgtypes.Key
	// PersistentKeepalive is in seconds; 0 disables keepalives.
	PersistentKeepalive *uint16
	// Endpoint is absent when it is the zero AddrPort.
	Endpoint   netip.AddrPort
	AllowedIPs []netip.Prefix

	// Merge intent. ReplaceAllowedIPs with an empty AllowedIPs clears every
	// route for the peer.
	ReplaceAllowedIPs bool
	UpdateOnly        bool
	Remove            bool

	// Reported by the driver only.
	TxBytes       uint64
	RxBytes       uint64
	LastHandshake time.Time
}

// HasEndpoint reports whether the peer carries a remote endpoint.
func (p Peer) HasEndpoint() bool {
	return p.Endpoint.IsValid()
}

// Canonical returns a copy of iface with the caller-intent flags cleared and
// empty lists set to nil, which is the shape a configuration has after a round
// trip through the driver.
func (iface Interface) Canonical() Interface {
	out := iface
	out.ReplacePeers = false
	out.Peers = nil
	if len(iface.Peers) == 0 {
		return out
	}
	out.Peers = make([]Peer, len(iface.Peers))
	for i, p := range iface.Peers {
		p.ReplaceAllowedIPs = false
		p.UpdateOnly = false
		p.Remove = false
		if len(p.AllowedIPs) == 0 {
			p.AllowedIPs = nil
		}
		out.Peers[i] = p
	}
	return out
}

// Ptr returns a pointer to v. Handy for building optional fields.
func Ptr[T any](v T) *T {
	return &v
}
