package wireformat

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
	"strconv"

	"wgnt"
	"wgnt/internal/check"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Size returns the encoded length of iface in bytes.
func Size(iface wgnt.Interface) int {
	n := InterfaceSize
	for _, p := range iface.Peers {
		n += PeerSize + len(p.AllowedIPs)*AllowedIPSize
	}
	return n
}

// Encode serializes iface into a configuration block. Optional fields that are
// nil leave their "has" bit clear; the replace and update bits mirror the
// caller's intent even when the resulting bytes would otherwise match.
func Encode(iface wgnt.Interface) ([]byte, error) {
	if uint64(len(iface.Peers)) > math.MaxUint32 {
		return nil, fmt.Errorf("encode peers: %w", ErrTooMany)
	}

	buf := make([]byte, Size(iface))

	var flags InterfaceFlags
	if iface.ListenPort != nil {
		flags |= InterfaceHasListenPort
		le.PutUint16(buf[ifaceListenPortOff:], *iface.ListenPort)
	}
	if iface.PrivateKey != nil {
		flags |= InterfaceHasPrivateKey
		putKey(buf[ifacePrivateKeyOff:], *iface.PrivateKey)
	}
	if iface.PublicKey != nil {
		flags |= InterfaceHasPublicKey
		putKey(buf[ifacePublicKeyOff:], *iface.PublicKey)
	}
	if iface.ReplacePeers {
		flags |= InterfaceReplacePeers
	}
	le.PutUint32(buf[ifaceFlagsOff:], uint32(flags))
	le.PutUint32(buf[ifacePeersCountOff:], uint32(len(iface.Peers)))

	off := InterfaceSize
	for i, p := range iface.Peers {
		n, err := putPeer(buf[off:], p)
		if err != nil {
			return nil, fmt.Errorf("encode peer %d: %w", i, err)
		}
		off += n
	}
	check.Assertf(off == len(buf), "encoded %d bytes into a %d byte block", off, len(buf))
	return buf, nil
}

func putPeer(b []byte, p wgnt.Peer) (int, error) {
	if p.PublicKey == (wgtypes.Key{}) {
		return 0, ErrMissingPublicKey
	}
	if uint64(len(p.AllowedIPs)) > math.MaxUint32 {
		return 0, fmt.Errorf("allowed ips: %w", ErrTooMany)
	}

	flags := PeerHasPublicKey
	putKey(b[peerPublicKeyOff:], p.PublicKey)
	if p.PresharedKey != nil {
		flags |= PeerHasPresharedKey
		putKey(b[peerPresharedKeyOff:], *p.PresharedKey)
	}
	if p.PersistentKeepalive != nil {
		flags |= PeerHasPersistentKeepalive
		le.PutUint16(b[peerKeepaliveOff:], *p.PersistentKeepalive)
	}
	if p.HasEndpoint() {
		if err := putSockaddr(b[peerEndpointOff:peerEndpointOff+sockaddrSize], p.Endpoint); err != nil {
			return 0, err
		}
		flags |= PeerHasEndpoint
	}
	if p.ReplaceAllowedIPs {
		flags |= PeerReplaceAllowedIPs
	}
	if p.Remove {
		flags |= PeerRemove
	}
	if p.UpdateOnly {
		flags |= PeerUpdateOnly
	}
	le.PutUint32(b[peerFlagsOff:], uint32(flags))
	le.PutUint64(b[peerTxBytesOff:], p.TxBytes)
	le.PutUint64(b[peerRxBytesOff:], p.RxBytes)
	le.PutUint64(b[peerLastHandshakeOff:], wgnt.TimeToFileTime(p.LastHandshake))
	le.PutUint32(b[peerAllowedCountOff:], uint32(len(p.AllowedIPs)))

	off := PeerSize
	for i, prefix := range p.AllowedIPs {
		if err := putAllowedIP(b[off:off+AllowedIPSize], prefix); err != nil {
			return 0, fmt.Errorf("allowed ip %d: %w", i, err)
		}
		off += AllowedIPSize
	}
	return off, nil
}

func putAllowedIP(b []byte, prefix netip.Prefix) error {
	if !prefix.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidPrefix, prefix)
	}
	addr := prefix.Addr()
	switch {
	case addr.Is4():
		a := addr.As4()
		copy(b[allowedAddressOff:], a[:])
		le.PutUint16(b[allowedFamilyOff:], AFInet)
	default:
		a := addr.As16()
		copy(b[allowedAddressOff:], a[:])
		le.PutUint16(b[allowedFamilyOff:], AFInet6)
	}
	b[allowedCidrOff] = byte(prefix.Bits())
	return nil
}

func putSockaddr(b []byte, ap netip.AddrPort) error {
	addr := ap.Addr()
	switch {
	case addr.Is4():
		le.PutUint16(b[sockaddrFamilyOff:], AFInet)
		binary.BigEndian.PutUint16(b[sockaddrPortOff:], ap.Port())
		a := addr.As4()
		copy(b[sockaddrIn4AddrOff:], a[:])
	case addr.Is6():
		var scope uint32
		if zone := addr.Zone(); zone != "" {
			id, err := strconv.ParseUint(zone, 10, 32)
			if err != nil {
				return fmt.Errorf("%w: zone %q is not a scope id", ErrInvalidEndpoint, zone)
			}
			scope = uint32(id)
		}
		le.PutUint16(b[sockaddrFamilyOff:], AFInet6)
		binary.BigEndian.PutUint16(b[sockaddrPortOff:], ap.Port())
		le.PutUint32(b[sockaddrIn6FlowOff:], 0)
		a := addr.As16()
		copy(b[sockaddrIn6AddrOff:], a[:])
		le.PutUint32(b[sockaddrIn6ScopeOff:], scope)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidEndpoint, ap)
	}
	return nil
}

func putKey(b []byte, k wgtypes.Key) {
	copy(b[:keyLen], k[:])
}
