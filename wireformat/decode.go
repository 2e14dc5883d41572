package wireformat

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"

	"wgnt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Decode parses a configuration block returned by the driver. It walks the
// counts declared in the headers and fails on a block that is shorter or
// longer than they describe. Merge intent bits are not reflected in the result:
// the driver reports its canonical state, not the request that produced it.
func Decode(b []byte) (wgnt.Interface, error) {
	return decode(b, false)
}

// DecodeRequest parses a block on the receiving side of SetConfiguration,
// keeping the replace, update-only and remove bits. Only driver
// implementations need it.
func DecodeRequest(b []byte) (wgnt.Interface, error) {
	return decode(b, true)
}

func decode(b []byte, intent bool) (wgnt.Interface, error) {
	if len(b) < InterfaceSize {
		return wgnt.Interface{}, fmt.Errorf("decode interface header: %w", ErrTruncated)
	}

	var iface wgnt.Interface
	flags := InterfaceFlags(le.Uint32(b[ifaceFlagsOff:]))
	if flags&InterfaceHasListenPort != 0 {
		iface.ListenPort = wgnt.Ptr(le.Uint16(b[ifaceListenPortOff:]))
	}
	if flags&InterfaceHasPrivateKey != 0 {
		iface.PrivateKey = wgnt.Ptr(readKey(b[ifacePrivateKeyOff:]))
	}
	if flags&InterfaceHasPublicKey != 0 {
		iface.PublicKey = wgnt.Ptr(readKey(b[ifacePublicKeyOff:]))
	}
	if intent {
		iface.ReplacePeers = flags&InterfaceReplacePeers != 0
	}

	count := le.Uint32(b[ifacePeersCountOff:])
	off := InterfaceSize
	if count > 0 {
		// Bound the preallocation by what the buffer can hold, not by the count.
		hint := (len(b) - off) / PeerSize
		if uint64(count) < uint64(hint) {
			hint = int(count)
		}
		iface.Peers = make([]wgnt.Peer, 0, hint)
	}
	for i := uint32(0); i < count; i++ {
		p, n, err := readPeer(b[off:], intent)
		if err != nil {
			return wgnt.Interface{}, fmt.Errorf("decode peer %d: %w", i, err)
		}
		iface.Peers = append(iface.Peers, p)
		off += n
	}
	if off != len(b) {
		return wgnt.Interface{}, fmt.Errorf("decode: %d of %d bytes used: %w", off, len(b), ErrTrailingData)
	}
	return iface, nil
}

func readPeer(b []byte, intent bool) (wgnt.Peer, int, error) {
	if len(b) < PeerSize {
		return wgnt.Peer{}, 0, ErrTruncated
	}

	var p wgnt.Peer
	flags := PeerFlags(le.Uint32(b[peerFlagsOff:]))
	if flags&PeerHasPublicKey != 0 {
		p.PublicKey = readKey(b[peerPublicKeyOff:])
	}
	if flags&PeerHasPresharedKey != 0 {
		p.PresharedKey = wgnt.Ptr(readKey(b[peerPresharedKeyOff:]))
	}
	if flags&PeerHasPersistentKeepalive != 0 {
		p.PersistentKeepalive = wgnt.Ptr(le.Uint16(b[peerKeepaliveOff:]))
	}
	if flags&PeerHasEndpoint != 0 {
		ep, err := readSockaddr(b[peerEndpointOff : peerEndpointOff+sockaddrSize])
		if err != nil {
			return wgnt.Peer{}, 0, fmt.Errorf("endpoint: %w", err)
		}
		p.Endpoint = ep
	}
	if intent {
		p.ReplaceAllowedIPs = flags&PeerReplaceAllowedIPs != 0
		p.UpdateOnly = flags&PeerUpdateOnly != 0
		p.Remove = flags&PeerRemove != 0
	}
	p.TxBytes = le.Uint64(b[peerTxBytesOff:])
	p.RxBytes = le.Uint64(b[peerRxBytesOff:])
	p.LastHandshake = wgnt.FileTimeToTime(le.Uint64(b[peerLastHandshakeOff:]))

	count := uint64(le.Uint32(b[peerAllowedCountOff:]))
	if count*AllowedIPSize > uint64(len(b)-PeerSize) {
		return wgnt.Peer{}, 0, fmt.Errorf("%d allowed ips: %w", count, ErrTruncated)
	}
	if count > 0 {
		p.AllowedIPs = make([]netip.Prefix, 0, count)
	}
	off := PeerSize
	for i := uint64(0); i < count; i++ {
		prefix, err := readAllowedIP(b[off : off+AllowedIPSize])
		if err != nil {
			return wgnt.Peer{}, 0, fmt.Errorf("allowed ip %d: %w", i, err)
		}
		p.AllowedIPs = append(p.AllowedIPs, prefix)
		off += AllowedIPSize
	}
	return p, off, nil
}

func readAllowedIP(b []byte) (netip.Prefix, error) {
	var addr netip.Addr
	family := le.Uint16(b[allowedFamilyOff:])
	switch family {
	case AFInet:
		addr = netip.AddrFrom4([4]byte(b[allowedAddressOff : allowedAddressOff+4]))
	case AFInet6:
		addr = netip.AddrFrom16([16]byte(b[allowedAddressOff : allowedAddressOff+16]))
	default:
		return netip.Prefix{}, fmt.Errorf("%w: %d", ErrAddressFamily, family)
	}
	bits := int(b[allowedCidrOff])
	if bits > addr.BitLen() {
		return netip.Prefix{}, fmt.Errorf("%w: /%d for %s", ErrInvalidPrefix, bits, addr)
	}
	return netip.PrefixFrom(addr, bits), nil
}

func readSockaddr(b []byte) (netip.AddrPort, error) {
	port := binary.BigEndian.Uint16(b[sockaddrPortOff:])
	switch family := le.Uint16(b[sockaddrFamilyOff:]); family {
	case AFInet:
		addr := netip.AddrFrom4([4]byte(b[sockaddrIn4AddrOff : sockaddrIn4AddrOff+4]))
		return netip.AddrPortFrom(addr, port), nil
	case AFInet6:
		addr := netip.AddrFrom16([16]byte(b[sockaddrIn6AddrOff : sockaddrIn6AddrOff+16]))
		if scope := le.Uint32(b[sockaddrIn6ScopeOff:]); scope != 0 {
			addr = addr.WithZone(strconv.FormatUint(uint64(scope), 10))
		}
		return netip.AddrPortFrom(addr, port), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: %d", ErrAddressFamily, family)
	}
}

func readKey(b []byte) wgtypes.Key {
	var k wgtypes.Key
	copy(k[:], b[:keyLen])
	return k
}
