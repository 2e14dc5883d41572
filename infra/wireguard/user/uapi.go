package user

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"wgnt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// buildIPC renders a configuration request as a UAPI set operation.
func buildIPC(iface wgnt.Interface) string {
	var b strings.Builder
	if iface.PrivateKey != nil {
		fmt.Fprintf(&b, "private_key=%x\n", iface.PrivateKey[:])
	}
	if iface.ListenPort != nil {
		fmt.Fprintf(&b, "listen_port=%d\n", *iface.ListenPort)
	}
	if iface.ReplacePeers {
		b.WriteString("replace_peers=true\n")
	}
	for _, p := range iface.Peers {
		fmt.Fprintf(&b, "public_key=%x\n", p.PublicKey[:])
		if p.Remove {
			b.WriteString("remove=true\n")
			continue
		}
		if p.UpdateOnly {
			b.WriteString("update_only=true\n")
		}
		if p.PresharedKey != nil {
			fmt.Fprintf(&b, "preshared_key=%x\n", p.PresharedKey[:])
		}
		if p.HasEndpoint() {
			fmt.Fprintf(&b, "endpoint=%s\n", p.Endpoint)
		}
		if p.PersistentKeepalive != nil {
			fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", *p.PersistentKeepalive)
		}
		if p.ReplaceAllowedIPs {
			b.WriteString("replace_allowed_ips=true\n")
		}
		for _, prefix := range p.AllowedIPs {
			fmt.Fprintf(&b, "allowed_ip=%s\n", prefix)
		}
	}
	return b.String()
}

// restoreIPC renders a full configuration as returned by parseIPC so that
// applying it resets the device to exactly that state.
func restoreIPC(iface wgnt.Interface) string {
	var (
		b    strings.Builder
		priv wgtypes.Key
		port uint16
	)
	if iface.PrivateKey != nil {
		priv = *iface.PrivateKey
	}
	if iface.ListenPort != nil {
		port = *iface.ListenPort
	}
	fmt.Fprintf(&b, "private_key=%x\n", priv[:])
	fmt.Fprintf(&b, "listen_port=%d\n", port)
	b.WriteString("replace_peers=true\n")
	for _, p := range iface.Peers {
		var psk wgtypes.Key
		if p.PresharedKey != nil {
			psk = *p.PresharedKey
		}
		var keepalive uint16
		if p.PersistentKeepalive != nil {
			keepalive = *p.PersistentKeepalive
		}
		fmt.Fprintf(&b, "public_key=%x\n", p.PublicKey[:])
		fmt.Fprintf(&b, "preshared_key=%x\n", psk[:])
		if p.HasEndpoint() {
			fmt.Fprintf(&b, "endpoint=%s\n", p.Endpoint)
		}
		fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", keepalive)
		for _, prefix := range p.AllowedIPs {
			fmt.Fprintf(&b, "allowed_ip=%s\n", prefix)
		}
	}
	return b.String()
}

// parseIPC reads a UAPI get operation back into an Interface. Zero preshared
// keys and zero keepalive intervals are reported by wireguard-go for peers that
// never set them, so they read back as absent.
func parseIPC(uapi string) (wgnt.Interface, error) {
	var (
		iface wgnt.Interface
		peer  *wgnt.Peer
		sec   int64
		nsec  int64
	)
	flush := func() {
		if peer == nil {
			return
		}
		if sec != 0 || nsec != 0 {
			peer.LastHandshake = time.Unix(sec, nsec).UTC()
		}
		iface.Peers = append(iface.Peers, *peer)
		peer, sec, nsec = nil, 0, 0
	}

	sc := bufio.NewScanner(strings.NewReader(uapi))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return wgnt.Interface{}, fmt.Errorf("parse uapi line %q: missing '='", line)
		}

		var err error
		switch k {
		case "private_key":
			var key wgtypes.Key
			if key, err = parseHexKey(v); err == nil {
				iface.PrivateKey = &key
				iface.PublicKey = wgnt.Ptr(key.PublicKey())
			}
		case "listen_port":
			var port uint64
			if port, err = strconv.ParseUint(v, 10, 16); err == nil && port != 0 {
				iface.ListenPort = wgnt.Ptr(uint16(port))
			}
		case "public_key":
			flush()
			var key wgtypes.Key
			if key, err = parseHexKey(v); err == nil {
				peer = &wgnt.Peer{PublicKey: key}
			}
		default:
			if peer == nil {
				// Device-level keys this codec has no field for, such as fwmark.
				continue
			}
			err = parsePeerLine(peer, k, v, &sec, &nsec)
		}
		if err != nil {
			return wgnt.Interface{}, fmt.Errorf("parse uapi %s: %w", k, err)
		}
	}
	if err := sc.Err(); err != nil {
		return wgnt.Interface{}, fmt.Errorf("scan uapi: %w", err)
	}
	flush()
	return iface, nil
}

func parsePeerLine(p *wgnt.Peer, k, v string, sec, nsec *int64) error {
	var err error
	switch k {
	case "preshared_key":
		var key wgtypes.Key
		if key, err = parseHexKey(v); err == nil && key != (wgtypes.Key{}) {
			p.PresharedKey = &key
		}
	case "endpoint":
		p.Endpoint, err = netip.ParseAddrPort(v)
	case "persistent_keepalive_interval":
		var n uint64
		if n, err = strconv.ParseUint(v, 10, 16); err == nil && n != 0 {
			p.PersistentKeepalive = wgnt.Ptr(uint16(n))
		}
	case "tx_bytes":
		p.TxBytes, err = strconv.ParseUint(v, 10, 64)
	case "rx_bytes":
		p.RxBytes, err = strconv.ParseUint(v, 10, 64)
	case "last_handshake_time_sec":
		*sec, err = strconv.ParseInt(v, 10, 64)
	case "last_handshake_time_nsec":
		*nsec, err = strconv.ParseInt(v, 10, 64)
	case "allowed_ip":
		var prefix netip.Prefix
		if prefix, err = netip.ParsePrefix(v); err == nil {
			p.AllowedIPs = append(p.AllowedIPs, prefix)
		}
	}
	return err
}

func parseHexKey(s string) (wgtypes.Key, error) {
	var key wgtypes.Key
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("key is %d bytes, want %d", len(raw), len(key))
	}
	copy(key[:], raw)
	return key, nil
}

// peerOrder tracks peers in the order they were first added, which is the
// order the driver reports them in. wireguard-go reports them in map order.
type peerOrder []wgtypes.Key

func (o *peerOrder) apply(iface wgnt.Interface, known func(wgtypes.Key) bool) {
	if iface.ReplacePeers {
		*o = (*o)[:0]
	}
	for _, p := range iface.Peers {
		i := slices.Index(*o, p.PublicKey)
		switch {
		case p.Remove:
			if i >= 0 {
				*o = slices.Delete(*o, i, i+1)
			}
		case i < 0 && known(p.PublicKey):
			*o = append(*o, p.PublicKey)
		}
	}
}

func (o peerOrder) sort(peers []wgnt.Peer) {
	slices.SortStableFunc(peers, func(a, b wgnt.Peer) int {
		return o.rank(a.PublicKey) - o.rank(b.PublicKey)
	})
}

func (o peerOrder) rank(k wgtypes.Key) int {
	if i := slices.Index(o, k); i >= 0 {
		return i
	}
	return len(o)
}
