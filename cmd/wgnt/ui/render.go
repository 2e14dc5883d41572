package ui

import (
	"strconv"
	"strings"
	"time"

	"wgnt"
)

// Interface renders an adapter configuration: the interface fields as
// key-values followed by a peer table. Private keys are never printed.
func Interface(name string, iface wgnt.Interface) string {
	pairs := []Pair{KV("Adapter", Bold(name))}
	if iface.PublicKey != nil {
		pairs = append(pairs, KV("Public Key", iface.PublicKey.String()))
	}
	if iface.PrivateKey != nil {
		pairs = append(pairs, KV("Private Key", Muted("(hidden)")))
	}
	if iface.ListenPort != nil {
		pairs = append(pairs, KV("Listen Port", strconv.Itoa(int(*iface.ListenPort))))
	}
	pairs = append(pairs, KV("Peers", strconv.Itoa(len(iface.Peers))))

	out := KeyValues("  ", pairs...)
	if len(iface.Peers) == 0 {
		return out
	}

	rows := make([][]string, 0, len(iface.Peers))
	for _, p := range iface.Peers {
		rows = append(rows, peerRow(p))
	}
	return out + Table(
		[]string{"PUBLIC KEY", "ENDPOINT", "ALLOWED IPS", "KEEPALIVE", "RX", "TX", "HANDSHAKE"},
		rows,
	) + "\n"
}

func peerRow(p wgnt.Peer) []string {
	var endpoint string
	if p.HasEndpoint() {
		endpoint = p.Endpoint.String()
	}
	allowed := make([]string, 0, len(p.AllowedIPs))
	for _, prefix := range p.AllowedIPs {
		allowed = append(allowed, prefix.String())
	}
	keepalive := "off"
	if p.PersistentKeepalive != nil && *p.PersistentKeepalive > 0 {
		keepalive = (time.Duration(*p.PersistentKeepalive) * time.Second).String()
	}
	handshake := "never"
	if !p.LastHandshake.IsZero() {
		handshake = p.LastHandshake.UTC().Format(time.RFC3339)
	}
	return []string{
		p.PublicKey.String(),
		endpoint,
		strings.Join(allowed, ", "),
		keepalive,
		strconv.FormatUint(p.RxBytes, 10),
		strconv.FormatUint(p.TxBytes, 10),
		handshake,
	}
}
