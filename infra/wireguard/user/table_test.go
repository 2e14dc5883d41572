package user

import (
	"errors"
	"net/netip"
	"strings"
	"sync"
	"syscall"
	"testing"

	"wgnt"
	"wgnt/driver"
	"wgnt/wireformat"

	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/conn/bindtest"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	var (
		mu    sync.Mutex
		binds []conn.Bind
	)
	tbl := New(WithBind(func() conn.Bind {
		mu.Lock()
		defer mu.Unlock()
		if len(binds) == 0 {
			pair := bindtest.NewChannelBinds()
			binds = append(binds, pair[:]...)
		}
		b := binds[0]
		binds = binds[1:]
		return b
	}))
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl
}

func mustKey(t *testing.T) wgtypes.Key {
	t.Helper()
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey() error = %v", err)
	}
	return k
}

func apply(t *testing.T, tbl *Table, h driver.Handle, iface wgnt.Interface) {
	t.Helper()
	block, err := wireformat.Encode(iface)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := tbl.SetConfiguration(h, block); err != nil {
		t.Fatalf("SetConfiguration() error = %v", err)
	}
}

func fetch(t *testing.T, tbl *Table, h driver.Handle) wgnt.Interface {
	t.Helper()
	n, err := tbl.GetConfiguration(h, nil)
	if !errors.Is(err, driver.ErrMoreData) {
		t.Fatalf("GetConfiguration(nil) error = %v, want ErrMoreData", err)
	}
	buf := make([]byte, n)
	got, err := tbl.GetConfiguration(h, buf)
	if err != nil {
		t.Fatalf("GetConfiguration() error = %v", err)
	}
	iface, err := wireformat.Decode(buf[:got])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return iface
}

func TestCreateOpenDelete(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(t)

	h, reboot, err := tbl.CreateAdapter("WireGuard", "Demo", nil)
	if err != nil || reboot {
		t.Fatalf("CreateAdapter() = %v, %v, %v", h, reboot, err)
	}
	if _, _, err := tbl.CreateAdapter("WireGuard", "Demo", nil); !errors.Is(err, driver.ErrRejected) {
		t.Fatalf("duplicate CreateAdapter() error = %v, want ErrRejected", err)
	}

	opened, err := tbl.OpenAdapter("WireGuard", "Demo")
	if err != nil {
		t.Fatalf("OpenAdapter() error = %v", err)
	}
	luid1, _ := tbl.AdapterLUID(h)
	luid2, _ := tbl.AdapterLUID(opened)
	if luid1 == 0 || luid1 != luid2 {
		t.Fatalf("LUIDs = %#x, %#x, want equal and nonzero", luid1, luid2)
	}

	if _, err := tbl.DeleteAdapter(h); err != nil {
		t.Fatalf("DeleteAdapter() error = %v", err)
	}
	tbl.FreeAdapter(h)
	if _, err := tbl.AdapterLUID(opened); err == nil {
		t.Fatal("AdapterLUID() on a deleted adapter succeeded")
	}
	tbl.FreeAdapter(opened)

	if _, err := tbl.OpenAdapter("WireGuard", "Demo"); !errors.Is(err, driver.ErrNotFound) {
		t.Fatalf("OpenAdapter() after delete error = %v, want ErrNotFound", err)
	}
}

func TestConfigurationRoundTrip(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(t)

	h, _, err := tbl.CreateAdapter("WireGuard", "Demo", nil)
	if err != nil {
		t.Fatalf("CreateAdapter() error = %v", err)
	}

	priv := mustKey(t)
	psk := mustKey(t)
	peers := []wgnt.Peer{
		{
			PublicKey:           mustKey(t).PublicKey(),
			PresharedKey:        &psk,
			PersistentKeepalive: wgnt.Ptr[uint16](25),
			Endpoint:            netip.MustParseAddrPort("127.0.0.1:2"),
			AllowedIPs:          []netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")},
		},
		{PublicKey: mustKey(t).PublicKey(), AllowedIPs: []netip.Prefix{netip.MustParsePrefix("2001:db8::/32")}},
		{PublicKey: mustKey(t).PublicKey()},
	}
	apply(t, tbl, h, wgnt.Interface{PrivateKey: &priv, ReplacePeers: true, Peers: peers})

	got := fetch(t, tbl, h)
	if got.PrivateKey == nil || *got.PrivateKey != priv {
		t.Fatalf("private key not reported")
	}
	if got.PublicKey == nil || *got.PublicKey != priv.PublicKey() {
		t.Fatalf("public key = %v, want derived from private key", got.PublicKey)
	}
	if len(got.Peers) != len(peers) {
		t.Fatalf("got %d peers, want %d", len(got.Peers), len(peers))
	}
	for i, p := range got.Peers {
		if p.PublicKey != peers[i].PublicKey {
			t.Fatalf("peer %d out of insertion order", i)
		}
	}
	first := got.Peers[0]
	if first.PresharedKey == nil || *first.PresharedKey != psk {
		t.Errorf("preshared key not reported")
	}
	if first.PersistentKeepalive == nil || *first.PersistentKeepalive != 25 {
		t.Errorf("keepalive = %v, want 25", first.PersistentKeepalive)
	}
	if first.Endpoint.Port() != 2 {
		t.Errorf("endpoint = %s, want port 2", first.Endpoint)
	}
	if len(first.AllowedIPs) != 1 || first.AllowedIPs[0] != peers[0].AllowedIPs[0] {
		t.Errorf("allowed ips = %v", first.AllowedIPs)
	}
	if got.Peers[2].PresharedKey != nil || got.Peers[2].PersistentKeepalive != nil {
		t.Errorf("unset peer fields reported as present: %+v", got.Peers[2])
	}
}

func TestConfigurationMergeSemantics(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(t)

	h, _, err := tbl.CreateAdapter("WireGuard", "Demo", nil)
	if err != nil {
		t.Fatalf("CreateAdapter() error = %v", err)
	}
	a, b, c := mustKey(t).PublicKey(), mustKey(t).PublicKey(), mustKey(t).PublicKey()

	apply(t, tbl, h, wgnt.Interface{ReplacePeers: true, Peers: []wgnt.Peer{{PublicKey: a}, {PublicKey: b}}})
	apply(t, tbl, h, wgnt.Interface{Peers: []wgnt.Peer{
		{PublicKey: a, Remove: true},
		{PublicKey: c, UpdateOnly: true},
		{PublicKey: b, ReplaceAllowedIPs: true, AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.1.0.0/16")}},
	}})

	got := fetch(t, tbl, h)
	if len(got.Peers) != 1 || got.Peers[0].PublicKey != b {
		t.Fatalf("peers = %+v, want only b", got.Peers)
	}
	if len(got.Peers[0].AllowedIPs) != 1 {
		t.Fatalf("allowed ips = %v", got.Peers[0].AllowedIPs)
	}

	apply(t, tbl, h, wgnt.Interface{ReplacePeers: true})
	if got := fetch(t, tbl, h); len(got.Peers) != 0 {
		t.Fatalf("peers after replace with none = %d, want 0", len(got.Peers))
	}
}

func TestReplaceAllowedIPsWithNoneClearsRoutes(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(t)

	h, _, err := tbl.CreateAdapter("WireGuard", "Demo", nil)
	if err != nil {
		t.Fatalf("CreateAdapter() error = %v", err)
	}
	b := mustKey(t).PublicKey()
	apply(t, tbl, h, wgnt.Interface{Peers: []wgnt.Peer{{
		PublicKey: b,
		AllowedIPs: []netip.Prefix{
			netip.MustParsePrefix("10.0.0.0/8"),
			netip.MustParsePrefix("fd00::/64"),
		},
	}}})
	apply(t, tbl, h, wgnt.Interface{Peers: []wgnt.Peer{{PublicKey: b, ReplaceAllowedIPs: true}}})

	got := fetch(t, tbl, h)
	if len(got.Peers) != 1 || got.Peers[0].PublicKey != b {
		t.Fatalf("peers = %+v, want only b", got.Peers)
	}
	if len(got.Peers[0].AllowedIPs) != 0 {
		t.Fatalf("allowed ips = %v, want none", got.Peers[0].AllowedIPs)
	}
}

// busyBind refuses to listen on one port, like a socket already in use.
type busyBind struct {
	conn.Bind
	busy uint16
}

func (b busyBind) Open(port uint16) ([]conn.ReceiveFunc, uint16, error) {
	if port == b.busy {
		return nil, 0, syscall.EADDRINUSE
	}
	return b.Bind.Open(port)
}

func TestSetConfigurationRollsBackOnFailure(t *testing.T) {
	t.Parallel()
	const busy = 51999
	tbl := New(WithBind(func() conn.Bind {
		return busyBind{Bind: bindtest.NewChannelBinds()[0], busy: busy}
	}))
	t.Cleanup(func() { _ = tbl.Close() })

	h, _, err := tbl.CreateAdapter("WireGuard", "Demo", nil)
	if err != nil {
		t.Fatalf("CreateAdapter() error = %v", err)
	}
	before := mustKey(t)
	a := mustKey(t).PublicKey()
	route := netip.MustParsePrefix("10.0.0.0/24")
	apply(t, tbl, h, wgnt.Interface{
		PrivateKey: &before,
		Peers: []wgnt.Peer{{
			PublicKey:           a,
			PersistentKeepalive: wgnt.Ptr[uint16](25),
			AllowedIPs:          []netip.Prefix{route},
		}},
	})
	if err := tbl.SetAdapterState(h, wgnt.DriverStateUp); err != nil {
		t.Fatalf("SetAdapterState(up) error = %v", err)
	}

	// The private key and peer replacement precede the listen port failure.
	after := mustKey(t)
	block, err := wireformat.Encode(wgnt.Interface{
		PrivateKey:   &after,
		ListenPort:   wgnt.Ptr[uint16](busy),
		ReplacePeers: true,
		Peers:        []wgnt.Peer{{PublicKey: mustKey(t).PublicKey()}},
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	err = tbl.SetConfiguration(h, block)
	var ce *driver.CallError
	if !errors.As(err, &ce) || ce.Code != driver.ErrorInvalidParameter {
		t.Fatalf("SetConfiguration(busy port) error = %v, want invalid parameter", err)
	}

	got := fetch(t, tbl, h)
	if got.PrivateKey == nil || *got.PrivateKey != before {
		t.Errorf("private key changed by a rejected block")
	}
	if got.ListenPort != nil && *got.ListenPort == busy {
		t.Errorf("listen port = %d after a rejected block", busy)
	}
	if len(got.Peers) != 1 || got.Peers[0].PublicKey != a {
		t.Fatalf("peers = %+v, want only a", got.Peers)
	}
	p := got.Peers[0]
	if len(p.AllowedIPs) != 1 || p.AllowedIPs[0] != route {
		t.Errorf("allowed ips = %v, want %v", p.AllowedIPs, route)
	}
	if p.PersistentKeepalive == nil || *p.PersistentKeepalive != 25 {
		t.Errorf("keepalive = %v, want 25", p.PersistentKeepalive)
	}
}

func TestSetConfigurationRejectsGarbage(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(t)

	h, _, err := tbl.CreateAdapter("WireGuard", "Demo", nil)
	if err != nil {
		t.Fatalf("CreateAdapter() error = %v", err)
	}
	err = tbl.SetConfiguration(h, []byte{1, 2, 3})
	var ce *driver.CallError
	if !errors.As(err, &ce) || ce.Code != driver.ErrorInvalidParameter {
		t.Fatalf("SetConfiguration(garbage) error = %v, want invalid parameter", err)
	}
}

func TestAdapterStateAndLogging(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(t)

	var (
		mu    sync.Mutex
		lines []string
	)
	if err := tbl.SetLogger(func(_ wgnt.LogLevel, ts uint64, msg string) {
		if ts == 0 {
			t.Errorf("zero timestamp on %q", msg)
		}
		mu.Lock()
		lines = append(lines, msg)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("SetLogger() error = %v", err)
	}

	h, _, err := tbl.CreateAdapter("WireGuard", "Demo", nil)
	if err != nil {
		t.Fatalf("CreateAdapter() error = %v", err)
	}
	if st, _ := tbl.AdapterState(h); st != wgnt.DriverStateDown {
		t.Fatalf("initial state = %s, want down", st)
	}
	if err := tbl.SetAdapterLogging(h, wgnt.AdapterLogOnWithPrefix); err != nil {
		t.Fatalf("SetAdapterLogging() error = %v", err)
	}
	if err := tbl.SetAdapterState(h, wgnt.DriverStateUp); err != nil {
		t.Fatalf("SetAdapterState(up) error = %v", err)
	}
	if st, _ := tbl.AdapterState(h); st != wgnt.DriverStateUp {
		t.Fatalf("state = %s, want up", st)
	}
	if err := tbl.SetAdapterLogging(h, wgnt.AdapterLogOff); err != nil {
		t.Fatalf("SetAdapterLogging(off) error = %v", err)
	}
	if err := tbl.SetAdapterState(h, wgnt.DriverStateDown); err != nil {
		t.Fatalf("SetAdapterState(down) error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) == 0 {
		t.Fatal("no log lines while logging was on")
	}
	var sawUp bool
	for _, l := range lines {
		if !strings.HasPrefix(l, "Demo: ") {
			t.Errorf("line %q lacks the adapter prefix", l)
		}
		if strings.Contains(l, "Adapter down") {
			t.Errorf("line %q logged after logging was turned off", l)
		}
		sawUp = sawUp || l == "Demo: Adapter up"
	}
	if !sawUp {
		t.Errorf("lines = %q, want \"Demo: Adapter up\"", lines)
	}
}

func TestInvalidHandle(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(t)

	if _, err := tbl.AdapterState(42); !errors.Is(err, driver.ErrRejected) {
		t.Fatalf("AdapterState(bogus) error = %v, want ErrRejected", err)
	}
	if v, err := tbl.DriverVersion(); err != nil || v != Version {
		t.Fatalf("DriverVersion() = %#x, %v", v, err)
	}
}
