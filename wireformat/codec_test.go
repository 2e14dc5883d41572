package wireformat

import (
	"bytes"
	"errors"
	"math"
	"net/netip"
	"reflect"
	"testing"

	"wgnt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func testKey(b byte) wgtypes.Key {
	var k wgtypes.Key
	for i := range k {
		k[i] = b + byte(i)
	}
	return k
}

func TestEncodeDefaultRoutePeer(t *testing.T) {
	t.Parallel()

	iface := wgnt.Interface{
		Peers: []wgnt.Peer{{
			PublicKey:           testKey(1),
			AllowedIPs:          []netip.Prefix{netip.MustParsePrefix("0.0.0.0/0")},
			PersistentKeepalive: wgnt.Ptr[uint16](21),
		}},
	}

	block, err := Encode(iface)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(block) != InterfaceSize+PeerSize+AllowedIPSize {
		t.Fatalf("block length = %d, want %d", len(block), InterfaceSize+PeerSize+AllowedIPSize)
	}

	flags := InterfaceFlags(le.Uint32(block[ifaceFlagsOff:]))
	if flags&InterfaceHasListenPort != 0 {
		t.Errorf("interface flags = %#x, listen port must be marked absent", flags)
	}
	if got := le.Uint32(block[ifacePeersCountOff:]); got != 1 {
		t.Errorf("peer count = %d, want 1", got)
	}

	peer := block[InterfaceSize:]
	pflags := PeerFlags(le.Uint32(peer[peerFlagsOff:]))
	if pflags&PeerHasPersistentKeepalive == 0 || le.Uint16(peer[peerKeepaliveOff:]) != 21 {
		t.Errorf("keepalive flags = %#x value = %d, want present 21", pflags, le.Uint16(peer[peerKeepaliveOff:]))
	}
	if pflags&PeerHasEndpoint != 0 {
		t.Errorf("peer flags = %#x, endpoint must be absent", pflags)
	}
	if got := le.Uint32(peer[peerAllowedCountOff:]); got != 1 {
		t.Fatalf("allowed ip count = %d, want 1", got)
	}

	aip := peer[PeerSize:]
	if got := le.Uint16(aip[allowedFamilyOff:]); got != AFInet {
		t.Errorf("allowed ip family = %d, want %d", got, AFInet)
	}
	if got := aip[allowedCidrOff]; got != 0 {
		t.Errorf("allowed ip prefix length = %d, want 0", got)
	}
}

func TestEncodeFieldOffsets(t *testing.T) {
	t.Parallel()

	priv, pub, psk := testKey(0x10), testKey(0x40), testKey(0x80)
	iface := wgnt.Interface{
		ListenPort: wgnt.Ptr[uint16](51820),
		PrivateKey: &priv,
		PublicKey:  &pub,
		Peers: []wgnt.Peer{{
			PublicKey:    pub,
			PresharedKey: &psk,
			Endpoint:     netip.MustParseAddrPort("203.0.113.7:51821"),
			TxBytes:      7,
			RxBytes:      9,
		}},
	}

	block, err := Encode(iface)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if got := le.Uint16(block[4:]); got != 51820 {
		t.Errorf("listen port = %d, want 51820", got)
	}
	if !bytes.Equal(block[6:38], priv[:]) {
		t.Error("private key not at offset 6")
	}
	if !bytes.Equal(block[38:70], pub[:]) {
		t.Error("public key not at offset 38")
	}
	want := InterfaceHasListenPort | InterfaceHasPrivateKey | InterfaceHasPublicKey
	if got := InterfaceFlags(le.Uint32(block[0:])); got != want {
		t.Errorf("interface flags = %#x, want %#x", got, want)
	}

	peer := block[InterfaceSize:]
	if !bytes.Equal(peer[8:40], pub[:]) || !bytes.Equal(peer[40:72], psk[:]) {
		t.Error("peer keys not at offsets 8 and 40")
	}
	// SOCKADDR_IN at 76: family, port in network order, address.
	if got := le.Uint16(peer[76:]); got != AFInet {
		t.Errorf("endpoint family = %d, want %d", got, AFInet)
	}
	if got := []byte{peer[78], peer[79]}; !bytes.Equal(got, []byte{0xca, 0x6d}) {
		t.Errorf("endpoint port bytes = %x, want ca6d", got)
	}
	if !bytes.Equal(peer[80:84], []byte{203, 0, 113, 7}) {
		t.Errorf("endpoint address bytes = %v", peer[80:84])
	}
	if le.Uint64(peer[104:]) != 7 || le.Uint64(peer[112:]) != 9 {
		t.Error("tx/rx counters not at offsets 104 and 112")
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	priv, pub, psk := testKey(3), testKey(5), testKey(7)
	tests := []struct {
		name  string
		iface wgnt.Interface
	}{
		{name: "empty"},
		{
			name: "interface only",
			iface: wgnt.Interface{
				ListenPort: wgnt.Ptr[uint16](0),
				PrivateKey: &priv,
				PublicKey:  &pub,
			},
		},
		{
			name: "mixed peers",
			iface: wgnt.Interface{
				ListenPort:   wgnt.Ptr[uint16](51820),
				PrivateKey:   &priv,
				ReplacePeers: true,
				Peers: []wgnt.Peer{
					{
						PublicKey:           testKey(11),
						PresharedKey:        &psk,
						PersistentKeepalive: wgnt.Ptr[uint16](0),
						Endpoint:            netip.MustParseAddrPort("[2001:db8::1%4]:443"),
						AllowedIPs: []netip.Prefix{
							netip.MustParsePrefix("10.0.0.0/8"),
							netip.MustParsePrefix("fd00::/64"),
							netip.MustParsePrefix("2001:db8::/32"),
						},
						ReplaceAllowedIPs: true,
					},
					{
						PublicKey:  testKey(13),
						UpdateOnly: true,
						TxBytes:    1 << 40,
						RxBytes:    3,
					},
					{
						PublicKey:         testKey(17),
						Endpoint:          netip.MustParseAddrPort("198.51.100.2:1"),
						AllowedIPs:        []netip.Prefix{},
						ReplaceAllowedIPs: true,
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			block, err := Encode(tt.iface)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if len(block) != Size(tt.iface) {
				t.Fatalf("len(block) = %d, Size() = %d", len(block), Size(tt.iface))
			}
			got, err := Decode(block)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if want := tt.iface.Canonical(); !reflect.DeepEqual(got, want) {
				t.Fatalf("Decode(Encode(x)) = %+v, want %+v", got, want)
			}
		})
	}
}

func TestEncodePreservesMergeIntent(t *testing.T) {
	t.Parallel()

	base := wgnt.Peer{PublicKey: testKey(1)}
	replace := base
	replace.ReplaceAllowedIPs = true
	update := base
	update.UpdateOnly = true
	remove := base
	remove.Remove = true

	block, err := Encode(wgnt.Interface{ReplacePeers: true, Peers: []wgnt.Peer{base, replace, update, remove}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if flags := InterfaceFlags(le.Uint32(block)); flags&InterfaceReplacePeers == 0 {
		t.Errorf("interface flags = %#x, want ReplacePeers", flags)
	}

	want := []PeerFlags{
		PeerHasPublicKey,
		PeerHasPublicKey | PeerReplaceAllowedIPs,
		PeerHasPublicKey | PeerUpdateOnly,
		PeerHasPublicKey | PeerRemove,
	}
	for i, w := range want {
		got := PeerFlags(le.Uint32(block[InterfaceSize+i*PeerSize:]))
		if got != w {
			t.Errorf("peer %d flags = %#x, want %#x", i, got, w)
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		peer wgnt.Peer
		want error
	}{
		{name: "missing public key", peer: wgnt.Peer{}, want: ErrMissingPublicKey},
		{name: "invalid prefix", peer: wgnt.Peer{PublicKey: testKey(1), AllowedIPs: []netip.Prefix{{}}}, want: ErrInvalidPrefix},
		{name: "named zone", peer: wgnt.Peer{PublicKey: testKey(1), Endpoint: netip.MustParseAddrPort("[fe80::1%eth0]:1")}, want: ErrInvalidEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Encode(wgnt.Interface{Peers: []wgnt.Peer{tt.peer}})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Encode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()

	block, err := Encode(wgnt.Interface{Peers: []wgnt.Peer{
		{PublicKey: testKey(1), AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.1.0.0/16")}},
		{PublicKey: testKey(2)},
	}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	for _, n := range []int{0, InterfaceSize - 1, InterfaceSize, InterfaceSize + PeerSize, InterfaceSize + PeerSize + AllowedIPSize, len(block) - 1} {
		if _, err := Decode(block[:n]); !errors.Is(err, ErrTruncated) {
			t.Errorf("Decode(block[:%d]) error = %v, want ErrTruncated", n, err)
		}
	}
}

func TestDecodeTrailingData(t *testing.T) {
	t.Parallel()

	block, err := Encode(wgnt.Interface{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	block = append(block, make([]byte, 8)...)
	if _, err := Decode(block); !errors.Is(err, ErrTrailingData) {
		t.Fatalf("Decode() error = %v, want ErrTrailingData", err)
	}
}

func TestDecodeHugeCounts(t *testing.T) {
	t.Parallel()

	block := make([]byte, InterfaceSize)
	le.PutUint32(block[ifacePeersCountOff:], math.MaxUint32)
	if _, err := Decode(block); !errors.Is(err, ErrTruncated) {
		t.Fatalf("Decode() error = %v, want ErrTruncated", err)
	}

	block, err := Encode(wgnt.Interface{Peers: []wgnt.Peer{{PublicKey: testKey(1)}}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	le.PutUint32(block[InterfaceSize+peerAllowedCountOff:], math.MaxUint32)
	if _, err := Decode(block); !errors.Is(err, ErrTruncated) {
		t.Fatalf("Decode() error = %v, want ErrTruncated", err)
	}
}

func TestDecodeBadAllowedIP(t *testing.T) {
	t.Parallel()

	block, err := Encode(wgnt.Interface{Peers: []wgnt.Peer{{
		PublicKey:  testKey(1),
		AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
	}}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	aip := block[InterfaceSize+PeerSize:]

	aip[allowedCidrOff] = 33
	if _, err := Decode(block); !errors.Is(err, ErrInvalidPrefix) {
		t.Errorf("Decode() with /33 error = %v, want ErrInvalidPrefix", err)
	}

	aip[allowedCidrOff] = 8
	le.PutUint16(aip[allowedFamilyOff:], 99)
	if _, err := Decode(block); !errors.Is(err, ErrAddressFamily) {
		t.Errorf("Decode() with family 99 error = %v, want ErrAddressFamily", err)
	}
}

func FuzzDecode(f *testing.F) {
	seed, _ := Encode(wgnt.Interface{
		ListenPort: wgnt.Ptr[uint16](1),
		Peers: []wgnt.Peer{{
			PublicKey:  testKey(1),
			Endpoint:   netip.MustParseAddrPort("[::1]:2"),
			AllowedIPs: []netip.Prefix{netip.MustParsePrefix("::/0")},
		}},
	})
	f.Add(seed)
	f.Add(make([]byte, InterfaceSize))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, b []byte) {
		iface, err := Decode(b)
		if err != nil {
			return
		}
		if got := le.Uint32(b[ifacePeersCountOff:]); int(got) != len(iface.Peers) {
			t.Fatalf("decoded %d peers, header declares %d", len(iface.Peers), got)
		}
		if Size(iface) != len(b) {
			t.Fatalf("Size(decoded) = %d, block length %d", Size(iface), len(b))
		}
	})
}

func TestDecodeRequestKeepsIntent(t *testing.T) {
	t.Parallel()

	in := wgnt.Interface{
		ReplacePeers: true,
		Peers: []wgnt.Peer{
			{PublicKey: testKey(1), ReplaceAllowedIPs: true},
			{PublicKey: testKey(2), UpdateOnly: true},
			{PublicKey: testKey(3), Remove: true},
		},
	}
	block, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := DecodeRequest(block)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("DecodeRequest(Encode(x)) = %+v, want %+v", got, in)
	}
}
