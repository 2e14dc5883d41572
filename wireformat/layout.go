// Package wireformat encodes and decodes the WireGuard NT configuration block.
//
// The block is a WIREGUARD_INTERFACE header followed by PeersCount
// WIREGUARD_PEER records, each followed by its AllowedIPsCount
// WIREGUARD_ALLOWED_IP records. All integers are little endian and every
// record is padded to 8 bytes. Any change to the offsets below is a breaking
// change to the driver contract.
package wireformat

import "encoding/binary"

// InterfaceFlags is the WIREGUARD_INTERFACE_FLAG bitfield.
type InterfaceFlags uint32

const (
	InterfaceHasPublicKey  InterfaceFlags = 1 << 0
	InterfaceHasPrivateKey InterfaceFlags = 1 << 1
	InterfaceHasListenPort InterfaceFlags = 1 << 2
	InterfaceReplacePeers  InterfaceFlags = 1 << 3
)

// PeerFlags is the WIREGUARD_PEER_FLAG bitfield.
type PeerFlags uint32

const (
	PeerHasPublicKey           PeerFlags = 1 << 0
	PeerHasPresharedKey        PeerFlags = 1 << 1
	PeerHasPersistentKeepalive PeerFlags = 1 << 2
	PeerHasEndpoint            PeerFlags = 1 << 3
	PeerReplaceAllowedIPs      PeerFlags = 1 << 5
	PeerRemove                 PeerFlags = 1 << 6
	PeerUpdateOnly             PeerFlags = 1 << 7
)

// Record sizes, including trailing alignment.
const (
	InterfaceSize = 80
	PeerSize      = 136
	AllowedIPSize = 24
)

const keyLen = 32

// WIREGUARD_INTERFACE
const (
	ifaceFlagsOff      = 0
	ifaceListenPortOff = 4
	ifacePrivateKeyOff = 6
	ifacePublicKeyOff  = ifacePrivateKeyOff + keyLen
	ifacePeersCountOff = 72
)

// WIREGUARD_PEER
const (
	peerFlagsOff         = 0
	peerPublicKeyOff     = 8
	peerPresharedKeyOff  = peerPublicKeyOff + keyLen
	peerKeepaliveOff     = 72
	peerEndpointOff      = 76
	peerTxBytesOff       = 104
	peerRxBytesOff       = 112
	peerLastHandshakeOff = 120
	peerAllowedCountOff  = 128
)

// WIREGUARD_ALLOWED_IP
const (
	allowedAddressOff = 0
	allowedFamilyOff  = 16
	allowedCidrOff    = 18
)

// SOCKADDR_INET, the union of SOCKADDR_IN and SOCKADDR_IN6.
const (
	sockaddrSize        = 28
	sockaddrFamilyOff   = 0
	sockaddrPortOff     = 2 // network byte order
	sockaddrIn4AddrOff  = 4
	sockaddrIn6FlowOff  = 4
	sockaddrIn6AddrOff  = 8
	sockaddrIn6ScopeOff = 24
)

// Windows ADDRESS_FAMILY values.
const (
	AFInet  uint16 = 2
	AFInet6 uint16 = 23
)

var le = binary.LittleEndian
