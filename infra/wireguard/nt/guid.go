package nt

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// guidFields splits u into the fields of a Windows GUID. The first three are
// stored little-endian in memory, so they are read big-endian from the
// canonical byte order here and laid out by the struct.
func guidFields(u uuid.UUID) (d1 uint32, d2, d3 uint16, d4 [8]byte) {
	d1 = binary.BigEndian.Uint32(u[0:4])
	d2 = binary.BigEndian.Uint16(u[4:6])
	d3 = binary.BigEndian.Uint16(u[6:8])
	copy(d4[:], u[8:16])
	return d1, d2, d3, d4
}
