package tilemeta

import (
	"encoding/binary"
	"fmt"
)

// EncodeCount encodes the NTILES announce: one 32-bit signed count of
// forthcoming descriptors.
func EncodeCount(n int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	return b[:]
}

// DecodeCount decodes an NTILES announce.
func DecodeCount(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("count message is %d bytes, want 4", len(b))
	}
	n := int32(binary.BigEndian.Uint32(b))
	if n < 0 {
		return 0, fmt.Errorf("negative tile count %d", n)
	}
	return n, nil
}
