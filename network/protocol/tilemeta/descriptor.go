/*
Package tilemeta defines the wire messages of the tile-metadata exchange:
the NTILES count announce and the TILEDATA communication descriptor.

The descriptor codec is an explicit versioned binary format, big-endian,
with length-prefixed arrays. Field order on the wire is fixed; ids and
ranks are portable identifiers, so the encoding must be identical on every
worker.
*/
package tilemeta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
)

// Version is the current descriptor wire version.
const Version uint8 = 1

var (
	ErrDescriptorIsNil = errors.New("descriptor is nil")
	ErrTruncated       = errors.New("message is truncated")
)

// Descriptor is the wire-portable communication metadata of one tile.
type Descriptor struct {
	// Owner is the rank that owns the tile.
	Owner int32
	// CID is the tile id, canonical across workers.
	CID uint64
	// Indices is the tile's D-dimensional index tuple.
	Indices []uint64
	// TopVirtualOwner is the plurality owner of the tile's foreign
	// neighbors, smallest rank on ties.
	TopVirtualOwner int32
	// Communications counts the distinct remote ranks that receive a copy.
	Communications uint64
	// VirtualNeighbors counts neighbor indices owned by another rank.
	VirtualNeighbors uint64
	// Local is true on the worker that owns the tile, false on mirrors.
	Local bool
	// VirtualOwners is the sorted, deduplicated recipient rank list.
	VirtualOwners []int32
	// Types is an open set of user classification tags.
	Types []int32
	// Mins and Maxs are the tile's physical bounding box.
	Mins []float64
	Maxs []float64
	// Lengths is the global grid extent snapshot.
	Lengths []uint64
}

// IsValid checks internal consistency of the descriptor.
func (d *Descriptor) IsValid() error {
	if d == nil {
		return ErrDescriptorIsNil
	}
	if d.Owner < 0 {
		return fmt.Errorf("owner rank is unassigned (%d)", d.Owner)
	}
	dims := len(d.Indices)
	if dims == 0 {
		return errors.New("descriptor has no index tuple")
	}
	if dims > math.MaxUint8 {
		return fmt.Errorf("%d dimensions exceed the wire limit", dims)
	}
	if len(d.Lengths) != dims {
		return fmt.Errorf("lengths arity %d does not match %d dimensions", len(d.Lengths), dims)
	}
	if len(d.Mins) != dims || len(d.Maxs) != dims {
		return fmt.Errorf("bounds arity (%d, %d) does not match %d dimensions", len(d.Mins), len(d.Maxs), dims)
	}
	if d.Communications != uint64(len(d.VirtualOwners)) {
		return fmt.Errorf("communications %d does not match %d virtual owners", d.Communications, len(d.VirtualOwners))
	}
	return nil
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() Descriptor {
	out := *d
	out.Indices = slices.Clone(d.Indices)
	out.VirtualOwners = slices.Clone(d.VirtualOwners)
	out.Types = slices.Clone(d.Types)
	out.Mins = slices.Clone(d.Mins)
	out.Maxs = slices.Clone(d.Maxs)
	out.Lengths = slices.Clone(d.Lengths)
	return out
}

// MarshalBinary encodes the descriptor in the fixed wire order:
// version, dims, owner, cid, indices, top virtual owner, communications,
// virtual neighbor count, local flag, virtual owners, types, mins, maxs,
// lengths.
func (d *Descriptor) MarshalBinary() ([]byte, error) {
	if err := d.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	dims := len(d.Indices)
	b := make([]byte, 0, 2+4+8+dims*8+4+8+8+1+4+len(d.VirtualOwners)*4+4+len(d.Types)*4+dims*24)
	b = append(b, Version, uint8(dims))
	b = binary.BigEndian.AppendUint32(b, uint32(d.Owner))
	b = binary.BigEndian.AppendUint64(b, d.CID)
	for _, i := range d.Indices {
		b = binary.BigEndian.AppendUint64(b, i)
	}
	b = binary.BigEndian.AppendUint32(b, uint32(d.TopVirtualOwner))
	b = binary.BigEndian.AppendUint64(b, d.Communications)
	b = binary.BigEndian.AppendUint64(b, d.VirtualNeighbors)
	if d.Local {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = appendInt32s(b, d.VirtualOwners)
	b = appendInt32s(b, d.Types)
	for _, v := range d.Mins {
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(v))
	}
	for _, v := range d.Maxs {
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(v))
	}
	for _, l := range d.Lengths {
		b = binary.BigEndian.AppendUint64(b, l)
	}
	return b, nil
}

// UnmarshalBinary decodes a descriptor produced by MarshalBinary.
func (d *Descriptor) UnmarshalBinary(b []byte) error {
	r := reader{buf: b}
	version := r.u8()
	if r.err == nil && version != Version {
		return fmt.Errorf("unsupported descriptor version %d", version)
	}
	dims := int(r.u8())
	d.Owner = r.i32()
	d.CID = r.u64()
	d.Indices = r.u64s(dims)
	d.TopVirtualOwner = r.i32()
	d.Communications = r.u64()
	d.VirtualNeighbors = r.u64()
	d.Local = r.u8() != 0
	d.VirtualOwners = r.i32s()
	d.Types = r.i32s()
	d.Mins = r.f64s(dims)
	d.Maxs = r.f64s(dims)
	d.Lengths = r.u64s(dims)
	if r.err != nil {
		return r.err
	}
	if len(r.buf) != r.off {
		return fmt.Errorf("%d trailing bytes after descriptor", len(r.buf)-r.off)
	}
	return nil
}

func appendInt32s(b []byte, vs []int32) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(vs))) /* #nosec G115 rank lists are tiny */
	for _, v := range vs {
		b = binary.BigEndian.AppendUint32(b, uint32(v))
	}
	return b
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, len(r.buf)-r.off)
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) i32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) u64s(n int) []uint64 {
	b := r.take(n * 8)
	if b == nil {
		return nil
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(b[i*8:])
	}
	return out
}

func (r *reader) f64s(n int) []float64 {
	b := r.take(n * 8)
	if b == nil {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(b[i*8:]))
	}
	return out
}

func (r *reader) i32s() []int32 {
	n := int(r.i32())
	if r.err != nil {
		return nil
	}
	if n < 0 {
		r.err = fmt.Errorf("negative array length %d", n)
		return nil
	}
	if n == 0 {
		return nil
	}
	b := r.take(n * 4)
	if b == nil {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(b[i*4:]))
	}
	return out
}
