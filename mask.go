package reconverge

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// MaxInvocations is the largest lane set a program can simulate.
const MaxInvocations = 128

// Mask is a lane bitset. Bit i set means lane i is active. Only the low
// MaxInvocations bits are ever populated; the zero value is the empty set.
type Mask struct {
	v uint256.Int
}

// LowMask returns a mask with bits [0,size) set.
func LowMask(size int) Mask {
	var m Mask
	if size <= 0 {
		return m
	}
	if size > MaxInvocations {
		size = MaxInvocations
	}
	one := uint256.NewInt(1)
	m.v.Lsh(one, uint(size))
	m.v.Sub(&m.v, one)
	return m
}

// MaskFromUint32 returns a mask whose low 32 bits are v.
func MaskFromUint32(v uint32) Mask {
	var m Mask
	m.v[0] = uint64(v)
	return m
}

// MaskFromWords builds a mask from its device representation, least
// significant word first.
func MaskFromWords(w [4]uint32) Mask {
	var m Mask
	m.v[0] = uint64(w[0]) | uint64(w[1])<<32
	m.v[1] = uint64(w[2]) | uint64(w[3])<<32
	return m
}

// Words returns the device representation of m, least significant word first.
func (m Mask) Words() [4]uint32 {
	return [4]uint32{
		uint32(m.v[0]),
		uint32(m.v[0] >> 32),
		uint32(m.v[1]),
		uint32(m.v[1] >> 32),
	}
}

// Replicate tiles the low size bits of sub across total bits. A trailing
// partial period keeps its low bits.
func Replicate(sub Mask, size, total int) Mask {
	if size <= 0 {
		return Mask{}
	}
	if total > MaxInvocations {
		total = MaxInvocations
	}
	chunk := sub.And(LowMask(size))
	out := chunk
	for shift := size; shift < total; shift += size {
		out = out.Or(chunk.shl(shift))
	}
	return out.And(LowMask(total))
}

// SubgroupMask extracts the size-wide chunk of full that contains lane and
// right-aligns it.
func SubgroupMask(full Mask, size, lane int) Mask {
	if size <= 0 {
		return Mask{}
	}
	shift := (lane / size) * size
	return full.shr(shift).And(LowMask(size))
}

// Elect keeps the lowest set bit of every size-wide chunk of value, over the
// first total bits.
func Elect(value Mask, size, total int) Mask {
	var out Mask
	if size <= 0 {
		return out
	}
	if total > MaxInvocations {
		total = MaxInvocations
	}
	for base := 0; base < total; base += size {
		chunk := value.shr(base).And(LowMask(size))
		if b := chunk.lowestBit(); b >= 0 {
			out = out.SetBit(base + b)
		}
	}
	return out
}

// TestBit reports whether bit is set.
func (m Mask) TestBit(bit int) bool {
	if bit < 0 || bit >= 256 {
		return false
	}
	return m.v[bit/64]>>(uint(bit)%64)&1 == 1
}

// SetBit returns m with bit set.
func (m Mask) SetBit(bit int) Mask {
	if bit < 0 || bit >= MaxInvocations {
		return m
	}
	m.v[bit/64] |= 1 << (uint(bit) % 64)
	return m
}

// Any reports whether any bit is set.
func (m Mask) Any() bool {
	return !m.v.IsZero()
}

// All reports whether m is exactly LowMask(size).
func (m Mask) All(size int) bool {
	want := LowMask(size)
	return m.v.Eq(&want.v)
}

// Equal reports whether both masks hold the same lanes.
func (m Mask) Equal(o Mask) bool {
	return m.v.Eq(&o.v)
}

func (m Mask) And(o Mask) Mask {
	var r Mask
	r.v.And(&m.v, &o.v)
	return r
}

func (m Mask) Or(o Mask) Mask {
	var r Mask
	r.v.Or(&m.v, &o.v)
	return r
}

// AndNot returns the lanes of m that are not in o.
func (m Mask) AndNot(o Mask) Mask {
	var n, r Mask
	n.v.Not(&o.v)
	r.v.And(&m.v, &n.v)
	return r
}

// OnesCount returns the number of set lanes.
func (m Mask) OnesCount() int {
	n := 0
	for _, w := range m.v {
		n += bits.OnesCount64(w)
	}
	return n
}

// String renders the low 128 bits as a hex number.
func (m Mask) String() string {
	return fmt.Sprintf("0x%016x%016x", m.v[1], m.v[0])
}

// ParseMask parses the hex form produced by String. Leading zeros may be
// omitted.
func ParseMask(s string) (Mask, error) {
	var m Mask
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if h == "" || len(h) > MaxInvocations/4 {
		return m, fmt.Errorf("invalid mask %q", s)
	}
	h = strings.Repeat("0", MaxInvocations/4-len(h)) + h
	hi, err := strconv.ParseUint(h[:16], 16, 64)
	if err != nil {
		return m, fmt.Errorf("invalid mask %q: %w", s, err)
	}
	lo, err := strconv.ParseUint(h[16:], 16, 64)
	if err != nil {
		return m, fmt.Errorf("invalid mask %q: %w", s, err)
	}
	m.v[0], m.v[1] = lo, hi
	return m, nil
}

func (m Mask) shl(n int) Mask {
	var r Mask
	r.v.Lsh(&m.v, uint(n))
	r.v[2], r.v[3] = 0, 0
	return r
}

func (m Mask) shr(n int) Mask {
	var r Mask
	r.v.Rsh(&m.v, uint(n))
	return r
}

func (m Mask) lowestBit() int {
	for i, w := range m.v {
		if w != 0 {
			return i*64 + bits.TrailingZeros64(w)
		}
	}
	return -1
}
