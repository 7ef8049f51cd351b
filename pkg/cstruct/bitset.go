package cstruct

import (
	"fmt"
	"math/bits"
)

const wordBits = 32

// BitSet is a fixed-width set of bits stored as 32-bit words, the layout used by kernel flag arrays such as
// if_set.  Bit i lives in word i/32 at position i%32.
type BitSet struct {
	words []uint32
}

// NewBitSet returns an empty bit set holding words*32 bits
func NewBitSet(words int) *BitSet {
	return &BitSet{
		words: make([]uint32, words),
	}
}

// Len returns the number of bits in the set
func (b *BitSet) Len() int {
	return len(b.words) * wordBits
}

// Set sets bit i
func (b *BitSet) Set(i int) error {
	if i < 0 || i >= b.Len() {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, b.Len())
	}
	b.words[i/wordBits] |= 1 << (uint(i) % wordBits)
	return nil
}

// Clear clears bit i
func (b *BitSet) Clear(i int) error {
	if i < 0 || i >= b.Len() {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, b.Len())
	}
	b.words[i/wordBits] &^= 1 << (uint(i) % wordBits)
	return nil
}

// Test reports whether bit i is set.  Bits outside the set are never set.
func (b *BitSet) Test(i int) bool {
	if i < 0 || i >= b.Len() {
		return false
	}
	return b.words[i/wordBits]&(1<<(uint(i)%wordBits)) != 0
}

// Count returns the number of set bits
func (b *BitSet) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount32(w)
	}
	return n
}

// Indices returns the set bits in ascending order
func (b *BitSet) Indices() []int {
	var idx []int
	for wi, w := range b.words {
		for w != 0 {
			tz := bits.TrailingZeros32(w)
			idx = append(idx, wi*wordBits+tz)
			w &^= 1 << uint(tz)
		}
	}
	return idx
}

// Words returns a copy of the underlying words
func (b *BitSet) Words() []uint32 {
	w := make([]uint32, len(b.words))
	copy(w, b.words)
	return w
}

// WordFields returns the names prefix0 .. prefix(n-1), the usual naming of the words of a flag array
func WordFields(prefix string, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return names
}

func (r *Record) wordFields(fields []string, words int) ([]int, error) {
	if len(fields) != words {
		return nil, fmt.Errorf("%s: %w: %d words but %d fields", r.typ.name, ErrFieldCount, words, len(fields))
	}
	idx := make([]int, len(fields))
	for i, name := range fields {
		fi, ok := r.typ.index[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w: %s", r.typ.name, ErrUnknownField, name)
		}
		f := r.typ.fields[fi]
		if f.Kind != KindUint || f.Size != 4 {
			return nil, fmt.Errorf("%s.%s: %w: bit set words must be uint32", r.typ.name, name, ErrFieldType)
		}
		idx[i] = fi
	}
	return idx, nil
}

// SetBits stores a bit set into the given uint32 fields, one word per field
func (r *Record) SetBits(b *BitSet, fields ...string) error {
	idx, err := r.wordFields(fields, len(b.words))
	if err != nil {
		return err
	}
	for i, fi := range idx {
		r.values[fi] = uint64(b.words[i])
	}
	return nil
}

// Bits loads a bit set from the given uint32 fields, one word per field
func (r *Record) Bits(fields ...string) (*BitSet, error) {
	b := NewBitSet(len(fields))
	idx, err := r.wordFields(fields, len(fields))
	if err != nil {
		return nil, err
	}
	for i, fi := range idx {
		b.words[i] = uint32(r.values[fi].(uint64))
	}
	return b, nil
}
