package cstruct

import (
	"errors"
	"github.com/google/go-cmp/cmp"
	"testing"
)

func TestBitSet(t *testing.T) {
	const words = 8
	for i := 0; i < words*32; i++ {
		b := NewBitSet(words)
		if err := b.Set(i); err != nil {
			t.Fatalf("error setting bit %d: %s", i, err)
		}
		for j := -1; j <= b.Len(); j++ {
			if b.Test(j) != (i == j) {
				t.Fatalf("after setting bit %d, bit %d is %v", i, j, b.Test(j))
			}
		}
		if b.Count() != 1 {
			t.Fatalf("expected one bit set, got %d", b.Count())
		}
		if err := b.Clear(i); err != nil {
			t.Fatalf("error clearing bit %d: %s", i, err)
		}
		if b.Test(i) {
			t.Fatalf("bit %d still set after clear", i)
		}
	}
}

func TestBitSetRange(t *testing.T) {
	b := NewBitSet(8)
	for _, i := range []int{-1, 256, 1000} {
		if err := b.Set(i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Set(%d): expected ErrIndexOutOfRange, got %v", i, err)
		}
		if err := b.Clear(i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Clear(%d): expected ErrIndexOutOfRange, got %v", i, err)
		}
	}
}

func TestBitSetWords(t *testing.T) {
	b := NewBitSet(8)
	for _, i := range []int{0, 2, 31, 32, 255} {
		_ = b.Set(i)
	}
	want := []uint32{0x80000005, 0x1, 0, 0, 0, 0, 0, 0x80000000}
	if diff := cmp.Diff(want, b.Words()); diff != "" {
		t.Errorf("words differ (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 2, 31, 32, 255}, b.Indices()); diff != "" {
		t.Errorf("indices differ (-want +got):\n%s", diff)
	}
}

func TestRecordBits(t *testing.T) {
	names := WordFields("ifset", 8)
	b := NewBitSet(8)
	_ = b.Set(1)
	_ = b.Set(70)
	r := testMfc.Zero()
	if err := r.SetBits(b, names...); err != nil {
		t.Fatal(err)
	}
	w2, _ := r.Uint("ifset2")
	if w2 != 1<<6 {
		t.Errorf("expected bit 70 in word 2, got %#x", w2)
	}
	d, err := testMfc.Decode(r.Encode())
	if err != nil {
		t.Fatal(err)
	}
	got, err := d.Bits(names...)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(b.Indices(), got.Indices()); diff != "" {
		t.Errorf("bits differ after round trip (-want +got):\n%s", diff)
	}
	if err = r.SetBits(b, names[:7]...); !errors.Is(err, ErrFieldCount) {
		t.Errorf("expected ErrFieldCount, got %v", err)
	}
	if err = r.SetBits(NewBitSet(1), "parent"); !errors.Is(err, ErrFieldType) {
		t.Errorf("expected ErrFieldType for uint16 word, got %v", err)
	}
}
