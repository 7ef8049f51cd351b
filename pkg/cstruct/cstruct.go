// Package cstruct describes fixed-layout binary structures with a compact format notation, and encodes and
// decodes named-field records of those structures byte-for-byte compatibly with the C ABI of the host kernel.
//
// A format string is an optional prefix character followed by a sequence of field codes, each optionally
// preceded by a repeat count:
//
//	@  native byte order, native alignment (the default)
//	=  native byte order, no alignment
//	<  little endian, no alignment
//	>  big endian, no alignment (! is a synonym)
//
//	x  pad byte (not a field)
//	b  int8      B  uint8
//	h  int16     H  uint16
//	i  int32     I  uint32
//	q  int64     Q  uint64
//	s  byte array; the count is the array length
//	S  nested structure, taken in order from WithNested
//
// So "@HBBHI" is struct mif6ctl, and "8I" declares eight uint32 fields.
package cstruct

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Kind is the kind of value held by a field
type Kind int

const (
	KindInt Kind = iota
	KindUint
	KindBytes
	KindStruct
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindBytes:
		return "bytes"
	case KindStruct:
		return "struct"
	}
	return "unknown"
}

// NativeEndian is the byte order used by the @ and = prefixes unless overridden with WithByteOrder.
var NativeEndian binary.ByteOrder = binary.NativeEndian

// Field describes one named field of a structure type
type Field struct {
	Name   string
	Kind   Kind
	Size   int
	Offset int
	Nested *Type
}

func (f Field) align() int {
	switch f.Kind {
	case KindInt, KindUint:
		return f.Size
	case KindStruct:
		return f.Nested.align
	}
	return 1
}

// Type is an immutable structure layout.  Its size is fixed when it is created.
type Type struct {
	name   string
	format string
	order  binary.ByteOrder
	fields []Field
	index  map[string]int
	size   int
	align  int
}

type typeParams struct {
	nested []*Type
	order  binary.ByteOrder
}

// WithNested supplies the structure types consumed, in order, by S codes in the format.
func WithNested(nested ...*Type) func(*typeParams) {
	return func(p *typeParams) {
		p.nested = append(p.nested, nested...)
	}
}

// WithByteOrder overrides the native byte order for this type.  It has no effect on the <, > and ! prefixes.
func WithByteOrder(order binary.ByteOrder) func(*typeParams) {
	return func(p *typeParams) {
		p.order = order
	}
}

type fieldSpec struct {
	code  byte
	count int
}

var codeSizes = map[byte]int{
	'b': 1, 'B': 1,
	'h': 2, 'H': 2,
	'i': 4, 'I': 4,
	'q': 8, 'Q': 8,
}

// New creates a structure type from a format string and a comma or space separated list of field names.
func New(name string, format string, fieldNames string, mods ...func(*typeParams)) (*Type, error) {
	params := &typeParams{
		order: NativeEndian,
	}
	for _, mod := range mods {
		mod(params)
	}
	t := &Type{
		name:   name,
		format: format,
		order:  params.order,
		index:  make(map[string]int),
		align:  1,
	}
	aligned := true
	body := format
	if len(body) > 0 {
		switch body[0] {
		case '@':
			body = body[1:]
		case '=':
			aligned = false
			body = body[1:]
		case '<':
			t.order = binary.LittleEndian
			aligned = false
			body = body[1:]
		case '>', '!':
			t.order = binary.BigEndian
			aligned = false
			body = body[1:]
		}
	}
	specs, err := parseSpecs(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	names := strings.FieldsFunc(fieldNames, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})

	nested := params.nested
	offset := 0
	place := func(f Field) {
		if aligned {
			a := f.align()
			if a > t.align {
				t.align = a
			}
			offset = alignUp(offset, a)
		}
		f.Offset = offset
		offset += f.Size
		t.index[f.Name] = len(t.fields)
		t.fields = append(t.fields, f)
	}
	nextName := func() (string, error) {
		if len(t.fields) >= len(names) {
			return "", fmt.Errorf("%s: %w: more fields than names", name, ErrFormat)
		}
		n := names[len(t.fields)]
		if _, ok := t.index[n]; ok {
			return "", fmt.Errorf("%s: %w: duplicate field name %s", name, ErrFormat, n)
		}
		return n, nil
	}
	for _, spec := range specs {
		switch spec.code {
		case 'x':
			offset += spec.count
		case 's':
			n, err := nextName()
			if err != nil {
				return nil, err
			}
			place(Field{Name: n, Kind: KindBytes, Size: spec.count})
		case 'S':
			for i := 0; i < spec.count; i++ {
				if len(nested) == 0 {
					return nil, fmt.Errorf("%s: %w: not enough nested types", name, ErrFormat)
				}
				n, err := nextName()
				if err != nil {
					return nil, err
				}
				place(Field{Name: n, Kind: KindStruct, Size: nested[0].size, Nested: nested[0]})
				nested = nested[1:]
			}
		default:
			kind := KindUint
			if unicode.IsLower(rune(spec.code)) {
				kind = KindInt
			}
			for i := 0; i < spec.count; i++ {
				n, err := nextName()
				if err != nil {
					return nil, err
				}
				place(Field{Name: n, Kind: kind, Size: codeSizes[spec.code]})
			}
		}
	}
	if len(t.fields) != len(names) {
		return nil, fmt.Errorf("%s: %w: %d fields but %d names", name, ErrFormat, len(t.fields), len(names))
	}
	if len(nested) != 0 {
		return nil, fmt.Errorf("%s: %w: %d unused nested types", name, ErrFormat, len(nested))
	}
	if aligned {
		offset = alignUp(offset, t.align)
	}
	t.size = offset
	return t, nil
}

// MustNew is like New but panics if the type cannot be created.  It is meant for package-level declarations
// of kernel structures.
func MustNew(name string, format string, fieldNames string, mods ...func(*typeParams)) *Type {
	t, err := New(name, format, fieldNames, mods...)
	if err != nil {
		panic(err)
	}
	return t
}

func parseSpecs(body string) ([]fieldSpec, error) {
	var specs []fieldSpec
	for i := 0; i < len(body); {
		if body[i] == ' ' {
			i++
			continue
		}
		j := i
		for j < len(body) && body[j] >= '0' && body[j] <= '9' {
			j++
		}
		count := 1
		if j > i {
			c, err := strconv.Atoi(body[i:j])
			if err != nil {
				return nil, fmt.Errorf("%w: bad count %q", ErrFormat, body[i:j])
			}
			count = c
		}
		if j >= len(body) {
			return nil, fmt.Errorf("%w: count without a field code", ErrFormat)
		}
		code := body[j]
		_, isInt := codeSizes[code]
		if !isInt && code != 'x' && code != 's' && code != 'S' {
			return nil, fmt.Errorf("%w: unknown field code %q", ErrFormat, code)
		}
		if count == 0 && code != 'x' {
			return nil, fmt.Errorf("%w: zero count for field code %q", ErrFormat, code)
		}
		specs = append(specs, fieldSpec{code: code, count: count})
		i = j + 1
	}
	return specs, nil
}

func alignUp(offset int, align int) int {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) / align * align
}

// Name returns the name of the structure
func (t *Type) Name() string {
	return t.name
}

// Format returns the format string the type was created from
func (t *Type) Format() string {
	return t.format
}

// Size returns the encoded length of every record of this type, including padding
func (t *Type) Size() int {
	return t.size
}

// Align returns the alignment of the structure when it is nested in an aligned structure
func (t *Type) Align() int {
	return t.align
}

// ByteOrder returns the byte order used for multi-byte integers
func (t *Type) ByteOrder() binary.ByteOrder {
	return t.order
}

// Fields returns the field descriptors in wire order
func (t *Type) Fields() []Field {
	f := make([]Field, len(t.fields))
	copy(f, t.fields)
	return f
}

// Field looks up a field descriptor by name
func (t *Type) Field(name string) (Field, bool) {
	i, ok := t.index[name]
	if !ok {
		return Field{}, false
	}
	return t.fields[i], true
}

func (t *Type) String() string {
	return fmt.Sprintf("%s(%s, %d bytes)", t.name, t.format, t.size)
}
