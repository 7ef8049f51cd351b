package cstruct

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Record is an instance of a structure type.  Every field always holds a value: integers are kept as uint64
// or int64, byte arrays as a slice of exactly the declared width, and nested structures as *Record.
type Record struct {
	typ    *Type
	values []any
}

// Zero returns a record with every field set to its zero value
func (t *Type) Zero() *Record {
	r := &Record{
		typ:    t,
		values: make([]any, len(t.fields)),
	}
	for i, f := range t.fields {
		r.values[i] = zeroValue(f)
	}
	return r
}

func zeroValue(f Field) any {
	switch f.Kind {
	case KindInt:
		return int64(0)
	case KindUint:
		return uint64(0)
	case KindBytes:
		return make([]byte, f.Size)
	case KindStruct:
		return f.Nested.Zero()
	}
	return nil
}

// NewRecord creates a record from one value per field, given in wire order.
func (t *Type) NewRecord(values ...any) (*Record, error) {
	if len(values) != len(t.fields) {
		return nil, fmt.Errorf("%s: %w: expected %d, got %d", t.name, ErrFieldCount, len(t.fields), len(values))
	}
	r := &Record{
		typ:    t,
		values: make([]any, len(t.fields)),
	}
	for i, f := range t.fields {
		v, err := convertValue(f, values[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.name, f.Name, err)
		}
		r.values[i] = v
	}
	return r, nil
}

// Type returns the structure type of the record
func (r *Record) Type() *Type {
	return r.typ
}

// Set sets a single field, with the same conversion and range rules as NewRecord
func (r *Record) Set(name string, value any) error {
	i, ok := r.typ.index[name]
	if !ok {
		return fmt.Errorf("%s: %w: %s", r.typ.name, ErrUnknownField, name)
	}
	v, err := convertValue(r.typ.fields[i], value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", r.typ.name, name, err)
	}
	r.values[i] = v
	return nil
}

// Get returns the stored value of a field
func (r *Record) Get(name string) (any, error) {
	i, ok := r.typ.index[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", r.typ.name, ErrUnknownField, name)
	}
	return r.values[i], nil
}

func (r *Record) get(name string, kind Kind) (any, error) {
	i, ok := r.typ.index[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", r.typ.name, ErrUnknownField, name)
	}
	if r.typ.fields[i].Kind != kind {
		return nil, fmt.Errorf("%s.%s: %w: is %s, not %s", r.typ.name, name, ErrFieldType, r.typ.fields[i].Kind, kind)
	}
	return r.values[i], nil
}

// Uint returns the value of an unsigned integer field
func (r *Record) Uint(name string) (uint64, error) {
	v, err := r.get(name, KindUint)
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// Int returns the value of a signed integer field
func (r *Record) Int(name string) (int64, error) {
	v, err := r.get(name, KindInt)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Bytes returns a copy of a byte array field
func (r *Record) Bytes(name string) ([]byte, error) {
	v, err := r.get(name, KindBytes)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil
}

// Struct returns a nested structure field.  The returned record is shared, so changes to it are visible in r.
func (r *Record) Struct(name string) (*Record, error) {
	v, err := r.get(name, KindStruct)
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// Encode returns the wire representation of the record, exactly Type().Size() bytes long
func (r *Record) Encode() []byte {
	buf := make([]byte, r.typ.size)
	r.encodeInto(buf)
	return buf
}

func (r *Record) encodeInto(buf []byte) {
	order := r.typ.order
	for i, f := range r.typ.fields {
		b := buf[f.Offset : f.Offset+f.Size]
		switch f.Kind {
		case KindInt:
			putInt(order, b, uint64(r.values[i].(int64)))
		case KindUint:
			putInt(order, b, r.values[i].(uint64))
		case KindBytes:
			copy(b, r.values[i].([]byte))
		case KindStruct:
			r.values[i].(*Record).encodeInto(b)
		}
	}
}

// Encode is a convenience for r.Encode() that first checks r is of this type
func (t *Type) Encode(r *Record) ([]byte, error) {
	if r.typ != t {
		return nil, fmt.Errorf("%w: cannot encode %s as %s", ErrFieldType, r.typ.name, t.name)
	}
	return r.Encode(), nil
}

// Decode parses a record from its wire representation.  The input must be exactly Size() bytes long.
func (t *Type) Decode(data []byte) (*Record, error) {
	if len(data) != t.size {
		return nil, fmt.Errorf("%s: %w: expected %d bytes, got %d", t.name, ErrLengthMismatch, t.size, len(data))
	}
	return t.decode(data), nil
}

func (t *Type) decode(data []byte) *Record {
	r := &Record{
		typ:    t,
		values: make([]any, len(t.fields)),
	}
	for i, f := range t.fields {
		b := data[f.Offset : f.Offset+f.Size]
		switch f.Kind {
		case KindInt:
			r.values[i] = signExtend(getInt(t.order, b), f.Size)
		case KindUint:
			r.values[i] = getInt(t.order, b)
		case KindBytes:
			r.values[i] = bytes.Clone(b)
		case KindStruct:
			r.values[i] = f.Nested.decode(b)
		}
	}
	return r
}

// Equal reports whether two records have the same type and field values
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.typ != o.typ {
		return false
	}
	for i, f := range r.typ.fields {
		switch f.Kind {
		case KindBytes:
			if !bytes.Equal(r.values[i].([]byte), o.values[i].([]byte)) {
				return false
			}
		case KindStruct:
			if !r.values[i].(*Record).Equal(o.values[i].(*Record)) {
				return false
			}
		default:
			if r.values[i] != o.values[i] {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	c := &Record{
		typ:    r.typ,
		values: make([]any, len(r.values)),
	}
	for i, v := range r.values {
		switch tv := v.(type) {
		case []byte:
			c.values[i] = bytes.Clone(tv)
		case *Record:
			c.values[i] = tv.Clone()
		default:
			c.values[i] = v
		}
	}
	return c
}

func (r *Record) String() string {
	sb := strings.Builder{}
	sb.WriteString(r.typ.name)
	sb.WriteString("(")
	for i, f := range r.typ.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteString("=")
		switch v := r.values[i].(type) {
		case []byte:
			_, _ = fmt.Fprintf(&sb, "%x", v)
		default:
			_, _ = fmt.Fprintf(&sb, "%v", v)
		}
	}
	sb.WriteString(")")
	return sb.String()
}

func convertValue(f Field, value any) (any, error) {
	switch f.Kind {
	case KindUint:
		u, neg, ok := toUint64(value)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an integer", ErrFieldType, value)
		}
		if neg || (f.Size < 8 && u >= 1<<(8*f.Size)) {
			return nil, fmt.Errorf("%w: %v in %d bytes", ErrFieldOverflow, value, f.Size)
		}
		return u, nil
	case KindInt:
		u, neg, ok := toUint64(value)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an integer", ErrFieldType, value)
		}
		limit := uint64(1) << (8*f.Size - 1)
		if (!neg && u >= limit) || (neg && -u > limit) {
			return nil, fmt.Errorf("%w: %v in %d bytes", ErrFieldOverflow, value, f.Size)
		}
		return int64(u), nil
	case KindBytes:
		var b []byte
		switch v := value.(type) {
		case []byte:
			b = v
		case string:
			b = []byte(v)
		default:
			return nil, fmt.Errorf("%w: %T is not a byte array", ErrFieldType, value)
		}
		if len(b) > f.Size {
			return nil, fmt.Errorf("%w: %d bytes in %d", ErrFieldOverflow, len(b), f.Size)
		}
		out := make([]byte, f.Size)
		copy(out, b)
		return out, nil
	case KindStruct:
		v, ok := value.(*Record)
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: %T is not a %s record", ErrFieldType, value, f.Nested.name)
		}
		if v.typ != f.Nested {
			return nil, fmt.Errorf("%w: %s is not %s", ErrFieldType, v.typ.name, f.Nested.name)
		}
		return v.Clone(), nil
	}
	return nil, ErrFieldType
}

// toUint64 returns the two's complement bits of an integer value, and whether it was negative.
func toUint64(value any) (uint64, bool, bool) {
	var i int64
	switch v := value.(type) {
	case uint:
		return uint64(v), false, true
	case uint8:
		return uint64(v), false, true
	case uint16:
		return uint64(v), false, true
	case uint32:
		return uint64(v), false, true
	case uint64:
		return v, false, true
	case uintptr:
		return uint64(v), false, true
	case int:
		i = int64(v)
	case int8:
		i = int64(v)
	case int16:
		i = int64(v)
	case int32:
		i = int64(v)
	case int64:
		i = v
	default:
		return 0, false, false
	}
	return uint64(i), i < 0, true
}

func putInt(order binary.ByteOrder, b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		order.PutUint16(b, uint16(v))
	case 4:
		order.PutUint32(b, uint32(v))
	case 8:
		order.PutUint64(b, v)
	}
}

func getInt(order binary.ByteOrder, b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	}
	return 0
}

func signExtend(v uint64, size int) int64 {
	switch size {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	}
	return int64(v)
}
