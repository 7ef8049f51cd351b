package cstruct

import "fmt"

var (
	ErrFormat          = fmt.Errorf("invalid structure format")
	ErrFieldCount      = fmt.Errorf("wrong number of field values")
	ErrUnknownField    = fmt.Errorf("unknown field")
	ErrFieldType       = fmt.Errorf("wrong field type")
	ErrFieldOverflow   = fmt.Errorf("value does not fit in field")
	ErrLengthMismatch  = fmt.Errorf("length mismatch")
	ErrIndexOutOfRange = fmt.Errorf("bit index out of range")
)
