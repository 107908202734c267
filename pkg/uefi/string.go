package uefi

import (
	"errors"
	"unicode/utf8"
	"unsafe"

	efi "github.com/canonical/go-efilib"
)

var (
	ErrUnterminated = errors.New("no null terminator within bound")
	ErrMisaligned   = errors.New("buffer is not aligned to its code unit")
	ErrInteriorNul  = errors.New("string contains a null character")
	ErrInvalidChar  = errors.New("character cannot be represented")
)

// CStr16 is a null-terminated UCS-2 string. It borrows the buffer it was made
// from: the buffer must outlive it and is never copied.
type CStr16 struct {
	units []Char16 // including the terminator
}

// CStr16FromUnits wraps the string at the start of buf, which must contain a
// null terminator.
func CStr16FromUnits(buf []Char16) (CStr16, error) {
	for i, u := range buf {
		if u == 0 {
			return CStr16{units: buf[:i+1:i+1]}, nil
		}
	}
	return CStr16{}, ErrUnterminated
}

// CStr16FromBytes wraps little-endian UCS-2 bytes in place.
func CStr16FromBytes(buf []byte) (CStr16, error) {
	if len(buf) < 2 {
		return CStr16{}, ErrUnterminated
	}
	if uintptr(unsafe.Pointer(&buf[0]))%unsafe.Alignof(Char16(0)) != 0 {
		return CStr16{}, ErrMisaligned
	}
	return CStr16FromUnits(unsafe.Slice((*Char16)(unsafe.Pointer(&buf[0])), len(buf)/2))
}

// CStr16FromPtr wraps a string in firmware memory, scanning at most max units
// for the terminator.
func CStr16FromPtr(p *Char16, max int) (CStr16, error) {
	if p == nil || max <= 0 {
		return CStr16{}, ErrUnterminated
	}
	return CStr16FromUnits(unsafe.Slice(p, max))
}

// NewCStr16 converts s to an owned UCS-2 string.
func NewCStr16(s string) (CStr16, error) {
	if !utf8.ValidString(s) {
		return CStr16{}, ErrInvalidChar
	}
	for _, r := range s {
		switch {
		case r == 0:
			return CStr16{}, ErrInteriorNul
		case r >= 0x10000:
			return CStr16{}, ErrInvalidChar
		}
	}
	u16 := efi.ConvertUTF8ToUTF16(s)
	units := make([]Char16, len(u16)+1)
	for i, u := range u16 {
		units[i] = Char16(u)
	}
	return CStr16{units: units}, nil
}

// MustCStr16 is like NewCStr16 but panics on error.
func MustCStr16(s string) CStr16 {
	c, err := NewCStr16(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of code units before the terminator.
func (s CStr16) Len() int {
	if len(s.units) == 0 {
		return 0
	}
	return len(s.units) - 1
}

// Units returns the code units without the terminator.
func (s CStr16) Units() []Char16 {
	if len(s.units) == 0 {
		return nil
	}
	return s.units[:len(s.units)-1]
}

// UnitsWithNul returns the code units including the terminator.
func (s CStr16) UnitsWithNul() []Char16 {
	return s.units
}

// Ptr returns the address firmware expects, or nil for the zero CStr16.
func (s CStr16) Ptr() *Char16 {
	if len(s.units) == 0 {
		return nil
	}
	return &s.units[0]
}

// Size returns the size in bytes, terminator included.
func (s CStr16) Size() int {
	return len(s.units) * 2
}

// ToUTF8 converts s to a Go string.
func (s CStr16) ToUTF8() string {
	u16 := make([]uint16, s.Len())
	for i, u := range s.Units() {
		u16[i] = uint16(u)
	}
	return efi.ConvertUTF16ToUTF8(u16)
}

// CStr8 is a null-terminated Latin-1 string borrowing its buffer.
type CStr8 struct {
	units []Char8
}

// CStr8FromBytes wraps the string at the start of buf.
func CStr8FromBytes(buf []byte) (CStr8, error) {
	for i, b := range buf {
		if b == 0 {
			return CStr8{units: unsafe.Slice((*Char8)(unsafe.Pointer(&buf[0])), i+1)}, nil
		}
	}
	return CStr8{}, ErrUnterminated
}

// CStr8FromPtr wraps a string in firmware memory, scanning at most max bytes.
func CStr8FromPtr(p *Char8, max int) (CStr8, error) {
	if p == nil || max <= 0 {
		return CStr8{}, ErrUnterminated
	}
	return CStr8FromBytes(unsafe.Slice((*byte)(unsafe.Pointer(p)), max))
}

// NewCStr8 converts s to an owned Latin-1 string.
func NewCStr8(s string) (CStr8, error) {
	units := make([]Char8, 0, len(s)+1)
	for _, r := range s {
		switch {
		case r == 0:
			return CStr8{}, ErrInteriorNul
		case r > 0xff:
			return CStr8{}, ErrInvalidChar
		}
		units = append(units, Char8(r))
	}
	return CStr8{units: append(units, 0)}, nil
}

// Len returns the number of bytes before the terminator.
func (s CStr8) Len() int {
	if len(s.units) == 0 {
		return 0
	}
	return len(s.units) - 1
}

// Ptr returns the address firmware expects.
func (s CStr8) Ptr() *Char8 {
	if len(s.units) == 0 {
		return nil
	}
	return &s.units[0]
}

// ToUTF8 converts s to a Go string.
func (s CStr8) ToUTF8() string {
	r := make([]rune, 0, s.Len())
	for _, u := range s.units[:s.Len()] {
		r = append(r, rune(u))
	}
	return string(r)
}
