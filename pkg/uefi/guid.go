package uefi

import (
	"encoding/binary"
	"fmt"

	efi "github.com/canonical/go-efilib"
	"github.com/google/uuid"
)

// GUID is the 128-bit identifier firmware uses to name protocols, tables and
// variable namespaces. The layout matches EFI_GUID.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

func (g GUID) efi() efi.GUID {
	var e [6]uint8
	copy(e[:], g.Data4[2:])
	return efi.MakeGUID(g.Data1, g.Data2, g.Data3, binary.BigEndian.Uint16(g.Data4[:2]), e)
}

func fromEFI(e efi.GUID) (g GUID) {
	g.Data1 = e.A()
	g.Data2 = e.B()
	g.Data3 = e.C()
	copy(g.Data4[:], e[8:])
	return
}

// String returns the registry format, e.g.
// 8be4df61-93ca-11d2-aa0d-00e098032b8c.
func (g GUID) String() string {
	return g.efi().String()
}

// Bytes returns the GUID in firmware memory order.
func (g GUID) Bytes() [16]byte {
	return [16]byte(g.efi())
}

// UUID returns g as an RFC 4122 UUID. The first three fields are stored
// big-endian in a UUID and little-endian in firmware memory.
func (g GUID) UUID() uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], g.Data1)
	binary.BigEndian.PutUint16(u[4:6], g.Data2)
	binary.BigEndian.PutUint16(u[6:8], g.Data3)
	copy(u[8:], g.Data4[:])
	return u
}

// GUIDFromUUID is the inverse of GUID.UUID.
func GUIDFromUUID(u uuid.UUID) GUID {
	g := GUID{
		Data1: binary.BigEndian.Uint32(u[0:4]),
		Data2: binary.BigEndian.Uint16(u[4:6]),
		Data3: binary.BigEndian.Uint16(u[6:8]),
	}
	copy(g.Data4[:], u[8:])
	return g
}

// GUIDFromBytes decodes a GUID stored in firmware memory order.
func GUIDFromBytes(b [16]byte) GUID {
	return fromEFI(efi.GUID(b))
}

// ParseGUID parses the registry format, with or without curly braces.
func ParseGUID(s string) (GUID, error) {
	e, err := efi.DecodeGUIDString(s)
	if err != nil {
		return GUID{}, fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	return fromEFI(e), nil
}

// MustParseGUID is like ParseGUID but panics on malformed input. It is meant
// for package level identifier declarations.
func MustParseGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}
