package uefi

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const globalVariable = "8be4df61-93ca-11d2-aa0d-00e098032b8c"

func TestParseGUID(t *testing.T) {
	g, err := ParseGUID(globalVariable)
	require.NoError(t, err)

	assert.Equal(t, uint32(0x8be4df61), g.Data1)
	assert.Equal(t, uint16(0x93ca), g.Data2)
	assert.Equal(t, uint16(0x11d2), g.Data3)
	assert.Equal(t, [8]byte{0xaa, 0x0d, 0x00, 0xe0, 0x98, 0x03, 0x2b, 0x8c}, g.Data4)
	assert.Equal(t, globalVariable, g.String())
	assert.Equal(t, EFI_GLOBAL_VARIABLE_GUID, g)
}

func TestParseGUIDInvalid(t *testing.T) {
	for _, s := range []string{"", "8be4df61", "8be4df61-93ca-11d2-aa0d-00e098032b8", "zzzzzzzz-93ca-11d2-aa0d-00e098032b8c"} {
		_, err := ParseGUID(s)
		assert.Error(t, err, s)
	}
	assert.Panics(t, func() { MustParseGUID("nope") })
}

func TestGUIDBytes(t *testing.T) {
	g := MustParseGUID(globalVariable)

	want := [16]byte{
		0x61, 0xdf, 0xe4, 0x8b,
		0xca, 0x93,
		0xd2, 0x11,
		0xaa, 0x0d, 0x00, 0xe0, 0x98, 0x03, 0x2b, 0x8c,
	}
	assert.Equal(t, want, g.Bytes())
	assert.Equal(t, g, GUIDFromBytes(want))
}

func TestGUIDUUID(t *testing.T) {
	g := MustParseGUID(globalVariable)

	u := g.UUID()
	assert.Equal(t, uuid.MustParse(globalVariable), u)
	assert.Equal(t, g, GUIDFromUUID(u))
}
