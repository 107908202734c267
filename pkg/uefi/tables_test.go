package uefi

import (
	"math/bits"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableLayout(t *testing.T) {
	if bits.UintSize != 64 {
		t.Skip("offsets are for 64-bit firmware")
	}

	var st EFI_SYSTEM_TABLE
	assert.Equal(t, uintptr(0x18), unsafe.Offsetof(st.FirmwareVendor))
	assert.Equal(t, uintptr(0x40), unsafe.Offsetof(st.ConOut))
	assert.Equal(t, uintptr(0x58), unsafe.Offsetof(st.RuntimeServices))
	assert.Equal(t, uintptr(0x60), unsafe.Offsetof(st.BootServices))
	assert.Equal(t, uintptr(0x70), unsafe.Offsetof(st.ConfigurationTable))
	assert.Equal(t, uintptr(0x78), unsafe.Sizeof(st))

	var bs EFI_BOOT_SERVICES
	assert.Equal(t, uintptr(0x18), unsafe.Offsetof(bs.RaiseTPL))
	assert.Equal(t, uintptr(0x28), unsafe.Offsetof(bs.AllocatePages))
	assert.Equal(t, uintptr(0x38), unsafe.Offsetof(bs.GetMemoryMap))
	assert.Equal(t, uintptr(0x98), unsafe.Offsetof(bs.HandleProtocol))
	assert.Equal(t, uintptr(0xc8), unsafe.Offsetof(bs.LoadImage))
	assert.Equal(t, uintptr(0xd8), unsafe.Offsetof(bs.Exit))
	assert.Equal(t, uintptr(0xe8), unsafe.Offsetof(bs.ExitBootServices))
	assert.Equal(t, uintptr(0x118), unsafe.Offsetof(bs.OpenProtocol))
	assert.Equal(t, uintptr(0x138), unsafe.Offsetof(bs.LocateHandleBuffer))
	assert.Equal(t, uintptr(0x140), unsafe.Offsetof(bs.LocateProtocol))
	assert.Equal(t, uintptr(0x170), unsafe.Offsetof(bs.CreateEventEx))
	assert.Equal(t, uintptr(0x178), unsafe.Sizeof(bs))

	var rt EFI_RUNTIME_SERVICES
	assert.Equal(t, uintptr(0x18), unsafe.Offsetof(rt.GetTime))
	assert.Equal(t, uintptr(0x48), unsafe.Offsetof(rt.GetVariable))
	assert.Equal(t, uintptr(0x58), unsafe.Offsetof(rt.SetVariable))
	assert.Equal(t, uintptr(0x68), unsafe.Offsetof(rt.ResetSystem))
	assert.Equal(t, uintptr(0x80), unsafe.Offsetof(rt.QueryVariableInfo))
	assert.Equal(t, uintptr(0x88), unsafe.Sizeof(rt))

	assert.Equal(t, uintptr(16), unsafe.Sizeof(GUID{}))
	assert.Equal(t, uintptr(24), unsafe.Sizeof(EFI_CONFIGURATION_TABLE{}))
	assert.Equal(t, uintptr(40), unsafe.Sizeof(EFI_MEMORY_DESCRIPTOR{}))
	assert.Equal(t, uintptr(16), unsafe.Sizeof(EFI_TIME{}))
}

func TestHeaderCRC(t *testing.T) {
	rt := &EFI_RUNTIME_SERVICES{
		Hdr: EFI_TABLE_HEADER{
			Signature:  EFI_RUNTIME_SERVICES_SIGNATURE,
			Revision:   EFI_2_10_SYSTEM_TABLE_REVISION,
			HeaderSize: uint32(unsafe.Sizeof(EFI_RUNTIME_SERVICES{})),
		},
		GetTime: 0x1234,
	}

	crc := rt.Hdr.CalculateCRC32()
	rt.Hdr.CRC32 = crc
	// the CRC32 field itself is not covered
	assert.Equal(t, crc, rt.Hdr.CalculateCRC32())

	size := unsafe.Sizeof(*rt)
	require.NoError(t, rt.Hdr.validate("runtime", EFI_RUNTIME_SERVICES_SIGNATURE, size, true))

	// slots are covered
	rt.GetTime = 0x5678
	assert.Error(t, rt.Hdr.validate("runtime", EFI_RUNTIME_SERVICES_SIGNATURE, size, true))
	assert.NoError(t, rt.Hdr.validate("runtime", EFI_RUNTIME_SERVICES_SIGNATURE, size, false))

	assert.Error(t, rt.Hdr.validate("runtime", EFI_BOOT_SERVICES_SIGNATURE, size, false))
	assert.Error(t, rt.Hdr.validate("runtime", EFI_RUNTIME_SERVICES_SIGNATURE, size+8, false))
}
