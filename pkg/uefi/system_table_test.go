package uefi_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/uefi/uefitest"
)

// textOutput mirrors the first slots of EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL.
type textOutput struct {
	Reset        uintptr
	OutputString uintptr
}

func (*textOutput) ProtocolGUID() uefi.GUID { return uefi.EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL_GUID }

type textInput struct {
	Reset         uintptr
	ReadKeyStroke uintptr
	WaitForKey    uefi.Event
}

func (*textInput) ProtocolGUID() uefi.GUID { return uefi.EFI_SIMPLE_TEXT_INPUT_PROTOCOL_GUID }

func open(t *testing.T, opts ...uefitest.Option) (*uefitest.Firmware, *uefi.SystemTable) {
	t.Helper()
	fw := uefitest.New(opts...)
	st, err := fw.SystemTable()
	require.NoError(t, err)
	return fw, st
}

func output(t *testing.T, r uefi.Ref[textOutput], s string) uefi.Status {
	t.Helper()
	str := uefi.MustCStr16(s)
	p, c := r.Bind()
	return c.Call(&p.OutputString, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(str.Ptr())))
}

func TestNewSystemTable(t *testing.T) {
	fw, st := open(t)

	assert.True(t, st.Valid())
	assert.Equal(t, fw.Image, st.ImageHandle())
	assert.Equal(t, uint32(uefi.EFI_2_10_SYSTEM_TABLE_REVISION), st.Revision())

	vendor, err := st.FirmwareVendor()
	require.NoError(t, err)
	assert.Equal(t, "goefi simulated firmware", vendor.ToUTF8())
}

func TestWithNilLogger(t *testing.T) {
	fw := uefitest.New()
	st, err := fw.SystemTable(uefi.WithLogger(nil))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		r := uefi.HandleProtocol[textOutput](st.BootServices(), 0x9999)
		assert.True(t, r.IsError())
	})
}

func TestNewSystemTableRejects(t *testing.T) {
	fw := uefitest.New()

	_, err := uefi.NewSystemTable(fw.Image, 0, fw)
	assert.Error(t, err)

	_, err = uefi.NewSystemTable(fw.Image, fw.Address(), nil)
	assert.Error(t, err)

	fw.Corrupt()
	_, err = fw.SystemTable()
	assert.ErrorContains(t, err, "CRC32")

	_, err = fw.SystemTable(uefi.WithoutCRCCheck())
	assert.NoError(t, err)

	fw.Raw().Hdr.Signature = 0
	_, err = fw.SystemTable(uefi.WithoutCRCCheck())
	assert.ErrorContains(t, err, "signature")
}

func TestConfigurationTables(t *testing.T) {
	fw := uefitest.New()
	acpi := new([64]byte)
	smbios := new([32]byte)
	fw.AddConfigurationTable(uefi.ACPI_20_TABLE_GUID, unsafe.Pointer(acpi))
	fw.AddConfigurationTable(uefi.SMBIOS3_TABLE_GUID, unsafe.Pointer(smbios))

	st, err := fw.SystemTable()
	require.NoError(t, err)

	tables := st.ConfigurationTables()
	require.Len(t, tables, 2)
	assert.Equal(t, uefi.ACPI_20_TABLE_GUID, tables[0].VendorGUID)
	assert.Equal(t, uefi.SMBIOS3_TABLE_GUID, tables[1].VendorGUID)

	p, ok := st.FindConfigurationTable(uefi.SMBIOS3_TABLE_GUID)
	assert.True(t, ok)
	assert.Equal(t, unsafe.Pointer(smbios), p)

	_, ok = st.FindConfigurationTable(uefi.EFI_DTB_TABLE_GUID)
	assert.False(t, ok)
}

func TestConsoleProtocol(t *testing.T) {
	fw, st := open(t)

	out, err := uefi.ConsoleProtocol[textOutput](st, uefi.ConsoleOut).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, fw.Raw().ConsoleOutHandle, out.Handle())

	assert.Equal(t, uefi.EFI_SUCCESS, output(t, out, "hello"))
	assert.Equal(t, "hello", fw.Output())

	// warnings come back untouched
	assert.Equal(t, uefi.EFI_WARN_UNKNOWN_GLYPH, output(t, out, "�"))

	in, err := uefi.ConsoleProtocol[textInput](st, uefi.ConsoleIn).Unwrap()
	require.NoError(t, err)
	assert.True(t, in.Valid())

	r := uefi.ConsoleProtocol[textInput](st, uefi.ConsoleOut)
	assert.Equal(t, uefi.EFI_INVALID_PARAMETER, r.Status())
}

func TestConsoleProtocolHeadless(t *testing.T) {
	_, st := open(t, uefitest.Headless())

	r := uefi.ConsoleProtocol[textOutput](st, uefi.ConsoleErr)
	assert.Equal(t, uefi.EFI_NOT_FOUND, r.Status())
}

func TestExitBootServices(t *testing.T) {
	fw, st := open(t)
	bs := st.BootServices()

	out, err := uefi.ConsoleProtocol[textOutput](st, uefi.ConsoleOut).Unwrap()
	require.NoError(t, err)

	rst, mm, err := st.ExitBootServices()
	require.NoError(t, err)
	require.NotNil(t, rst)
	assert.Len(t, mm.Descriptors, len(fw.Memory))
	assert.True(t, fw.ExitedBootServices())

	assert.False(t, st.Valid())
	assert.False(t, bs.Valid())

	// nothing reachable from the boot scope touches firmware any more
	assert.Equal(t, uefi.StatusServicesExited, bs.AllocatePool(uefi.EfiLoaderData, 16).Status())
	assert.Equal(t, uefi.StatusServicesExited, bs.GetMemoryMap().Status())
	assert.Equal(t, uefi.StatusServicesExited, output(t, out, "late"))
	assert.Equal(t, uefi.StatusServicesExited, uefi.ConsoleProtocol[textOutput](st, uefi.ConsoleOut).Status())
	assert.False(t, out.Valid())
	_, err = out.Interface()
	assert.ErrorIs(t, err, uefi.ErrServicesExited)

	_, _, err = st.ExitBootServices()
	assert.ErrorIs(t, err, uefi.ErrServicesExited)

	assert.Zero(t, fw.BootCallsAfterExit)
	assert.Zero(t, fw.BadCalls)
	assert.NotContains(t, fw.Output(), "late")

	// runtime services survive
	tm, err := rst.RuntimeServices().GetTime().Unwrap()
	require.NoError(t, err)
	assert.Equal(t, uint16(2024), tm.Year)

	vendor, err := rst.FirmwareVendor()
	require.NoError(t, err)
	assert.NotZero(t, vendor.Len())
}

func TestExitBootServicesStaleMap(t *testing.T) {
	fw, st := open(t)
	fw.ExitFailures = 1

	_, _, err := st.ExitBootServices()
	assert.ErrorIs(t, err, uefi.ErrInvalidParameter)

	// a failed attempt invalidates nothing
	assert.True(t, st.Valid())
	assert.False(t, fw.ExitedBootServices())
	assert.NoError(t, st.BootServices().Stall(1).Err())

	_, _, err = st.ExitBootServices()
	require.NoError(t, err)
	assert.False(t, st.Valid())
}
