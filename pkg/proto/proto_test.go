package proto

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/uefi/uefitest"
)

func newFirmware(t *testing.T, opts ...uefitest.Option) (*uefitest.Firmware, *uefi.SystemTable) {
	t.Helper()
	fw := uefitest.New(opts...)
	st, err := fw.SystemTable()
	require.NoError(t, err)
	return fw, st
}

func TestKnownUnique(t *testing.T) {
	names := map[string]bool{}
	guids := map[uefi.GUID]bool{}
	for _, p := range Known {
		assert.False(t, names[p.Name], "duplicate name %s", p.Name)
		assert.False(t, guids[p.GUID], "duplicate guid %s", p.GUID)
		names[p.Name], guids[p.GUID] = true, true
	}
}

func TestNameAndLookup(t *testing.T) {
	assert.Equal(t, "LoadedImage", Name(EFI_LOADED_IMAGE_PROTOCOL_GUID))

	unknown := uefi.MustParseGUID("01234567-89ab-cdef-0123-456789abcdef")
	assert.Equal(t, "01234567-89ab-cdef-0123-456789abcdef", Name(unknown))

	tests := []struct {
		in   string
		want KnownProtocol
		ok   bool
	}{
		{"SerialIo", KnownProtocol{"SerialIo", EFI_SERIAL_IO_PROTOCOL_GUID}, true},
		{EFI_BLOCK_IO_PROTOCOL_GUID.String(), KnownProtocol{"BlockIo", EFI_BLOCK_IO_PROTOCOL_GUID}, true},
		{unknown.String(), KnownProtocol{unknown.String(), unknown}, true},
		{"NoSuchProtocol", KnownProtocol{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Lookup(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInventory(t *testing.T) {
	fw, st := newFirmware(t)
	handles := fw.Handles()
	require.Len(t, handles, 3)

	fw.InstallProtocol(handles[0], EFI_LOADED_IMAGE_PROTOCOL_GUID, nil)
	fw.InstallProtocol(handles[0], EFI_DEVICE_PATH_PROTOCOL_GUID, nil)

	got, err := Inventory(st.BootServices())
	require.NoError(t, err)

	want := []HandleInfo{
		{Handle: handles[0], Protocols: []string{"DevicePath", "LoadedImage"}},
		{Handle: handles[1], Protocols: []string{"SimpleTextOutput"}},
		{Handle: handles[2], Protocols: []string{"SimpleTextInput"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Inventory() mismatch (-want +got):\n%s", diff)
	}
	assert.Zero(t, fw.OutstandingPools())
}

func TestInventoryAfterExit(t *testing.T) {
	_, st := newFirmware(t)
	_, _, err := st.ExitBootServices()
	require.NoError(t, err)

	_, err = Inventory(st.BootServices())
	assert.ErrorIs(t, err, uefi.ErrServicesExited)
}

func TestEnumerateNone(t *testing.T) {
	_, st := newFirmware(t)

	ports, err := EnumerateSerialPorts(st.BootServices())
	require.NoError(t, err)
	assert.Empty(t, ports)
}
