// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ueficore

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"unsafe"

	efi "github.com/canonical/go-efilib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/costinm/goefi/pkg/proto"
	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/uefi/uefitest"
)

const kernelPath = `\EFI\linux\kernel.efi`

var kernelImage = []byte("MZ kernel image")

func bootVolume(t *testing.T) (*uefitest.Firmware, *uefi.SystemTable, *uefitest.Volume) {
	t.Helper()
	fw, st := newFirmware(t)
	vol := fw.InstallBootVolume("ESP", `\EFI\BOOT\BOOTX64.EFI`)
	vol.WriteFile(kernelPath, kernelImage)
	return fw, st, vol
}

func ucs2z(s string) []byte {
	var b []byte
	for _, u := range efi.ConvertUTF8ToUTF16(s) {
		b = append(b, byte(u), byte(u>>8))
	}
	return append(b, 0, 0)
}

func TestLoaderStart(t *testing.T) {
	fw, st, vol := bootVolume(t)
	core, logs := observer.New(zapcore.DebugLevel)

	var started uefi.Handle
	var cmdline string
	fw.OnStartImage = func(h uefi.Handle) (uefi.Status, []byte) {
		started = h
		cmdline, _ = fw.LoadOptions(h)
		return uefi.EFI_SUCCESS, nil
	}

	l := NewLoader(st.BootServices(), zap.New(core))
	err := l.Start(Kernel{Path: kernelPath, Cmdline: `console=ttyS0 initrd=\initrd.img`})
	require.NoError(t, err)

	require.NotZero(t, started)
	assert.Equal(t, `console=ttyS0 initrd=\initrd.img`, cmdline)
	assert.Zero(t, fw.OutstandingPools())
	assert.Zero(t, vol.OpenFiles())

	// a device without a device path gets a bare file node
	dp, ok := fw.ImagePath(started)
	require.True(t, ok)
	require.Len(t, dp, 1)
	assert.Equal(t, efi.FilePathDevicePathNode(kernelPath), dp[0])

	sum := sha256.Sum256(kernelImage)
	loaded := logs.FilterMessage("loaded file").All()
	require.Len(t, loaded, 1)
	assert.Equal(t, hex.EncodeToString(sum[:]), loaded[0].ContextMap()["sha256"])
	assert.Equal(t, int64(len(kernelImage)), loaded[0].ContextMap()["size"])
	assert.Equal(t, 1, logs.FilterMessage("starting image").Len())
}

func TestLoaderDevicePath(t *testing.T) {
	fw, st, vol := bootVolume(t)

	dev, err := efi.DevicePath{
		&efi.ACPIDevicePathNode{HID: 0x0a0341d0},
		&efi.PCIDevicePathNode{Function: 1, Device: 0x1f},
	}.Bytes()
	require.NoError(t, err)
	fw.InstallProtocol(vol.Device, proto.EFI_DEVICE_PATH_PROTOCOL_GUID, unsafe.Pointer(&dev[0]))

	l := NewLoader(st.BootServices(), nil)
	h, pool, err := l.Load(Kernel{Path: kernelPath, Data: kernelImage})
	require.NoError(t, err)
	defer pool.Close()

	dp, ok := fw.ImagePath(h)
	require.True(t, ok)
	require.Len(t, dp, 3)
	assert.Equal(t, efi.FilePathDevicePathNode(kernelPath), dp[2])

	// no command line, no load options
	opts, ok := fw.LoadOptions(h)
	assert.True(t, ok)
	assert.Empty(t, opts)
	assert.Zero(t, pool.Len())
}

func TestLoaderExitError(t *testing.T) {
	fw, st, _ := bootVolume(t)
	fw.OnStartImage = func(h uefi.Handle) (uefi.Status, []byte) {
		return uefi.EFI_ABORTED, append(ucs2z("no root device"), 0xde, 0xad)
	}

	err := NewLoader(st.BootServices(), nil).Start(Kernel{Path: kernelPath, Cmdline: "root=/dev/sda2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, uefi.ErrAborted)

	var xe *ExitError
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, "no root device", xe.Message)
	assert.Equal(t, kernelPath, xe.Path)
	assert.Contains(t, err.Error(), "no root device")
	assert.Zero(t, fw.OutstandingPools())
}

func TestLoaderLoadErrors(t *testing.T) {
	fw, st, _ := bootVolume(t)
	l := NewLoader(st.BootServices(), nil)

	_, _, err := l.Load(Kernel{Path: `\EFI\linux\missing.efi`})
	assert.ErrorIs(t, err, uefi.ErrNotFound)

	_, _, err = l.Load(Kernel{Path: kernelPath, Data: []byte("\x7fELF")})
	assert.ErrorIs(t, err, uefi.ErrLoadError)
	assert.Zero(t, fw.OutstandingPools())

	// no loaded image protocol, so no boot device
	_, bare := newFirmware(t)
	_, _, err = NewLoader(bare.BootServices(), nil).Load(Kernel{Path: kernelPath, Data: kernelImage})
	assert.ErrorIs(t, err, uefi.ErrUnsupported)
}

func TestExitMessage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"none", nil, ""},
		{"text", ucs2z("bad config"), "bad config"},
		{"binary after text", append(ucs2z("oops"), 1, 2, 3, 4), "oops"},
		{"unterminated", []byte{'a', 0, 'b', 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitMessage(tt.data))
		})
	}
}
