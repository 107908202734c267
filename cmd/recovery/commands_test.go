package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/costinm/goefi/pkg/config"
	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/uefi/uefitest"
)

func newRecovery(t *testing.T) (*uefitest.Firmware, *uefitest.Volume, *recovery) {
	t.Helper()
	fw := uefitest.New()
	st, err := fw.SystemTable()
	require.NoError(t, err)
	vol := fw.InstallBootVolume("ESP", `\EFI\BOOT\BOOTX64.EFI`)
	return fw, vol, &recovery{st: st, log: zap.NewNop()}
}

func TestRecoveryBoot(t *testing.T) {
	fw, vol, r := newRecovery(t)
	vol.WriteFile(config.DefaultKernel, []byte("MZ linux"))
	vol.WriteFile(`\EFI\linux\rescue.efi`, []byte("MZ rescue"))

	var cmdline string
	fw.OnStartImage = func(h uefi.Handle) (uefi.Status, []byte) {
		cmdline, _ = fw.LoadOptions(h)
		return uefi.EFI_SUCCESS, nil
	}

	out, err := r.boot(nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default().CommandLine(), cmdline)
	assert.Equal(t, fmt.Sprintf("%s returned\n", config.DefaultKernel), out)

	vol.WriteFile(cmdlinePath, []byte("console=ttyS0 single\n"))
	_, err = r.boot(nil)
	require.NoError(t, err)
	assert.Equal(t, "console=ttyS0 single", cmdline)

	out, err = r.boot([]string{"/EFI/linux/rescue.efi", "quiet", "init=/bin/sh"})
	require.NoError(t, err)
	assert.Equal(t, "quiet init=/bin/sh", cmdline)
	assert.Contains(t, out, `\EFI\linux\rescue.efi`)
}

func TestRecoveryBootMissing(t *testing.T) {
	_, _, r := newRecovery(t)

	_, err := r.boot([]string{`\EFI\linux\none.efi`})
	assert.ErrorIs(t, err, uefi.ErrNotFound)
}

func TestRecoveryHandles(t *testing.T) {
	_, _, r := newRecovery(t)

	out, err := r.handles()
	require.NoError(t, err)
	assert.Contains(t, out, "HANDLE")
	assert.Contains(t, out, "LoadedImage")
	assert.Contains(t, out, "SimpleFileSystem")
}

func TestRecoveryLocate(t *testing.T) {
	_, vol, r := newRecovery(t)

	out, err := r.locate("SimpleFileSystem")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%#x\n", vol.Device), out)

	out, err = r.locate("DiskIo")
	require.NoError(t, err)
	assert.Equal(t, "no handle supports DiskIo\n", out)

	_, err = r.locate("Frobnicator")
	assert.EqualError(t, err, `unknown protocol "Frobnicator"`)
}

func TestRecoveryKnown(t *testing.T) {
	_, _, r := newRecovery(t)

	out := r.known()
	assert.Contains(t, out, "SerialIo")
	assert.Contains(t, out, "964e5b22-6459-11d2-8e39-00a0c969723b")
}

func TestRecoveryVars(t *testing.T) {
	fw, _, r := newRecovery(t)
	fw.SetVariable("BootOrder", uefi.EFI_GLOBAL_VARIABLE_GUID, 0x7, []byte{1, 0})

	out, err := r.vars()
	require.NoError(t, err)
	assert.Contains(t, out, "BootOrder-8be4df61-93ca-11d2-aa0d-00e098032b8c")
	assert.Contains(t, out, "2 bytes")
	assert.Contains(t, out, "0x7")
}

func TestRecoveryShowConfig(t *testing.T) {
	_, vol, r := newRecovery(t)
	vol.WriteFile(config.Path, []byte("watchdog: 30\n"))

	out, err := r.showConfig()
	require.NoError(t, err)
	assert.Contains(t, out, "watchdog: 30")
	assert.Contains(t, out, "exit_on_failure: true")
}
