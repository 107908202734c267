package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/costinm/goefi/pkg/config"
	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/uefi/uefitest"
)

func stub(t *testing.T, cfg string) (*uefitest.Firmware, *uefi.SystemTable, *uefitest.Volume) {
	t.Helper()
	fw := uefitest.New()
	st, err := fw.SystemTable()
	require.NoError(t, err)

	vol := fw.InstallBootVolume("ESP", `\EFI\BOOT\BOOTX64.EFI`)
	if cfg != "" {
		vol.WriteFile(config.Path, []byte(cfg))
	}
	return fw, st, vol
}

func TestBoot(t *testing.T) {
	fw, st, vol := stub(t, "kernel: /EFI/linux/vmlinuz.efi\ncmdline: console=ttyS0\nwatchdog: 120\nlog_level: debug\n")
	vol.WriteFile(`\EFI\linux\vmlinuz.efi`, []byte("MZ linux"))

	var cmdline string
	fw.OnStartImage = func(h uefi.Handle) (uefi.Status, []byte) {
		cmdline, _ = fw.LoadOptions(h)
		return uefi.EFI_SUCCESS, nil
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	log := newLogger(st, level)
	cfg, err := boot(st, log, level)
	require.NoError(t, err)

	assert.Equal(t, `initrd=\initrd.img console=ttyS0`, cmdline)
	assert.Equal(t, 120, fw.Watchdog)
	assert.Equal(t, zap.DebugLevel, level.Level())
	assert.Contains(t, fw.Output(), "configuration")

	require.NoError(t, finish(st, cfg, err, log))
	assert.True(t, fw.ImageExited)
	assert.Equal(t, uefi.EFI_SUCCESS, fw.ExitCode)
}

func TestBootDefaults(t *testing.T) {
	fw, st, vol := stub(t, "")
	vol.WriteFile(config.DefaultKernel, []byte("MZ"))

	var started bool
	fw.OnStartImage = func(h uefi.Handle) (uefi.Status, []byte) {
		started = true
		return uefi.EFI_SUCCESS, nil
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	_, err := boot(st, zap.NewNop(), level)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Zero(t, fw.Watchdog)
}

func TestBootMissingKernel(t *testing.T) {
	fw, st, _ := stub(t, "")

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	log := newLogger(st, level)
	cfg, err := boot(st, log, level)
	assert.ErrorIs(t, err, uefi.ErrNotFound)

	require.NoError(t, finish(st, cfg, err, log))
	assert.True(t, fw.ImageExited)
	assert.Equal(t, uefi.EFI_NOT_FOUND, fw.ExitCode)
	assert.Contains(t, fw.Output(), "boot failed")
}

func TestBootInvalidConfig(t *testing.T) {
	fw, st, _ := stub(t, "watchdog: -5\nexit_on_failure: false\n")

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg, err := boot(st, zap.NewNop(), level)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watchdog")

	require.NoError(t, finish(st, cfg, err, zap.NewNop()))
	assert.False(t, fw.ImageExited)
	assert.Equal(t, []int{uefi.EfiResetShutdown}, fw.Resets)
}

func TestNewLoggerHeadless(t *testing.T) {
	fw := uefitest.New(uefitest.Headless())
	st, err := fw.SystemTable()
	require.NoError(t, err)

	log := newLogger(st, zap.NewAtomicLevelAt(zap.InfoLevel))
	assert.False(t, log.Core().Enabled(zap.ErrorLevel))
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		err  error
		want uefi.Status
	}{
		{nil, uefi.EFI_SUCCESS},
		{fmt.Errorf("kernel: %w", uefi.ErrNotFound), uefi.EFI_NOT_FOUND},
		{errors.New("bad config"), uefi.EFI_LOAD_ERROR},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitStatus(tt.err), "%v", tt.err)
	}
}
