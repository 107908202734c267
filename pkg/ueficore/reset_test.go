// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ueficore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costinm/goefi/pkg/uefi"
)

func TestExit(t *testing.T) {
	fw, st := newFirmware(t)

	require.NoError(t, Exit(st, uefi.EFI_ABORTED, nil))
	assert.True(t, fw.ImageExited)
	assert.Equal(t, uefi.EFI_ABORTED, fw.ExitCode)
	assert.Empty(t, fw.Resets)
}

func TestExitFallsBackToShutdown(t *testing.T) {
	fw, st := newFirmware(t)

	_, _, err := st.ExitBootServices()
	require.NoError(t, err)

	err = Exit(st, uefi.EFI_LOAD_ERROR, nil)
	assert.ErrorIs(t, err, uefi.ErrServicesExited)
	assert.False(t, fw.ImageExited)
	assert.Equal(t, []int{uefi.EfiResetShutdown}, fw.Resets)
	assert.Zero(t, fw.BootCallsAfterExit)
}

func TestReboot(t *testing.T) {
	fw, st := newFirmware(t)

	require.NoError(t, Reboot(st.RuntimeServices()))
	require.NoError(t, Shutdown(st.RuntimeServices(), uefi.EFI_SUCCESS))
	assert.Equal(t, []int{uefi.EfiResetCold, uefi.EfiResetShutdown}, fw.Resets)
}
