// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ueficore

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/costinm/goefi/pkg/uefi"
)

// Exit returns to the firmware with status. When boot services refuse, or
// are gone, the platform is shut down instead. Exit only returns when both
// fail, or when the firmware returns from a successful Exit, which a test
// firmware does.
func Exit(st *uefi.SystemTable, status uefi.Status, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	err := st.BootServices().Exit(status).Err()
	if err == nil {
		return nil
	}
	log.Error("halting due to exit error", zap.Error(err))

	var result *multierror.Error
	result = multierror.Append(result, fmt.Errorf("exit: %w", err))
	if err := Shutdown(st.RuntimeServices(), status); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Shutdown powers the platform off, reporting status as the reason.
func Shutdown(rt *uefi.RuntimeServices, status uefi.Status) error {
	return reset(rt, uefi.EfiResetShutdown, status)
}

// Reboot performs a cold reset.
func Reboot(rt *uefi.RuntimeServices) error {
	return reset(rt, uefi.EfiResetCold, uefi.EFI_SUCCESS)
}

func reset(rt *uefi.RuntimeServices, resetType int, status uefi.Status) error {
	if err := rt.ResetSystem(resetType, status, nil).Err(); err != nil {
		return fmt.Errorf("reset system: %w", err)
	}
	return nil
}
