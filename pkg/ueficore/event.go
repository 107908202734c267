// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ueficore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/costinm/goefi/pkg/uefi"
)

// pollInterval is the stall between two CheckEvent rounds, in microseconds.
const pollInterval = 100

// WaitEvent blocks until one of events is signaled and returns its index.
//
// Unlike BootServices.WaitForEvent, which stalls the CPU inside firmware,
// WaitEvent polls CheckEvent and yields to other goroutines between polls.
// It returns ctx.Err() when ctx is done first.
func WaitEvent(ctx context.Context, bs *uefi.BootServices, events ...uefi.Event) (int, error) {
	if len(events) == 0 {
		return 0, uefi.ErrInvalidParameter
	}

	for {
		for i, ev := range events {
			err := bs.CheckEvent(ev).Err()
			switch {
			case err == nil:
				return i, nil
			case !errors.Is(err, uefi.ErrNotReady):
				return i, fmt.Errorf("check event %#x: %w", ev, err)
			}
		}

		if err := ctx.Err(); err != nil {
			return 0, err
		}
		runtime.Gosched()
		if err := bs.Stall(pollInterval).Err(); err != nil {
			return 0, err
		}
	}
}

// Sleep waits for d on a firmware timer, yielding while it waits.
func Sleep(ctx context.Context, bs *uefi.BootServices, d time.Duration) (err error) {
	if d < 0 {
		return fmt.Errorf("sleep %v: %w", d, uefi.ErrInvalidParameter)
	}
	ev, err := bs.CreateEvent(uefi.EVT_TIMER, uefi.TPL_CALLBACK, 0, nil).IgnoreWarning()
	if err != nil {
		return fmt.Errorf("create timer: %w", err)
	}
	defer func() {
		if cerr := bs.CloseEvent(ev).Err(); err == nil {
			err = cerr
		}
	}()

	// timer units are 100ns
	if err = bs.SetTimer(ev, uefi.TimerRelative, uint64(d/100)).Err(); err != nil {
		return fmt.Errorf("set timer: %w", err)
	}
	_, err = WaitEvent(ctx, bs, ev)
	return err
}
