package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/costinm/goefi/pkg/uefi"
)

// highest codes defined by UEFI 2.10 Appendix D
const (
	maxErrorCode   = 35
	maxWarningCode = 7
)

func newStatusCmd() *cobra.Command {
	var asError bool
	c := &cobra.Command{
		Use:   "status <code|name>...",
		Short: "Decode firmware status codes",
		Long: `Decode firmware status codes given as numbers (0x800000000000000e, 14)
or names (EFI_NOT_FOUND). With --error, numbers are error codes without the
error bit, as printed by the firmware shell.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				s, err := parseStatus(arg, asError)
				if err != nil {
					return err
				}
				describeStatus(cmd, s)
			}
			return nil
		},
	}
	c.Flags().BoolVarP(&asError, "error", "e", false, "treat numbers as error codes")
	return c
}

func parseStatus(arg string, asError bool) (uefi.Status, error) {
	if n, err := strconv.ParseUint(arg, 0, 64); err == nil {
		if asError && n != 0 {
			return uefi.ErrorCode(n), nil
		}
		return uefi.Status(n), nil
	}
	if s, ok := statusByName(strings.ToUpper(arg)); ok {
		return s, nil
	}
	return 0, fmt.Errorf("unknown status %q", arg)
}

func statusByName(name string) (uefi.Status, bool) {
	if !strings.HasPrefix(name, "EFI_") {
		name = "EFI_" + name
	}
	if name == uefi.EFI_SUCCESS.String() {
		return uefi.EFI_SUCCESS, true
	}
	for code := uint64(1); code <= maxErrorCode; code++ {
		if s := uefi.ErrorCode(code); s.String() == name {
			return s, true
		}
	}
	for s := uefi.Status(1); s <= maxWarningCode; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

func describeStatus(cmd *cobra.Command, s uefi.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%#x)\n", s, uint64(s))
	fmt.Fprintf(out, "  class: %s\n", s.Class())
	fmt.Fprintf(out, "  code:  %d\n", s.Code())
	if err := uefi.StatusError(s); err != nil {
		fmt.Fprintf(out, "  text:  %v\n", err)
	}
}
