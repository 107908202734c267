//go:build tamago && amd64

// Command efiboot is a UEFI boot stub: it reads \EFI\goefi\config.yaml from
// the partition it was loaded from and starts the kernel named there with
// the configured command line.
//
// The steps:
//  1. load \EFI\goefi\config.yaml, falling back to the defaults when absent
//  2. load the kernel and log its SHA256
//  3. start it with the command line, initrd= included
//  4. when the kernel returns, exit to firmware, or shut down
//
// It does not check whether secure boot is enabled: the user and installer
// are responsible for configuring the EFI PK/KEK/DB.
package main

import (
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/costinm/goefi/pkg/ueficore"
	"github.com/costinm/goefi/pkg/uefi/x64"
)

func main() {
	st, err := x64.SystemTable()
	if err != nil {
		log.Printf("efiboot: %v", err)
		os.Exit(1)
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	logger := newLogger(st, level)
	defer zap.RedirectStdLog(logger)()

	cfg, err := boot(st, logger, level)
	if err := finish(st, cfg, err, logger); err != nil {
		log.Printf("halting due to exit error, %v", err)
		ueficore.Shutdown(st.RuntimeServices(), exitStatus(err))
	}
}
