//go:build tamago && amd64

// Command recovery is a UEFI shell for inspecting firmware and booting a
// recovery kernel by hand. Expects the EFI to be either 'unlocked' (platform
// keys removed) or locked with the user key that signed the recovery EFI.
package main

import (
	"fmt"
	"log"
	"runtime"

	"go.uber.org/zap"

	_ "github.com/usbarmory/go-boot/cmd"
	"github.com/usbarmory/go-boot/shell"
	bootx64 "github.com/usbarmory/go-boot/uefi/x64"

	"github.com/costinm/goefi/pkg/proto"
	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/uefi/x64"
	"github.com/costinm/goefi/pkg/ueficore"
)

func main() {
	st, err := x64.SystemTable()
	if err != nil {
		log.Fatalf("recovery: %v", err)
	}

	logger := zap.NewNop()
	if out, err := proto.ConsoleOut(st); err == nil {
		logger = ueficore.NewConsoleLogger(out, zap.InfoLevel)
	}
	defer zap.RedirectStdLog(logger)()

	r := &recovery{st: st, log: logger}
	register(r)

	// disable UEFI watchdog
	if err := st.BootServices().SetWatchdogTimer(0).Err(); err != nil {
		logger.Warn("could not disable watchdog", zap.Error(err))
	}

	iface := &shell.Interface{
		Banner: fmt.Sprintf("goefi recovery • %s/%s (%s) • UEFI x64",
			runtime.GOOS, runtime.GOARCH, runtime.Version()),
		Console: bootx64.UEFI.Console,
	}
	iface.ReadWriter = bootx64.UEFI.Console
	iface.Start(false)

	logger.Info("exit")
	if err := ueficore.Exit(st, uefi.EFI_SUCCESS, logger); err != nil {
		log.Printf("halting due to exit error, %v", err)
	}
}

func register(r *recovery) {
	shell.Add(shell.Cmd{
		Name:   "recovery",
		Args:   2,
		Syntax: "[kernel_path] [cmdline]",
		Help:   `boot linux kernel with command line. Defaults to the configured kernel, \EFI\linux\cmdline`,
		Fn: func(_ *shell.Interface, arg []string) (string, error) {
			return r.boot(arg)
		},
	})
	shell.Add(shell.Cmd{
		Name: "handles",
		Help: "list handles and their protocols",
		Fn: func(_ *shell.Interface, _ []string) (string, error) {
			return r.handles()
		},
	})
	shell.Add(shell.Cmd{
		Name: "protocols",
		Help: "list protocols known by name",
		Fn: func(_ *shell.Interface, _ []string) (string, error) {
			return r.known(), nil
		},
	})
	shell.Add(shell.Cmd{
		Name:   "locate",
		Args:   1,
		Syntax: "<name|guid>",
		Help:   "list handles supporting a protocol",
		Fn: func(_ *shell.Interface, arg []string) (string, error) {
			if len(arg) == 0 || arg[0] == "" {
				return "", fmt.Errorf("missing protocol")
			}
			return r.locate(arg[0])
		},
	})
	shell.Add(shell.Cmd{
		Name: "vars",
		Help: "list firmware variables",
		Fn: func(_ *shell.Interface, _ []string) (string, error) {
			return r.vars()
		},
	})
	shell.Add(shell.Cmd{
		Name: "config",
		Help: "show the boot configuration",
		Fn: func(_ *shell.Interface, _ []string) (string, error) {
			return r.showConfig()
		},
	})
}
