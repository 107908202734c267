package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/costinm/goefi/pkg/config"
	"github.com/costinm/goefi/pkg/proto"
	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/ueficore"
)

// newLogger logs to the console, or to the first serial port of a headless
// machine.
func newLogger(st *uefi.SystemTable, level zap.AtomicLevel) *zap.Logger {
	if out, err := proto.ConsoleOut(st); err == nil {
		return ueficore.NewConsoleLogger(out, level)
	}

	ports, err := proto.EnumerateSerialPorts(st.BootServices())
	if err != nil || len(ports) == 0 {
		return zap.NewNop()
	}
	if err := ports[0].Init(); err != nil {
		return zap.NewNop()
	}
	return ueficore.NewLogger(ports[0], level)
}

// boot loads the configuration from the boot volume and starts the kernel it
// names. It returns the configuration in effect, with the defaults when none
// could be read.
func boot(st *uefi.SystemTable, log *zap.Logger, level zap.AtomicLevel) (config.Config, error) {
	bs := st.BootServices()

	cfg, found, err := config.Load(bs)
	if err != nil {
		return config.Default(), fmt.Errorf("load %s: %w", config.Path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid %s: %w", config.Path, err)
	}
	if l, err := ueficore.ParseLevel(cfg.LogLevel); err == nil {
		level.SetLevel(l)
	}
	log.Info("configuration",
		zap.Bool("found", found),
		zap.String("kernel", cfg.KernelPath()),
		zap.Int("watchdog", cfg.Watchdog))

	logVariables(st.RuntimeServices(), log)

	if err := bs.SetWatchdogTimer(cfg.Watchdog).Err(); err != nil {
		log.Warn("could not set watchdog", zap.Error(err))
	}

	k := ueficore.Kernel{Path: cfg.KernelPath(), Cmdline: cfg.CommandLine()}
	return cfg, ueficore.NewLoader(bs, log).Start(k)
}

func logVariables(rt *uefi.RuntimeServices, log *zap.Logger) {
	if !log.Core().Enabled(zap.DebugLevel) {
		return
	}
	keys, err := rt.VariableKeys().IgnoreWarning()
	if err != nil {
		log.Debug("variables", zap.Error(err))
		return
	}
	for _, k := range keys {
		log.Debug("variable", zap.Stringer("key", k))
	}
}

// exitStatus is the status reported to firmware for a boot failure.
func exitStatus(err error) uefi.Status {
	if err == nil {
		return uefi.EFI_SUCCESS
	}
	if s, ok := uefi.StatusOf(err); ok {
		return s
	}
	return uefi.EFI_LOAD_ERROR
}

// finish leaves the stub: back to the boot manager, or powered off when the
// configuration asks for it after a failure.
func finish(st *uefi.SystemTable, cfg config.Config, err error, log *zap.Logger) error {
	status := exitStatus(err)
	if err != nil {
		log.Error("boot failed", zap.Error(err), zap.Stringer("status", status))
		if !cfg.ExitOnFailure {
			return ueficore.Shutdown(st.RuntimeServices(), status)
		}
	}
	return ueficore.Exit(st, status, log)
}
