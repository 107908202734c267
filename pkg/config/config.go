// Package config holds the boot configuration read from the EFI system
// partition.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/costinm/goefi/pkg/proto"
	"github.com/costinm/goefi/pkg/uefi"
)

// Path is where the configuration lives on the boot volume.
const Path = `\EFI\goefi\config.yaml`

const (
	DefaultKernel  = `\EFI\linux\kernel.efi`
	DefaultInitrd  = `\initrd.img`
	DefaultCmdline = "console=tty1 rdinit=/sbin/initos-initrd net.ifnames=0 panic=0 init=/bin/sh console=ttyS0 initos_sidecar=/dev/sdb initos_debug=1"

	// maxCmdline bounds the command line, in UTF-16 units, as most EFI stub
	// kernels do.
	maxCmdline = 4096
)

// Config selects the kernel to boot and how.
type Config struct {
	// Kernel is the path of the kernel image on the boot volume.
	Kernel string `yaml:"kernel"`
	// Cmdline is passed to the kernel.
	Cmdline string `yaml:"cmdline"`
	// Initrd, when set, is appended to the command line as initrd=.
	Initrd string `yaml:"initrd"`
	// Watchdog is the firmware watchdog timeout in seconds; 0 disables it.
	Watchdog int `yaml:"watchdog"`
	// LogLevel is a zap level name.
	LogLevel string `yaml:"log_level"`
	// ExitOnFailure returns to the firmware boot manager when the kernel
	// fails to start, instead of shutting down.
	ExitOnFailure bool `yaml:"exit_on_failure"`
}

// Default returns the configuration used when the boot volume has none.
func Default() Config {
	return Config{
		Kernel:        DefaultKernel,
		Cmdline:       DefaultCmdline,
		Initrd:        DefaultInitrd,
		LogLevel:      "info",
		ExitOnFailure: true,
	}
}

// Parse decodes a YAML document over the defaults. Unknown keys are
// rejected.
func Parse(b []byte) (Config, error) {
	c := Default()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// Load reads Path from the boot volume. A missing file yields the defaults
// and found is false.
func Load(bs *uefi.BootServices) (c Config, found bool, err error) {
	root, err := proto.BootVolume(bs)
	if err != nil {
		return Config{}, false, err
	}
	defer root.Close()

	b, err := proto.ReadFile(root, Path)
	switch {
	case errors.Is(err, uefi.ErrNotFound):
		return Default(), false, nil
	case err != nil:
		return Config{}, false, err
	}

	c, err = Parse(b)
	if err != nil {
		return Config{}, true, err
	}
	return c, true, nil
}

// Validate reports every problem in c.
func (c Config) Validate() error {
	var result *multierror.Error

	if err := checkPath("kernel", c.Kernel); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Initrd != "" {
		if err := checkPath("initrd", c.Initrd); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if strings.ContainsRune(c.Cmdline, 0) {
		result = multierror.Append(result, errors.New("cmdline: contains a null character"))
	}
	if n := len([]rune(c.CommandLine())); n > maxCmdline {
		result = multierror.Append(result, fmt.Errorf("cmdline: %d characters, at most %d allowed", n, maxCmdline))
	}
	if c.Watchdog < 0 {
		result = multierror.Append(result, fmt.Errorf("watchdog: negative timeout %d", c.Watchdog))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, fmt.Errorf("log_level: %w", err))
	}

	return result.ErrorOrNil()
}

func checkPath(field, p string) error {
	switch {
	case p == "":
		return fmt.Errorf("%s: empty path", field)
	case !strings.HasPrefix(p, `\`) && !strings.HasPrefix(p, "/"):
		return fmt.Errorf("%s: %q is not an absolute path", field, p)
	case strings.ContainsRune(p, 0):
		return fmt.Errorf("%s: path contains a null character", field)
	}
	return nil
}

// KernelPath returns Kernel with backslash separators.
func (c Config) KernelPath() string {
	return strings.ReplaceAll(c.Kernel, "/", `\`)
}

// CommandLine returns the kernel command line, with initrd= added unless
// Cmdline already names one.
func (c Config) CommandLine() string {
	cmdline := strings.TrimSpace(c.Cmdline)
	if c.Initrd == "" || hasParam(cmdline, "initrd") {
		return cmdline
	}
	initrd := "initrd=" + strings.ReplaceAll(c.Initrd, "/", `\`)
	if cmdline == "" {
		return initrd
	}
	return initrd + " " + cmdline
}

func hasParam(cmdline, name string) bool {
	for _, f := range strings.Fields(cmdline) {
		if f == name || strings.HasPrefix(f, name+"=") {
			return true
		}
	}
	return false
}
