package config

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/uefi/uefitest"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Config
	}{
		{
			name: "empty",
			in:   "",
			want: Default(),
		},
		{
			name: "comments only",
			in:   "# nothing here\n",
			want: Default(),
		},
		{
			name: "overrides",
			in: `
kernel: \EFI\linux\vmlinuz.efi
cmdline: console=ttyS0 quiet
initrd: ""
watchdog: 300
log_level: debug
exit_on_failure: false
`,
			want: Config{
				Kernel:   `\EFI\linux\vmlinuz.efi`,
				Cmdline:  "console=ttyS0 quiet",
				Watchdog: 300,
				LogLevel: "debug",
			},
		},
		{
			name: "partial",
			in:   "watchdog: 60\n",
			want: func() Config {
				c := Default()
				c.Watchdog = 60
				return c
			}(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.in))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{
		"kernal: typo.efi\n",
		"watchdog: soon\n",
		"- a list\n",
	} {
		_, err := Parse([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	c := Config{
		Kernel:   "linux.efi",
		Initrd:   "initrd\x00.img",
		Cmdline:  strings.Repeat("x", maxCmdline+1),
		Watchdog: -1,
		LogLevel: "loud",
	}
	err := c.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 5)
	for _, field := range []string{"kernel:", "initrd:", "cmdline:", "watchdog:", "log_level:"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestCommandLine(t *testing.T) {
	tests := []struct {
		cmdline, initrd, want string
	}{
		{"console=ttyS0", `\initrd.img`, `initrd=\initrd.img console=ttyS0`},
		{"console=ttyS0", "/boot/initrd.img", `initrd=\boot\initrd.img console=ttyS0`},
		{`initrd=\other.img quiet`, `\initrd.img`, `initrd=\other.img quiet`},
		{" quiet ", "", "quiet"},
		{"", `\initrd.img`, `initrd=\initrd.img`},
		{"initrdx=1", `\i.img`, `initrd=\i.img initrdx=1`},
	}
	for _, tt := range tests {
		c := Config{Cmdline: tt.cmdline, Initrd: tt.initrd}
		assert.Equal(t, tt.want, c.CommandLine(), tt)
	}

	assert.Equal(t, `\EFI\linux\kernel.efi`, Config{Kernel: "/EFI/linux/kernel.efi"}.KernelPath())
}

func newFirmware(t *testing.T) (*uefitest.Firmware, *uefi.SystemTable) {
	t.Helper()
	fw := uefitest.New()
	st, err := fw.SystemTable()
	require.NoError(t, err)
	return fw, st
}

func TestLoad(t *testing.T) {
	fw, st := newFirmware(t)
	vol := fw.InstallBootVolume("ESP", `\EFI\BOOT\BOOTX64.EFI`)

	c, found, err := Load(st.BootServices())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Default(), c)

	vol.WriteFile(Path, []byte("kernel: /EFI/linux/test.efi\nlog_level: warn\n"))
	c, found, err = Load(st.BootServices())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `\EFI\linux\test.efi`, c.KernelPath())
	assert.Equal(t, "warn", c.LogLevel)
	assert.Equal(t, DefaultCmdline, c.Cmdline)
	assert.Zero(t, vol.OpenFiles())

	vol.WriteFile(Path, []byte("kernel: [\n"))
	_, found, err = Load(st.BootServices())
	assert.True(t, found)
	assert.Error(t, err)
}

func TestLoadWithoutBootVolume(t *testing.T) {
	_, st := newFirmware(t)

	_, _, err := Load(st.BootServices())
	assert.ErrorIs(t, err, uefi.ErrUnsupported)
}
