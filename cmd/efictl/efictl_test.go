package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costinm/goefi/pkg/uefi"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCmd(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{[]string{"status", "0x800000000000000e"}, []string{"EFI_NOT_FOUND (0x800000000000000e)", "class: error", "code:  14", "text:  item not found"}},
		{[]string{"status", "-e", "14"}, []string{"EFI_NOT_FOUND"}},
		{[]string{"status", "not_found"}, []string{"EFI_NOT_FOUND (0x800000000000000e)"}},
		{[]string{"status", "EFI_WARN_STALE_DATA"}, []string{"EFI_WARN_STALE_DATA (0x5)", "class: warning"}},
		{[]string{"status", "0"}, []string{"EFI_SUCCESS (0x0)", "class: success"}},
	}
	for _, tt := range tests {
		out, err := run(t, tt.args...)
		require.NoError(t, err, tt.args)
		for _, w := range tt.want {
			assert.Contains(t, out, w, tt.args)
		}
	}

	_, err := run(t, "status", "EFI_BOGUS")
	assert.EqualError(t, err, `unknown status "EFI_BOGUS"`)
}

func TestStatusByName(t *testing.T) {
	for _, s := range []uefi.Status{uefi.EFI_SUCCESS, uefi.EFI_WARN_RESET_REQUIRED, uefi.EFI_LOAD_ERROR, uefi.EFI_HTTP_ERROR} {
		got, ok := statusByName(s.String())
		assert.True(t, ok, s)
		assert.Equal(t, s, got)
	}
}

func TestGUIDCmd(t *testing.T) {
	out, err := run(t, "guid", "8be4df61-93ca-11d2-aa0d-00e098032b8c")
	require.NoError(t, err)
	assert.Contains(t, out, "firmware: 61dfe48bca93d211aa0d00e098032b8c")
	assert.Contains(t, out, "rfc4122:  8be4df6193ca11d2aa0d00e098032b8c")
	assert.Contains(t, out, "Data1: 0x8be4df61, Data2: 0x93ca, Data3: 0x11d2")

	out, err = run(t, "guid", "SimpleFileSystem")
	require.NoError(t, err)
	assert.Contains(t, out, "964e5b22-6459-11d2-8e39-00a0c969723b")

	out, err = run(t, "guid", "-b", "225b4e965964d2118e3900a0c969723b")
	require.NoError(t, err)
	assert.Contains(t, out, "name:     SimpleFileSystem")

	_, err = run(t, "guid", "-b", "1234")
	assert.Error(t, err)
	_, err = run(t, "guid", "not-a-guid")
	assert.Error(t, err)
}

func TestGUIDNew(t *testing.T) {
	out, err := run(t, "guid", "new")
	require.NoError(t, err)
	assert.Contains(t, out, "firmware:")
}

func TestProtocolsCmd(t *testing.T) {
	out, err := run(t, "protocols")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "LoadedImage")
}
