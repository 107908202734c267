package proto

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/uefi/uefitest"
)

// newVolume installs a volume on the device the running image was loaded
// from.
func newVolume(t *testing.T, fw *uefitest.Firmware) *uefitest.Volume {
	t.Helper()
	li := installImage(t, fw)

	v := fw.InstallVolume(li.DeviceHandle, "GOEFI")
	v.WriteFile(`EFI\BOOT\BOOTX64.EFI`, []byte("MZ"))
	v.WriteFile(`EFI\goefi\config.yaml`, []byte("kernel: linux.efi\n"))
	v.WriteFile("hello.txt", []byte("hello world"))
	return v
}

func TestBootVolumeReadFile(t *testing.T) {
	fw, st := newFirmware(t)
	fs := newVolume(t, fw)

	root, err := BootVolume(st.BootServices())
	require.NoError(t, err)
	assert.Equal(t, `\`, root.Name())

	for _, path := range []string{`\EFI\goefi\config.yaml`, "EFI/goefi/config.yaml", `efi\GOEFI\Config.YAML`} {
		b, err := ReadFile(root, path)
		require.NoError(t, err, path)
		assert.Equal(t, "kernel: linux.efi\n", string(b))
	}
	assert.Equal(t, 1, fs.OpenFiles(), "only the root stays open")

	_, err = ReadFile(root, `\EFI\missing.yaml`)
	assert.ErrorIs(t, err, uefi.ErrNotFound)
	assert.ErrorContains(t, err, "missing.yaml")

	require.NoError(t, root.Close())
	assert.Zero(t, fs.OpenFiles())
}

func TestBootVolumeMissing(t *testing.T) {
	fw, st := newFirmware(t)
	installImage(t, fw)

	_, err := BootVolume(st.BootServices())
	assert.ErrorIs(t, err, uefi.ErrUnsupported)
}

func TestFileInfo(t *testing.T) {
	fw, st := newFirmware(t)
	fs := newVolume(t, fw)
	long := strings.Repeat("n", 60) + ".txt"
	fs.WriteFile(long, []byte("x"))

	root, err := BootVolume(st.BootServices())
	require.NoError(t, err)

	f, err := root.Open("hello.txt", EFI_FILE_MODE_READ, 0)
	require.NoError(t, err)
	info, err := f.Info()
	require.NoError(t, err)
	assert.Equal(t, FileInfo{
		Name:         "hello.txt",
		Size:         11,
		PhysicalSize: 512,
		ModTime:      time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC),
	}, info)
	assert.False(t, info.IsDir())

	// larger than the first info buffer
	f, err = root.Open(long, EFI_FILE_MODE_READ, 0)
	require.NoError(t, err)
	info, err = f.Info()
	require.NoError(t, err)
	assert.Equal(t, long, info.Name)

	d, err := root.Open("EFI", EFI_FILE_MODE_READ, 0)
	require.NoError(t, err)
	info, err = d.Info()
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	vol, err := root.VolumeInfo()
	require.NoError(t, err)
	assert.Equal(t, VolumeInfo{Label: "GOEFI", VolumeSize: 64 << 20, FreeSpace: 48 << 20, BlockSize: 512}, vol)
}

func TestFileSeek(t *testing.T) {
	fw, st := newFirmware(t)
	newVolume(t, fw)

	root, err := BootVolume(st.BootServices())
	require.NoError(t, err)
	f, err := root.Open("hello.txt", EFI_FILE_MODE_READ, 0)
	require.NoError(t, err)

	tests := []struct {
		offset int64
		whence int
		want   int64
	}{
		{6, io.SeekStart, 6},
		{-5, io.SeekEnd, 6},
		{0, io.SeekEnd, 11},
		{-1, io.SeekCurrent, 10},
		{2, io.SeekCurrent, 12},
	}
	for _, tt := range tests {
		pos, err := f.Seek(tt.offset, tt.whence)
		require.NoError(t, err)
		assert.Equal(t, tt.want, pos)
	}

	_, err = f.Seek(-100, io.SeekStart)
	assert.Error(t, err)
	_, err = f.Seek(0, 42)
	assert.Error(t, err)

	_, err = f.Seek(6, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	_, err = f.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadDir(t *testing.T) {
	fw, st := newFirmware(t)
	newVolume(t, fw)

	root, err := BootVolume(st.BootServices())
	require.NoError(t, err)

	entries, err := root.ReadDir()
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if diff := cmp.Diff([]string{"EFI", "hello.txt"}, names); diff != "" {
		t.Errorf("ReadDir() mismatch (-want +got):\n%s", diff)
	}

	d, err := root.Open(`EFI\BOOT`, EFI_FILE_MODE_READ, 0)
	require.NoError(t, err)
	entries, err = d.ReadDir()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BOOTX64.EFI", entries[0].Name)
	assert.Equal(t, int64(2), entries[0].Size)

	// listing again starts over
	entries, err = d.ReadDir()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileCreateWriteDelete(t *testing.T) {
	fw, st := newFirmware(t)
	fs := newVolume(t, fw)

	root, err := BootVolume(st.BootServices())
	require.NoError(t, err)

	f, err := root.Open(`EFI/goefi/state.txt`, EFI_FILE_MODE_READ|EFI_FILE_MODE_WRITE|EFI_FILE_MODE_CREATE, 0)
	require.NoError(t, err)
	assert.Equal(t, `EFI\goefi\state.txt`, f.Name())

	n, err := f.Write([]byte("booted"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.NoError(t, f.Flush())
	require.NoError(t, f.Close())

	b, err := ReadFile(root, `EFI\goefi\state.txt`)
	require.NoError(t, err)
	assert.Equal(t, "booted", string(b))

	f, err = root.Open(`EFI\goefi\state.txt`, EFI_FILE_MODE_READ|EFI_FILE_MODE_WRITE, 0)
	require.NoError(t, err)
	require.True(t, f.Delete().IsSuccess())

	_, err = ReadFile(root, `EFI\goefi\state.txt`)
	assert.ErrorIs(t, err, uefi.ErrNotFound)

	r := root.Delete()
	assert.True(t, r.IsWarning())
	assert.Equal(t, uefi.EFI_WARN_DELETE_FAILURE, r.Status())
	assert.Zero(t, fs.OpenFiles())
}

func TestFileAfterExit(t *testing.T) {
	fw, st := newFirmware(t)
	newVolume(t, fw)

	root, err := BootVolume(st.BootServices())
	require.NoError(t, err)

	_, _, err = st.ExitBootServices()
	require.NoError(t, err)

	_, err = root.Info()
	assert.ErrorIs(t, err, uefi.ErrServicesExited)
	_, err = ReadFile(root, "hello.txt")
	assert.ErrorIs(t, err, uefi.ErrServicesExited)
	assert.Zero(t, fw.BootCallsAfterExit)
}
