package proto

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unsafe"

	"github.com/costinm/goefi/pkg/uefi"
)

var (
	EFI_SIMPLE_FILE_SYSTEM_PROTOCOL_GUID = uefi.MustParseGUID("964e5b22-6459-11d2-8e39-00a0c969723b")
	EFI_FILE_INFO_ID                     = uefi.MustParseGUID("09576e92-6d3f-11d2-8e39-00a0c969723b")
	EFI_FILE_SYSTEM_INFO_ID              = uefi.MustParseGUID("09576e93-6d3f-11d2-8e39-00a0c969723b")
	EFI_FILE_SYSTEM_VOLUME_LABEL_ID      = uefi.MustParseGUID("db47d7d3-fe81-11d3-9a35-0090273fc14d")
)

// Open modes.
const (
	EFI_FILE_MODE_READ   uint64 = 0x0000000000000001
	EFI_FILE_MODE_WRITE  uint64 = 0x0000000000000002
	EFI_FILE_MODE_CREATE uint64 = 0x8000000000000000
)

// File attributes.
const (
	EFI_FILE_READ_ONLY uint64 = 0x0000000000000001
	EFI_FILE_HIDDEN    uint64 = 0x0000000000000002
	EFI_FILE_SYSTEM    uint64 = 0x0000000000000004
	EFI_FILE_RESERVED  uint64 = 0x0000000000000008
	EFI_FILE_DIRECTORY uint64 = 0x0000000000000010
	EFI_FILE_ARCHIVE   uint64 = 0x0000000000000020
)

const (
	EFI_FILE_PROTOCOL_REVISION  = 0x00010000
	EFI_FILE_PROTOCOL_REVISION2 = 0x00020000
	EFI_FILE_PROTOCOL_LATEST    = EFI_FILE_PROTOCOL_REVISION2
)

const (
	// seekEnd is the position SetPosition reads as end of file.
	seekEnd = ^uint64(0)

	initialInfoSize = 128
	maxInfoTries    = 4
)

type EFI_SIMPLE_FILE_SYSTEM_PROTOCOL struct {
	Revision   uint64
	openVolume uintptr // (this, **EFI_FILE_PROTOCOL)
}

func (*EFI_SIMPLE_FILE_SYSTEM_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_SIMPLE_FILE_SYSTEM_PROTOCOL_GUID
}

type EFI_FILE_PROTOCOL struct {
	Revision    uint64
	open        uintptr // (this, **newHandle, *FileName, OpenMode, Attributes)
	close       uintptr // (this)
	delete      uintptr // (this)
	read        uintptr // (this, *BufferSize, Buffer)
	write       uintptr // (this, *BufferSize, Buffer)
	getPosition uintptr // (this, *Position)
	setPosition uintptr // (this, Position)
	getInfo     uintptr // (this, *InfoType, *BufferSize, Buffer)
	setInfo     uintptr // (this, *InfoType, BufferSize, Buffer)
	flush       uintptr // (this)
}

// EFI_FILE_INFO is followed by the null-terminated file name.
type EFI_FILE_INFO struct {
	Size             uint64
	FileSize         uint64
	PhysicalSize     uint64
	CreateTime       uefi.EFI_TIME
	LastAccessTime   uefi.EFI_TIME
	ModificationTime uefi.EFI_TIME
	Attribute        uint64
}

// EFI_FILE_SYSTEM_INFO is followed by the null-terminated volume label.
type EFI_FILE_SYSTEM_INFO struct {
	Size       uint64
	ReadOnly   bool
	VolumeSize uint64
	FreeSpace  uint64
	BlockSize  uint32
}

// FileInfo describes a file or directory.
type FileInfo struct {
	Name         string
	Size         int64
	PhysicalSize int64
	Attribute    uint64
	ModTime      time.Time
}

// IsDir reports whether the entry is a directory.
func (fi FileInfo) IsDir() bool {
	return fi.Attribute&EFI_FILE_DIRECTORY != 0
}

// VolumeInfo describes a file system.
type VolumeInfo struct {
	Label      string
	ReadOnly   bool
	VolumeSize int64
	FreeSpace  int64
	BlockSize  int
}

// SimpleFileSystem is a volume holding a FAT file system.
type SimpleFileSystem struct {
	uefi.Ref[EFI_SIMPLE_FILE_SYSTEM_PROTOCOL]
	bs *uefi.BootServices
}

// EnumerateFileSystems returns every mounted volume.
func EnumerateFileSystems(bs *uefi.BootServices) ([]*SimpleFileSystem, error) {
	return enumerate[EFI_SIMPLE_FILE_SYSTEM_PROTOCOL](bs, func(r uefi.Ref[EFI_SIMPLE_FILE_SYSTEM_PROTOCOL]) *SimpleFileSystem {
		return &SimpleFileSystem{Ref: r, bs: bs}
	})
}

// FileSystemOf returns the volume on device h.
func FileSystemOf(bs *uefi.BootServices, h uefi.Handle) (*SimpleFileSystem, error) {
	r, err := uefi.HandleProtocol[EFI_SIMPLE_FILE_SYSTEM_PROTOCOL](bs, h).IgnoreWarning()
	if err != nil {
		return nil, err
	}
	return &SimpleFileSystem{Ref: r, bs: bs}, nil
}

// BootVolume opens the root of the volume the running image was loaded from.
func BootVolume(bs *uefi.BootServices) (*File, error) {
	li, err := CurrentImage(bs)
	if err != nil {
		return nil, fmt.Errorf("loaded image: %w", err)
	}
	dev, err := li.DeviceHandle()
	if err != nil {
		return nil, err
	}
	sfs, err := FileSystemOf(bs, dev)
	if err != nil {
		return nil, fmt.Errorf("boot volume: %w", err)
	}
	return sfs.OpenVolume()
}

// OpenVolume opens the root directory of the volume.
func (sfs *SimpleFileSystem) OpenVolume() (*File, error) {
	var root *EFI_FILE_PROTOCOL
	p, c := sfs.Bind()
	status := c.Call(&p.openVolume, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&root)))
	if err := uefi.StatusError(status); err != nil {
		return nil, err
	}
	if root == nil {
		return nil, uefi.ErrDeviceError
	}
	return &File{Ref: uefi.NewRef(sfs.bs, sfs.Handle(), root), bs: sfs.bs, name: `\`}, nil
}

// File is an open file or directory. It implements io.ReadWriteSeeker and
// io.Closer.
type File struct {
	uefi.Ref[EFI_FILE_PROTOCOL]
	bs   *uefi.BootServices
	name string
}

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Open opens name relative to f, which must be a directory. Both '/' and '\'
// separate path elements.
func (f *File) Open(name string, mode, attributes uint64) (*File, error) {
	path := strings.ReplaceAll(name, "/", `\`)
	s, err := uefi.NewCStr16(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	var h *EFI_FILE_PROTOCOL
	p, c := f.Bind()
	status := c.Call(&p.open,
		uintptr(unsafe.Pointer(p)),
		uintptr(unsafe.Pointer(&h)),
		uintptr(unsafe.Pointer(s.Ptr())),
		uintptr(mode),
		uintptr(attributes),
	)
	if err := uefi.StatusError(status); err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if h == nil {
		return nil, fmt.Errorf("open %s: %w", name, uefi.ErrDeviceError)
	}
	return &File{Ref: uefi.NewRef(f.bs, f.Handle(), h), bs: f.bs, name: path}, nil
}

// Close closes the file.
func (f *File) Close() error {
	p, c := f.Bind()
	return uefi.StatusError(c.Call(&p.close, uintptr(unsafe.Pointer(p))))
}

// Delete deletes and closes the file. A failed delete still closes it and
// returns EFI_WARN_DELETE_FAILURE.
func (f *File) Delete() uefi.Result[uefi.Unit] {
	p, c := f.Bind()
	return uefi.Done(c.Call(&p.delete, uintptr(unsafe.Pointer(p))))
}

func (f *File) transfer(slot *uintptr, b []byte) (int, uefi.Status) {
	size := uefi.UINTN(len(b))
	var buf *byte
	if len(b) > 0 {
		buf = &b[0]
	}
	p, c := f.Bind()
	status := c.Call(slot, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&size)), uintptr(unsafe.Pointer(buf)))
	return int(size), status
}

// Read implements io.Reader. On a directory it returns raw entry records;
// use ReadDir instead.
func (f *File) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p, _ := f.Bind()
	n, status := f.transfer(&p.read, b)
	if err := uefi.StatusError(status); err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer.
func (f *File) Write(b []byte) (int, error) {
	p, _ := f.Bind()
	n, status := f.transfer(&p.write, b)
	return n, uefi.StatusError(status)
}

// Position returns the current offset.
func (f *File) Position() uefi.Result[uint64] {
	var pos uint64
	p, c := f.Bind()
	status := c.Call(&p.getPosition, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&pos)))
	return uefi.FromStatus(status, pos)
}

// SetPosition moves the current offset; ^uint64(0) moves to the end.
func (f *File) SetPosition(pos uint64) uefi.Result[uefi.Unit] {
	p, c := f.Bind()
	return uefi.Done(c.Call(&p.setPosition, uintptr(unsafe.Pointer(p)), uintptr(pos)))
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var base uint64

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		pos, err := f.Position().IgnoreWarning()
		if err != nil {
			return 0, err
		}
		base = pos
	case io.SeekEnd:
		if offset == 0 {
			if err := f.SetPosition(seekEnd).Err(); err != nil {
				return 0, err
			}
			pos, err := f.Position().IgnoreWarning()
			return int64(pos), err
		}
		info, err := f.Info()
		if err != nil {
			return 0, err
		}
		base = uint64(info.Size)
	default:
		return 0, fmt.Errorf("seek %s: invalid whence %d", f.name, whence)
	}

	pos := int64(base) + offset
	if pos < 0 {
		return 0, fmt.Errorf("seek %s: negative position", f.name)
	}
	return pos, f.SetPosition(uint64(pos)).Err()
}

// Flush writes buffered data to the device.
func (f *File) Flush() error {
	p, c := f.Bind()
	return uefi.StatusError(c.Call(&p.flush, uintptr(unsafe.Pointer(p))))
}

// getInfo reads the information record identified by infoType, growing the
// buffer as requested by firmware.
func (f *File) getInfo(infoType uefi.GUID) ([]byte, error) {
	buf := make([]uint64, initialInfoSize/8)

	for range maxInfoTries {
		size := uefi.UINTN(len(buf) * 8)
		p, c := f.Bind()
		status := c.Call(&p.getInfo,
			uintptr(unsafe.Pointer(p)),
			uintptr(unsafe.Pointer(&infoType)),
			uintptr(unsafe.Pointer(&size)),
			uintptr(unsafe.Pointer(&buf[0])),
		)
		if status == uefi.EFI_BUFFER_TOO_SMALL && int(size) > len(buf)*8 {
			buf = make([]uint64, (size+7)/8)
			continue
		}
		if err := uefi.StatusError(status); err != nil {
			return nil, err
		}
		return unsafe.Slice((*byte)(unsafe.Pointer(&buf[0])), len(buf)*8)[:size], nil
	}
	return nil, uefi.ErrBufferTooSmall
}

// Info returns the file information.
func (f *File) Info() (FileInfo, error) {
	b, err := f.getInfo(EFI_FILE_INFO_ID)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", f.name, err)
	}
	return parseFileInfo(b)
}

func parseFileInfo(b []byte) (FileInfo, error) {
	head := int(unsafe.Sizeof(EFI_FILE_INFO{}))
	if len(b) < head {
		return FileInfo{}, uefi.ErrBadBufferSize
	}
	raw := (*EFI_FILE_INFO)(unsafe.Pointer(&b[0]))

	name, err := uefi.CStr16FromBytes(b[head:])
	if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		Name:         name.ToUTF8(),
		Size:         int64(raw.FileSize),
		PhysicalSize: int64(raw.PhysicalSize),
		Attribute:    raw.Attribute,
		ModTime:      raw.ModificationTime.Time(),
	}, nil
}

// VolumeInfo returns the information of the file system holding f.
func (f *File) VolumeInfo() (VolumeInfo, error) {
	b, err := f.getInfo(EFI_FILE_SYSTEM_INFO_ID)
	if err != nil {
		return VolumeInfo{}, fmt.Errorf("volume info: %w", err)
	}
	// the label follows BlockSize, before the tail padding of the record
	head := int(unsafe.Offsetof(EFI_FILE_SYSTEM_INFO{}.BlockSize)) + 4
	if len(b) < head {
		return VolumeInfo{}, uefi.ErrBadBufferSize
	}
	raw := (*EFI_FILE_SYSTEM_INFO)(unsafe.Pointer(&b[0]))

	label, err := uefi.CStr16FromBytes(b[head:])
	if err != nil {
		return VolumeInfo{}, err
	}

	return VolumeInfo{
		Label:      label.ToUTF8(),
		ReadOnly:   raw.ReadOnly,
		VolumeSize: int64(raw.VolumeSize),
		FreeSpace:  int64(raw.FreeSpace),
		BlockSize:  int(raw.BlockSize),
	}, nil
}

// ReadDir lists the entries of directory f, "." and ".." excluded.
func (f *File) ReadDir() ([]FileInfo, error) {
	if err := f.SetPosition(0).Err(); err != nil {
		return nil, err
	}

	var entries []FileInfo
	buf := make([]uint64, initialInfoSize/8)
	p, _ := f.Bind()

	for {
		b := unsafe.Slice((*byte)(unsafe.Pointer(&buf[0])), len(buf)*8)
		n, status := f.transfer(&p.read, b)
		if status == uefi.EFI_BUFFER_TOO_SMALL && n > len(b) {
			buf = make([]uint64, (n+7)/8)
			continue
		}
		if err := uefi.StatusError(status); err != nil {
			return entries, fmt.Errorf("readdir %s: %w", f.name, err)
		}
		if n == 0 {
			return entries, nil
		}

		info, err := parseFileInfo(b[:n])
		if err != nil {
			return entries, fmt.Errorf("readdir %s: %w", f.name, err)
		}
		if info.Name != "." && info.Name != ".." {
			entries = append(entries, info)
		}
	}
}

// ReadFile reads the whole file at path, relative to directory dir.
func ReadFile(dir *File, path string) ([]byte, error) {
	f, err := dir.Open(path, EFI_FILE_MODE_READ, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}
