package uefitest

import (
	"strings"
	"unsafe"

	"github.com/costinm/goefi/pkg/uefi"
)

var (
	simpleFileSystemGUID = uefi.MustParseGUID("964e5b22-6459-11d2-8e39-00a0c969723b")
	fileInfoGUID         = uefi.MustParseGUID("09576e92-6d3f-11d2-8e39-00a0c969723b")
	fileSystemInfoGUID   = uefi.MustParseGUID("09576e93-6d3f-11d2-8e39-00a0c969723b")
)

const (
	fileModeCreate = 0x8000000000000000
	fileDirectory  = 0x10
	seekEnd        = ^uint64(0)
	volumeBlock    = 512
)

// ModTime is the modification time of every file on a Volume.
var ModTime = uefi.EFI_TIME{Year: 2024, Month: 5, Day: 6, Hour: 7, TimeZone: uefi.EFI_UNSPECIFIED_TIMEZONE}

type simpleFileSystem struct {
	Revision   uint64
	OpenVolume uintptr
}

// fileProtocol has the layout of EFI_FILE_PROTOCOL.
type fileProtocol struct {
	Revision    uint64
	Open        uintptr
	Close       uintptr
	Delete      uintptr
	Read        uintptr
	Write       uintptr
	GetPosition uintptr
	SetPosition uintptr
	GetInfo     uintptr
	SetInfo     uintptr
	Flush       uintptr
}

type fileInfo struct {
	Size             uint64
	FileSize         uint64
	PhysicalSize     uint64
	CreateTime       uefi.EFI_TIME
	LastAccessTime   uefi.EFI_TIME
	ModificationTime uefi.EFI_TIME
	Attribute        uint64
}

type fileSystemInfo struct {
	Size       uint64
	ReadOnly   bool
	VolumeSize uint64
	FreeSpace  uint64
	BlockSize  uint32
}

type node struct {
	name     string
	dir      bool
	data     []byte
	parent   *node
	children []*node
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		// FAT names are case insensitive
		if strings.EqualFold(c.name, name) {
			return c
		}
	}
	return nil
}

func (n *node) add(name string, dir bool, data []byte) *node {
	c := &node{name: name, dir: dir, data: data, parent: n}
	n.children = append(n.children, c)
	return c
}

// openFile is an open file. The protocol comes first, so the interface
// pointer handed out is the openFile itself.
type openFile struct {
	fileProtocol
	node   *node
	pos    uint64
	closed bool
}

// Volume is a FAT volume held in memory and served through the simple file
// system protocol.
type Volume struct {
	// Device is the handle the volume is installed on.
	Device uefi.Handle
	// Label is the volume label.
	Label string
	// Size and Free are reported by the volume information.
	Size, Free uint64

	root  *node
	sfs   simpleFileSystem
	slots fileProtocol
	files []*openFile
}

// InstallVolume installs an empty volume on device, or on a new handle when
// device is 0.
func (fw *Firmware) InstallVolume(device uefi.Handle, label string) *Volume {
	v := &Volume{
		Label: label,
		Size:  64 << 20,
		Free:  48 << 20,
		root:  &node{name: `\`, dir: true},
	}
	v.install(fw)
	v.Device = fw.InstallProtocol(device, simpleFileSystemGUID, unsafe.Pointer(&v.sfs))
	return v
}

// InstallBootVolume installs a volume and records that the running image
// was loaded from path on it.
func (fw *Firmware) InstallBootVolume(label, path string) *Volume {
	v := fw.InstallVolume(0, label)
	v.WriteFile(path, []byte("MZ"))
	fw.InstallBootImage(v.Device, path)
	return v
}

func split(path string) []string {
	path = strings.ReplaceAll(path, "/", `\`)
	var elems []string
	for _, e := range strings.Split(path, `\`) {
		if e != "" {
			elems = append(elems, e)
		}
	}
	return elems
}

// Mkdir creates directory path and its parents.
func (v *Volume) Mkdir(path string) {
	n := v.root
	for _, e := range split(path) {
		c := n.child(e)
		if c == nil {
			c = n.add(e, true, nil)
		}
		n = c
	}
}

// WriteFile creates or replaces the file at path, creating parents.
func (v *Volume) WriteFile(path string, data []byte) {
	elems := split(path)
	if len(elems) == 0 {
		return
	}
	dir := strings.Join(elems[:len(elems)-1], `\`)
	v.Mkdir(dir)
	parent := v.lookup(v.root, dir)
	name := elems[len(elems)-1]
	if c := parent.child(name); c != nil {
		c.data = append([]byte(nil), data...)
		return
	}
	parent.add(name, false, append([]byte(nil), data...))
}

// ReadFile returns the content of the file at path.
func (v *Volume) ReadFile(path string) ([]byte, bool) {
	n := v.lookup(v.root, path)
	if n == nil || n.dir {
		return nil, false
	}
	return n.data, true
}

// OpenFiles returns how many files are open, volume roots included.
func (v *Volume) OpenFiles() int {
	n := 0
	for _, f := range v.files {
		if !f.closed {
			n++
		}
	}
	return n
}

func (v *Volume) lookup(from *node, path string) *node {
	n := from
	path = strings.ReplaceAll(path, "/", `\`)
	if strings.HasPrefix(path, `\`) {
		n = v.root
	}
	for _, elem := range strings.Split(path, `\`) {
		switch elem {
		case "", ".":
			continue
		case "..":
			if n.parent != nil {
				n = n.parent
			}
			continue
		}
		if n = n.child(elem); n == nil {
			return nil
		}
	}
	return n
}

func (v *Volume) entries(n *node) []*node {
	if n == v.root {
		return n.children
	}
	dot := &node{name: ".", dir: true}
	dotdot := &node{name: "..", dir: true}
	return append([]*node{dot, dotdot}, n.children...)
}

func (v *Volume) open(n *node) *fileProtocol {
	f := &openFile{fileProtocol: v.slots, node: n}
	v.files = append(v.files, f)
	return &f.fileProtocol
}

func ucs2(s string) []byte {
	var b []byte
	for _, u := range toUnits(s) {
		b = append(b, byte(u), byte(u>>8))
	}
	return append(b, 0, 0)
}

func infoRecord(n *node) []byte {
	name := ucs2(n.name)
	head := fileInfo{
		FileSize:         uint64(len(n.data)),
		PhysicalSize:     uint64(len(n.data)+volumeBlock-1) &^ (volumeBlock - 1),
		ModificationTime: ModTime,
	}
	if n.dir {
		head.Attribute = fileDirectory
	}
	head.Size = uint64(unsafe.Sizeof(head)) + uint64(len(name))
	rec := append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(&head)), unsafe.Sizeof(head))...)
	return append(rec, name...)
}

func (v *Volume) volumeRecord() []byte {
	label := ucs2(v.Label)
	head := fileSystemInfo{VolumeSize: v.Size, FreeSpace: v.Free, BlockSize: volumeBlock}
	// the label follows BlockSize, without trailing padding
	off := int(unsafe.Offsetof(head.BlockSize)) + 4
	head.Size = uint64(off + len(label))
	rec := append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(&head)), off)...)
	return append(rec, label...)
}

// transfer copies rec into the caller buffer described by a[size], a[buf].
func transfer(a []uintptr, size, buf int, rec []byte) uefi.Status {
	n := at[uefi.UINTN](a, size)
	if n == nil {
		return uefi.EFI_INVALID_PARAMETER
	}
	if int(*n) < len(rec) {
		*n = uefi.UINTN(len(rec))
		return uefi.EFI_BUFFER_TOO_SMALL
	}
	copy(unsafe.Slice(at[byte](a, buf), len(rec)), rec)
	*n = uefi.UINTN(len(rec))
	return uefi.EFI_SUCCESS
}

func self(a []uintptr) *openFile {
	return at[openFile](a, 0)
}

func (v *Volume) install(fw *Firmware) {
	v.slots.Revision = 0x00010000
	v.slots.Open = fw.NamedFunc("File.Open", func(a []uintptr) uefi.Status {
		f := self(a)
		out := at[*fileProtocol](a, 1)
		name := at[uefi.Char16](a, 2)
		if out == nil || name == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		path, mode, attrs := unitsString(unitsAt(name)), uint64(arg(a, 3)), uint64(arg(a, 4))

		n := v.lookup(f.node, path)
		if n == nil && mode&fileModeCreate != 0 {
			i := strings.LastIndex(path, `\`)
			dir := v.lookup(f.node, path[:i+1])
			if dir == nil || !dir.dir {
				return uefi.EFI_NOT_FOUND
			}
			n = dir.add(path[i+1:], attrs&fileDirectory != 0, nil)
		}
		if n == nil {
			return uefi.EFI_NOT_FOUND
		}
		*out = v.open(n)
		return uefi.EFI_SUCCESS
	})
	v.slots.Close = fw.NamedFunc("File.Close", func(a []uintptr) uefi.Status {
		self(a).closed = true
		return uefi.EFI_SUCCESS
	})
	v.slots.Delete = fw.NamedFunc("File.Delete", func(a []uintptr) uefi.Status {
		f := self(a)
		f.closed = true
		if f.node == v.root {
			return uefi.EFI_WARN_DELETE_FAILURE
		}
		p := f.node.parent
		for i, c := range p.children {
			if c == f.node {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
		return uefi.EFI_SUCCESS
	})
	v.slots.Read = fw.NamedFunc("File.Read", func(a []uintptr) uefi.Status {
		f := self(a)
		size := at[uefi.UINTN](a, 1)
		if size == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		if f.node.dir {
			entries := v.entries(f.node)
			if f.pos >= uint64(len(entries)) {
				*size = 0
				return uefi.EFI_SUCCESS
			}
			status := transfer(a, 1, 2, infoRecord(entries[f.pos]))
			if status == uefi.EFI_SUCCESS {
				f.pos++
			}
			return status
		}
		n := 0
		if f.pos < uint64(len(f.node.data)) && *size > 0 {
			n = copy(unsafe.Slice(at[byte](a, 2), int(*size)), f.node.data[f.pos:])
		}
		f.pos += uint64(n)
		*size = uefi.UINTN(n)
		return uefi.EFI_SUCCESS
	})
	v.slots.Write = fw.NamedFunc("File.Write", func(a []uintptr) uefi.Status {
		f := self(a)
		if f.node.dir {
			return uefi.EFI_UNSUPPORTED
		}
		size := int(*at[uefi.UINTN](a, 1))
		end := int(f.pos) + size
		if end > len(f.node.data) {
			f.node.data = append(f.node.data, make([]byte, end-len(f.node.data))...)
		}
		if size > 0 {
			copy(f.node.data[f.pos:], unsafe.Slice(at[byte](a, 2), size))
		}
		f.pos = uint64(end)
		return uefi.EFI_SUCCESS
	})
	v.slots.GetPosition = fw.NamedFunc("File.GetPosition", func(a []uintptr) uefi.Status {
		f := self(a)
		if f.node.dir {
			return uefi.EFI_UNSUPPORTED
		}
		*at[uint64](a, 1) = f.pos
		return uefi.EFI_SUCCESS
	})
	v.slots.SetPosition = fw.NamedFunc("File.SetPosition", func(a []uintptr) uefi.Status {
		f := self(a)
		pos := uint64(arg(a, 1))
		switch {
		case f.node.dir && pos != 0:
			return uefi.EFI_UNSUPPORTED
		case pos == seekEnd:
			pos = uint64(len(f.node.data))
		}
		f.pos = pos
		return uefi.EFI_SUCCESS
	})
	v.slots.GetInfo = fw.NamedFunc("File.GetInfo", func(a []uintptr) uefi.Status {
		f := self(a)
		guid := at[uefi.GUID](a, 1)
		if guid == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		switch *guid {
		case fileInfoGUID:
			return transfer(a, 2, 3, infoRecord(f.node))
		case fileSystemInfoGUID:
			return transfer(a, 2, 3, v.volumeRecord())
		}
		return uefi.EFI_UNSUPPORTED
	})
	v.slots.Flush = fw.NamedFunc("File.Flush", func(a []uintptr) uefi.Status {
		return uefi.EFI_SUCCESS
	})

	v.sfs.Revision = 0x00010000
	v.sfs.OpenVolume = fw.NamedFunc("SFS.OpenVolume", func(a []uintptr) uefi.Status {
		out := at[*fileProtocol](a, 1)
		if out == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		*out = v.open(v.root)
		return uefi.EFI_SUCCESS
	})
}
