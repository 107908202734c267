package proto

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/hashicorp/go-multierror"

	"github.com/costinm/goefi/pkg/uefi"
)

// Errors Disk I/O and Block I/O can return.
var (
	ErrDiskNotReady   = errors.New("disk not ready")
	ErrNoMediaPresent = errors.New("no media present")
	ErrNegativeOffset = errors.New("negative offset")
	ErrReadOnly       = errors.New("media is read-only")
)

var (
	EFI_DISK_IO_PROTOCOL_GUID  = uefi.MustParseGUID("ce345171-ba0b-11d2-8e4f-00a0c969723b")
	EFI_BLOCK_IO_PROTOCOL_GUID = uefi.MustParseGUID("964e5b21-6459-11d2-8e39-00a0c969723b")
)

// EFI_BLOCK_IO_MEDIA holds the fields common to every revision; later
// revisions append more.
type EFI_BLOCK_IO_MEDIA struct {
	MediaId          uint32
	RemovableMedia   bool
	MediaPresent     bool
	LogicalPartition bool
	ReadOnly         bool
	WriteCaching     bool
	BlockSize        uint32
	IoAlign          uint32
	LastBlock        uefi.EFI_LBA
}

type EFI_BLOCK_IO_PROTOCOL struct {
	Revision    uint64
	Media       *EFI_BLOCK_IO_MEDIA
	reset       uintptr // (this, ExtendedVerification)
	readBlocks  uintptr // (this, MediaId, LBA, BufferSize, Buffer)
	writeBlocks uintptr // (this, MediaId, LBA, BufferSize, Buffer)
	flushBlocks uintptr // (this)
}

func (*EFI_BLOCK_IO_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_BLOCK_IO_PROTOCOL_GUID
}

type EFI_DISK_IO_PROTOCOL struct {
	Revision  uint64
	readDisk  uintptr // (this, MediaId, Offset, BufferSize, Buffer)
	writeDisk uintptr // (this, MediaId, Offset, BufferSize, Buffer)
}

func (*EFI_DISK_IO_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_DISK_IO_PROTOCOL_GUID
}

// BlockIO addresses a device in whole blocks.
type BlockIO struct {
	uefi.Ref[EFI_BLOCK_IO_PROTOCOL]
}

// Media returns a copy of the media description.
func (b *BlockIO) Media() (EFI_BLOCK_IO_MEDIA, error) {
	p, err := b.Interface()
	if err != nil {
		return EFI_BLOCK_IO_MEDIA{}, err
	}
	if p.Media == nil {
		return EFI_BLOCK_IO_MEDIA{}, ErrDiskNotReady
	}
	return *p.Media, nil
}

// Reset resets the device.
func (b *BlockIO) Reset(extended bool) uefi.Result[uefi.Unit] {
	p, c := b.Bind()
	return uefi.Done(c.Call(&p.reset, uintptr(unsafe.Pointer(p)), convertBool(extended)))
}

// ReadBlocks reads whole blocks starting at lba into buf.
func (b *BlockIO) ReadBlocks(mediaID uint32, lba uefi.EFI_LBA, buf []byte) uefi.Result[uefi.Unit] {
	return b.blocks(true, mediaID, lba, buf)
}

// WriteBlocks writes whole blocks starting at lba from buf.
func (b *BlockIO) WriteBlocks(mediaID uint32, lba uefi.EFI_LBA, buf []byte) uefi.Result[uefi.Unit] {
	return b.blocks(false, mediaID, lba, buf)
}

func (b *BlockIO) blocks(read bool, mediaID uint32, lba uefi.EFI_LBA, buf []byte) uefi.Result[uefi.Unit] {
	if len(buf) == 0 {
		return uefi.Done(uefi.EFI_SUCCESS)
	}
	p, c := b.Bind()
	slot := &p.writeBlocks
	if read {
		slot = &p.readBlocks
	}
	return uefi.Done(c.Call(slot,
		uintptr(unsafe.Pointer(p)),
		uintptr(mediaID),
		uintptr(lba),
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(&buf[0])),
	))
}

// FlushBlocks flushes device caches.
func (b *BlockIO) FlushBlocks() uefi.Result[uefi.Unit] {
	p, c := b.Bind()
	return uefi.Done(c.Call(&p.flushBlocks, uintptr(unsafe.Pointer(p))))
}

// Disk bundles Disk I/O with the Block I/O on the same handle, which gives the
// media id, size and block size. It implements io.ReaderAt and io.WriterAt.
type Disk struct {
	DiskIO  uefi.Ref[EFI_DISK_IO_PROTOCOL]
	BlockIO *BlockIO
}

// EnumerateDisks returns a Disk for every handle that exposes both Disk I/O
// and Block I/O. Handles with Disk I/O only are skipped.
func EnumerateDisks(bs *uefi.BootServices) ([]*Disk, error) {
	handles, err := uefi.LocateHandles[EFI_DISK_IO_PROTOCOL](bs).IgnoreWarning()
	if errors.Is(err, uefi.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var merr *multierror.Error
	disks := make([]*Disk, 0, len(handles))

	for _, h := range handles {
		dio, err := uefi.HandleProtocol[EFI_DISK_IO_PROTOCOL](bs, h).IgnoreWarning()
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("handle %#x: %w", h, err))
			continue
		}
		bio, err := uefi.HandleProtocol[EFI_BLOCK_IO_PROTOCOL](bs, h).IgnoreWarning()
		if errors.Is(err, uefi.ErrUnsupported) {
			continue
		}
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("handle %#x: %w", h, err))
			continue
		}
		disks = append(disks, &Disk{DiskIO: dio, BlockIO: &BlockIO{Ref: bio}})
	}

	return disks, merr.ErrorOrNil()
}

func (d *Disk) media() (EFI_BLOCK_IO_MEDIA, error) {
	if d == nil || d.BlockIO == nil {
		return EFI_BLOCK_IO_MEDIA{}, ErrDiskNotReady
	}
	return d.BlockIO.Media()
}

// Size returns the number of addressable bytes.
func (d *Disk) Size() int64 {
	m, err := d.media()
	if err != nil {
		return 0
	}
	// LastBlock is inclusive
	return int64(m.LastBlock+1) * int64(m.BlockSize)
}

// SectorSize returns the logical block size in bytes.
func (d *Disk) SectorSize() int {
	m, err := d.media()
	if err != nil {
		return 0
	}
	return int(m.BlockSize)
}

func (d *Disk) transfer(slot func(*EFI_DISK_IO_PROTOCOL) *uintptr, mediaID uint32, b []byte, off int64) (int, error) {
	p, c := d.DiskIO.Bind()
	status := c.Call(slot(p),
		uintptr(unsafe.Pointer(p)),
		uintptr(mediaID),
		uintptr(off),
		uintptr(len(b)),
		uintptr(unsafe.Pointer(&b[0])),
	)
	if err := uefi.StatusError(status); err != nil {
		return 0, err
	}
	return len(b), nil
}

// ReadAt implements io.ReaderAt.
func (d *Disk) ReadAt(b []byte, off int64) (int, error) {
	m, err := d.media()
	if err != nil {
		return 0, err
	}
	if !m.MediaPresent {
		return 0, ErrNoMediaPresent
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if len(b) == 0 {
		return 0, nil
	}
	return d.transfer(func(p *EFI_DISK_IO_PROTOCOL) *uintptr { return &p.readDisk }, m.MediaId, b, off)
}

// WriteAt implements io.WriterAt.
func (d *Disk) WriteAt(b []byte, off int64) (int, error) {
	m, err := d.media()
	if err != nil {
		return 0, err
	}
	if !m.MediaPresent {
		return 0, ErrNoMediaPresent
	}
	if m.ReadOnly {
		return 0, ErrReadOnly
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if len(b) == 0 {
		return 0, nil
	}
	return d.transfer(func(p *EFI_DISK_IO_PROTOCOL) *uintptr { return &p.writeDisk }, m.MediaId, b, off)
}

// Flush flushes device caches through Block I/O.
func (d *Disk) Flush() error {
	if d == nil || d.BlockIO == nil {
		return ErrDiskNotReady
	}
	return d.BlockIO.FlushBlocks().Err()
}
