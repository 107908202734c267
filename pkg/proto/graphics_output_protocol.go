// Graphics Output Protocol, §12.9 UEFI 2.10
package proto

import (
	"unsafe"

	"github.com/costinm/goefi/pkg/uefi"
)

var EFI_GRAPHICS_OUTPUT_PROTOCOL_GUID = uefi.MustParseGUID("9042a9de-23dc-4a38-96fb-7aded080516a")

const (
	PixelRedGreenBlueReserved8BitPerColor = iota
	PixelBlueGreenRedReserved8BitPerColor
	PixelBitMask
	PixelBltOnly
	PixelFormatMax
)

type EFI_GRAPHICS_OUTPUT_BLT_OPERATION uint32

const (
	BltVideoFill EFI_GRAPHICS_OUTPUT_BLT_OPERATION = iota
	BltVideoToBltBuffer
	BltBufferToVideo
	BltVideoToVideo
	BltOperationMax
)

type EFI_PIXEL_BITMASK struct {
	RedMask, GreenMask, BlueMask, ReservedMask uint32
}

type EFI_GRAPHICS_OUTPUT_MODE_INFORMATION struct {
	Version              uint32
	HorizontalResolution uint32
	VerticalResolution   uint32
	PixelFormat          uint32
	PixelInformation     EFI_PIXEL_BITMASK // PixelBitMask only
	PixelsPerScanLine    uint32
}

type EFI_GRAPHICS_OUTPUT_BLT_PIXEL struct {
	Blue, Green, Red, Reserved uint8
}

type EFI_GRAPHICS_OUTPUT_PROTOCOL_MODE struct {
	MaxMode         uint32
	Mode            uint32
	Info            *EFI_GRAPHICS_OUTPUT_MODE_INFORMATION
	SizeOfInfo      uefi.UINTN
	FrameBufferBase uefi.EFI_PHYSICAL_ADDRESS
	FrameBufferSize uefi.UINTN
}

type EFI_GRAPHICS_OUTPUT_PROTOCOL struct {
	queryMode uintptr
	setMode   uintptr
	blt       uintptr
	Mode      *EFI_GRAPHICS_OUTPUT_PROTOCOL_MODE
}

func (*EFI_GRAPHICS_OUTPUT_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_GRAPHICS_OUTPUT_PROTOCOL_GUID
}

// Rect is a rectangle of the display, in pixels.
type Rect struct {
	X, Y, Width, Height int
}

// GraphicsOutput drives a frame buffer display.
type GraphicsOutput struct {
	uefi.Ref[EFI_GRAPHICS_OUTPUT_PROTOCOL]
	bs *uefi.BootServices
}

// LocateGraphicsOutput returns the first display.
func LocateGraphicsOutput(bs *uefi.BootServices) (*GraphicsOutput, error) {
	r, err := uefi.LocateProtocol[EFI_GRAPHICS_OUTPUT_PROTOCOL](bs).IgnoreWarning()
	if err != nil {
		return nil, err
	}
	return &GraphicsOutput{Ref: r, bs: bs}, nil
}

// EnumerateGraphicsOutputs returns every display.
func EnumerateGraphicsOutputs(bs *uefi.BootServices) ([]*GraphicsOutput, error) {
	return enumerate[EFI_GRAPHICS_OUTPUT_PROTOCOL](bs, func(r uefi.Ref[EFI_GRAPHICS_OUTPUT_PROTOCOL]) *GraphicsOutput {
		return &GraphicsOutput{Ref: r, bs: bs}
	})
}

// Mode returns a copy of the current mode and its information.
func (g *GraphicsOutput) Mode() (EFI_GRAPHICS_OUTPUT_PROTOCOL_MODE, EFI_GRAPHICS_OUTPUT_MODE_INFORMATION, error) {
	p, err := g.Interface()
	if err != nil {
		return EFI_GRAPHICS_OUTPUT_PROTOCOL_MODE{}, EFI_GRAPHICS_OUTPUT_MODE_INFORMATION{}, err
	}
	if p.Mode == nil || p.Mode.Info == nil {
		return EFI_GRAPHICS_OUTPUT_PROTOCOL_MODE{}, EFI_GRAPHICS_OUTPUT_MODE_INFORMATION{}, uefi.ErrDeviceError
	}
	return *p.Mode, *p.Mode.Info, nil
}

// QueryMode returns the information of mode. The firmware buffer holding it
// is returned to pool.
func (g *GraphicsOutput) QueryMode(mode int) uefi.Result[EFI_GRAPHICS_OUTPUT_MODE_INFORMATION] {
	var (
		size uefi.UINTN
		info *EFI_GRAPHICS_OUTPUT_MODE_INFORMATION
	)

	p, c := g.Bind()
	status := c.Call(&p.queryMode, uintptr(unsafe.Pointer(p)), uintptr(mode),
		uintptr(unsafe.Pointer(&size)), uintptr(unsafe.Pointer(&info)))

	if status.IsError() {
		return uefi.Fail[EFI_GRAPHICS_OUTPUT_MODE_INFORMATION](status)
	}
	if info == nil {
		return uefi.Fail[EFI_GRAPHICS_OUTPUT_MODE_INFORMATION](uefi.EFI_DEVICE_ERROR)
	}

	out := *info
	if r := g.bs.FreePool(unsafe.Pointer(info)); r.IsError() {
		return uefi.Fail[EFI_GRAPHICS_OUTPUT_MODE_INFORMATION](r.Status())
	}
	return uefi.FromStatus(status, out)
}

// SetMode switches to mode and clears the display.
func (g *GraphicsOutput) SetMode(mode int) uefi.Result[uefi.Unit] {
	p, c := g.Bind()
	return uefi.Done(c.Call(&p.setMode, uintptr(unsafe.Pointer(p)), uintptr(mode)))
}

// BestMode returns the mode with the most pixels. Modes that cannot be
// queried are skipped.
func (g *GraphicsOutput) BestMode() (int, EFI_GRAPHICS_OUTPUT_MODE_INFORMATION, error) {
	m, _, err := g.Mode()
	if err != nil {
		return 0, EFI_GRAPHICS_OUTPUT_MODE_INFORMATION{}, err
	}

	var (
		best     = -1
		bestInfo EFI_GRAPHICS_OUTPUT_MODE_INFORMATION
		pixels   uint64
	)

	for i := range int(m.MaxMode) {
		info, err := g.QueryMode(i).IgnoreWarning()
		if err != nil {
			continue
		}
		if n := uint64(info.HorizontalResolution) * uint64(info.VerticalResolution); n > pixels {
			best, bestInfo, pixels = i, info, n
		}
	}

	if best < 0 {
		return 0, bestInfo, uefi.ErrUnsupported
	}
	return best, bestInfo, nil
}

// Init switches to the highest resolution mode, which helps some poorly
// behaved firmware.
func (g *GraphicsOutput) Init() (EFI_GRAPHICS_OUTPUT_MODE_INFORMATION, error) {
	mode, info, err := g.BestMode()
	if err != nil {
		return info, err
	}
	return info, g.SetMode(mode).Err()
}

// Blt transfers pixels between buffer and the display. delta is the length
// of a buffer line in bytes, 0 for tightly packed.
func (g *GraphicsOutput) Blt(buffer []EFI_GRAPHICS_OUTPUT_BLT_PIXEL, op EFI_GRAPHICS_OUTPUT_BLT_OPERATION,
	srcX, srcY, dstX, dstY, width, height, delta int) uefi.Result[uefi.Unit] {
	var buf *EFI_GRAPHICS_OUTPUT_BLT_PIXEL
	if len(buffer) > 0 {
		buf = &buffer[0]
	}

	p, c := g.Bind()
	return uefi.Done(c.Call(&p.blt,
		uintptr(unsafe.Pointer(p)),
		uintptr(unsafe.Pointer(buf)),
		uintptr(op),
		uintptr(srcX), uintptr(srcY),
		uintptr(dstX), uintptr(dstY),
		uintptr(width), uintptr(height),
		uintptr(delta),
	))
}

// Fill paints r with a single color.
func (g *GraphicsOutput) Fill(r Rect, color EFI_GRAPHICS_OUTPUT_BLT_PIXEL) uefi.Result[uefi.Unit] {
	return g.Blt([]EFI_GRAPHICS_OUTPUT_BLT_PIXEL{color}, BltVideoFill, 0, 0, r.X, r.Y, r.Width, r.Height, 0)
}
