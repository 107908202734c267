package proto

import (
	"unsafe"

	efi "github.com/canonical/go-efilib"

	"github.com/costinm/goefi/pkg/uefi"
)

var EFI_LOADED_IMAGE_PROTOCOL_GUID = uefi.MustParseGUID("5b1b31a1-9562-11d2-8e3f-00a0c969723b")

// EFI_LOADED_IMAGE_PROTOCOL can be used on any image handle to obtain
// information about the loaded image.
type EFI_LOADED_IMAGE_PROTOCOL struct {
	Revision        uint32
	ParentHandle    uefi.Handle
	SystemTable     *uefi.EFI_SYSTEM_TABLE
	DeviceHandle    uefi.Handle
	FilePath        *EFI_DEVICE_PATH_PROTOCOL
	Reserved        unsafe.Pointer
	LoadOptionsSize uint32
	LoadOptions     unsafe.Pointer
	ImageBase       unsafe.Pointer
	ImageSize       uint64
	ImageCodeType   uint32
	ImageDataType   uint32
	unload          uintptr
}

func (*EFI_LOADED_IMAGE_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_LOADED_IMAGE_PROTOCOL_GUID
}

// LoadedImage describes an image loaded in memory, the running one or one
// returned by LoadImage.
type LoadedImage struct {
	uefi.Ref[EFI_LOADED_IMAGE_PROTOCOL]
	image uefi.Handle
}

// LoadedImageOf returns the loaded image protocol of image.
func LoadedImageOf(bs *uefi.BootServices, image uefi.Handle) (*LoadedImage, error) {
	r, err := uefi.HandleProtocol[EFI_LOADED_IMAGE_PROTOCOL](bs, image).IgnoreWarning()
	if err != nil {
		return nil, err
	}
	return &LoadedImage{Ref: r, image: image}, nil
}

// CurrentImage returns the loaded image protocol of the running image.
func CurrentImage(bs *uefi.BootServices) (*LoadedImage, error) {
	return LoadedImageOf(bs, bs.ImageHandle())
}

// DeviceHandle returns the device the image was loaded from.
func (li *LoadedImage) DeviceHandle() (uefi.Handle, error) {
	p, err := li.Interface()
	if err != nil {
		return 0, err
	}
	return p.DeviceHandle, nil
}

// FilePath decodes the path of the image, relative to its device.
func (li *LoadedImage) FilePath() (efi.DevicePath, error) {
	p, err := li.Interface()
	if err != nil {
		return nil, err
	}
	return ParseDevicePath(p.FilePath)
}

// LoadOptions returns the raw load options. For images started by the boot
// manager or a shell these are UCS-2 text.
func (li *LoadedImage) LoadOptions() ([]byte, error) {
	p, err := li.Interface()
	if err != nil {
		return nil, err
	}
	if p.LoadOptions == nil || p.LoadOptionsSize == 0 {
		return nil, nil
	}
	return append([]byte(nil), unsafe.Slice((*byte)(p.LoadOptions), p.LoadOptionsSize)...), nil
}

// CommandLine decodes the load options as text, up to the first null.
func (li *LoadedImage) CommandLine() (string, error) {
	b, err := li.LoadOptions()
	if err != nil {
		return "", err
	}
	u16 := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := uint16(b[i]) | uint16(b[i+1])<<8
		if u == 0 {
			break
		}
		u16 = append(u16, u)
	}
	return efi.ConvertUTF16ToUTF8(u16), nil
}

// SetLoadOptions points the load options at size bytes at opts. The memory
// must stay valid until the image is started, typically pool memory.
func (li *LoadedImage) SetLoadOptions(opts unsafe.Pointer, size int) error {
	p, err := li.Interface()
	if err != nil {
		return err
	}
	p.LoadOptions = opts
	p.LoadOptionsSize = uint32(size)
	return nil
}

// Image returns the memory the image was loaded at.
func (li *LoadedImage) Image() ([]byte, error) {
	p, err := li.Interface()
	if err != nil {
		return nil, err
	}
	if p.ImageBase == nil {
		return nil, nil
	}
	return unsafe.Slice((*byte)(p.ImageBase), p.ImageSize), nil
}

// Unload calls the unload function of the image. An image without one
// yields uefi.StatusNullFunction.
func (li *LoadedImage) Unload() uefi.Result[uefi.Unit] {
	p, c := li.Bind()
	return uefi.Done(c.Call(&p.unload, uintptr(li.image)))
}
