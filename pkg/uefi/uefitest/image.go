package uefitest

import (
	"bytes"
	"unsafe"

	efi "github.com/canonical/go-efilib"

	"github.com/costinm/goefi/pkg/uefi"
)

var loadedImageGUID = uefi.MustParseGUID("5b1b31a1-9562-11d2-8e3f-00a0c969723b")

// loadedImage has the layout of EFI_LOADED_IMAGE_PROTOCOL.
type loadedImage struct {
	Revision        uint32
	ParentHandle    uefi.Handle
	SystemTable     *uefi.EFI_SYSTEM_TABLE
	DeviceHandle    uefi.Handle
	FilePath        unsafe.Pointer
	Reserved        unsafe.Pointer
	LoadOptionsSize uint32
	LoadOptions     unsafe.Pointer
	ImageBase       unsafe.Pointer
	ImageSize       uint64
	ImageCodeType   uint32
	ImageDataType   uint32
	Unload          uintptr
}

func (fw *Firmware) newLoadedImage(parent, device uefi.Handle, path []byte, src []byte) *loadedImage {
	li := &loadedImage{
		Revision:      0x1000,
		ParentHandle:  parent,
		SystemTable:   fw.st,
		DeviceHandle:  device,
		ImageCodeType: uefi.EfiLoaderCode,
		ImageDataType: uefi.EfiLoaderData,
	}
	if len(path) > 0 {
		li.FilePath = unsafe.Pointer(&path[0])
	}
	if len(src) > 0 {
		li.ImageBase = unsafe.Pointer(&src[0])
		li.ImageSize = uint64(len(src))
	}
	return li
}

// InstallBootImage records that the running image was loaded from path on
// device, installing its loaded image protocol.
func (fw *Firmware) InstallBootImage(device uefi.Handle, path string) {
	dp, err := efi.DevicePath{efi.FilePathDevicePathNode(path)}.Bytes()
	if err != nil {
		panic(err)
	}
	li := fw.newLoadedImage(0, device, dp, []byte("MZ"))
	fw.InstallProtocol(fw.Image, loadedImageGUID, unsafe.Pointer(li))
}

// LoadOptions returns the load options of a loaded image, decoded as UCS-2
// text up to the first null.
func (fw *Firmware) LoadOptions(h uefi.Handle) (string, bool) {
	p := fw.protocol(h, loadedImageGUID)
	if p == nil {
		return "", false
	}
	li := (*loadedImage)(p.iface)
	if li.LoadOptions == nil || li.LoadOptionsSize < 2 {
		return "", true
	}
	units := unsafe.Slice((*uefi.Char16)(li.LoadOptions), li.LoadOptionsSize/2)
	for i, u := range units {
		if u == 0 {
			units = units[:i]
			break
		}
	}
	return unitsString(units), true
}

// ImagePath returns the device path an image was loaded with.
func (fw *Firmware) ImagePath(h uefi.Handle) (efi.DevicePath, bool) {
	img, ok := fw.images[h]
	if !ok || img.path == nil {
		return nil, false
	}
	dp, err := efi.ReadDevicePath(bytes.NewReader(img.path))
	if err != nil {
		return nil, false
	}
	return dp, true
}

// devicePathBytes copies the device path at p, end node included.
func devicePathBytes(p unsafe.Pointer) []byte {
	size := 0
	for node := p; ; {
		hdr := unsafe.Slice((*byte)(node), 4)
		n := int(hdr[2]) | int(hdr[3])<<8
		if n < 4 {
			return nil
		}
		size += n
		if hdr[0] == 0x7f && hdr[1] == 0xff {
			break
		}
		node = unsafe.Add(node, n)
	}
	return append([]byte(nil), unsafe.Slice((*byte)(p), size)...)
}
