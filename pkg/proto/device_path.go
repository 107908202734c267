package proto

import (
	"bytes"
	"errors"
	"fmt"
	"unsafe"

	efi "github.com/canonical/go-efilib"

	"github.com/costinm/goefi/pkg/uefi"
)

var (
	EFI_DEVICE_PATH_PROTOCOL_GUID              = uefi.MustParseGUID("09576e91-6d3f-11d2-8e39-00a0c969723b")
	EFI_LOADED_IMAGE_DEVICE_PATH_PROTOCOL_GUID = uefi.MustParseGUID("bc62157e-3e33-4fec-9920-2d3b36d750df")
)

const (
	deviceNodeEnd       = 0x7f
	deviceNodeEndEntire = 0xff
	deviceNodeHeader    = 4

	// maxDevicePath bounds the walk over a path without an end node.
	maxDevicePath = 64 * 1024
)

var ErrBadDevicePath = errors.New("malformed device path")

// EFI_DEVICE_PATH_PROTOCOL is the header of a device path node. A path is a
// sequence of variable-length nodes ending with an End Entire node.
type EFI_DEVICE_PATH_PROTOCOL struct {
	Type    uint8
	SubType uint8
	Length  [2]uint8
}

func (*EFI_DEVICE_PATH_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_DEVICE_PATH_PROTOCOL_GUID
}

// EFI_LOADED_IMAGE_DEVICE_PATH_PROTOCOL shares the device path layout.
type EFI_LOADED_IMAGE_DEVICE_PATH_PROTOCOL EFI_DEVICE_PATH_PROTOCOL

func (*EFI_LOADED_IMAGE_DEVICE_PATH_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_LOADED_IMAGE_DEVICE_PATH_PROTOCOL_GUID
}

// DevicePathBytes copies the device path at p, end node included.
func DevicePathBytes(p *EFI_DEVICE_PATH_PROTOCOL) ([]byte, error) {
	if p == nil {
		return nil, ErrBadDevicePath
	}

	size := 0
	for node := unsafe.Pointer(p); ; {
		h := (*EFI_DEVICE_PATH_PROTOCOL)(node)
		n := int(h.Length[0]) | int(h.Length[1])<<8
		if n < deviceNodeHeader || size+n > maxDevicePath {
			return nil, ErrBadDevicePath
		}
		size += n
		if h.Type == deviceNodeEnd && h.SubType == deviceNodeEndEntire {
			break
		}
		node = unsafe.Add(node, n)
	}

	return bytes.Clone(unsafe.Slice((*byte)(unsafe.Pointer(p)), size)), nil
}

// ParseDevicePath decodes the device path at p.
func ParseDevicePath(p *EFI_DEVICE_PATH_PROTOCOL) (efi.DevicePath, error) {
	b, err := DevicePathBytes(p)
	if err != nil {
		return nil, err
	}
	dp, err := efi.ReadDevicePath(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDevicePath, err)
	}
	return dp, nil
}

// DevicePathOf returns the device path installed on h.
func DevicePathOf(bs *uefi.BootServices, h uefi.Handle) (efi.DevicePath, error) {
	r, err := uefi.HandleProtocol[EFI_DEVICE_PATH_PROTOCOL](bs, h).IgnoreWarning()
	if err != nil {
		return nil, err
	}
	p, err := r.Interface()
	if err != nil {
		return nil, err
	}
	return ParseDevicePath(p)
}
