//go:build tamago && amd64

package x64

import (
	"github.com/usbarmory/go-boot/uefi/x64"

	"github.com/costinm/goefi/pkg/uefi"
)

// SystemTable returns the system table of the running image, from the image
// handle and system table address the go-boot entry point saved. Every table
// shares the package ABI, so calls stay serialized.
func SystemTable(opts ...uefi.Option) (*uefi.SystemTable, error) {
	image := uefi.Handle(x64.UEFI.ImageHandle())
	return uefi.NewSystemTable(image, uintptr(x64.UEFI.Address()), Native, opts...)
}
