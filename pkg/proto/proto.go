// Package proto defines the firmware protocols goefi programs use: their raw
// interface layouts bound to GUIDs, and thin wrappers that call them through a
// uefi.Ref so every call honours the boot services scope.
//
// Layouts follow the UEFI 2.10 specification. Function slots are unexported;
// the wrappers are the only way to invoke them.
package proto

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/costinm/goefi/pkg/uefi"
)

// KnownProtocol names a protocol GUID.
type KnownProtocol struct {
	Name string
	GUID uefi.GUID
}

// Known lists the protocols of this package, along with a few others commonly
// found on firmware handles.
var Known = []KnownProtocol{
	{"SimpleTextInput", uefi.EFI_SIMPLE_TEXT_INPUT_PROTOCOL_GUID},
	{"SimpleTextInputEx", EFI_SIMPLE_TEXT_INPUT_EX_PROTOCOL_GUID},
	{"SimpleTextOutput", uefi.EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL_GUID},
	{"LoadedImage", EFI_LOADED_IMAGE_PROTOCOL_GUID},
	{"LoadedImageDevicePath", EFI_LOADED_IMAGE_DEVICE_PATH_PROTOCOL_GUID},
	{"DevicePath", EFI_DEVICE_PATH_PROTOCOL_GUID},
	{"SerialIo", EFI_SERIAL_IO_PROTOCOL_GUID},
	{"GraphicsOutput", EFI_GRAPHICS_OUTPUT_PROTOCOL_GUID},
	{"SimpleFileSystem", EFI_SIMPLE_FILE_SYSTEM_PROTOCOL_GUID},
	{"BlockIo", EFI_BLOCK_IO_PROTOCOL_GUID},
	{"DiskIo", EFI_DISK_IO_PROTOCOL_GUID},
	{"SimpleNetwork", EFI_SIMPLE_NETWORK_PROTOCOL_GUID},
	{"Dhcp4ServiceBinding", EFI_DHCP4_SERVICE_BINDING_PROTOCOL_GUID},
	{"Dhcp4", EFI_DHCP4_PROTOCOL_GUID},
}

var knownNames = func() map[uefi.GUID]string {
	m := make(map[uefi.GUID]string, len(Known))
	for _, p := range Known {
		m[p.GUID] = p.Name
	}
	return m
}()

// Name returns the name of a known protocol, or the GUID in text form.
func Name(guid uefi.GUID) string {
	if name, ok := knownNames[guid]; ok {
		return name
	}
	return guid.String()
}

// Lookup finds a known protocol by name or GUID text.
func Lookup(s string) (KnownProtocol, bool) {
	for _, p := range Known {
		if p.Name == s {
			return p, true
		}
	}
	if guid, err := uefi.ParseGUID(s); err == nil {
		return KnownProtocol{Name: Name(guid), GUID: guid}, true
	}
	return KnownProtocol{}, false
}

// HandleInfo lists the protocols installed on a handle.
type HandleInfo struct {
	Handle    uefi.Handle
	Protocols []string
}

// Inventory describes every handle in the firmware database, in firmware
// order. Handles whose protocols cannot be listed are reported in the
// returned error and skipped.
func Inventory(bs *uefi.BootServices) ([]HandleInfo, error) {
	handles, err := bs.LocateHandleBuffer(uefi.AllHandles, nil).IgnoreWarning()
	if err != nil {
		return nil, fmt.Errorf("locate handles: %w", err)
	}

	var merr *multierror.Error
	out := make([]HandleInfo, 0, len(handles))

	for _, h := range handles {
		guids, err := bs.ProtocolsPerHandle(h).IgnoreWarning()
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("handle %#x: %w", h, err))
			continue
		}
		names := make([]string, 0, len(guids))
		for _, g := range guids {
			names = append(names, Name(g))
		}
		sort.Strings(names)
		out = append(out, HandleInfo{Handle: h, Protocols: names})
	}

	return out, merr.ErrorOrNil()
}

// enumerate resolves P on every handle supporting it, with wrap building the
// wrapper. No handle at all is not an error. Resolution failures on single
// handles are collected and the remaining handles are still returned.
func enumerate[P any, PP interface {
	*P
	uefi.Protocol
}, W any](bs *uefi.BootServices, wrap func(uefi.Ref[P]) W) ([]W, error) {
	handles, err := uefi.LocateHandles[P, PP](bs).IgnoreWarning()
	if errors.Is(err, uefi.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var merr *multierror.Error
	out := make([]W, 0, len(handles))

	for _, h := range handles {
		r, err := uefi.HandleProtocol[P, PP](bs, h).IgnoreWarning()
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("handle %#x: %w", h, err))
			continue
		}
		out = append(out, wrap(r))
	}

	return out, merr.ErrorOrNil()
}

func convertBool(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}
