// Package uefi provides typed access to the services a UEFI firmware exposes
// to a pre-boot program: the system table, boot and runtime services, protocol
// resolution and the status/result algebra every firmware call returns.
//
// The firmware hands the program a single pointer, the system table, at entry.
// NewSystemTable wraps it; everything else is reached from there and is passed
// explicitly, there are no package level tables.
package uefi

type UINTN uintptr
type EFI_LBA uint64
type EFI_TPL UINTN
type EFI_PHYSICAL_ADDRESS uint64
type EFI_VIRTUAL_ADDRESS uint64

// Handle is an opaque firmware handle. It is only ever passed back to
// firmware, never dereferenced.
type Handle uintptr

// Event is an opaque firmware event.
type Event uintptr

type EFI_MAC_ADDRESS [32]uint8
type EFI_IPv4_ADDRESS [4]uint8
type EFI_IPv6_ADDRESS [16]uint8
type EFI_IP_ADDRESS [16]uint8

// Char16 is a UCS-2 code unit, the firmware's native character.
type Char16 uint16

// Char8 is a Latin-1 code unit.
type Char8 uint8

// Unit is the value of a call that only reports a status.
type Unit struct{}

// Task priority levels.
const (
	TPL_APPLICATION EFI_TPL = 4
	TPL_CALLBACK    EFI_TPL = 8
	TPL_NOTIFY      EFI_TPL = 16
	TPL_HIGH_LEVEL  EFI_TPL = 31
)

func convertBool(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}
