package uefi

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"unsafe"
)

// Table signatures, §4.2–4.5 UEFI 2.10
const (
	EFI_SYSTEM_TABLE_SIGNATURE     = 0x5453595320494249 // "IBI SYST"
	EFI_BOOT_SERVICES_SIGNATURE    = 0x56524553544f4f42 // "BOOTSERV"
	EFI_RUNTIME_SERVICES_SIGNATURE = 0x56524553544e5552 // "RUNTSERV"

	EFI_2_00_SYSTEM_TABLE_REVISION = 2<<16 | 0
	EFI_2_10_SYSTEM_TABLE_REVISION = 2<<16 | 100
)

const (
	crcOffset            = 16
	maxFirmwareVendorLen = 256
)

// EFI_TABLE_HEADER precedes every firmware table.
type EFI_TABLE_HEADER struct {
	Signature  uint64
	Revision   uint32
	HeaderSize uint32
	CRC32      uint32
	Reserved   uint32
}

// CalculateCRC32 computes the header checksum of the table at hdr, over
// HeaderSize bytes with the CRC32 field taken as zero.
func (hdr *EFI_TABLE_HEADER) CalculateCRC32() uint32 {
	buf := make([]byte, hdr.HeaderSize)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(hdr)), hdr.HeaderSize))
	binary.LittleEndian.PutUint32(buf[crcOffset:], 0)
	return crc32.ChecksumIEEE(buf)
}

func (hdr *EFI_TABLE_HEADER) validate(name string, signature uint64, minSize uintptr, checkCRC bool) error {
	if hdr == nil {
		return fmt.Errorf("%s: null table", name)
	}
	if hdr.Signature != signature {
		return fmt.Errorf("%s: bad signature %#x", name, hdr.Signature)
	}
	if uintptr(hdr.HeaderSize) < minSize {
		return fmt.Errorf("%s: header size %d smaller than %d", name, hdr.HeaderSize, minSize)
	}
	if checkCRC {
		if crc := hdr.CalculateCRC32(); crc != hdr.CRC32 {
			return fmt.Errorf("%s: CRC32 %#x, expected %#x", name, hdr.CRC32, crc)
		}
	}
	return nil
}

// EFI_SYSTEM_TABLE, §4.3
type EFI_SYSTEM_TABLE struct {
	Hdr                  EFI_TABLE_HEADER
	FirmwareVendor       *Char16
	FirmwareRevision     uint32
	ConsoleInHandle      Handle
	ConIn                unsafe.Pointer
	ConsoleOutHandle     Handle
	ConOut               unsafe.Pointer
	StandardErrorHandle  Handle
	StdErr               unsafe.Pointer
	RuntimeServices      *EFI_RUNTIME_SERVICES
	BootServices         *EFI_BOOT_SERVICES
	NumberOfTableEntries UINTN
	ConfigurationTable   *EFI_CONFIGURATION_TABLE
}

// EFI_BOOT_SERVICES, §4.4. Every field after the header is a function
// pointer slot, in firmware order.
type EFI_BOOT_SERVICES struct {
	Hdr EFI_TABLE_HEADER

	RaiseTPL   uintptr
	RestoreTPL uintptr

	AllocatePages uintptr
	FreePages     uintptr
	GetMemoryMap  uintptr
	AllocatePool  uintptr
	FreePool      uintptr

	CreateEvent  uintptr
	SetTimer     uintptr
	WaitForEvent uintptr
	SignalEvent  uintptr
	CloseEvent   uintptr
	CheckEvent   uintptr

	InstallProtocolInterface   uintptr
	ReinstallProtocolInterface uintptr
	UninstallProtocolInterface uintptr
	HandleProtocol             uintptr
	Reserved                   uintptr
	RegisterProtocolNotify     uintptr
	LocateHandle               uintptr
	LocateDevicePath           uintptr
	InstallConfigurationTable  uintptr

	LoadImage        uintptr
	StartImage       uintptr
	Exit             uintptr
	UnloadImage      uintptr
	ExitBootServices uintptr

	GetNextMonotonicCount uintptr
	Stall                 uintptr
	SetWatchdogTimer      uintptr

	ConnectController    uintptr
	DisconnectController uintptr

	OpenProtocol            uintptr
	CloseProtocol           uintptr
	OpenProtocolInformation uintptr

	ProtocolsPerHandle                  uintptr
	LocateHandleBuffer                  uintptr
	LocateProtocol                      uintptr
	InstallMultipleProtocolInterfaces   uintptr
	UninstallMultipleProtocolInterfaces uintptr

	CalculateCrc32 uintptr

	CopyMem       uintptr
	SetMem        uintptr
	CreateEventEx uintptr
}

// EFI_RUNTIME_SERVICES, §4.5
type EFI_RUNTIME_SERVICES struct {
	Hdr EFI_TABLE_HEADER

	GetTime       uintptr
	SetTime       uintptr
	GetWakeupTime uintptr
	SetWakeupTime uintptr

	SetVirtualAddressMap uintptr
	ConvertPointer       uintptr

	GetVariable         uintptr
	GetNextVariableName uintptr
	SetVariable         uintptr

	GetNextHighMonotonicCount uintptr
	ResetSystem               uintptr

	UpdateCapsule            uintptr
	QueryCapsuleCapabilities uintptr
	QueryVariableInfo        uintptr
}

// EFI_CONFIGURATION_TABLE, §4.6
type EFI_CONFIGURATION_TABLE struct {
	VendorGuid  GUID
	VendorTable unsafe.Pointer
}

// Well known configuration tables.
var (
	ACPI_TABLE_GUID                  = MustParseGUID("eb9d2d30-2d88-11d3-9a16-0090273fc14d")
	ACPI_20_TABLE_GUID               = MustParseGUID("8868e871-e4f1-11d3-bc22-0080c73c8881")
	SMBIOS_TABLE_GUID                = MustParseGUID("eb9d2d31-2d88-11d3-9a16-0090273fc14d")
	SMBIOS3_TABLE_GUID               = MustParseGUID("f2fd1544-9794-4a2c-992e-e5bbcf20e394")
	EFI_DTB_TABLE_GUID               = MustParseGUID("b1b621d5-f19c-41a5-830b-d9152c69aae0")
	EFI_MEMORY_ATTRIBUTES_TABLE_GUID = MustParseGUID("dcfa911d-26eb-469f-a220-38b7dc461220")
)
