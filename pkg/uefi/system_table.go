package uefi

import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"
)

type options struct {
	log      *zap.Logger
	checkCRC bool
}

// Option configures NewSystemTable.
type Option func(*options)

// WithLogger routes diagnostics of failing firmware calls to log. A nil log
// keeps the default no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithoutCRCCheck skips header checksum validation, for firmware known to
// publish stale checksums.
func WithoutCRCCheck() Option {
	return func(o *options) {
		o.checkCRC = false
	}
}

// SystemTable is the ownership root of a firmware session. It is created once
// at entry and handed explicitly to everything that needs firmware access.
// ExitBootServices consumes it.
type SystemTable struct {
	raw   *EFI_SYSTEM_TABLE
	image Handle
	log   *zap.Logger

	boot    *scope
	session *scope

	bs *BootServices
	rt *RuntimeServices
}

// NewSystemTable wraps the system table at addr, as passed by firmware to
// the image identified by image, and validates its header and the headers of
// the boot and runtime service tables.
func NewSystemTable(image Handle, addr uintptr, abi ABI, opts ...Option) (*SystemTable, error) {
	o := options{log: zap.NewNop(), checkCRC: true}
	for _, opt := range opts {
		opt(&o)
	}

	if addr == 0 {
		return nil, fmt.Errorf("system table: null address")
	}
	if abi == nil {
		return nil, fmt.Errorf("system table: no firmware ABI")
	}

	raw := (*EFI_SYSTEM_TABLE)(unsafe.Pointer(addr))

	if err := raw.Hdr.validate("system table", EFI_SYSTEM_TABLE_SIGNATURE, unsafe.Sizeof(*raw), o.checkCRC); err != nil {
		return nil, err
	}
	if raw.Hdr.Revision < EFI_2_00_SYSTEM_TABLE_REVISION {
		return nil, fmt.Errorf("system table: unsupported revision %#x", raw.Hdr.Revision)
	}
	if raw.BootServices == nil {
		return nil, fmt.Errorf("boot services: null table")
	}
	if err := raw.BootServices.Hdr.validate("boot services", EFI_BOOT_SERVICES_SIGNATURE, unsafe.Sizeof(*raw.BootServices), o.checkCRC); err != nil {
		return nil, err
	}
	if raw.RuntimeServices == nil {
		return nil, fmt.Errorf("runtime services: null table")
	}
	if err := raw.RuntimeServices.Hdr.validate("runtime services", EFI_RUNTIME_SERVICES_SIGNATURE, unsafe.Sizeof(*raw.RuntimeServices), o.checkCRC); err != nil {
		return nil, err
	}

	st := &SystemTable{
		raw:     raw,
		image:   image,
		log:     o.log,
		boot:    &scope{name: "boot"},
		session: &scope{name: "runtime"},
	}

	st.bs = &BootServices{
		raw:   raw.BootServices,
		c:     &Caller{abi: abi, scope: st.boot, log: o.log},
		image: image,
	}
	st.rt = &RuntimeServices{
		raw: raw.RuntimeServices,
		c:   &Caller{abi: abi, scope: st.session, log: o.log},
	}

	return st, nil
}

// Valid reports whether boot services are still available.
func (st *SystemTable) Valid() bool {
	return st.boot.valid()
}

// ImageHandle returns the handle of the running image.
func (st *SystemTable) ImageHandle() Handle {
	return st.image
}

// Revision returns the UEFI revision the firmware implements.
func (st *SystemTable) Revision() uint32 {
	return st.raw.Hdr.Revision
}

// FirmwareRevision returns the vendor specific firmware revision.
func (st *SystemTable) FirmwareRevision() uint32 {
	return st.raw.FirmwareRevision
}

// FirmwareVendor returns the vendor string, borrowed from firmware memory.
func (st *SystemTable) FirmwareVendor() (CStr16, error) {
	return CStr16FromPtr(st.raw.FirmwareVendor, maxFirmwareVendorLen)
}

// BootServices returns the boot services table. Its methods fail with
// StatusServicesExited after ExitBootServices.
func (st *SystemTable) BootServices() *BootServices {
	return st.bs
}

// RuntimeServices returns the runtime services table.
func (st *SystemTable) RuntimeServices() *RuntimeServices {
	return st.rt
}

// Logger returns the diagnostics logger of the session.
func (st *SystemTable) Logger() *zap.Logger {
	return st.log
}

// ConfigurationTable is an entry of the system configuration table.
type ConfigurationTable struct {
	VendorGUID  GUID
	VendorTable unsafe.Pointer
}

// ConfigurationTables returns a copy of the configuration table, in firmware
// order.
func (st *SystemTable) ConfigurationTables() []ConfigurationTable {
	return configurationTables(st.raw)
}

// FindConfigurationTable returns the first table published under guid.
func (st *SystemTable) FindConfigurationTable(guid GUID) (unsafe.Pointer, bool) {
	return findConfigurationTable(st.raw, guid)
}

func configurationTables(raw *EFI_SYSTEM_TABLE) []ConfigurationTable {
	if raw.ConfigurationTable == nil || raw.NumberOfTableEntries == 0 {
		return nil
	}
	entries := unsafe.Slice(raw.ConfigurationTable, int(raw.NumberOfTableEntries))
	out := make([]ConfigurationTable, len(entries))
	for i, e := range entries {
		out[i] = ConfigurationTable{VendorGUID: e.VendorGuid, VendorTable: e.VendorTable}
	}
	return out
}

func findConfigurationTable(raw *EFI_SYSTEM_TABLE, guid GUID) (unsafe.Pointer, bool) {
	for _, t := range configurationTables(raw) {
		if t.VendorGUID == guid {
			return t.VendorTable, true
		}
	}
	return nil, false
}

// ExitBootServices terminates boot services: it reads the current memory map
// and hands its key to firmware. On success the boot scope ends, so st, its
// boot services, its console references and every protocol reference
// resolved through it stop working, and the restricted runtime view is
// returned together with the final memory map.
//
// On failure nothing is invalidated. Firmware may have changed the memory map
// between the two calls (EFI_INVALID_PARAMETER); retrying is up to the
// caller.
func (st *SystemTable) ExitBootServices() (*RuntimeSystemTable, *MemoryMap, error) {
	mm, err := st.bs.GetMemoryMap().Unwrap()
	if err != nil {
		return nil, nil, fmt.Errorf("exit boot services: memory map: %w", err)
	}

	if err := st.bs.exitBootServices(mm.Key).Err(); err != nil {
		return nil, nil, fmt.Errorf("exit boot services: %w", err)
	}

	st.boot.end()
	st.log.Debug("exited boot services", zap.Uintptr("map_key", uintptr(mm.Key)))

	return &RuntimeSystemTable{raw: st.raw, rt: st.rt}, mm, nil
}

// RuntimeSystemTable is what remains of the system table after
// ExitBootServices: runtime services and configuration tables.
type RuntimeSystemTable struct {
	raw *EFI_SYSTEM_TABLE
	rt  *RuntimeServices
}

// RuntimeServices returns the runtime services table.
func (rst *RuntimeSystemTable) RuntimeServices() *RuntimeServices {
	return rst.rt
}

// ConfigurationTables returns a copy of the configuration table.
func (rst *RuntimeSystemTable) ConfigurationTables() []ConfigurationTable {
	return configurationTables(rst.raw)
}

// FindConfigurationTable returns the first table published under guid.
func (rst *RuntimeSystemTable) FindConfigurationTable(guid GUID) (unsafe.Pointer, bool) {
	return findConfigurationTable(rst.raw, guid)
}

// FirmwareVendor returns the vendor string.
func (rst *RuntimeSystemTable) FirmwareVendor() (CStr16, error) {
	return CStr16FromPtr(rst.raw.FirmwareVendor, maxFirmwareVendorLen)
}

// Console identifies one of the three consoles of the system table.
type Console int

const (
	ConsoleIn Console = iota
	ConsoleOut
	ConsoleErr
)

// EFI_SIMPLE_TEXT_INPUT_PROTOCOL_GUID and EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL_GUID
// are the protocols installed on the console handles.
var (
	EFI_SIMPLE_TEXT_INPUT_PROTOCOL_GUID  = MustParseGUID("387477c1-69c7-11d2-8e39-00a0c969723b")
	EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL_GUID = MustParseGUID("387477c2-69c7-11d2-8e39-00a0c969723b")
)

// ConsoleProtocol returns a reference to one of the system table consoles as
// protocol P, which must be bound to the text input GUID for ConsoleIn and to
// the text output GUID otherwise. A headless system reports EFI_NOT_FOUND.
func ConsoleProtocol[P any, PP interface {
	*P
	Protocol
}](st *SystemTable, which Console) Result[Ref[P]] {
	if !st.Valid() {
		return Fail[Ref[P]](StatusServicesExited)
	}

	want := EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL_GUID
	iface, handle := st.raw.ConOut, st.raw.ConsoleOutHandle

	switch which {
	case ConsoleIn:
		want = EFI_SIMPLE_TEXT_INPUT_PROTOCOL_GUID
		iface, handle = st.raw.ConIn, st.raw.ConsoleInHandle
	case ConsoleErr:
		iface, handle = st.raw.StdErr, st.raw.StandardErrorHandle
	}

	if GUIDOf[P, PP]() != want {
		return Fail[Ref[P]](EFI_INVALID_PARAMETER)
	}
	if iface == nil {
		return Fail[Ref[P]](EFI_NOT_FOUND)
	}

	return FromStatus(EFI_SUCCESS, Ref[P]{iface: (*P)(iface), handle: handle, caller: st.bs.c})
}
