// Package uefitest simulates UEFI firmware in host memory, so code built on
// package uefi runs under go test.
//
// Function pointers in the simulated tables are not code addresses: they are
// keys into a dispatch table of Go closures, and Firmware is the uefi.ABI
// that resolves them. Pointers handed to firmware are plain Go pointers.
//
// A Firmware is not safe for concurrent use.
package uefitest

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/costinm/goefi/pkg/uefi"
)

const (
	funcBase   = 0x10000000
	funcStride = 16
	handleBase = 0x1000

	descriptorSize = 48
	vendorName     = "goefi simulated firmware"
	firmwareRev    = 0x00010000
)

// Option configures New.
type Option func(*Firmware)

// Headless leaves the console fields of the system table empty.
func Headless() Option {
	return func(fw *Firmware) {
		fw.headless = true
	}
}

// WithMemory replaces the default memory map.
func WithMemory(descriptors ...uefi.EFI_MEMORY_DESCRIPTOR) Option {
	return func(fw *Firmware) {
		fw.Memory = descriptors
	}
}

// Firmware is a simulated UEFI environment: system table, boot and runtime
// services, a handle database, pool and page memory, events, variables and
// consoles.
type Firmware struct {
	// Image is the handle of the running image.
	Image uefi.Handle
	// Memory is the memory map returned by GetMemoryMap.
	Memory []uefi.EFI_MEMORY_DESCRIPTOR
	// Time is the firmware clock, as returned by GetTime.
	Time uefi.EFI_TIME

	// Calls lists every service invoked, by name, in order.
	Calls []string
	// BootCallsAfterExit counts boot service invocations made after a
	// successful ExitBootServices.
	BootCallsAfterExit int
	// BadCalls counts calls to addresses that are not simulated functions.
	BadCalls int

	// Watchdog is the last timeout set with SetWatchdogTimer.
	Watchdog int
	// ImageExited and ExitCode record a call to Exit.
	ImageExited bool
	ExitCode    uefi.Status
	// Resets records the type of every ResetSystem call.
	Resets []int

	// ExitFailures makes that many ExitBootServices calls fail as if the
	// memory map changed after it was read.
	ExitFailures int

	// OnGetMemoryMap runs at the start of every GetMemoryMap call.
	OnGetMemoryMap func()
	// OnLoadImage runs when an image is loaded, with its new handle.
	OnLoadImage func(h uefi.Handle, src []byte)
	// OnStartImage runs the started image and returns its exit status and
	// exit data. By default images return EFI_SUCCESS.
	OnStartImage func(h uefi.Handle) (uefi.Status, []byte)

	headless bool
	exited   bool

	st     *uefi.EFI_SYSTEM_TABLE
	bs     *uefi.EFI_BOOT_SERVICES
	rt     *uefi.EFI_RUNTIME_SERVICES
	vendor []uefi.Char16

	configs []uefi.EFI_CONFIGURATION_TABLE

	funcs   []func(a []uintptr) uefi.Status
	names   []string
	bootFns map[uintptr]bool

	handles    []*handle
	nextHandle uefi.Handle

	pools  map[uintptr][]uint64
	pages  map[uefi.EFI_PHYSICAL_ADDRESS][]uint64
	mapKey uefi.UINTN

	events    map[uefi.Event]*event
	nextEvent uefi.Event
	tpl       uefi.EFI_TPL
	clock     uint64

	monotonic     uint64
	highMonotonic uint32

	vars []*variable

	images map[uefi.Handle]*image

	conOut *textOutput
	conIn  *textInput
	out    strings.Builder
	keys   []inputKey
}

// New returns a firmware ready to run one image.
func New(opts ...Option) *Firmware {
	fw := &Firmware{
		Memory: []uefi.EFI_MEMORY_DESCRIPTOR{
			{Type: uefi.EfiBootServicesCode, PhysicalStart: 0x0, NumberOfPages: 0xa0},
			{Type: uefi.EfiConventionalMemory, PhysicalStart: 0x100000, NumberOfPages: 0x7f00},
			{Type: uefi.EfiRuntimeServicesData, PhysicalStart: 0x8000000, NumberOfPages: 0x100},
			{Type: uefi.EfiACPIReclaimMemory, PhysicalStart: 0x8100000, NumberOfPages: 0x10},
		},
		Time: uefi.EFI_TIME{
			Year:     2024,
			Month:    1,
			Day:      2,
			Hour:     3,
			Minute:   4,
			Second:   5,
			TimeZone: uefi.EFI_UNSPECIFIED_TIMEZONE,
		},
		bootFns:    make(map[uintptr]bool),
		pools:      make(map[uintptr][]uint64),
		pages:      make(map[uefi.EFI_PHYSICAL_ADDRESS][]uint64),
		events:     make(map[uefi.Event]*event),
		images:     make(map[uefi.Handle]*image),
		nextHandle: handleBase,
		nextEvent:  1,
		mapKey:     1,
		tpl:        uefi.TPL_APPLICATION,
	}

	for _, opt := range opts {
		opt(fw)
	}

	fw.Image = fw.NewHandle()

	fw.vendor = append(toUnits(vendorName), 0)
	fw.bs = fw.bootServices()
	fw.rt = fw.runtimeServices()

	fw.st = &uefi.EFI_SYSTEM_TABLE{
		Hdr: uefi.EFI_TABLE_HEADER{
			Signature:  uefi.EFI_SYSTEM_TABLE_SIGNATURE,
			Revision:   uefi.EFI_2_10_SYSTEM_TABLE_REVISION,
			HeaderSize: uint32(unsafe.Sizeof(uefi.EFI_SYSTEM_TABLE{})),
		},
		FirmwareVendor:   &fw.vendor[0],
		FirmwareRevision: firmwareRev,
		RuntimeServices:  fw.rt,
		BootServices:     fw.bs,
	}

	if !fw.headless {
		fw.installConsoles()
	}

	fw.seal()

	return fw
}

// Address returns the address of the system table, as firmware passes it to
// the image entry point.
func (fw *Firmware) Address() uintptr {
	return uintptr(unsafe.Pointer(fw.st))
}

// Raw returns the simulated system table.
func (fw *Firmware) Raw() *uefi.EFI_SYSTEM_TABLE {
	return fw.st
}

// SystemTable wraps the simulated system table, with fw as the ABI.
func (fw *Firmware) SystemTable(opts ...uefi.Option) (*uefi.SystemTable, error) {
	return uefi.NewSystemTable(fw.Image, fw.Address(), fw, opts...)
}

// ExitedBootServices reports whether ExitBootServices succeeded.
func (fw *Firmware) ExitedBootServices() bool {
	return fw.exited
}

// Func registers f as a firmware function and returns its address, for
// populating the slots of simulated protocol interfaces. Like every protocol
// function, it counts as a boot service once boot services exit.
func (fw *Firmware) Func(f func(args []uintptr) uefi.Status) uintptr {
	return fw.bootFunc("", f)
}

// NamedFunc is Func with the calls traced under name.
func (fw *Firmware) NamedFunc(name string, f func(args []uintptr) uefi.Status) uintptr {
	return fw.bootFunc(name, f)
}

func (fw *Firmware) register(name string, f func(args []uintptr) uefi.Status) uintptr {
	fw.funcs = append(fw.funcs, f)
	fw.names = append(fw.names, name)
	return funcBase + uintptr(len(fw.funcs)-1)*funcStride
}

func (fw *Firmware) bootFunc(name string, f func(args []uintptr) uefi.Status) uintptr {
	fn := fw.register(name, f)
	fw.bootFns[fn] = true
	return fn
}

// Call dispatches a call to a simulated function.
func (fw *Firmware) Call(fn uintptr, args ...uintptr) uefi.Status {
	if fn < funcBase || (fn-funcBase)%funcStride != 0 || int((fn-funcBase)/funcStride) >= len(fw.funcs) {
		fw.BadCalls++
		return uefi.EFI_ABORTED
	}

	i := int((fn - funcBase) / funcStride)

	if fw.exited && fw.bootFns[fn] {
		fw.BootCallsAfterExit++
	}
	if name := fw.names[i]; name != "" {
		fw.Calls = append(fw.Calls, name)
	}

	return fw.funcs[i](args)
}

// ResetCalls clears the call trace.
func (fw *Firmware) ResetCalls() {
	fw.Calls = nil
}

// AddConfigurationTable publishes table under guid.
func (fw *Firmware) AddConfigurationTable(guid uefi.GUID, table unsafe.Pointer) {
	fw.configs = append(fw.configs, uefi.EFI_CONFIGURATION_TABLE{VendorGuid: guid, VendorTable: table})
	fw.st.ConfigurationTable = &fw.configs[0]
	fw.st.NumberOfTableEntries = uefi.UINTN(len(fw.configs))
	fw.seal()
}

// Corrupt flips a byte of the system table header checksum.
func (fw *Firmware) Corrupt() {
	fw.st.Hdr.CRC32 ^= 0xff
}

// seal computes the checksum of every table header.
func (fw *Firmware) seal() {
	for _, hdr := range []*uefi.EFI_TABLE_HEADER{&fw.st.Hdr, &fw.bs.Hdr, &fw.rt.Hdr} {
		hdr.CRC32 = 0
		hdr.CRC32 = hdr.CalculateCRC32()
	}
}

// at returns argument i as a typed pointer, nil when absent or null.
func at[T any](a []uintptr, i int) *T {
	if i >= len(a) || a[i] == 0 {
		return nil
	}
	return (*T)(unsafe.Pointer(a[i]))
}

func arg(a []uintptr, i int) uintptr {
	if i >= len(a) {
		return 0
	}
	return a[i]
}

func toUnits(s string) []uefi.Char16 {
	var units []uefi.Char16
	for _, r := range s {
		units = append(units, uefi.Char16(r))
	}
	return units
}

// unitsAt reads a null-terminated string from firmware arguments.
func unitsAt(p *uefi.Char16) []uefi.Char16 {
	if p == nil {
		return nil
	}
	var units []uefi.Char16
	for ptr := unsafe.Pointer(p); ; ptr = unsafe.Add(ptr, 2) {
		u := *(*uefi.Char16)(ptr)
		if u == 0 {
			return units
		}
		units = append(units, u)
	}
}

func unitsString(units []uefi.Char16) string {
	var b strings.Builder
	for _, u := range units {
		b.WriteRune(rune(u))
	}
	return b.String()
}

func (fw *Firmware) String() string {
	return fmt.Sprintf("uefitest.Firmware{handles: %d, pools: %d, exited: %v}", len(fw.handles), len(fw.pools), fw.exited)
}
