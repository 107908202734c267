package uefi

import (
	"unsafe"
)

// EFI_ALLOCATE_TYPE
const (
	AllocateAnyPages = iota
	AllocateMaxAddress
	AllocateAddress
)

// EFI_MEMORY_TYPE
const (
	EfiReservedMemoryType = iota
	EfiLoaderCode
	EfiLoaderData
	EfiBootServicesCode
	EfiBootServicesData
	EfiRuntimeServicesCode
	EfiRuntimeServicesData
	EfiConventionalMemory
	EfiUnusableMemory
	EfiACPIReclaimMemory
	EfiACPIMemoryNVS
	EfiMemoryMappedIO
	EfiMemoryMappedIOPortSpace
	EfiPalCode
	EfiPersistentMemory
	EfiUnacceptedMemoryType
	EfiMaxMemoryType
)

// PageSize is the UEFI page size.
const PageSize = 4096

// EFI_TIMER_DELAY
const (
	TimerCancel = iota
	TimerPeriodic
	TimerRelative
)

// Event types.
const (
	EVT_TIMER                         = 0x80000000
	EVT_RUNTIME                       = 0x40000000
	EVT_NOTIFY_WAIT                   = 0x00000100
	EVT_NOTIFY_SIGNAL                 = 0x00000200
	EVT_SIGNAL_EXIT_BOOT_SERVICES     = 0x00000201
	EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE = 0x60000202
)

// EFI_LOCATE_SEARCH_TYPE
const (
	AllHandles = iota
	ByRegisterNotify
	ByProtocol
)

// OpenProtocol attributes.
const (
	EFI_OPEN_PROTOCOL_BY_HANDLE_PROTOCOL  = 0x00000001
	EFI_OPEN_PROTOCOL_GET_PROTOCOL        = 0x00000002
	EFI_OPEN_PROTOCOL_TEST_PROTOCOL       = 0x00000004
	EFI_OPEN_PROTOCOL_BY_CHILD_CONTROLLER = 0x00000008
	EFI_OPEN_PROTOCOL_BY_DRIVER           = 0x00000010
	EFI_OPEN_PROTOCOL_EXCLUSIVE           = 0x00000020
)

const (
	efiNativeInterface = 0
	maxMemoryMapTries  = 4
)

// EFI_MEMORY_DESCRIPTOR
type EFI_MEMORY_DESCRIPTOR struct {
	Type          uint32
	_             uint32
	PhysicalStart EFI_PHYSICAL_ADDRESS
	VirtualStart  EFI_VIRTUAL_ADDRESS
	NumberOfPages uint64
	Attribute     uint64
}

// End returns the first address past the region.
func (d *EFI_MEMORY_DESCRIPTOR) End() EFI_PHYSICAL_ADDRESS {
	return d.PhysicalStart + EFI_PHYSICAL_ADDRESS(d.NumberOfPages*PageSize)
}

// MemoryMap is a snapshot of the firmware memory map.
type MemoryMap struct {
	// Key identifies the snapshot for ExitBootServices.
	Key               UINTN
	DescriptorSize    UINTN
	DescriptorVersion uint32
	Descriptors       []EFI_MEMORY_DESCRIPTOR
}

// BootServices wraps the boot services table. Every method fails with
// StatusServicesExited once boot services exit.
type BootServices struct {
	raw   *EFI_BOOT_SERVICES
	c     *Caller
	image Handle
}

// Valid reports whether boot services are still available.
func (bs *BootServices) Valid() bool {
	return bs.c.Valid()
}

// Caller returns the caller bound to the boot scope, for invoking interfaces
// that are not represented as a Ref.
func (bs *BootServices) Caller() *Caller {
	return bs.c
}

// ImageHandle returns the handle of the running image.
func (bs *BootServices) ImageHandle() Handle {
	return bs.image
}

// RaiseTPL raises the task priority level and returns the previous one.
func (bs *BootServices) RaiseTPL(tpl EFI_TPL) Result[EFI_TPL] {
	old, status := bs.c.Value(&bs.raw.RaiseTPL, uintptr(tpl))
	return FromStatus(status, EFI_TPL(old))
}

// RestoreTPL restores a level returned by RaiseTPL.
func (bs *BootServices) RestoreTPL(tpl EFI_TPL) Result[Unit] {
	_, status := bs.c.Value(&bs.raw.RestoreTPL, uintptr(tpl))
	return Done(status)
}

// AllocatePages allocates pages of memType memory. addr is only used by
// AllocateMaxAddress and AllocateAddress.
func (bs *BootServices) AllocatePages(allocType int, memType int, pages int, addr EFI_PHYSICAL_ADDRESS) Result[EFI_PHYSICAL_ADDRESS] {
	status := bs.c.Call(&bs.raw.AllocatePages,
		uintptr(allocType),
		uintptr(memType),
		uintptr(pages),
		uintptr(unsafe.Pointer(&addr)),
	)
	return FromStatus(status, addr)
}

// FreePages releases pages returned by AllocatePages.
func (bs *BootServices) FreePages(addr EFI_PHYSICAL_ADDRESS, pages int) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.FreePages, uintptr(addr), uintptr(pages)))
}

// GetMemoryMap returns the current memory map. The buffer is sized by a first
// call and grown until firmware accepts it, as allocating it may itself
// change the map.
func (bs *BootServices) GetMemoryMap() Result[*MemoryMap] {
	var (
		key, descSize UINTN
		version       uint32
		buf           []uint64
	)

	for range maxMemoryMapTries {
		var p *uint64
		if len(buf) > 0 {
			p = &buf[0]
		}
		size := UINTN(len(buf) * 8)

		status := bs.c.Call(&bs.raw.GetMemoryMap,
			uintptr(unsafe.Pointer(&size)),
			uintptr(unsafe.Pointer(p)),
			uintptr(unsafe.Pointer(&key)),
			uintptr(unsafe.Pointer(&descSize)),
			uintptr(unsafe.Pointer(&version)),
		)

		if status != EFI_BUFFER_TOO_SMALL {
			return FromStatusFunc(status, func() *MemoryMap {
				return parseMemoryMap(buf, size, key, descSize, version)
			})
		}

		size += 2 * descSize
		buf = make([]uint64, (size+7)/8)
	}

	return Fail[*MemoryMap](EFI_BUFFER_TOO_SMALL)
}

func parseMemoryMap(buf []uint64, size, key, descSize UINTN, version uint32) *MemoryMap {
	mm := &MemoryMap{
		Key:               key,
		DescriptorSize:    descSize,
		DescriptorVersion: version,
	}

	if descSize < UINTN(unsafe.Sizeof(EFI_MEMORY_DESCRIPTOR{})) || len(buf) == 0 {
		return mm
	}

	n := int(size / descSize)
	base := unsafe.Pointer(&buf[0])
	mm.Descriptors = make([]EFI_MEMORY_DESCRIPTOR, n)

	for i := range n {
		mm.Descriptors[i] = *(*EFI_MEMORY_DESCRIPTOR)(unsafe.Add(base, uintptr(i)*uintptr(descSize)))
	}

	return mm
}

// AllocatePool allocates size bytes of memType memory.
func (bs *BootServices) AllocatePool(memType int, size int) Result[unsafe.Pointer] {
	var addr unsafe.Pointer
	status := bs.c.Call(&bs.raw.AllocatePool,
		uintptr(memType),
		uintptr(size),
		uintptr(unsafe.Pointer(&addr)),
	)
	return FromStatus(status, addr)
}

// FreePool releases memory returned by AllocatePool, or by a service that
// documents its buffer as pool memory.
func (bs *BootServices) FreePool(addr unsafe.Pointer) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.FreePool, uintptr(addr)))
}

// CreateEvent creates an event. notify is the address of a native
// notification function, or 0.
func (bs *BootServices) CreateEvent(typ uint32, tpl EFI_TPL, notify uintptr, context unsafe.Pointer) Result[Event] {
	var ev Event
	status := bs.c.Call(&bs.raw.CreateEvent,
		uintptr(typ),
		uintptr(tpl),
		notify,
		uintptr(context),
		uintptr(unsafe.Pointer(&ev)),
	)
	return FromStatus(status, ev)
}

// SetTimer arms a timer event, with trigger expressed in 100ns units.
func (bs *BootServices) SetTimer(ev Event, delay int, trigger uint64) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.SetTimer, uintptr(ev), uintptr(delay), uintptr(trigger)))
}

// WaitForEvent blocks until one of events is signaled and returns its index.
func (bs *BootServices) WaitForEvent(events ...Event) Result[int] {
	if len(events) == 0 {
		return Fail[int](EFI_INVALID_PARAMETER)
	}

	var index UINTN
	status := bs.c.Call(&bs.raw.WaitForEvent,
		uintptr(len(events)),
		uintptr(unsafe.Pointer(&events[0])),
		uintptr(unsafe.Pointer(&index)),
	)
	return FromStatus(status, int(index))
}

// SignalEvent signals ev.
func (bs *BootServices) SignalEvent(ev Event) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.SignalEvent, uintptr(ev)))
}

// CloseEvent closes ev.
func (bs *BootServices) CloseEvent(ev Event) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.CloseEvent, uintptr(ev)))
}

// CheckEvent reports EFI_SUCCESS when ev is signaled and EFI_NOT_READY when
// it is not.
func (bs *BootServices) CheckEvent(ev Event) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.CheckEvent, uintptr(ev)))
}

// InstallProtocolInterface installs iface under guid on h, creating a new
// handle when h is 0, and returns the handle.
func (bs *BootServices) InstallProtocolInterface(h Handle, guid GUID, iface unsafe.Pointer) Result[Handle] {
	status := bs.c.Call(&bs.raw.InstallProtocolInterface,
		uintptr(unsafe.Pointer(&h)),
		uintptr(unsafe.Pointer(&guid)),
		efiNativeInterface,
		uintptr(iface),
	)
	return FromStatus(status, h)
}

// UninstallProtocolInterface removes iface, installed under guid, from h.
func (bs *BootServices) UninstallProtocolInterface(h Handle, guid GUID, iface unsafe.Pointer) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.UninstallProtocolInterface,
		uintptr(h),
		uintptr(unsafe.Pointer(&guid)),
		uintptr(iface),
	))
}

// HandleProtocol returns the interface installed under guid on h.
func (bs *BootServices) HandleProtocol(h Handle, guid GUID) Result[unsafe.Pointer] {
	var iface unsafe.Pointer
	status := bs.c.Call(&bs.raw.HandleProtocol,
		uintptr(h),
		uintptr(unsafe.Pointer(&guid)),
		uintptr(unsafe.Pointer(&iface)),
	)
	return FromStatus(status, iface)
}

// LocateHandle lists handles into a caller sized buffer, sized by a first
// call. guid is only used with ByProtocol.
func (bs *BootServices) LocateHandle(searchType int, guid *GUID) Result[[]Handle] {
	var size UINTN
	var handles []Handle

	for range maxMemoryMapTries {
		var p *Handle
		if len(handles) > 0 {
			p = &handles[0]
		}
		size = UINTN(len(handles)) * UINTN(unsafe.Sizeof(Handle(0)))

		status := bs.c.Call(&bs.raw.LocateHandle,
			uintptr(searchType),
			uintptr(unsafe.Pointer(guid)),
			0,
			uintptr(unsafe.Pointer(&size)),
			uintptr(unsafe.Pointer(p)),
		)

		if status != EFI_BUFFER_TOO_SMALL {
			return FromStatusFunc(status, func() []Handle {
				return handles[:size/UINTN(unsafe.Sizeof(Handle(0)))]
			})
		}

		handles = make([]Handle, size/UINTN(unsafe.Sizeof(Handle(0))))
	}

	return Fail[[]Handle](EFI_BUFFER_TOO_SMALL)
}

// LocateHandleBuffer lists handles into a firmware allocated buffer, which is
// copied and released. guid is only used with ByProtocol.
func (bs *BootServices) LocateHandleBuffer(searchType int, guid *GUID) Result[[]Handle] {
	var n UINTN
	var buf *Handle

	status := bs.c.Call(&bs.raw.LocateHandleBuffer,
		uintptr(searchType),
		uintptr(unsafe.Pointer(guid)),
		0,
		uintptr(unsafe.Pointer(&n)),
		uintptr(unsafe.Pointer(&buf)),
	)
	if status.IsError() {
		return Fail[[]Handle](status)
	}

	var handles []Handle
	if buf != nil && n > 0 {
		handles = append(handles, unsafe.Slice(buf, int(n))...)
	}

	if buf != nil {
		if r, failed := Propagate[[]Handle](bs.FreePool(unsafe.Pointer(buf))); failed {
			return r
		}
	}

	return FromStatus(status, handles)
}

// LocateProtocol returns the first interface installed under guid.
func (bs *BootServices) LocateProtocol(guid GUID) Result[unsafe.Pointer] {
	var iface unsafe.Pointer
	status := bs.c.Call(&bs.raw.LocateProtocol,
		uintptr(unsafe.Pointer(&guid)),
		0,
		uintptr(unsafe.Pointer(&iface)),
	)
	return FromStatus(status, iface)
}

// OpenProtocol opens the interface installed under guid on h.
func (bs *BootServices) OpenProtocol(h Handle, guid GUID, agent, controller Handle, attributes uint32) Result[unsafe.Pointer] {
	var iface unsafe.Pointer
	status := bs.c.Call(&bs.raw.OpenProtocol,
		uintptr(h),
		uintptr(unsafe.Pointer(&guid)),
		uintptr(unsafe.Pointer(&iface)),
		uintptr(agent),
		uintptr(controller),
		uintptr(attributes),
	)
	return FromStatus(status, iface)
}

// CloseProtocol closes an interface opened with OpenProtocol.
func (bs *BootServices) CloseProtocol(h Handle, guid GUID, agent, controller Handle) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.CloseProtocol,
		uintptr(h),
		uintptr(unsafe.Pointer(&guid)),
		uintptr(agent),
		uintptr(controller),
	))
}

// ProtocolsPerHandle lists the protocols installed on h.
func (bs *BootServices) ProtocolsPerHandle(h Handle) Result[[]GUID] {
	var buf **GUID
	var n UINTN

	status := bs.c.Call(&bs.raw.ProtocolsPerHandle,
		uintptr(h),
		uintptr(unsafe.Pointer(&buf)),
		uintptr(unsafe.Pointer(&n)),
	)
	if status.IsError() {
		return Fail[[]GUID](status)
	}

	var guids []GUID
	if buf != nil {
		for _, g := range unsafe.Slice(buf, int(n)) {
			guids = append(guids, *g)
		}
		if r, failed := Propagate[[]GUID](bs.FreePool(unsafe.Pointer(buf))); failed {
			return r
		}
	}

	return FromStatus(status, guids)
}

// LoadImage loads an image from src, or when src is empty from devicePath,
// and returns its handle.
func (bs *BootServices) LoadImage(bootPolicy bool, parent Handle, devicePath unsafe.Pointer, src []byte) Result[Handle] {
	var h Handle
	var p *byte
	if len(src) > 0 {
		p = &src[0]
	}

	status := bs.c.Call(&bs.raw.LoadImage,
		convertBool(bootPolicy),
		uintptr(parent),
		uintptr(devicePath),
		uintptr(unsafe.Pointer(p)),
		uintptr(len(src)),
		uintptr(unsafe.Pointer(&h)),
	)
	return FromStatus(status, h)
}

// StartImage transfers control to a loaded image. The exit data the image
// passed to Exit, if any, is returned next to the status, whatever it is.
func (bs *BootServices) StartImage(h Handle) (Result[Unit], []byte) {
	var size UINTN
	var data *byte

	status := bs.c.Call(&bs.raw.StartImage,
		uintptr(h),
		uintptr(unsafe.Pointer(&size)),
		uintptr(unsafe.Pointer(&data)),
	)

	var exitData []byte
	if data != nil {
		exitData = append(exitData, unsafe.Slice(data, int(size))...)
		if r, failed := Propagate[Unit](bs.FreePool(unsafe.Pointer(data))); failed && !status.IsError() {
			return r, exitData
		}
	}

	return Done(status), exitData
}

// UnloadImage unloads an image that was loaded but not started, or that
// supports unloading.
func (bs *BootServices) UnloadImage(h Handle) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.UnloadImage, uintptr(h)))
}

// Exit terminates the running image with status. On success it does not
// return.
func (bs *BootServices) Exit(status Status) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.Exit, uintptr(bs.image), uintptr(status), 0, 0))
}

func (bs *BootServices) exitBootServices(key UINTN) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.ExitBootServices, uintptr(bs.image), uintptr(key)))
}

// GetNextMonotonicCount returns the next value of the boot time counter.
func (bs *BootServices) GetNextMonotonicCount() Result[uint64] {
	var count uint64
	status := bs.c.Call(&bs.raw.GetNextMonotonicCount, uintptr(unsafe.Pointer(&count)))
	return FromStatus(status, count)
}

// Stall busy waits for usec microseconds.
func (bs *BootServices) Stall(usec int) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.Stall, uintptr(usec)))
}

// SetWatchdogTimer sets the watchdog to timeout seconds; 0 disables it.
func (bs *BootServices) SetWatchdogTimer(timeout int) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.SetWatchdogTimer, uintptr(timeout), 0, 0, 0))
}

// ConnectController connects all drivers to controller h.
func (bs *BootServices) ConnectController(h Handle, recursive bool) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.ConnectController, uintptr(h), 0, 0, convertBool(recursive)))
}

// DisconnectController disconnects driver, or all drivers when 0, from
// controller h.
func (bs *BootServices) DisconnectController(h, driver, child Handle) Result[Unit] {
	return Done(bs.c.Call(&bs.raw.DisconnectController, uintptr(h), uintptr(driver), uintptr(child)))
}
