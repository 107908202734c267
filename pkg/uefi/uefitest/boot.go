package uefitest

import (
	"unsafe"

	"github.com/costinm/goefi/pkg/uefi"
)

type protocolEntry struct {
	guid  uefi.GUID
	iface unsafe.Pointer
	opens int
}

type handle struct {
	h         uefi.Handle
	protocols []*protocolEntry
}

type event struct {
	typ      uint32
	signaled bool
	deadline uint64
	period   uint64
}

type image struct {
	parent  uefi.Handle
	src     []byte
	path    []byte
	started bool
}

// NewHandle creates an empty handle.
func (fw *Firmware) NewHandle() uefi.Handle {
	h := fw.nextHandle
	fw.nextHandle += 0x10
	fw.handles = append(fw.handles, &handle{h: h})
	return h
}

// InstallProtocol installs iface under guid on h, creating the handle when h
// is 0, and returns the handle.
func (fw *Firmware) InstallProtocol(h uefi.Handle, guid uefi.GUID, iface unsafe.Pointer) uefi.Handle {
	if h == 0 {
		h = fw.NewHandle()
	}
	e := fw.handle(h)
	e.protocols = append(e.protocols, &protocolEntry{guid: guid, iface: iface})
	return h
}

// Handles lists the handles in the database, in creation order.
func (fw *Firmware) Handles() []uefi.Handle {
	out := make([]uefi.Handle, 0, len(fw.handles))
	for _, e := range fw.handles {
		out = append(out, e.h)
	}
	return out
}

// OpenCount returns how many times guid is currently open on h.
func (fw *Firmware) OpenCount(h uefi.Handle, guid uefi.GUID) int {
	if p := fw.protocol(h, guid); p != nil {
		return p.opens
	}
	return 0
}

// OutstandingPools returns the number of pool allocations not yet freed.
func (fw *Firmware) OutstandingPools() int {
	return len(fw.pools)
}

// OutstandingPages returns the number of page allocations not yet freed.
func (fw *Firmware) OutstandingPages() int {
	return len(fw.pages)
}

// Signal raises ev as if a device did.
func (fw *Firmware) Signal(ev uefi.Event) {
	if e, ok := fw.events[ev]; ok {
		e.signaled = true
	}
}

// Advance moves the firmware clock forward by ticks of 100ns.
func (fw *Firmware) Advance(ticks uint64) {
	fw.clock += ticks
	fw.pollTimers()
}

// Clock returns the firmware clock, in ticks of 100ns.
func (fw *Firmware) Clock() uint64 {
	return fw.clock
}

func (fw *Firmware) handle(h uefi.Handle) *handle {
	for _, e := range fw.handles {
		if e.h == h {
			return e
		}
	}
	return nil
}

func (fw *Firmware) protocol(h uefi.Handle, guid uefi.GUID) *protocolEntry {
	e := fw.handle(h)
	if e == nil {
		return nil
	}
	for _, p := range e.protocols {
		if p.guid == guid {
			return p
		}
	}
	return nil
}

func (fw *Firmware) search(searchType uintptr, guid *uefi.GUID) []uefi.Handle {
	var out []uefi.Handle
	for _, e := range fw.handles {
		switch searchType {
		case uefi.AllHandles:
			out = append(out, e.h)
		case uefi.ByProtocol:
			if guid != nil && fw.protocol(e.h, *guid) != nil {
				out = append(out, e.h)
			}
		}
	}
	return out
}

func (fw *Firmware) allocate(size uintptr) unsafe.Pointer {
	buf := make([]uint64, (size+7)/8+1)
	p := unsafe.Pointer(&buf[0])
	fw.pools[uintptr(p)] = buf
	fw.mapKey++
	return p
}

func (fw *Firmware) free(p unsafe.Pointer) uefi.Status {
	if _, ok := fw.pools[uintptr(p)]; !ok {
		return uefi.EFI_INVALID_PARAMETER
	}
	delete(fw.pools, uintptr(p))
	fw.mapKey++
	return uefi.EFI_SUCCESS
}

func (fw *Firmware) pollTimers() {
	for _, e := range fw.events {
		if e.deadline == 0 || e.deadline > fw.clock {
			continue
		}
		e.signaled = true
		if e.period > 0 {
			e.deadline += e.period
		} else {
			e.deadline = 0
		}
	}
	if fw.conIn != nil && len(fw.keys) > 0 {
		if e, ok := fw.events[fw.conIn.WaitForKey]; ok {
			e.signaled = true
		}
	}
}

func (fw *Firmware) nextDeadline() uint64 {
	var next uint64
	for _, e := range fw.events {
		if e.deadline != 0 && (next == 0 || e.deadline < next) {
			next = e.deadline
		}
	}
	return next
}

func (fw *Firmware) bootServices() *uefi.EFI_BOOT_SERVICES {
	bs := &uefi.EFI_BOOT_SERVICES{
		Hdr: uefi.EFI_TABLE_HEADER{
			Signature:  uefi.EFI_BOOT_SERVICES_SIGNATURE,
			Revision:   uefi.EFI_2_10_SYSTEM_TABLE_REVISION,
			HeaderSize: uint32(unsafe.Sizeof(uefi.EFI_BOOT_SERVICES{})),
		},
	}

	bs.RaiseTPL = fw.bootFunc("RaiseTPL", func(a []uintptr) uefi.Status {
		old := fw.tpl
		fw.tpl = uefi.EFI_TPL(arg(a, 0))
		return uefi.Status(old)
	})
	bs.RestoreTPL = fw.bootFunc("RestoreTPL", func(a []uintptr) uefi.Status {
		fw.tpl = uefi.EFI_TPL(arg(a, 0))
		return 0
	})

	bs.AllocatePages = fw.bootFunc("AllocatePages", func(a []uintptr) uefi.Status {
		out := at[uefi.EFI_PHYSICAL_ADDRESS](a, 3)
		pages := arg(a, 2)
		if out == nil || pages == 0 || arg(a, 1) >= uefi.EfiMaxMemoryType {
			return uefi.EFI_INVALID_PARAMETER
		}
		if arg(a, 0) == uefi.AllocateAddress {
			return uefi.EFI_NOT_FOUND
		}
		buf := make([]uint64, pages*uefi.PageSize/8)
		addr := uefi.EFI_PHYSICAL_ADDRESS(uintptr(unsafe.Pointer(&buf[0])))
		fw.pages[addr] = buf
		fw.mapKey++
		*out = addr
		return uefi.EFI_SUCCESS
	})
	bs.FreePages = fw.bootFunc("FreePages", func(a []uintptr) uefi.Status {
		addr := uefi.EFI_PHYSICAL_ADDRESS(arg(a, 0))
		buf, ok := fw.pages[addr]
		if !ok || uintptr(len(buf)*8/uefi.PageSize) != arg(a, 1) {
			return uefi.EFI_NOT_FOUND
		}
		delete(fw.pages, addr)
		fw.mapKey++
		return uefi.EFI_SUCCESS
	})

	bs.GetMemoryMap = fw.bootFunc("GetMemoryMap", func(a []uintptr) uefi.Status {
		if fw.OnGetMemoryMap != nil {
			fw.OnGetMemoryMap()
		}

		size := at[uefi.UINTN](a, 0)
		key := at[uefi.UINTN](a, 2)
		descSize := at[uefi.UINTN](a, 3)
		version := at[uint32](a, 4)
		if size == nil || key == nil || descSize == nil || version == nil {
			return uefi.EFI_INVALID_PARAMETER
		}

		need := uefi.UINTN(len(fw.Memory) * descriptorSize)
		*descSize = descriptorSize
		*version = 1

		if *size < need {
			*size = need
			return uefi.EFI_BUFFER_TOO_SMALL
		}
		if arg(a, 1) == 0 {
			return uefi.EFI_INVALID_PARAMETER
		}

		base := unsafe.Pointer(arg(a, 1))
		for i, d := range fw.Memory {
			*(*uefi.EFI_MEMORY_DESCRIPTOR)(unsafe.Add(base, i*descriptorSize)) = d
		}
		*size = need
		*key = fw.mapKey
		return uefi.EFI_SUCCESS
	})

	bs.AllocatePool = fw.bootFunc("AllocatePool", func(a []uintptr) uefi.Status {
		out := at[unsafe.Pointer](a, 2)
		if out == nil || arg(a, 0) >= uefi.EfiMaxMemoryType {
			return uefi.EFI_INVALID_PARAMETER
		}
		*out = fw.allocate(arg(a, 1))
		return uefi.EFI_SUCCESS
	})
	bs.FreePool = fw.bootFunc("FreePool", func(a []uintptr) uefi.Status {
		return fw.free(unsafe.Pointer(arg(a, 0)))
	})

	bs.CreateEvent = fw.bootFunc("CreateEvent", func(a []uintptr) uefi.Status {
		out := at[uefi.Event](a, 4)
		if out == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		ev := fw.nextEvent
		fw.nextEvent++
		fw.events[ev] = &event{typ: uint32(arg(a, 0))}
		*out = ev
		return uefi.EFI_SUCCESS
	})
	bs.SetTimer = fw.bootFunc("SetTimer", func(a []uintptr) uefi.Status {
		e, ok := fw.events[uefi.Event(arg(a, 0))]
		if !ok || e.typ&uefi.EVT_TIMER == 0 {
			return uefi.EFI_INVALID_PARAMETER
		}
		trigger := uint64(arg(a, 2))
		switch arg(a, 1) {
		case uefi.TimerCancel:
			e.deadline, e.period = 0, 0
		case uefi.TimerRelative:
			e.deadline, e.period = fw.clock+max(trigger, 1), 0
		case uefi.TimerPeriodic:
			e.deadline, e.period = fw.clock+max(trigger, 1), max(trigger, 1)
		default:
			return uefi.EFI_INVALID_PARAMETER
		}
		return uefi.EFI_SUCCESS
	})
	bs.WaitForEvent = fw.bootFunc("WaitForEvent", func(a []uintptr) uefi.Status {
		n := int(arg(a, 0))
		index := at[uefi.UINTN](a, 2)
		if n == 0 || arg(a, 1) == 0 || index == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		events := unsafe.Slice(at[uefi.Event](a, 1), n)

		for {
			fw.pollTimers()
			for i, ev := range events {
				e, ok := fw.events[ev]
				if !ok || e.typ&uefi.EVT_NOTIFY_SIGNAL != 0 {
					*index = uefi.UINTN(i)
					return uefi.EFI_INVALID_PARAMETER
				}
				if e.signaled {
					e.signaled = false
					*index = uefi.UINTN(i)
					return uefi.EFI_SUCCESS
				}
			}
			next := fw.nextDeadline()
			if next == 0 {
				// nothing would ever wake the caller
				return uefi.EFI_UNSUPPORTED
			}
			fw.clock = next
		}
	})
	bs.SignalEvent = fw.bootFunc("SignalEvent", func(a []uintptr) uefi.Status {
		e, ok := fw.events[uefi.Event(arg(a, 0))]
		if !ok {
			return uefi.EFI_INVALID_PARAMETER
		}
		e.signaled = true
		return uefi.EFI_SUCCESS
	})
	bs.CloseEvent = fw.bootFunc("CloseEvent", func(a []uintptr) uefi.Status {
		ev := uefi.Event(arg(a, 0))
		if _, ok := fw.events[ev]; !ok {
			return uefi.EFI_INVALID_PARAMETER
		}
		delete(fw.events, ev)
		return uefi.EFI_SUCCESS
	})
	bs.CheckEvent = fw.bootFunc("CheckEvent", func(a []uintptr) uefi.Status {
		e, ok := fw.events[uefi.Event(arg(a, 0))]
		if !ok || e.typ&uefi.EVT_NOTIFY_SIGNAL != 0 {
			return uefi.EFI_INVALID_PARAMETER
		}
		fw.pollTimers()
		if !e.signaled {
			return uefi.EFI_NOT_READY
		}
		e.signaled = false
		return uefi.EFI_SUCCESS
	})

	bs.InstallProtocolInterface = fw.bootFunc("InstallProtocolInterface", func(a []uintptr) uefi.Status {
		h := at[uefi.Handle](a, 0)
		guid := at[uefi.GUID](a, 1)
		if h == nil || guid == nil || arg(a, 2) != 0 {
			return uefi.EFI_INVALID_PARAMETER
		}
		if *h != 0 {
			if fw.handle(*h) == nil {
				return uefi.EFI_INVALID_PARAMETER
			}
			if fw.protocol(*h, *guid) != nil {
				return uefi.EFI_INVALID_PARAMETER
			}
		}
		*h = fw.InstallProtocol(*h, *guid, unsafe.Pointer(arg(a, 3)))
		return uefi.EFI_SUCCESS
	})
	bs.UninstallProtocolInterface = fw.bootFunc("UninstallProtocolInterface", func(a []uintptr) uefi.Status {
		e := fw.handle(uefi.Handle(arg(a, 0)))
		guid := at[uefi.GUID](a, 1)
		if e == nil || guid == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		for i, p := range e.protocols {
			if p.guid != *guid || uintptr(p.iface) != arg(a, 2) {
				continue
			}
			if p.opens > 0 {
				return uefi.EFI_ACCESS_DENIED
			}
			e.protocols = append(e.protocols[:i], e.protocols[i+1:]...)
			return uefi.EFI_SUCCESS
		}
		return uefi.EFI_NOT_FOUND
	})
	bs.HandleProtocol = fw.bootFunc("HandleProtocol", func(a []uintptr) uefi.Status {
		guid := at[uefi.GUID](a, 1)
		out := at[unsafe.Pointer](a, 2)
		if guid == nil || out == nil || fw.handle(uefi.Handle(arg(a, 0))) == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		p := fw.protocol(uefi.Handle(arg(a, 0)), *guid)
		if p == nil {
			*out = nil
			return uefi.EFI_UNSUPPORTED
		}
		*out = p.iface
		return uefi.EFI_SUCCESS
	})
	bs.LocateHandle = fw.bootFunc("LocateHandle", func(a []uintptr) uefi.Status {
		size := at[uefi.UINTN](a, 3)
		if size == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		found := fw.search(arg(a, 0), at[uefi.GUID](a, 1))
		if len(found) == 0 {
			return uefi.EFI_NOT_FOUND
		}
		need := uefi.UINTN(len(found)) * uefi.UINTN(unsafe.Sizeof(uefi.Handle(0)))
		if *size < need {
			*size = need
			return uefi.EFI_BUFFER_TOO_SMALL
		}
		copy(unsafe.Slice(at[uefi.Handle](a, 4), len(found)), found)
		*size = need
		return uefi.EFI_SUCCESS
	})
	bs.LocateHandleBuffer = fw.bootFunc("LocateHandleBuffer", func(a []uintptr) uefi.Status {
		n := at[uefi.UINTN](a, 3)
		out := at[*uefi.Handle](a, 4)
		if n == nil || out == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		found := fw.search(arg(a, 0), at[uefi.GUID](a, 1))
		if len(found) == 0 {
			*n = 0
			return uefi.EFI_NOT_FOUND
		}
		buf := (*uefi.Handle)(fw.allocate(uintptr(len(found)) * unsafe.Sizeof(uefi.Handle(0))))
		copy(unsafe.Slice(buf, len(found)), found)
		*n = uefi.UINTN(len(found))
		*out = buf
		return uefi.EFI_SUCCESS
	})
	bs.LocateProtocol = fw.bootFunc("LocateProtocol", func(a []uintptr) uefi.Status {
		guid := at[uefi.GUID](a, 0)
		out := at[unsafe.Pointer](a, 2)
		if guid == nil || out == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		for _, e := range fw.handles {
			if p := fw.protocol(e.h, *guid); p != nil {
				*out = p.iface
				return uefi.EFI_SUCCESS
			}
		}
		*out = nil
		return uefi.EFI_NOT_FOUND
	})
	bs.OpenProtocol = fw.bootFunc("OpenProtocol", func(a []uintptr) uefi.Status {
		guid := at[uefi.GUID](a, 1)
		out := at[unsafe.Pointer](a, 2)
		attrs := arg(a, 5)
		if guid == nil || fw.handle(uefi.Handle(arg(a, 0))) == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		if out == nil && attrs != uefi.EFI_OPEN_PROTOCOL_TEST_PROTOCOL {
			return uefi.EFI_INVALID_PARAMETER
		}
		p := fw.protocol(uefi.Handle(arg(a, 0)), *guid)
		if p == nil {
			return uefi.EFI_UNSUPPORTED
		}
		if attrs&uefi.EFI_OPEN_PROTOCOL_EXCLUSIVE != 0 && p.opens > 0 {
			return uefi.EFI_ACCESS_DENIED
		}
		if attrs != uefi.EFI_OPEN_PROTOCOL_TEST_PROTOCOL {
			*out = p.iface
			p.opens++
		}
		return uefi.EFI_SUCCESS
	})
	bs.CloseProtocol = fw.bootFunc("CloseProtocol", func(a []uintptr) uefi.Status {
		guid := at[uefi.GUID](a, 1)
		if guid == nil || fw.handle(uefi.Handle(arg(a, 0))) == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		p := fw.protocol(uefi.Handle(arg(a, 0)), *guid)
		if p == nil || p.opens == 0 {
			return uefi.EFI_NOT_FOUND
		}
		p.opens--
		return uefi.EFI_SUCCESS
	})
	bs.ProtocolsPerHandle = fw.bootFunc("ProtocolsPerHandle", func(a []uintptr) uefi.Status {
		e := fw.handle(uefi.Handle(arg(a, 0)))
		out := at[**uefi.GUID](a, 1)
		n := at[uefi.UINTN](a, 2)
		if e == nil || out == nil || n == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		buf := (**uefi.GUID)(fw.allocate(uintptr(len(e.protocols)) * unsafe.Sizeof(uintptr(0))))
		list := unsafe.Slice(buf, len(e.protocols))
		for i, p := range e.protocols {
			list[i] = &p.guid
		}
		*out = buf
		*n = uefi.UINTN(len(e.protocols))
		return uefi.EFI_SUCCESS
	})

	bs.LoadImage = fw.bootFunc("LoadImage", func(a []uintptr) uefi.Status {
		out := at[uefi.Handle](a, 5)
		if out == nil || fw.handle(uefi.Handle(arg(a, 1))) == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		if arg(a, 3) == 0 {
			// loading from a device path is not simulated
			return uefi.EFI_NOT_FOUND
		}
		src := append([]byte(nil), unsafe.Slice(at[byte](a, 3), int(arg(a, 4)))...)
		if len(src) < 2 || src[0] != 'M' || src[1] != 'Z' {
			return uefi.EFI_LOAD_ERROR
		}
		img := &image{parent: uefi.Handle(arg(a, 1)), src: src}
		if arg(a, 2) != 0 {
			img.path = devicePathBytes(unsafe.Pointer(arg(a, 2)))
		}
		h := fw.InstallProtocol(0, loadedImageGUID, unsafe.Pointer(fw.newLoadedImage(img.parent, 0, img.path, img.src)))
		fw.images[h] = img
		if fw.OnLoadImage != nil {
			fw.OnLoadImage(h, src)
		}
		*out = h
		return uefi.EFI_SUCCESS
	})
	bs.StartImage = fw.bootFunc("StartImage", func(a []uintptr) uefi.Status {
		img, ok := fw.images[uefi.Handle(arg(a, 0))]
		if !ok || img.started {
			return uefi.EFI_INVALID_PARAMETER
		}
		img.started = true

		status, data := uefi.EFI_SUCCESS, []byte(nil)
		if fw.OnStartImage != nil {
			status, data = fw.OnStartImage(uefi.Handle(arg(a, 0)))
		}

		if size, out := at[uefi.UINTN](a, 1), at[unsafe.Pointer](a, 2); size != nil && out != nil {
			*size, *out = 0, nil
			if len(data) > 0 {
				p := fw.allocate(uintptr(len(data)))
				copy(unsafe.Slice((*byte)(p), len(data)), data)
				*size, *out = uefi.UINTN(len(data)), p
			}
		}
		return status
	})
	bs.Exit = fw.bootFunc("Exit", func(a []uintptr) uefi.Status {
		if uefi.Handle(arg(a, 0)) != fw.Image {
			return uefi.EFI_INVALID_PARAMETER
		}
		fw.ImageExited = true
		fw.ExitCode = uefi.Status(arg(a, 1))
		return uefi.EFI_SUCCESS
	})
	bs.UnloadImage = fw.bootFunc("UnloadImage", func(a []uintptr) uefi.Status {
		h := uefi.Handle(arg(a, 0))
		img, ok := fw.images[h]
		if !ok {
			return uefi.EFI_INVALID_PARAMETER
		}
		if img.started {
			return uefi.EFI_UNSUPPORTED
		}
		delete(fw.images, h)
		for i, e := range fw.handles {
			if e.h == h {
				fw.handles = append(fw.handles[:i], fw.handles[i+1:]...)
				break
			}
		}
		return uefi.EFI_SUCCESS
	})
	bs.ExitBootServices = fw.bootFunc("ExitBootServices", func(a []uintptr) uefi.Status {
		if uefi.Handle(arg(a, 0)) != fw.Image {
			return uefi.EFI_INVALID_PARAMETER
		}
		if fw.ExitFailures > 0 {
			fw.ExitFailures--
			fw.mapKey++
			return uefi.EFI_INVALID_PARAMETER
		}
		if uefi.UINTN(arg(a, 1)) != fw.mapKey {
			return uefi.EFI_INVALID_PARAMETER
		}
		fw.exited = true

		// boot time fields are cleared by firmware
		fw.st.ConsoleInHandle, fw.st.ConIn = 0, nil
		fw.st.ConsoleOutHandle, fw.st.ConOut = 0, nil
		fw.st.StandardErrorHandle, fw.st.StdErr = 0, nil
		fw.st.BootServices = nil
		fw.seal()

		return uefi.EFI_SUCCESS
	})

	bs.GetNextMonotonicCount = fw.bootFunc("GetNextMonotonicCount", func(a []uintptr) uefi.Status {
		out := at[uint64](a, 0)
		if out == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		fw.monotonic++
		*out = uint64(fw.highMonotonic)<<32 | fw.monotonic
		return uefi.EFI_SUCCESS
	})
	bs.Stall = fw.bootFunc("Stall", func(a []uintptr) uefi.Status {
		fw.Advance(uint64(arg(a, 0)) * 10)
		return uefi.EFI_SUCCESS
	})
	bs.SetWatchdogTimer = fw.bootFunc("SetWatchdogTimer", func(a []uintptr) uefi.Status {
		fw.Watchdog = int(arg(a, 0))
		return uefi.EFI_SUCCESS
	})

	bs.ConnectController = fw.bootFunc("ConnectController", func(a []uintptr) uefi.Status {
		if fw.handle(uefi.Handle(arg(a, 0))) == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		return uefi.EFI_SUCCESS
	})
	bs.DisconnectController = fw.bootFunc("DisconnectController", func(a []uintptr) uefi.Status {
		if fw.handle(uefi.Handle(arg(a, 0))) == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		return uefi.EFI_SUCCESS
	})

	return bs
}
