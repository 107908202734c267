package uefi

import (
	"unsafe"
)

// Protocol binds a raw interface layout to the GUID firmware knows it by. It
// is implemented on the pointer to the layout and must not dereference its
// receiver, so the GUID can be read from a nil *P.
//
//	func (*EFI_LOADED_IMAGE_PROTOCOL) ProtocolGUID() uefi.GUID { return EFI_LOADED_IMAGE_PROTOCOL_GUID }
type Protocol interface {
	ProtocolGUID() GUID
}

// GUIDOf returns the GUID bound to protocol layout P.
func GUIDOf[P any, PP interface {
	*P
	Protocol
}]() GUID {
	return PP(nil).ProtocolGUID()
}

// Ref is a typed reference to protocol interface P installed on a handle. It
// shares the boot scope of the services that resolved it: once boot services
// exit, Interface fails and every call made through the reference returns
// StatusServicesExited without touching firmware memory.
type Ref[P any] struct {
	iface  *P
	handle Handle
	caller *Caller
}

// NewRef builds a reference resolved by other means, for instance a protocol
// installed by the image itself. It is bound to the scope of bs.
func NewRef[P any](bs *BootServices, h Handle, iface *P) Ref[P] {
	return Ref[P]{iface: iface, handle: h, caller: bs.c}
}

// Handle returns the handle the interface was found on, or 0 when it was
// located without one.
func (r Ref[P]) Handle() Handle {
	return r.handle
}

// Valid reports whether the interface can still be used.
func (r Ref[P]) Valid() bool {
	return r.iface != nil && r.caller.Valid()
}

// Interface returns the interface for direct field access.
func (r Ref[P]) Interface() (*P, error) {
	if r.iface == nil {
		return nil, ErrNotFound
	}
	if !r.caller.Valid() {
		return nil, ErrServicesExited
	}
	return r.iface, nil
}

// Bind returns the interface address and the caller its function slots must
// be invoked through. Neither is dereferenced, so Bind is safe after exit:
// a call made through the returned caller then fails cleanly.
//
//	p, c := r.Bind()
//	status := c.Call(&p.Reset, uintptr(unsafe.Pointer(p)), convertBool(extended))
func (r Ref[P]) Bind() (*P, *Caller) {
	return r.iface, r.caller
}

func resolved[P any](bs *BootServices, h Handle) func(unsafe.Pointer) Ref[P] {
	return func(iface unsafe.Pointer) Ref[P] {
		return Ref[P]{iface: (*P)(iface), handle: h, caller: bs.c}
	}
}

// nonNull rejects a completion without an interface, which a conforming
// firmware never returns.
func nonNull(r Result[unsafe.Pointer]) Result[unsafe.Pointer] {
	if !r.IsError() && r.value == nil {
		return Fail[unsafe.Pointer](EFI_NOT_FOUND)
	}
	return r
}

// HandleProtocol resolves protocol P on handle h. A handle without P yields
// EFI_UNSUPPORTED, as reported by firmware.
func HandleProtocol[P any, PP interface {
	*P
	Protocol
}](bs *BootServices, h Handle) Result[Ref[P]] {
	return Map(nonNull(bs.HandleProtocol(h, GUIDOf[P, PP]())), resolved[P](bs, h))
}

// OpenProtocol opens protocol P on handle h on behalf of agent and
// controller. Interfaces opened with EFI_OPEN_PROTOCOL_TEST_PROTOCOL carry no
// pointer and are not representable as Ref; use BootServices.OpenProtocol.
func OpenProtocol[P any, PP interface {
	*P
	Protocol
}](bs *BootServices, h, agent, controller Handle, attributes uint32) Result[Ref[P]] {
	return Map(nonNull(bs.OpenProtocol(h, GUIDOf[P, PP](), agent, controller, attributes)), resolved[P](bs, h))
}

// CloseProtocol closes protocol P previously opened with OpenProtocol.
func CloseProtocol[P any, PP interface {
	*P
	Protocol
}](bs *BootServices, h, agent, controller Handle) Result[Unit] {
	return bs.CloseProtocol(h, GUIDOf[P, PP](), agent, controller)
}

// LocateProtocol returns the first instance of P firmware finds.
func LocateProtocol[P any, PP interface {
	*P
	Protocol
}](bs *BootServices) Result[Ref[P]] {
	return Map(nonNull(bs.LocateProtocol(GUIDOf[P, PP]())), resolved[P](bs, 0))
}

// LocateHandles lists the handles supporting P, in firmware order.
func LocateHandles[P any, PP interface {
	*P
	Protocol
}](bs *BootServices) Result[[]Handle] {
	guid := GUIDOf[P, PP]()
	return bs.LocateHandleBuffer(ByProtocol, &guid)
}

// LocateAll resolves P on every handle supporting it, in firmware order. The
// first failing resolution aborts the search with its status; otherwise the
// first warning met, if any, is kept.
func LocateAll[P any, PP interface {
	*P
	Protocol
}](bs *BootServices) Result[[]Ref[P]] {
	handles := LocateHandles[P, PP](bs)
	if r, failed := Propagate[[]Ref[P]](handles); failed {
		return r
	}

	status := handles.status
	refs := make([]Ref[P], 0, len(handles.value))

	for _, h := range handles.value {
		r := HandleProtocol[P, PP](bs, h)
		if fail, failed := Propagate[[]Ref[P]](r); failed {
			return fail
		}
		if status.IsSuccess() {
			status = r.status
		}
		refs = append(refs, r.value)
	}

	return FromStatus(status, refs)
}
