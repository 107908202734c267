package proto

import (
	"errors"
	"fmt"
	"net"
	"unsafe"

	"github.com/hashicorp/go-multierror"

	"github.com/costinm/goefi/pkg/uefi"
)

var (
	EFI_DHCP4_SERVICE_BINDING_PROTOCOL_GUID = uefi.MustParseGUID("9d9a39d8-bd42-4a73-a4d5-8ee94be11380")
	EFI_DHCP4_PROTOCOL_GUID                 = uefi.MustParseGUID("8a219718-4ef5-4761-91c8-c0f04bda9e56")
)

// EFI_DHCP4_STATE
const (
	Dhcp4Stopped = iota
	Dhcp4Init
	Dhcp4Selecting
	Dhcp4Requesting
	Dhcp4Bound
	Dhcp4Renewing
	Dhcp4Rebinding
	Dhcp4InitReboot
	Dhcp4Rebooting
)

// EFI_DHCP4_EVENT
const (
	Dhcp4SendDiscover = iota + 1
	Dhcp4RcvdOffer
	Dhcp4SelectOffer
	Dhcp4SendRequest
	Dhcp4RcvdAck
	Dhcp4RcvdNak
	Dhcp4SendDecline
	Dhcp4BoundCompleted
	Dhcp4EnterRenewing
	Dhcp4EnterRebinding
	Dhcp4AddressLost
	Dhcp4Fail
)

type EFI_DHCP4_PACKET_OPTION struct {
	OpCode uint8
	Length uint8
	Data   [1]uint8
}

type EFI_DHCP4_SERVICE_BINDING_PROTOCOL struct {
	createChild  uintptr // (this, *childHandle)
	destroyChild uintptr // (this, childHandle)
}

func (*EFI_DHCP4_SERVICE_BINDING_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_DHCP4_SERVICE_BINDING_PROTOCOL_GUID
}

// EFI_DHCP4_CALLBACK would need a trampoline from the firmware calling
// convention and is always left 0.
type EFI_DHCP4_CALLBACK uintptr

type EFI_DHCP4_CONFIG_DATA struct {
	DiscoverTryCount uint32
	DiscoverTimeout  *uint32
	RequestTryCount  uint32
	RequestTimeout   *uint32
	ClientAddress    uefi.EFI_IPv4_ADDRESS
	Dhcp4Callback    EFI_DHCP4_CALLBACK
	CallbackContext  unsafe.Pointer
	OptionCount      uint32
	OptionList       **EFI_DHCP4_PACKET_OPTION
}

type EFI_DHCP4_MODE_DATA struct {
	State         uint32
	ConfigData    EFI_DHCP4_CONFIG_DATA
	ClientAddress uefi.EFI_IPv4_ADDRESS
	ClientMac     uefi.EFI_MAC_ADDRESS
	ServerAddress uefi.EFI_IPv4_ADDRESS
	RouterAddress uefi.EFI_IPv4_ADDRESS
	SubnetMask    uefi.EFI_IPv4_ADDRESS
	ReplyPacket   unsafe.Pointer
}

type EFI_DHCP4_PROTOCOL struct {
	getModeData     uintptr
	configure       uintptr
	start           uintptr
	renewRebind     uintptr
	release         uintptr
	stop            uintptr
	build           uintptr
	transmitReceive uintptr
	parse           uintptr
}

func (*EFI_DHCP4_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_DHCP4_PROTOCOL_GUID
}

// Lease is the configuration obtained from a DHCP server.
type Lease struct {
	Address net.IP
	Mask    net.IPMask
	Router  net.IP
	Server  net.IP
}

// DHCPv4 is a DHCP client instance, a child of a service binding.
type DHCPv4 struct {
	uefi.Ref[EFI_DHCP4_PROTOCOL]
	binding uefi.Ref[EFI_DHCP4_SERVICE_BINDING_PROTOCOL]
	child   uefi.Handle
}

func createChild(binding uefi.Ref[EFI_DHCP4_SERVICE_BINDING_PROTOCOL]) uefi.Result[uefi.Handle] {
	var child uefi.Handle
	p, c := binding.Bind()
	status := c.Call(&p.createChild, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&child)))
	return uefi.FromStatus(status, child)
}

func destroyChild(binding uefi.Ref[EFI_DHCP4_SERVICE_BINDING_PROTOCOL], child uefi.Handle) uefi.Result[uefi.Unit] {
	p, c := binding.Bind()
	return uefi.Done(c.Call(&p.destroyChild, uintptr(unsafe.Pointer(p)), uintptr(child)))
}

// EnumerateDHCPv4 creates a DHCP client on every service binding. Each
// client must be closed to release its child handle.
func EnumerateDHCPv4(bs *uefi.BootServices) ([]*DHCPv4, error) {
	bindings, err := enumerate[EFI_DHCP4_SERVICE_BINDING_PROTOCOL](bs, func(r uefi.Ref[EFI_DHCP4_SERVICE_BINDING_PROTOCOL]) uefi.Ref[EFI_DHCP4_SERVICE_BINDING_PROTOCOL] {
		return r
	})
	merr := multierror.Append(nil, err)

	clients := make([]*DHCPv4, 0, len(bindings))

	for _, b := range bindings {
		child, err := createChild(b).IgnoreWarning()
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("create child on %#x: %w", b.Handle(), err))
			continue
		}
		r, err := uefi.HandleProtocol[EFI_DHCP4_PROTOCOL](bs, child).IgnoreWarning()
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("child %#x: %w", child, err))
			if err := destroyChild(b, child).Err(); err != nil {
				merr = multierror.Append(merr, fmt.Errorf("destroy child %#x: %w", child, err))
			}
			continue
		}
		clients = append(clients, &DHCPv4{Ref: r, binding: b, child: child})
	}

	return clients, merr.ErrorOrNil()
}

// Close destroys the child handle of the client.
func (d *DHCPv4) Close() error {
	if d.child == 0 {
		return nil
	}
	if err := destroyChild(d.binding, d.child).Err(); err != nil {
		return err
	}
	d.child = 0
	return nil
}

// ModeData returns the state of the client.
func (d *DHCPv4) ModeData() uefi.Result[EFI_DHCP4_MODE_DATA] {
	var m EFI_DHCP4_MODE_DATA
	p, c := d.Bind()
	status := c.Call(&p.getModeData, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&m)))
	return uefi.FromStatus(status, m)
}

// Configure sets the client parameters; a nil cfg resets the client.
func (d *DHCPv4) Configure(cfg *EFI_DHCP4_CONFIG_DATA) uefi.Result[uefi.Unit] {
	p, c := d.Bind()
	return uefi.Done(c.Call(&p.configure, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(cfg))))
}

// Start runs the DHCP process. A zero event blocks until the client is bound
// or the process failed.
func (d *DHCPv4) Start(event uefi.Event) uefi.Result[uefi.Unit] {
	p, c := d.Bind()
	return uefi.Done(c.Call(&p.start, uintptr(unsafe.Pointer(p)), uintptr(event)))
}

// RenewRebind extends the lease.
func (d *DHCPv4) RenewRebind(rebind bool, event uefi.Event) uefi.Result[uefi.Unit] {
	p, c := d.Bind()
	return uefi.Done(c.Call(&p.renewRebind, uintptr(unsafe.Pointer(p)), convertBool(rebind), uintptr(event)))
}

// Release gives the lease back to the server.
func (d *DHCPv4) Release() uefi.Result[uefi.Unit] {
	p, c := d.Bind()
	return uefi.Done(c.Call(&p.release, uintptr(unsafe.Pointer(p))))
}

// Stop stops the client without releasing the lease.
func (d *DHCPv4) Stop() uefi.Result[uefi.Unit] {
	p, c := d.Bind()
	return uefi.Done(c.Call(&p.stop, uintptr(unsafe.Pointer(p))))
}

var ErrNotBound = errors.New("dhcp4: not bound")

// Lease returns the current lease, or ErrNotBound.
func (d *DHCPv4) Lease() (Lease, error) {
	m, err := d.ModeData().IgnoreWarning()
	if err != nil {
		return Lease{}, err
	}
	if m.State != Dhcp4Bound && m.State != Dhcp4Renewing && m.State != Dhcp4Rebinding {
		return Lease{}, ErrNotBound
	}
	return Lease{
		Address: net.IP(append([]byte(nil), m.ClientAddress[:]...)),
		Mask:    net.IPMask(append([]byte(nil), m.SubnetMask[:]...)),
		Router:  net.IP(append([]byte(nil), m.RouterAddress[:]...)),
		Server:  net.IP(append([]byte(nil), m.ServerAddress[:]...)),
	}, nil
}
