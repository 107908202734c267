package proto

import (
	"errors"
	"net"
	"unsafe"

	"github.com/costinm/goefi/pkg/uefi"
)

var EFI_SIMPLE_NETWORK_PROTOCOL_GUID = uefi.MustParseGUID("a19832b9-ac25-11d3-9a2d-0090273fc14d")

const (
	EFI_SIMPLE_NETWORK_STOPPED     = 0
	EFI_SIMPLE_NETWORK_STARTED     = 1
	EFI_SIMPLE_NETWORK_INITIALIZED = 2
)

const MAX_MCAST_FILTER_CNT = 16

type EFI_SIMPLE_NETWORK_MODE struct {
	State                 uint32
	HwAddressSize         uint32
	MediaHeaderSize       uint32
	MaxPacketSize         uint32
	NvRamSize             uint32
	NvRamAccessSize       uint32
	ReceiveFilterMask     uint32
	ReceiveFilterSetting  uint32
	MaxMCastFilterCount   uint32
	MCastFilterCount      uint32
	MCastFilter           [MAX_MCAST_FILTER_CNT]uefi.EFI_MAC_ADDRESS
	CurrentAddress        uefi.EFI_MAC_ADDRESS
	BroadcastAddress      uefi.EFI_MAC_ADDRESS
	PermanentAddress      uefi.EFI_MAC_ADDRESS
	IfType                uint8
	MacAddressChangeable  bool
	MultipleTxSupported   bool
	MediaPresentSupported bool
	MediaPresent          bool
}

type EFI_SIMPLE_NETWORK_PROTOCOL struct {
	Revision       uint64
	start          uintptr // (this)
	stop           uintptr // (this)
	initialize     uintptr // (this, extraRxBufferSize, extraTxBufferSize)
	reset          uintptr // (this, extVerify)
	shutdown       uintptr // (this)
	receiveFilters uintptr // (this, enable, disable, resetMCast, mCastCount, mCastFilter)
	stationAddress uintptr // (this, reset, newAddress)
	statistics     uintptr // (this, reset, statsSize, stats)
	mCastIpToMac   uintptr // (this, ipv6, ip, mac)
	nvData         uintptr // (this, readWrite, offset, bufferSize, buffer)
	getStatus      uintptr // (this, intStatus, txBuf)
	transmit       uintptr // (this, headerSize, bufferSize, buffer, srcAddr, dstAddr, proto)
	receive        uintptr // (this, headerSize, bufferSize, buffer, srcAddr, dstAddr, proto)
	WaitForPacket  uefi.Event
	Mode           *EFI_SIMPLE_NETWORK_MODE
}

func (*EFI_SIMPLE_NETWORK_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_SIMPLE_NETWORK_PROTOCOL_GUID
}

// SimpleNetwork sends and receives raw frames on a network interface.
type SimpleNetwork struct {
	uefi.Ref[EFI_SIMPLE_NETWORK_PROTOCOL]
}

// EnumerateSNP connects every network interface to its drivers and returns
// them.
func EnumerateSNP(bs *uefi.BootServices) ([]*SimpleNetwork, error) {
	handles, err := uefi.LocateHandles[EFI_SIMPLE_NETWORK_PROTOCOL](bs).IgnoreWarning()
	if errors.Is(err, uefi.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, h := range handles {
		// drivers missing for a controller are not fatal
		bs.ConnectController(h, true)
	}
	return enumerate[EFI_SIMPLE_NETWORK_PROTOCOL](bs, func(r uefi.Ref[EFI_SIMPLE_NETWORK_PROTOCOL]) *SimpleNetwork {
		return &SimpleNetwork{Ref: r}
	})
}

func (snp *SimpleNetwork) call(slot func(*EFI_SIMPLE_NETWORK_PROTOCOL) *uintptr) uefi.Result[uefi.Unit] {
	p, c := snp.Bind()
	return uefi.Done(c.Call(slot(p), uintptr(unsafe.Pointer(p))))
}

// Start moves the interface from stopped to started.
func (snp *SimpleNetwork) Start() uefi.Result[uefi.Unit] {
	return snp.call(func(p *EFI_SIMPLE_NETWORK_PROTOCOL) *uintptr { return &p.start })
}

// Stop moves the interface from started to stopped.
func (snp *SimpleNetwork) Stop() uefi.Result[uefi.Unit] {
	return snp.call(func(p *EFI_SIMPLE_NETWORK_PROTOCOL) *uintptr { return &p.stop })
}

// Shutdown undoes Initialize.
func (snp *SimpleNetwork) Shutdown() uefi.Result[uefi.Unit] {
	return snp.call(func(p *EFI_SIMPLE_NETWORK_PROTOCOL) *uintptr { return &p.shutdown })
}

// Initialize allocates transmit and receive buffers, with extra space
// requested by the caller.
func (snp *SimpleNetwork) Initialize(extraRx, extraTx int) uefi.Result[uefi.Unit] {
	p, c := snp.Bind()
	return uefi.Done(c.Call(&p.initialize, uintptr(unsafe.Pointer(p)), uintptr(extraRx), uintptr(extraTx)))
}

// Reset resets the interface.
func (snp *SimpleNetwork) Reset(extended bool) uefi.Result[uefi.Unit] {
	p, c := snp.Bind()
	return uefi.Done(c.Call(&p.reset, uintptr(unsafe.Pointer(p)), convertBool(extended)))
}

// Mode returns a copy of the interface state.
func (snp *SimpleNetwork) Mode() (EFI_SIMPLE_NETWORK_MODE, error) {
	p, err := snp.Interface()
	if err != nil {
		return EFI_SIMPLE_NETWORK_MODE{}, err
	}
	if p.Mode == nil {
		return EFI_SIMPLE_NETWORK_MODE{}, uefi.ErrDeviceError
	}
	return *p.Mode, nil
}

// HardwareAddr returns the current MAC address.
func (snp *SimpleNetwork) HardwareAddr() (net.HardwareAddr, error) {
	m, err := snp.Mode()
	if err != nil {
		return nil, err
	}
	n := min(int(m.HwAddressSize), len(m.CurrentAddress))
	return net.HardwareAddr(append([]byte(nil), m.CurrentAddress[:n]...)), nil
}

// Transmit queues frame, which already carries its media header, for
// transmission.
func (snp *SimpleNetwork) Transmit(frame []byte) uefi.Result[uefi.Unit] {
	if len(frame) == 0 {
		return uefi.Fail[uefi.Unit](uefi.EFI_INVALID_PARAMETER)
	}
	p, c := snp.Bind()
	return uefi.Done(c.Call(&p.transmit,
		uintptr(unsafe.Pointer(p)),
		0,
		uintptr(len(frame)),
		uintptr(unsafe.Pointer(&frame[0])),
		0, 0, 0,
	))
}

// Receive copies a received frame into buf and returns its length.
// EFI_NOT_READY means no frame is pending.
func (snp *SimpleNetwork) Receive(buf []byte) uefi.Result[int] {
	if len(buf) == 0 {
		return uefi.Fail[int](uefi.EFI_BUFFER_TOO_SMALL)
	}
	size := uefi.UINTN(len(buf))
	p, c := snp.Bind()
	status := c.Call(&p.receive,
		uintptr(unsafe.Pointer(p)),
		0,
		uintptr(unsafe.Pointer(&size)),
		uintptr(unsafe.Pointer(&buf[0])),
		0, 0, 0,
	)
	return uefi.FromStatus(status, int(size))
}
