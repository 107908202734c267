// Serial I/O Protocol, §12.8 UEFI 2.10
package proto

import (
	"unsafe"

	"github.com/costinm/goefi/pkg/uefi"
)

var EFI_SERIAL_IO_PROTOCOL_GUID = uefi.MustParseGUID("bb25cf6f-f1d4-11d2-9a0c-0090273fc1fd")

// Parity, EFI_PARITY_TYPE.
const (
	ParityDefault = iota
	ParityNone
	ParityEven
	ParityOdd
	ParityMark
	ParitySpace
)

// Stop bits, EFI_STOP_BITS_TYPE.
const (
	StopBitsDefault = iota
	StopBits1
	StopBits1_5
	StopBits2
)

// Control bits, §12.8.4.
const (
	EFI_SERIAL_DATA_TERMINAL_READY          uint32 = 0x0001
	EFI_SERIAL_REQUEST_TO_SEND              uint32 = 0x0002
	EFI_SERIAL_CLEAR_TO_SEND                uint32 = 0x0010
	EFI_SERIAL_DATA_SET_READY               uint32 = 0x0020
	EFI_SERIAL_RING_INDICATE                uint32 = 0x0040
	EFI_SERIAL_CARRIER_DETECT               uint32 = 0x0080
	EFI_SERIAL_INPUT_BUFFER_EMPTY           uint32 = 0x0100
	EFI_SERIAL_OUTPUT_BUFFER_EMPTY          uint32 = 0x0200
	EFI_SERIAL_HARDWARE_LOOPBACK_ENABLE     uint32 = 0x1000
	EFI_SERIAL_SOFTWARE_LOOPBACK_ENABLE     uint32 = 0x2000
	EFI_SERIAL_HARDWARE_FLOW_CONTROL_ENABLE uint32 = 0x4000
)

// EFI_SERIAL_IO_MODE reports the current settings of a serial port.
type EFI_SERIAL_IO_MODE struct {
	ControlMask      uint32
	Timeout          uint32
	BaudRate         uint64
	ReceiveFifoDepth uint32
	DataBits         uint32
	Parity           uint32
	StopBits         uint32
}

type EFI_SERIAL_IO_PROTOCOL struct {
	Revision       uint32
	reset          uintptr // (this)
	setAttributes  uintptr // (this, baud, depth, timeout, parity, databits, stopbits)
	setControl     uintptr // (this, control)
	getControl     uintptr // (this, *control)
	write          uintptr // (this, *bufSize, buf)
	read           uintptr // (this, *bufSize, buf)
	Mode           *EFI_SERIAL_IO_MODE
	DeviceTypeGuid *uefi.GUID
}

func (*EFI_SERIAL_IO_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_SERIAL_IO_PROTOCOL_GUID
}

// SerialAttributes configures a port. Zero BaudRate, ReceiveFifoDepth or
// Timeout select the driver defaults.
type SerialAttributes struct {
	BaudRate         uint64
	ReceiveFifoDepth uint32
	Timeout          uint32 // microseconds
	Parity           uint32
	DataBits         uint8
	StopBits         uint32
}

// SerialPort wraps a serial I/O protocol as an io.ReadWriter.
type SerialPort struct {
	uefi.Ref[EFI_SERIAL_IO_PROTOCOL]
	flowControl bool
}

// EnumerateSerialPorts discovers serial ports. Ports may be in use for
// something else, so none of them is initialized.
func EnumerateSerialPorts(bs *uefi.BootServices) ([]*SerialPort, error) {
	return enumerate[EFI_SERIAL_IO_PROTOCOL](bs, func(r uefi.Ref[EFI_SERIAL_IO_PROTOCOL]) *SerialPort {
		return &SerialPort{Ref: r}
	})
}

// Reset resets the device.
func (sp *SerialPort) Reset() uefi.Result[uefi.Unit] {
	p, c := sp.Bind()
	return uefi.Done(c.Call(&p.reset, uintptr(unsafe.Pointer(p))))
}

// SetAttributes sets the baud rate, framing and timeout.
func (sp *SerialPort) SetAttributes(a SerialAttributes) uefi.Result[uefi.Unit] {
	p, c := sp.Bind()
	return uefi.Done(c.Call(&p.setAttributes,
		uintptr(unsafe.Pointer(p)),
		uintptr(a.BaudRate),
		uintptr(a.ReceiveFifoDepth),
		uintptr(a.Timeout),
		uintptr(a.Parity),
		uintptr(a.DataBits),
		uintptr(a.StopBits),
	))
}

// SetControl sets the writable control bits.
func (sp *SerialPort) SetControl(control uint32) uefi.Result[uefi.Unit] {
	p, c := sp.Bind()
	return uefi.Done(c.Call(&p.setControl, uintptr(unsafe.Pointer(p)), uintptr(control)))
}

// GetControl returns the control bits.
func (sp *SerialPort) GetControl() uefi.Result[uint32] {
	var control uint32
	p, c := sp.Bind()
	status := c.Call(&p.getControl, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&control)))
	return uefi.FromStatus(status, control)
}

// Mode returns a copy of the port settings.
func (sp *SerialPort) Mode() (EFI_SERIAL_IO_MODE, error) {
	p, err := sp.Interface()
	if err != nil {
		return EFI_SERIAL_IO_MODE{}, err
	}
	if p.Mode == nil {
		return EFI_SERIAL_IO_MODE{}, uefi.ErrDeviceError
	}
	return *p.Mode, nil
}

// Init configures the port for 115200 baud, 8N1. Timeout and receive FIFO
// depth are left to the driver.
func (sp *SerialPort) Init() error {
	if err := sp.Reset().Err(); err != nil {
		return err
	}

	// a first write wakes up lazy drivers
	sp.Write([]byte{0})

	return sp.SetAttributes(SerialAttributes{
		BaudRate: 115200,
		Timeout:  1,
		Parity:   ParityNone,
		DataBits: 8,
		StopBits: StopBits1,
	}).Err()
}

// UseFlowControl enables hardware flow control when fc is true.
func (sp *SerialPort) UseFlowControl(fc bool) {
	sp.flowControl = fc
}

func (sp *SerialPort) transfer(slot *uintptr, buf []byte) (int, uefi.Status) {
	size := uefi.UINTN(len(buf))
	p, c := sp.Bind()
	status := c.Call(slot, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&size)), uintptr(unsafe.Pointer(&buf[0])))
	return int(size), status
}

// Read implements io.Reader. It blocks until data arrives, asserting RTS and
// DTR while waiting and dropping RTS after every timeout.
func (sp *SerialPort) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	p, _ := sp.Bind()

	for {
		control, err := sp.GetControl().IgnoreWarning()
		if err != nil {
			return 0, err
		}
		raised := control | EFI_SERIAL_REQUEST_TO_SEND | EFI_SERIAL_DATA_TERMINAL_READY
		sp.SetControl(raised)

		n, status := sp.transfer(&p.read, buf)
		if n == 0 && !status.IsError() {
			status = uefi.EFI_TIMEOUT
		}

		switch status {
		case uefi.EFI_TIMEOUT, uefi.EFI_NO_RESPONSE:
			sp.SetControl(raised &^ EFI_SERIAL_REQUEST_TO_SEND)
			continue
		}
		if status.IsError() {
			return n, uefi.StatusError(status)
		}
		return n, nil
	}
}

// Write implements io.Writer. With hardware flow control enabled and CTS
// clear, nothing is written and (0, nil) is returned.
func (sp *SerialPort) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	if sp.flowControl {
		control, err := sp.GetControl().IgnoreWarning()
		if err != nil {
			return 0, err
		}
		if control&EFI_SERIAL_CLEAR_TO_SEND == 0 {
			return 0, nil
		}
	}

	p, _ := sp.Bind()
	n, status := sp.transfer(&p.write, buf)
	return n, uefi.StatusError(status)
}
