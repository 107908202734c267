package proto

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/uefi/uefitest"
)

type fakeSerial struct {
	mode EFI_SERIAL_IO_MODE
	port EFI_SERIAL_IO_PROTOCOL

	control  uint32
	controls []uint32
	resets   int
	tx       []byte
	rx       []byte
	// timeouts is the number of reads that time out before rx is delivered
	timeouts int
}

func newFakeSerial(fw *uefitest.Firmware) *fakeSerial {
	s := &fakeSerial{}
	s.port.Revision = 0x00010000
	s.port.Mode = &s.mode

	s.port.reset = fw.Func(func(a []uintptr) uefi.Status {
		s.resets++
		return uefi.EFI_SUCCESS
	})
	s.port.setAttributes = fw.Func(func(a []uintptr) uefi.Status {
		s.mode.BaudRate = uint64(a[1])
		s.mode.ReceiveFifoDepth = uint32(a[2])
		s.mode.Timeout = uint32(a[3])
		s.mode.Parity = uint32(a[4])
		s.mode.DataBits = uint32(uint8(a[5]))
		s.mode.StopBits = uint32(a[6])
		return uefi.EFI_SUCCESS
	})
	s.port.setControl = fw.Func(func(a []uintptr) uefi.Status {
		// only DTR and RTS are writable
		s.control = s.control&^0x3 | uint32(a[1])&0x3
		s.controls = append(s.controls, uint32(a[1]))
		return uefi.EFI_SUCCESS
	})
	s.port.getControl = fw.Func(func(a []uintptr) uefi.Status {
		*(*uint32)(unsafe.Pointer(a[1])) = s.control
		return uefi.EFI_SUCCESS
	})
	s.port.write = fw.NamedFunc("Serial.Write", func(a []uintptr) uefi.Status {
		size := *(*uefi.UINTN)(unsafe.Pointer(a[1]))
		s.tx = append(s.tx, unsafe.Slice((*byte)(unsafe.Pointer(a[2])), int(size))...)
		return uefi.EFI_SUCCESS
	})
	s.port.read = fw.NamedFunc("Serial.Read", func(a []uintptr) uefi.Status {
		size := (*uefi.UINTN)(unsafe.Pointer(a[1]))
		if s.timeouts > 0 || len(s.rx) == 0 {
			s.timeouts--
			*size = 0
			return uefi.EFI_TIMEOUT
		}
		n := copy(unsafe.Slice((*byte)(unsafe.Pointer(a[2])), int(*size)), s.rx)
		s.rx = s.rx[n:]
		*size = uefi.UINTN(n)
		return uefi.EFI_SUCCESS
	})

	fw.InstallProtocol(0, EFI_SERIAL_IO_PROTOCOL_GUID, unsafe.Pointer(&s.port))
	return s
}

func serialPort(t *testing.T) (*fakeSerial, *SerialPort) {
	t.Helper()
	fw, st := newFirmware(t)
	fake := newFakeSerial(fw)

	ports, err := EnumerateSerialPorts(st.BootServices())
	require.NoError(t, err)
	require.Len(t, ports, 1)
	return fake, ports[0]
}

func TestSerialInit(t *testing.T) {
	fake, sp := serialPort(t)

	require.NoError(t, sp.Init())
	assert.Equal(t, 1, fake.resets)
	assert.Equal(t, []byte{0}, fake.tx)

	m, err := sp.Mode()
	require.NoError(t, err)
	assert.Equal(t, EFI_SERIAL_IO_MODE{
		Timeout:  1,
		BaudRate: 115200,
		DataBits: 8,
		Parity:   ParityNone,
		StopBits: StopBits1,
	}, m)
}

func TestSerialRead(t *testing.T) {
	fake, sp := serialPort(t)
	fake.rx = []byte("login: ")
	fake.timeouts = 2

	buf := make([]byte, 64)
	n, err := sp.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "login: ", string(buf[:n]))

	// RTS and DTR are raised for every attempt, RTS dropped after a timeout
	rts, dtr := EFI_SERIAL_REQUEST_TO_SEND, EFI_SERIAL_DATA_TERMINAL_READY
	assert.Equal(t, []uint32{rts | dtr, dtr, rts | dtr, dtr, rts | dtr}, fake.controls)

	n, err = sp.Read(nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestSerialWriteFlowControl(t *testing.T) {
	fake, sp := serialPort(t)

	n, err := sp.Write([]byte("boot\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	sp.UseFlowControl(true)
	n, err = sp.Write([]byte("held"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "boot\n", string(fake.tx))

	fake.control |= EFI_SERIAL_CLEAR_TO_SEND
	n, err = sp.Write([]byte("sent"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "boot\nsent", string(fake.tx))
}

func TestSerialAfterExit(t *testing.T) {
	fw, st := newFirmware(t)
	newFakeSerial(fw)

	ports, err := EnumerateSerialPorts(st.BootServices())
	require.NoError(t, err)

	_, _, err = st.ExitBootServices()
	require.NoError(t, err)

	_, err = ports[0].Write([]byte("x"))
	assert.ErrorIs(t, err, uefi.ErrServicesExited)
	_, err = ports[0].Read(make([]byte, 1))
	assert.ErrorIs(t, err, uefi.ErrServicesExited)
	assert.Zero(t, fw.BootCallsAfterExit)
}
