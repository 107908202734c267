package proto

import (
	"unsafe"

	"github.com/costinm/goefi/pkg/uefi"
)

type EFI_KEY_TOGGLE_STATE uint8

const (
	EFI_SCROLL_LOCK_ACTIVE EFI_KEY_TOGGLE_STATE = 0x01
	EFI_NUM_LOCK_ACTIVE    EFI_KEY_TOGGLE_STATE = 0x02
	EFI_CAPS_LOCK_ACTIVE   EFI_KEY_TOGGLE_STATE = 0x04
	EFI_KEY_STATE_EXPOSED  EFI_KEY_TOGGLE_STATE = 0x40
	EFI_TOGGLE_STATE_VALID EFI_KEY_TOGGLE_STATE = 0x80
)

const (
	EFI_SHIFT_STATE_VALID     = 0x80000000
	EFI_RIGHT_SHIFT_PRESSED   = 0x00000001
	EFI_LEFT_SHIFT_PRESSED    = 0x00000002
	EFI_RIGHT_CONTROL_PRESSED = 0x00000004
	EFI_LEFT_CONTROL_PRESSED  = 0x00000008
	EFI_RIGHT_ALT_PRESSED     = 0x00000010
	EFI_LEFT_ALT_PRESSED      = 0x00000020
	EFI_RIGHT_LOGO_PRESSED    = 0x00000040
	EFI_LEFT_LOGO_PRESSED     = 0x00000080
	EFI_MENU_KEY_PRESSED      = 0x00000100
	EFI_SYS_REQ_PRESSED       = 0x00000200
)

// Scan codes, Table 12-2.
const (
	SCAN_NULL      = 0x00
	SCAN_UP        = 0x01
	SCAN_DOWN      = 0x02
	SCAN_RIGHT     = 0x03
	SCAN_LEFT      = 0x04
	SCAN_HOME      = 0x05
	SCAN_END       = 0x06
	SCAN_INSERT    = 0x07
	SCAN_DELETE    = 0x08
	SCAN_PAGE_UP   = 0x09
	SCAN_PAGE_DOWN = 0x0a
	SCAN_F1        = 0x0b
	SCAN_F10       = 0x14
	SCAN_ESC       = 0x17
)

var EFI_SIMPLE_TEXT_INPUT_EX_PROTOCOL_GUID = uefi.MustParseGUID("dd9e7534-7762-4698-8c14-f58517a625aa")

// EFI_INPUT_KEY is the keystroke information for the key that was pressed.
type EFI_INPUT_KEY struct {
	ScanCode    uint16
	UnicodeChar uefi.Char16
}

// Rune returns the character of the key, or 0 for a key without one.
func (k EFI_INPUT_KEY) Rune() rune {
	return rune(k.UnicodeChar)
}

// EFI_SIMPLE_TEXT_INPUT_PROTOCOL is used on the ConsoleIn device.
// It is the minimum required protocol for ConsoleIn.
type EFI_SIMPLE_TEXT_INPUT_PROTOCOL struct {
	reset         uintptr
	readKeyStroke uintptr
	WaitForKey    uefi.Event
}

func (*EFI_SIMPLE_TEXT_INPUT_PROTOCOL) ProtocolGUID() uefi.GUID {
	return uefi.EFI_SIMPLE_TEXT_INPUT_PROTOCOL_GUID
}

// TextInput reads keystrokes from a console.
type TextInput struct {
	uefi.Ref[EFI_SIMPLE_TEXT_INPUT_PROTOCOL]
}

// ConsoleIn returns the console the firmware selected for input.
func ConsoleIn(st *uefi.SystemTable) (*TextInput, error) {
	r, err := uefi.ConsoleProtocol[EFI_SIMPLE_TEXT_INPUT_PROTOCOL](st, uefi.ConsoleIn).IgnoreWarning()
	if err != nil {
		return nil, err
	}
	return &TextInput{Ref: r}, nil
}

// Reset resets the input device and drops pending keystrokes.
func (in *TextInput) Reset(extended bool) uefi.Result[uefi.Unit] {
	p, c := in.Bind()
	return uefi.Done(c.Call(&p.reset, uintptr(unsafe.Pointer(p)), convertBool(extended)))
}

// ReadKeyStroke returns the next keystroke, or EFI_NOT_READY when none is
// pending.
func (in *TextInput) ReadKeyStroke() uefi.Result[EFI_INPUT_KEY] {
	var key EFI_INPUT_KEY
	p, c := in.Bind()
	status := c.Call(&p.readKeyStroke, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&key)))
	return uefi.FromStatus(status, key)
}

// WaitForKey returns the event signaled when a keystroke is pending.
func (in *TextInput) WaitForKey() (uefi.Event, error) {
	p, err := in.Interface()
	if err != nil {
		return 0, err
	}
	return p.WaitForKey, nil
}

// ReadKey blocks until a key is pressed and returns it.
func (in *TextInput) ReadKey(bs *uefi.BootServices) (EFI_INPUT_KEY, error) {
	ev, err := in.WaitForKey()
	if err != nil {
		return EFI_INPUT_KEY{}, err
	}
	if _, err := bs.WaitForEvent(ev).IgnoreWarning(); err != nil {
		return EFI_INPUT_KEY{}, err
	}
	return in.ReadKeyStroke().IgnoreWarning()
}

type EFI_KEY_STATE struct {
	KeyShiftState  uint32
	KeyToggleState EFI_KEY_TOGGLE_STATE
}

type EFI_KEY_DATA struct {
	Key      EFI_INPUT_KEY
	KeyState EFI_KEY_STATE
}

type EFI_SIMPLE_TEXT_INPUT_EX_PROTOCOL struct {
	resetEx                   uintptr
	readKeyStrokeEx           uintptr
	WaitForKeyEx              uefi.Event
	setState                  uintptr
	registerKeystrokeNotify   uintptr
	unregisterKeystrokeNotify uintptr
}

func (*EFI_SIMPLE_TEXT_INPUT_EX_PROTOCOL) ProtocolGUID() uefi.GUID {
	return EFI_SIMPLE_TEXT_INPUT_EX_PROTOCOL_GUID
}

// TextInputEx reads keystrokes along with their shift and toggle state.
type TextInputEx struct {
	uefi.Ref[EFI_SIMPLE_TEXT_INPUT_EX_PROTOCOL]
}

// LocateTextInputEx returns the first extended input device. Usually there
// is only one, or several multiplexed together.
func LocateTextInputEx(bs *uefi.BootServices) (*TextInputEx, error) {
	r, err := uefi.LocateProtocol[EFI_SIMPLE_TEXT_INPUT_EX_PROTOCOL](bs).IgnoreWarning()
	if err != nil {
		return nil, err
	}
	return &TextInputEx{Ref: r}, nil
}

func (in *TextInputEx) Reset(extended bool) uefi.Result[uefi.Unit] {
	p, c := in.Bind()
	return uefi.Done(c.Call(&p.resetEx, uintptr(unsafe.Pointer(p)), convertBool(extended)))
}

func (in *TextInputEx) ReadKeyStroke() uefi.Result[EFI_KEY_DATA] {
	var key EFI_KEY_DATA
	p, c := in.Bind()
	status := c.Call(&p.readKeyStrokeEx, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&key)))
	return uefi.FromStatus(status, key)
}

// SetState sets the toggle state, such as caps lock, of the device.
func (in *TextInputEx) SetState(state EFI_KEY_TOGGLE_STATE) uefi.Result[uefi.Unit] {
	p, c := in.Bind()
	return uefi.Done(c.Call(&p.setState, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&state))))
}

// ReadKey blocks until a key is pressed and returns it.
func (in *TextInputEx) ReadKey(bs *uefi.BootServices) (EFI_KEY_DATA, error) {
	p, err := in.Interface()
	if err != nil {
		return EFI_KEY_DATA{}, err
	}
	if _, err := bs.WaitForEvent(p.WaitForKeyEx).IgnoreWarning(); err != nil {
		return EFI_KEY_DATA{}, err
	}
	return in.ReadKeyStroke().IgnoreWarning()
}
