package proto

import (
	"unicode/utf8"
	"unsafe"

	"github.com/costinm/goefi/pkg/uefi"
)

// Text attributes, §12.4.7.
const (
	EFI_BLACK        = 0x00
	EFI_BLUE         = 0x01
	EFI_GREEN        = 0x02
	EFI_CYAN         = 0x03
	EFI_RED          = 0x04
	EFI_MAGENTA      = 0x05
	EFI_BROWN        = 0x06
	EFI_LIGHTGRAY    = 0x07
	EFI_BRIGHT       = 0x08
	EFI_DARKGRAY     = 0x08
	EFI_LIGHTBLUE    = 0x09
	EFI_LIGHTGREEN   = 0x0a
	EFI_LIGHTCYAN    = 0x0b
	EFI_LIGHTRED     = 0x0c
	EFI_LIGHTMAGENTA = 0x0d
	EFI_YELLOW       = 0x0e
	EFI_WHITE        = 0x0f

	EFI_BACKGROUND_BLACK     = 0x00
	EFI_BACKGROUND_BLUE      = 0x10
	EFI_BACKGROUND_GREEN     = 0x20
	EFI_BACKGROUND_CYAN      = 0x30
	EFI_BACKGROUND_RED       = 0x40
	EFI_BACKGROUND_MAGENTA   = 0x50
	EFI_BACKGROUND_BROWN     = 0x60
	EFI_BACKGROUND_LIGHTGRAY = 0x70
)

// EFI_TEXT_ATTR combines a foreground and a background color.
func EFI_TEXT_ATTR(foreground, background int) int {
	return foreground | background<<4
}

// textChunk bounds the units passed to a single OutputString call.
const textChunk = 128

// SIMPLE_TEXT_OUTPUT_MODE
type SIMPLE_TEXT_OUTPUT_MODE struct {
	MaxMode       int32
	Mode          int32
	Attribute     int32
	CursorColumn  int32
	CursorRow     int32
	CursorVisible bool
}

// EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL is the console output device, §12.4.
type EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL struct {
	reset             uintptr
	outputString      uintptr
	testString        uintptr
	queryMode         uintptr
	setMode           uintptr
	setAttribute      uintptr
	clearScreen       uintptr
	setCursorPosition uintptr
	enableCursor      uintptr
	Mode              *SIMPLE_TEXT_OUTPUT_MODE
}

func (*EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL) ProtocolGUID() uefi.GUID {
	return uefi.EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL_GUID
}

// TextMode is the geometry of a text mode.
type TextMode struct {
	Columns int
	Rows    int
}

// TextOutput writes to a console. It implements io.Writer, translating
// line feeds into CRLF as firmware consoles expect.
type TextOutput struct {
	uefi.Ref[EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL]
}

// NewTextOutput wraps a resolved console output.
func NewTextOutput(r uefi.Ref[EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL]) *TextOutput {
	return &TextOutput{Ref: r}
}

// ConsoleOut returns the console the firmware selected for output.
func ConsoleOut(st *uefi.SystemTable) (*TextOutput, error) {
	r, err := uefi.ConsoleProtocol[EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL](st, uefi.ConsoleOut).IgnoreWarning()
	if err != nil {
		return nil, err
	}
	return NewTextOutput(r), nil
}

// StdErr returns the console the firmware selected for errors.
func StdErr(st *uefi.SystemTable) (*TextOutput, error) {
	r, err := uefi.ConsoleProtocol[EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL](st, uefi.ConsoleErr).IgnoreWarning()
	if err != nil {
		return nil, err
	}
	return NewTextOutput(r), nil
}

// Reset resets the output device.
func (o *TextOutput) Reset(extended bool) uefi.Result[uefi.Unit] {
	p, c := o.Bind()
	return uefi.Done(c.Call(&p.reset, uintptr(unsafe.Pointer(p)), convertBool(extended)))
}

// OutputString displays s at the cursor. Characters the device cannot render
// are shown as '?' with EFI_WARN_UNKNOWN_GLYPH.
func (o *TextOutput) OutputString(s uefi.CStr16) uefi.Result[uefi.Unit] {
	p, c := o.Bind()
	return uefi.Done(c.Call(&p.outputString, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(s.Ptr()))))
}

// TestString reports whether every character of s can be rendered.
func (o *TextOutput) TestString(s uefi.CStr16) uefi.Result[uefi.Unit] {
	p, c := o.Bind()
	return uefi.Done(c.Call(&p.testString, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(s.Ptr()))))
}

// QueryMode returns the geometry of mode.
func (o *TextOutput) QueryMode(mode int) uefi.Result[TextMode] {
	var cols, rows uefi.UINTN
	p, c := o.Bind()
	status := c.Call(&p.queryMode, uintptr(unsafe.Pointer(p)), uintptr(mode),
		uintptr(unsafe.Pointer(&cols)), uintptr(unsafe.Pointer(&rows)))
	return uefi.FromStatus(status, TextMode{Columns: int(cols), Rows: int(rows)})
}

// Modes lists the geometry of every mode the device supports; modes the
// device reports as unsupported are left zero.
func (o *TextOutput) Modes() ([]TextMode, error) {
	m, err := o.Mode()
	if err != nil {
		return nil, err
	}
	modes := make([]TextMode, m.MaxMode)
	for i := range modes {
		r := o.QueryMode(i)
		if r.Status() == uefi.EFI_UNSUPPORTED {
			continue
		}
		if modes[i], err = r.IgnoreWarning(); err != nil {
			return nil, err
		}
	}
	return modes, nil
}

// SetMode selects a text mode and clears the screen.
func (o *TextOutput) SetMode(mode int) uefi.Result[uefi.Unit] {
	p, c := o.Bind()
	return uefi.Done(c.Call(&p.setMode, uintptr(unsafe.Pointer(p)), uintptr(mode)))
}

// SetAttribute sets the colors of subsequent output, see EFI_TEXT_ATTR.
func (o *TextOutput) SetAttribute(attribute int) uefi.Result[uefi.Unit] {
	p, c := o.Bind()
	return uefi.Done(c.Call(&p.setAttribute, uintptr(unsafe.Pointer(p)), uintptr(attribute)))
}

// ClearScreen clears the display and homes the cursor.
func (o *TextOutput) ClearScreen() uefi.Result[uefi.Unit] {
	p, c := o.Bind()
	return uefi.Done(c.Call(&p.clearScreen, uintptr(unsafe.Pointer(p))))
}

// SetCursorPosition moves the cursor.
func (o *TextOutput) SetCursorPosition(column, row int) uefi.Result[uefi.Unit] {
	p, c := o.Bind()
	return uefi.Done(c.Call(&p.setCursorPosition, uintptr(unsafe.Pointer(p)), uintptr(column), uintptr(row)))
}

// EnableCursor shows or hides the cursor.
func (o *TextOutput) EnableCursor(visible bool) uefi.Result[uefi.Unit] {
	p, c := o.Bind()
	return uefi.Done(c.Call(&p.enableCursor, uintptr(unsafe.Pointer(p)), convertBool(visible)))
}

// Mode returns a copy of the current mode state.
func (o *TextOutput) Mode() (SIMPLE_TEXT_OUTPUT_MODE, error) {
	p, err := o.Interface()
	if err != nil {
		return SIMPLE_TEXT_OUTPUT_MODE{}, err
	}
	if p.Mode == nil {
		return SIMPLE_TEXT_OUTPUT_MODE{}, uefi.ErrDeviceError
	}
	return *p.Mode, nil
}

// Write implements io.Writer. Text is converted to UCS-2, with characters
// outside the BMP replaced by U+FFFD. Glyph warnings are not reported.
func (o *TextOutput) Write(b []byte) (int, error) {
	units := make([]uefi.Char16, 0, textChunk+2)
	n, pending := 0, 0

	flush := func() error {
		if len(units) == 0 {
			return nil
		}
		s, err := uefi.CStr16FromUnits(append(units, 0))
		if err != nil {
			return err
		}
		units = units[:0]
		if _, err = o.OutputString(s).IgnoreWarning(); err != nil {
			return err
		}
		n, pending = n+pending, 0
		return nil
	}

	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		switch {
		case r == 0:
		case r == '\n':
			units = append(units, '\r', '\n')
		case r > 0xffff:
			units = append(units, utf8.RuneError)
		default:
			units = append(units, uefi.Char16(r))
		}
		b = b[size:]
		pending += size

		if len(units) >= textChunk {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}

	if err := flush(); err != nil {
		return n, err
	}
	return n + pending, nil
}
