package uefitest

import (
	"unsafe"

	"github.com/costinm/goefi/pkg/uefi"
)

// unknownGlyph is printed as '?' with EFI_WARN_UNKNOWN_GLYPH.
const unknownGlyph = 0xfffd

type textOutputMode struct {
	MaxMode       int32
	Mode          int32
	Attribute     int32
	CursorColumn  int32
	CursorRow     int32
	CursorVisible bool
}

type textOutput struct {
	Reset             uintptr
	OutputString      uintptr
	TestString        uintptr
	QueryMode         uintptr
	SetMode           uintptr
	SetAttribute      uintptr
	ClearScreen       uintptr
	SetCursorPosition uintptr
	EnableCursor      uintptr
	Mode              *textOutputMode
}

type inputKey struct {
	ScanCode    uint16
	UnicodeChar uefi.Char16
}

type textInput struct {
	Reset         uintptr
	ReadKeyStroke uintptr
	WaitForKey    uefi.Event
}

var consoleModes = [][2]uefi.UINTN{{80, 25}, {80, 50}, {100, 31}}

// Output returns everything written to the console, CRLF line endings
// included.
func (fw *Firmware) Output() string {
	return fw.out.String()
}

// ClearOutput discards the console output.
func (fw *Firmware) ClearOutput() {
	fw.out.Reset()
}

// Type queues keystrokes for the console input.
func (fw *Firmware) Type(s string) {
	for _, r := range s {
		fw.keys = append(fw.keys, inputKey{UnicodeChar: uefi.Char16(r)})
	}
}

// TypeScanCode queues a keystroke without a character, such as an arrow key.
func (fw *Firmware) TypeScanCode(code uint16) {
	fw.keys = append(fw.keys, inputKey{ScanCode: code})
}

// ConsoleMode returns the current console mode and cursor state.
func (fw *Firmware) ConsoleMode() (mode, attribute, column, row int32) {
	m := fw.conOut.Mode
	return m.Mode, m.Attribute, m.CursorColumn, m.CursorRow
}

func (fw *Firmware) installConsoles() {
	out := &textOutput{Mode: &textOutputMode{MaxMode: int32(len(consoleModes)), CursorVisible: true}}

	out.Reset = fw.bootFunc("ConOut.Reset", func(a []uintptr) uefi.Status {
		fw.out.Reset()
		out.Mode.CursorColumn, out.Mode.CursorRow = 0, 0
		return uefi.EFI_SUCCESS
	})
	out.OutputString = fw.bootFunc("ConOut.OutputString", func(a []uintptr) uefi.Status {
		status := uefi.EFI_SUCCESS
		for _, u := range unitsAt(at[uefi.Char16](a, 1)) {
			if u == unknownGlyph {
				fw.out.WriteByte('?')
				status = uefi.EFI_WARN_UNKNOWN_GLYPH
				continue
			}
			fw.out.WriteRune(rune(u))
		}
		return status
	})
	out.TestString = fw.bootFunc("ConOut.TestString", func(a []uintptr) uefi.Status {
		for _, u := range unitsAt(at[uefi.Char16](a, 1)) {
			if u == unknownGlyph {
				return uefi.EFI_UNSUPPORTED
			}
		}
		return uefi.EFI_SUCCESS
	})
	out.QueryMode = fw.bootFunc("ConOut.QueryMode", func(a []uintptr) uefi.Status {
		mode := int(arg(a, 1))
		cols, rows := at[uefi.UINTN](a, 2), at[uefi.UINTN](a, 3)
		if mode >= len(consoleModes) {
			return uefi.EFI_UNSUPPORTED
		}
		if cols == nil || rows == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		*cols, *rows = consoleModes[mode][0], consoleModes[mode][1]
		return uefi.EFI_SUCCESS
	})
	out.SetMode = fw.bootFunc("ConOut.SetMode", func(a []uintptr) uefi.Status {
		mode := int(arg(a, 1))
		if mode >= len(consoleModes) {
			return uefi.EFI_UNSUPPORTED
		}
		out.Mode.Mode = int32(mode)
		return uefi.EFI_SUCCESS
	})
	out.SetAttribute = fw.bootFunc("ConOut.SetAttribute", func(a []uintptr) uefi.Status {
		out.Mode.Attribute = int32(arg(a, 1))
		return uefi.EFI_SUCCESS
	})
	out.ClearScreen = fw.bootFunc("ConOut.ClearScreen", func(a []uintptr) uefi.Status {
		out.Mode.CursorColumn, out.Mode.CursorRow = 0, 0
		return uefi.EFI_SUCCESS
	})
	out.SetCursorPosition = fw.bootFunc("ConOut.SetCursorPosition", func(a []uintptr) uefi.Status {
		size := consoleModes[out.Mode.Mode]
		col, row := uefi.UINTN(arg(a, 1)), uefi.UINTN(arg(a, 2))
		if col >= size[0] || row >= size[1] {
			return uefi.EFI_UNSUPPORTED
		}
		out.Mode.CursorColumn, out.Mode.CursorRow = int32(col), int32(row)
		return uefi.EFI_SUCCESS
	})
	out.EnableCursor = fw.bootFunc("ConOut.EnableCursor", func(a []uintptr) uefi.Status {
		out.Mode.CursorVisible = arg(a, 1) != 0
		return uefi.EFI_SUCCESS
	})

	in := &textInput{}
	in.Reset = fw.bootFunc("ConIn.Reset", func(a []uintptr) uefi.Status {
		fw.keys = nil
		return uefi.EFI_SUCCESS
	})
	in.ReadKeyStroke = fw.bootFunc("ConIn.ReadKeyStroke", func(a []uintptr) uefi.Status {
		key := at[inputKey](a, 1)
		if key == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		if len(fw.keys) == 0 {
			return uefi.EFI_NOT_READY
		}
		*key, fw.keys = fw.keys[0], fw.keys[1:]
		return uefi.EFI_SUCCESS
	})
	in.WaitForKey = fw.nextEvent
	fw.nextEvent++
	fw.events[in.WaitForKey] = &event{typ: uefi.EVT_NOTIFY_WAIT}

	fw.conOut, fw.conIn = out, in

	outHandle := fw.InstallProtocol(0, uefi.EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL_GUID, unsafe.Pointer(out))
	inHandle := fw.InstallProtocol(0, uefi.EFI_SIMPLE_TEXT_INPUT_PROTOCOL_GUID, unsafe.Pointer(in))

	fw.st.ConsoleOutHandle, fw.st.ConOut = outHandle, unsafe.Pointer(out)
	fw.st.StandardErrorHandle, fw.st.StdErr = outHandle, unsafe.Pointer(out)
	fw.st.ConsoleInHandle, fw.st.ConIn = inHandle, unsafe.Pointer(in)
}
