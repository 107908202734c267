package proto

import (
	"fmt"
	"strings"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costinm/goefi/pkg/uefi"
	"github.com/costinm/goefi/pkg/uefi/uefitest"
)

func countCalls(fw *uefitest.Firmware, name string) int {
	n := 0
	for _, c := range fw.Calls {
		if c == name {
			n++
		}
	}
	return n
}

func TestTextOutputWrite(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		calls int
	}{
		{"plain", "hello", "hello", 1},
		{"newline", "hi\nthere\n", "hi\r\nthere\r\n", 1},
		{"nul", "a\x00b", "ab", 1},
		{"astral", "x\U0001F600y", "x?y", 1},
		{"long", strings.Repeat("A", 200), strings.Repeat("A", 200), 2},
		{"empty", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fw, st := newFirmware(t)
			out, err := ConsoleOut(st)
			require.NoError(t, err)

			n, err := out.Write([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, len(tt.in), n)
			assert.Equal(t, tt.want, fw.Output())
			assert.Equal(t, tt.calls, countCalls(fw, "ConOut.OutputString"))
		})
	}
}

func TestTextOutputFprintf(t *testing.T) {
	fw, st := newFirmware(t)
	out, err := StdErr(st)
	require.NoError(t, err)

	fmt.Fprintf(out, "status %d\n", 7)
	assert.Equal(t, "status 7\r\n", fw.Output())
}

func TestTextOutputModes(t *testing.T) {
	fw, st := newFirmware(t)
	out, err := ConsoleOut(st)
	require.NoError(t, err)

	m, err := out.QueryMode(1).IgnoreWarning()
	require.NoError(t, err)
	assert.Equal(t, TextMode{Columns: 80, Rows: 50}, m)

	assert.ErrorIs(t, out.QueryMode(7).Err(), uefi.ErrUnsupported)

	modes, err := out.Modes()
	require.NoError(t, err)
	want := []TextMode{{80, 25}, {80, 50}, {100, 31}}
	if diff := cmp.Diff(want, modes); diff != "" {
		t.Errorf("Modes() mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, out.SetMode(2).Err())
	require.NoError(t, out.SetAttribute(EFI_TEXT_ATTR(EFI_YELLOW, EFI_BLUE)).Err())
	require.NoError(t, out.SetCursorPosition(90, 30).Err())
	assert.ErrorIs(t, out.SetCursorPosition(100, 0).Err(), uefi.ErrUnsupported)

	mode, attr, col, row := fw.ConsoleMode()
	assert.Equal(t, int32(2), mode)
	assert.Equal(t, int32(0x1e), attr)
	assert.Equal(t, int32(90), col)
	assert.Equal(t, int32(30), row)

	cur, err := out.Mode()
	require.NoError(t, err)
	assert.Equal(t, int32(3), cur.MaxMode)
	assert.Equal(t, int32(2), cur.Mode)

	require.NoError(t, out.ClearScreen().Err())
	_, _, col, row = fw.ConsoleMode()
	assert.Zero(t, col)
	assert.Zero(t, row)

	require.NoError(t, out.EnableCursor(false).Err())
	cur, err = out.Mode()
	require.NoError(t, err)
	assert.False(t, cur.CursorVisible)
}

func TestTextOutputTestString(t *testing.T) {
	_, st := newFirmware(t)
	out, err := ConsoleOut(st)
	require.NoError(t, err)

	assert.True(t, out.TestString(uefi.MustCStr16("ok")).IsSuccess())
	assert.ErrorIs(t, out.TestString(uefi.MustCStr16("\ufffd")).Err(), uefi.ErrUnsupported)

	r := out.OutputString(uefi.MustCStr16("\ufffd"))
	assert.True(t, r.IsWarning())
	assert.Equal(t, uefi.EFI_WARN_UNKNOWN_GLYPH, r.Status())
}

func TestTextOutputAfterExit(t *testing.T) {
	fw, st := newFirmware(t)
	out, err := ConsoleOut(st)
	require.NoError(t, err)

	_, _, err = st.ExitBootServices()
	require.NoError(t, err)

	n, err := out.Write([]byte("late"))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, uefi.ErrServicesExited)
	assert.Zero(t, fw.BootCallsAfterExit)

	_, err = out.Mode()
	assert.ErrorIs(t, err, uefi.ErrServicesExited)

	_, err = ConsoleOut(st)
	assert.ErrorIs(t, err, uefi.ErrServicesExited)
}

func TestHeadless(t *testing.T) {
	_, st := newFirmware(t, uefitest.Headless())

	_, err := ConsoleOut(st)
	assert.ErrorIs(t, err, uefi.ErrNotFound)
	_, err = ConsoleIn(st)
	assert.ErrorIs(t, err, uefi.ErrNotFound)
}

func TestTextInput(t *testing.T) {
	fw, st := newFirmware(t)
	in, err := ConsoleIn(st)
	require.NoError(t, err)

	fw.Type("ab")
	fw.TypeScanCode(SCAN_UP)

	key, err := in.ReadKey(st.BootServices())
	require.NoError(t, err)
	assert.Equal(t, 'a', key.Rune())

	key, err = in.ReadKeyStroke().IgnoreWarning()
	require.NoError(t, err)
	assert.Equal(t, 'b', key.Rune())

	key, err = in.ReadKeyStroke().IgnoreWarning()
	require.NoError(t, err)
	assert.Equal(t, uint16(SCAN_UP), key.ScanCode)
	assert.Zero(t, key.Rune())

	assert.Equal(t, uefi.EFI_NOT_READY, in.ReadKeyStroke().Status())

	fw.Type("zz")
	require.NoError(t, in.Reset(false).Err())
	assert.Equal(t, uefi.EFI_NOT_READY, in.ReadKeyStroke().Status())
}

func TestTextInputEx(t *testing.T) {
	fw, st := newFirmware(t)
	bs := st.BootServices()

	_, err := LocateTextInputEx(bs)
	require.ErrorIs(t, err, uefi.ErrNotFound)

	var state EFI_KEY_TOGGLE_STATE
	ex := &EFI_SIMPLE_TEXT_INPUT_EX_PROTOCOL{}
	ex.readKeyStrokeEx = fw.Func(func(a []uintptr) uefi.Status {
		data := (*EFI_KEY_DATA)(unsafe.Pointer(a[1]))
		*data = EFI_KEY_DATA{
			Key:      EFI_INPUT_KEY{UnicodeChar: 'Q'},
			KeyState: EFI_KEY_STATE{KeyShiftState: EFI_SHIFT_STATE_VALID | EFI_LEFT_SHIFT_PRESSED},
		}
		return uefi.EFI_SUCCESS
	})
	ex.setState = fw.Func(func(a []uintptr) uefi.Status {
		state = *(*EFI_KEY_TOGGLE_STATE)(unsafe.Pointer(a[1]))
		return uefi.EFI_SUCCESS
	})
	fw.InstallProtocol(0, EFI_SIMPLE_TEXT_INPUT_EX_PROTOCOL_GUID, unsafe.Pointer(ex))

	in, err := LocateTextInputEx(bs)
	require.NoError(t, err)

	data, err := in.ReadKeyStroke().IgnoreWarning()
	require.NoError(t, err)
	assert.Equal(t, 'Q', data.Key.Rune())
	assert.NotZero(t, data.KeyState.KeyShiftState&EFI_LEFT_SHIFT_PRESSED)

	require.NoError(t, in.SetState(EFI_TOGGLE_STATE_VALID|EFI_CAPS_LOCK_ACTIVE).Err())
	assert.Equal(t, EFI_TOGGLE_STATE_VALID|EFI_CAPS_LOCK_ACTIVE, state)

	assert.ErrorIs(t, in.Reset(false).Err(), uefi.ErrNullFunction)
}
