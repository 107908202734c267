package uefi

import (
	"errors"
	"fmt"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		code  uint64
		width int
		want  Class
	}{
		{"success 64", 0, 64, ClassSuccess},
		{"success 32", 0, 32, ClassSuccess},
		{"warning 64", 4, 64, ClassWarning},
		{"warning 32", 4, 32, ClassWarning},
		{"error 64", 1<<63 | 14, 64, ClassError},
		{"error 32", 1<<31 | 14, 32, ClassError},
		// without the top bit of its own width a code is a warning
		{"32 bit error on 64 bit word", 1<<31 | 14, 64, ClassWarning},
		{"oem error 64", 1<<63 | 1<<62 | 1, 64, ClassError},
		{"large warning 64", 1 << 62, 64, ClassWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.code, tt.width))
		})
	}
}

func TestStatusClass(t *testing.T) {
	assert.True(t, EFI_SUCCESS.IsSuccess())
	assert.False(t, EFI_SUCCESS.IsWarning())
	assert.False(t, EFI_SUCCESS.IsError())

	assert.True(t, EFI_WARN_UNKNOWN_GLYPH.IsWarning())
	assert.False(t, EFI_WARN_UNKNOWN_GLYPH.IsSuccess())
	assert.False(t, EFI_WARN_UNKNOWN_GLYPH.IsError())

	for _, s := range []Status{EFI_LOAD_ERROR, EFI_NOT_FOUND, EFI_HTTP_ERROR, StatusServicesExited, StatusNullFunction} {
		assert.True(t, s.IsError(), s.String())
	}

	assert.Equal(t, uint64(14), EFI_NOT_FOUND.Code())
	assert.Equal(t, uint64(1), StatusServicesExited.Code())
	assert.Equal(t, bits.UintSize, uintnSize)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "EFI_SUCCESS", EFI_SUCCESS.String())
	assert.Equal(t, "EFI_WARN_STALE_DATA", EFI_WARN_STALE_DATA.String())
	assert.Equal(t, "EFI_NOT_FOUND", EFI_NOT_FOUND.String())
	assert.Equal(t, "EXITED_BOOT_SERVICES", StatusServicesExited.String())
	assert.Equal(t, "EFI_WARN(0x99)", Status(0x99).String())
	assert.Contains(t, (errorMask | Status(0x77)).String(), "EFI_ERROR(")
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, EFI_NOT_FOUND, ErrorCode(14))
	assert.Equal(t, uint64(14), ErrorCode(14).Code())
	assert.True(t, ErrorCode(1).IsError())
}

func TestStatusError(t *testing.T) {
	assert.NoError(t, StatusError(EFI_SUCCESS))
	assert.NoError(t, StatusError(EFI_WARN_WRITE_FAILURE))

	err := StatusError(EFI_NOT_FOUND)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrUnsupported)

	wrapped := fmt.Errorf("open kernel: %w", err)
	assert.ErrorIs(t, wrapped, ErrNotFound)

	s, ok := StatusOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, EFI_NOT_FOUND, s)
}

func TestUnknownErrorKeepsCode(t *testing.T) {
	code := errorMask | Status(0x1234)

	err := StatusError(code)
	require.Error(t, err)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, code, e.Status())

	// not registered, so a second instance still compares by code
	assert.ErrorIs(t, err, StatusError(code))
	_, registered := errMap[code]
	assert.False(t, registered)
}

func TestStatusOf(t *testing.T) {
	s, ok := StatusOf(nil)
	assert.True(t, ok)
	assert.Equal(t, EFI_SUCCESS, s)

	s, ok = StatusOf(&Warning{code: EFI_WARN_RESET_REQUIRED})
	assert.True(t, ok)
	assert.Equal(t, EFI_WARN_RESET_REQUIRED, s)

	_, ok = StatusOf(errors.New("other"))
	assert.False(t, ok)
}
