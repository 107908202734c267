package uefi

import (
	"errors"
	"fmt"
	"math/bits"
)

// Status is the raw EFI_STATUS returned by every firmware function. Its width
// is the native word of the platform.
type Status UINTN

const (
	uintnSize = bits.UintSize
	errorMask = 1 << (uintnSize - 1)
	// Codes with the two top bits set are reserved for the platform, not the
	// UEFI specification.
	oemMask = 1 << (uintnSize - 2)
)

const (
	EFI_SUCCESS Status = 0

	EFI_WARN_UNKNOWN_GLYPH    Status = 1
	EFI_WARN_DELETE_FAILURE   Status = 2
	EFI_WARN_WRITE_FAILURE    Status = 3
	EFI_WARN_BUFFER_TOO_SMALL Status = 4
	EFI_WARN_STALE_DATA       Status = 5
	EFI_WARN_FILE_SYSTEM      Status = 6
	EFI_WARN_RESET_REQUIRED   Status = 7

	EFI_LOAD_ERROR           Status = errorMask | 1
	EFI_INVALID_PARAMETER    Status = errorMask | 2
	EFI_UNSUPPORTED          Status = errorMask | 3
	EFI_BAD_BUFFER_SIZE      Status = errorMask | 4
	EFI_BUFFER_TOO_SMALL     Status = errorMask | 5
	EFI_NOT_READY            Status = errorMask | 6
	EFI_DEVICE_ERROR         Status = errorMask | 7
	EFI_WRITE_PROTECTED      Status = errorMask | 8
	EFI_OUT_OF_RESOURCES     Status = errorMask | 9
	EFI_VOLUME_CORRUPTED     Status = errorMask | 10
	EFI_VOLUME_FULL          Status = errorMask | 11
	EFI_NO_MEDIA             Status = errorMask | 12
	EFI_MEDIA_CHANGED        Status = errorMask | 13
	EFI_NOT_FOUND            Status = errorMask | 14
	EFI_ACCESS_DENIED        Status = errorMask | 15
	EFI_NO_RESPONSE          Status = errorMask | 16
	EFI_NO_MAPPING           Status = errorMask | 17
	EFI_TIMEOUT              Status = errorMask | 18
	EFI_NOT_STARTED          Status = errorMask | 19
	EFI_ALREADY_STARTED      Status = errorMask | 20
	EFI_ABORTED              Status = errorMask | 21
	EFI_ICMP_ERROR           Status = errorMask | 22
	EFI_TFTP_ERROR           Status = errorMask | 23
	EFI_PROTOCOL_ERROR       Status = errorMask | 24
	EFI_INCOMPATIBLE_VERSION Status = errorMask | 25
	EFI_SECURITY_VIOLATION   Status = errorMask | 26
	EFI_CRC_ERROR            Status = errorMask | 27
	EFI_END_OF_MEDIA         Status = errorMask | 28
	EFI_END_OF_FILE          Status = errorMask | 31
	EFI_INVALID_LANGUAGE     Status = errorMask | 32
	EFI_COMPROMISED_DATA     Status = errorMask | 33
	EFI_IP_ADDRESS_CONFLICT  Status = errorMask | 34
	EFI_HTTP_ERROR           Status = errorMask | 35
)

// Statuses raised by this package instead of firmware. They sit in the
// platform error range so no firmware defined code can alias them.
const (
	// StatusServicesExited reports use of a table, protocol or allocation
	// whose validity ended with ExitBootServices.
	StatusServicesExited Status = errorMask | oemMask | 1
	// StatusNullFunction reports a table slot firmware left empty.
	StatusNullFunction Status = errorMask | oemMask | 2
)

// Class partitions status codes.
type Class int

const (
	ClassSuccess Class = iota
	ClassWarning
	ClassError
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassWarning:
		return "warning"
	default:
		return "error"
	}
}

// classify applies the firmware rule for a word of the given width: zero is
// success, the top bit marks an error, anything else is a warning.
func classify(code uint64, width int) Class {
	switch {
	case code == 0:
		return ClassSuccess
	case code&(1<<(width-1)) != 0:
		return ClassError
	default:
		return ClassWarning
	}
}

// Class returns the class of s on the native word.
func (s Status) Class() Class {
	return classify(uint64(s), uintnSize)
}

func (s Status) IsSuccess() bool { return s == EFI_SUCCESS }
func (s Status) IsWarning() bool { return s.Class() == ClassWarning }
func (s Status) IsError() bool   { return s.Class() == ClassError }

// Code returns s without its class bits.
func (s Status) Code() uint64 {
	return uint64(s) &^ (errorMask | oemMask)
}

// ErrorCode returns the error status with the given code, as firmware shells
// print it with the error bit stripped.
func ErrorCode(code uint64) Status {
	return Status(errorMask) | Status(code)
}

var warnNames = map[Status]string{
	EFI_WARN_UNKNOWN_GLYPH:    "EFI_WARN_UNKNOWN_GLYPH",
	EFI_WARN_DELETE_FAILURE:   "EFI_WARN_DELETE_FAILURE",
	EFI_WARN_WRITE_FAILURE:    "EFI_WARN_WRITE_FAILURE",
	EFI_WARN_BUFFER_TOO_SMALL: "EFI_WARN_BUFFER_TOO_SMALL",
	EFI_WARN_STALE_DATA:       "EFI_WARN_STALE_DATA",
	EFI_WARN_FILE_SYSTEM:      "EFI_WARN_FILE_SYSTEM",
	EFI_WARN_RESET_REQUIRED:   "EFI_WARN_RESET_REQUIRED",
}

func (s Status) String() string {
	switch s.Class() {
	case ClassSuccess:
		return "EFI_SUCCESS"
	case ClassWarning:
		if name, ok := warnNames[s]; ok {
			return name
		}
		return fmt.Sprintf("EFI_WARN(%#x)", uint64(s))
	}
	if err, ok := errMap[s]; ok {
		return err.name
	}
	return fmt.Sprintf("EFI_ERROR(%#x)", uint64(s))
}

var errMap = make(map[Status]*Error)

var (
	ErrLoadError           = newError(EFI_LOAD_ERROR, "EFI_LOAD_ERROR", "image failed to load")
	ErrInvalidParameter    = newError(EFI_INVALID_PARAMETER, "EFI_INVALID_PARAMETER", "a parameter was incorrect")
	ErrUnsupported         = newError(EFI_UNSUPPORTED, "EFI_UNSUPPORTED", "operation not supported")
	ErrBadBufferSize       = newError(EFI_BAD_BUFFER_SIZE, "EFI_BAD_BUFFER_SIZE", "buffer size incorrect for request")
	ErrBufferTooSmall      = newError(EFI_BUFFER_TOO_SMALL, "EFI_BUFFER_TOO_SMALL", "buffer too small; size returned in parameter")
	ErrNotReady            = newError(EFI_NOT_READY, "EFI_NOT_READY", "no data pending")
	ErrDeviceError         = newError(EFI_DEVICE_ERROR, "EFI_DEVICE_ERROR", "physical device reported an error")
	ErrWriteProtected      = newError(EFI_WRITE_PROTECTED, "EFI_WRITE_PROTECTED", "device is write-protected")
	ErrOutOfResources      = newError(EFI_OUT_OF_RESOURCES, "EFI_OUT_OF_RESOURCES", "out of resources")
	ErrVolumeCorrupted     = newError(EFI_VOLUME_CORRUPTED, "EFI_VOLUME_CORRUPTED", "filesystem inconsistency detected")
	ErrVolumeFull          = newError(EFI_VOLUME_FULL, "EFI_VOLUME_FULL", "no more space on filesystem")
	ErrNoMedia             = newError(EFI_NO_MEDIA, "EFI_NO_MEDIA", "device contains no medium")
	ErrMediaChanged        = newError(EFI_MEDIA_CHANGED, "EFI_MEDIA_CHANGED", "medium changed since last access")
	ErrNotFound            = newError(EFI_NOT_FOUND, "EFI_NOT_FOUND", "item not found")
	ErrAccessDenied        = newError(EFI_ACCESS_DENIED, "EFI_ACCESS_DENIED", "access denied")
	ErrNoResponse          = newError(EFI_NO_RESPONSE, "EFI_NO_RESPONSE", "server not found or no response")
	ErrNoMapping           = newError(EFI_NO_MAPPING, "EFI_NO_MAPPING", "no device mapping exists")
	ErrTimeout             = newError(EFI_TIMEOUT, "EFI_TIMEOUT", "timeout expired")
	ErrNotStarted          = newError(EFI_NOT_STARTED, "EFI_NOT_STARTED", "protocol not started")
	ErrAlreadyStarted      = newError(EFI_ALREADY_STARTED, "EFI_ALREADY_STARTED", "protocol already started")
	ErrAborted             = newError(EFI_ABORTED, "EFI_ABORTED", "operation aborted")
	ErrICMPError           = newError(EFI_ICMP_ERROR, "EFI_ICMP_ERROR", "ICMP error during network operation")
	ErrTFTPError           = newError(EFI_TFTP_ERROR, "EFI_TFTP_ERROR", "TFTP error during network operation")
	ErrProtocolError       = newError(EFI_PROTOCOL_ERROR, "EFI_PROTOCOL_ERROR", "protocol error during network operation")
	ErrIncompatibleVersion = newError(EFI_INCOMPATIBLE_VERSION, "EFI_INCOMPATIBLE_VERSION", "requested version incompatible")
	ErrSecurityViolation   = newError(EFI_SECURITY_VIOLATION, "EFI_SECURITY_VIOLATION", "security violation")
	ErrCRCError            = newError(EFI_CRC_ERROR, "EFI_CRC_ERROR", "CRC error detected")
	ErrEndOfMedia          = newError(EFI_END_OF_MEDIA, "EFI_END_OF_MEDIA", "beginning or end of media reached")
	ErrEndOfFile           = newError(EFI_END_OF_FILE, "EFI_END_OF_FILE", "end of file reached")
	ErrInvalidLanguage     = newError(EFI_INVALID_LANGUAGE, "EFI_INVALID_LANGUAGE", "invalid language specified")
	ErrCompromisedData     = newError(EFI_COMPROMISED_DATA, "EFI_COMPROMISED_DATA", "data security status unknown or compromised")
	ErrIPAddressConflict   = newError(EFI_IP_ADDRESS_CONFLICT, "EFI_IP_ADDRESS_CONFLICT", "IP address conflict detected")
	ErrHTTPError           = newError(EFI_HTTP_ERROR, "EFI_HTTP_ERROR", "HTTP error during network operation")

	ErrServicesExited = newError(StatusServicesExited, "EXITED_BOOT_SERVICES", "boot services are no longer available")
	ErrNullFunction   = newError(StatusNullFunction, "NULL_FUNCTION", "firmware table slot is null")
)

// Error is a failed firmware call. It carries the exact status the firmware
// returned; nothing in this package ever replaces one code with another.
type Error struct {
	code Status
	name string
	msg  string
}

func newError(code Status, name, msg string) *Error {
	err := &Error{
		code: code,
		name: name,
		msg:  msg,
	}
	errMap[code] = err
	return err
}

func (e *Error) Error() string {
	return e.msg
}

// Status returns the firmware code.
func (e *Error) Status() Status {
	return e.code
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// holds for every not found failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.code == e.code
}

// StatusError returns the error object given by status, or nil for non-error
// statuses. These can be checked/managed with errors.Is() and the like.
func StatusError(status Status) error {
	if !status.IsError() {
		return nil
	}
	return errorFor(status)
}

func errorFor(status Status) *Error {
	if err, ok := errMap[status]; ok {
		return err
	}
	return &Error{
		code: status,
		name: status.String(),
		msg:  fmt.Sprintf("unknown EFI error %#x", uint64(status)),
	}
}

// StatusOf finds the firmware code carried by err, through any wrapping.
func StatusOf(err error) (Status, bool) {
	if err == nil {
		return EFI_SUCCESS, true
	}
	var e *Error
	if errors.As(err, &e) {
		return e.code, true
	}
	var w *Warning
	if errors.As(err, &w) {
		return w.code, true
	}
	return 0, false
}

// Warning reports a warning status next to a value that is still valid. It is
// returned by Result.Unwrap so a warning surfaces as a non-nil error unless
// the caller discards it explicitly.
type Warning struct {
	code Status
}

func (w *Warning) Error() string {
	return "firmware warning " + w.code.String()
}

// Status returns the warning code.
func (w *Warning) Status() Status {
	return w.code
}
