package uefi

import (
	"time"
	"unsafe"
)

// EFI_RESET_TYPE
const (
	EfiResetCold = iota
	EfiResetWarm
	EfiResetShutdown
	EfiResetPlatformSpecific
)

// Variable attributes.
const (
	EFI_VARIABLE_NON_VOLATILE                          = 0x00000001
	EFI_VARIABLE_BOOTSERVICE_ACCESS                    = 0x00000002
	EFI_VARIABLE_RUNTIME_ACCESS                        = 0x00000004
	EFI_VARIABLE_HARDWARE_ERROR_RECORD                 = 0x00000008
	EFI_VARIABLE_AUTHENTICATED_WRITE_ACCESS            = 0x00000010
	EFI_VARIABLE_TIME_BASED_AUTHENTICATED_WRITE_ACCESS = 0x00000020
	EFI_VARIABLE_APPEND_WRITE                          = 0x00000040
	EFI_VARIABLE_ENHANCED_AUTHENTICATED_ACCESS         = 0x00000080
)

// EFI_TIME_ADJUST_DAYLIGHT and EFI_TIME_IN_DAYLIGHT flags, and the time zone
// value for local time.
const (
	EFI_TIME_ADJUST_DAYLIGHT = 0x01
	EFI_TIME_IN_DAYLIGHT     = 0x02
	EFI_UNSPECIFIED_TIMEZONE = 0x07ff
)

// EFI_GLOBAL_VARIABLE_GUID owns the architectural variables such as BootOrder.
var EFI_GLOBAL_VARIABLE_GUID = MustParseGUID("8be4df61-93ca-11d2-aa0d-00e098032b8c")

const (
	maxVariableTries = 4
	initialNameUnits = 64
)

// EFI_TIME
type EFI_TIME struct {
	Year       uint16
	Month      uint8
	Day        uint8
	Hour       uint8
	Minute     uint8
	Second     uint8
	Pad1       uint8
	Nanosecond uint32
	TimeZone   int16
	Daylight   uint8
	Pad2       uint8
}

// Time converts t. An unspecified time zone is taken as UTC.
func (t *EFI_TIME) Time() time.Time {
	loc := time.UTC
	if t.TimeZone != EFI_UNSPECIFIED_TIMEZONE {
		// UTC offset in minutes
		loc = time.FixedZone("", int(t.TimeZone)*60)
	}
	return time.Date(int(t.Year), time.Month(t.Month), int(t.Day),
		int(t.Hour), int(t.Minute), int(t.Second), int(t.Nanosecond), loc)
}

// TimeFrom converts a Go time, keeping its UTC offset.
func TimeFrom(tm time.Time) EFI_TIME {
	_, offset := tm.Zone()
	return EFI_TIME{
		Year:       uint16(tm.Year()),
		Month:      uint8(tm.Month()),
		Day:        uint8(tm.Day()),
		Hour:       uint8(tm.Hour()),
		Minute:     uint8(tm.Minute()),
		Second:     uint8(tm.Second()),
		Nanosecond: uint32(tm.Nanosecond()),
		TimeZone:   int16(offset / 60),
	}
}

// Variable is the content of a firmware variable.
type Variable struct {
	Attributes uint32
	Data       []byte
}

// VariableKey names a firmware variable.
type VariableKey struct {
	Name   CStr16
	Vendor GUID
}

// String returns the conventional Name-GUID form.
func (k VariableKey) String() string {
	return k.Name.ToUTF8() + "-" + k.Vendor.String()
}

// VariableStorageInfo is returned by QueryVariableInfo.
type VariableStorageInfo struct {
	MaximumVariableStorageSize   uint64
	RemainingVariableStorageSize uint64
	MaximumVariableSize          uint64
}

// RuntimeServices wraps the runtime services table, which stays usable after
// ExitBootServices.
type RuntimeServices struct {
	raw *EFI_RUNTIME_SERVICES
	c   *Caller
}

// GetTime returns the current time.
func (rt *RuntimeServices) GetTime() Result[EFI_TIME] {
	var t EFI_TIME
	status := rt.c.Call(&rt.raw.GetTime, uintptr(unsafe.Pointer(&t)), 0)
	return FromStatus(status, t)
}

// SetTime sets the current time.
func (rt *RuntimeServices) SetTime(t EFI_TIME) Result[Unit] {
	return Done(rt.c.Call(&rt.raw.SetTime, uintptr(unsafe.Pointer(&t))))
}

// GetVariable reads variable name of vendor. Its size is probed with a first
// call; a variable that grows in between is read again.
func (rt *RuntimeServices) GetVariable(name CStr16, vendor GUID) Result[Variable] {
	var (
		attrs uint32
		size  UINTN
		data  []byte
	)

	if name.Len() == 0 {
		return Fail[Variable](EFI_INVALID_PARAMETER)
	}

	for range maxVariableTries {
		var p *byte
		if len(data) > 0 {
			p = &data[0]
		}
		size = UINTN(len(data))

		status := rt.c.Call(&rt.raw.GetVariable,
			uintptr(unsafe.Pointer(name.Ptr())),
			uintptr(unsafe.Pointer(&vendor)),
			uintptr(unsafe.Pointer(&attrs)),
			uintptr(unsafe.Pointer(&size)),
			uintptr(unsafe.Pointer(p)),
		)

		if status != EFI_BUFFER_TOO_SMALL {
			return FromStatusFunc(status, func() Variable {
				return Variable{Attributes: attrs, Data: data[:size]}
			})
		}

		data = make([]byte, size)
	}

	return Fail[Variable](EFI_BUFFER_TOO_SMALL)
}

// NextVariableName returns the variable following prev in firmware order; a
// zero prev starts the enumeration, and EFI_NOT_FOUND ends it.
func (rt *RuntimeServices) NextVariableName(prev VariableKey) Result[VariableKey] {
	vendor := prev.Vendor
	units := make([]Char16, max(prev.Name.Len()+1, initialNameUnits))
	copy(units, prev.Name.Units())

	for range maxVariableTries {
		size := UINTN(len(units) * 2)

		status := rt.c.Call(&rt.raw.GetNextVariableName,
			uintptr(unsafe.Pointer(&size)),
			uintptr(unsafe.Pointer(&units[0])),
			uintptr(unsafe.Pointer(&vendor)),
		)

		if status != EFI_BUFFER_TOO_SMALL {
			if status.IsError() {
				return Fail[VariableKey](status)
			}
			name, err := CStr16FromUnits(units)
			if err != nil {
				return Fail[VariableKey](EFI_INVALID_PARAMETER)
			}
			return FromStatus(status, VariableKey{Name: name, Vendor: vendor})
		}

		grown := make([]Char16, (size+1)/2)
		copy(grown, units)
		units = grown
	}

	return Fail[VariableKey](EFI_BUFFER_TOO_SMALL)
}

// VariableKeys enumerates every variable name, in firmware order.
func (rt *RuntimeServices) VariableKeys() Result[[]VariableKey] {
	var keys []VariableKey
	var key VariableKey
	status := EFI_SUCCESS

	for {
		r := rt.NextVariableName(key)
		if r.status == EFI_NOT_FOUND {
			return FromStatus(status, keys)
		}
		if fail, failed := Propagate[[]VariableKey](r); failed {
			return fail
		}
		if status.IsSuccess() {
			status = r.status
		}
		key = r.value
		keys = append(keys, key)
	}
}

// SetVariable writes variable name of vendor; empty data with no append
// attribute deletes it.
func (rt *RuntimeServices) SetVariable(name CStr16, vendor GUID, attributes uint32, data []byte) Result[Unit] {
	if name.Len() == 0 {
		return Fail[Unit](EFI_INVALID_PARAMETER)
	}

	var p *byte
	if len(data) > 0 {
		p = &data[0]
	}

	return Done(rt.c.Call(&rt.raw.SetVariable,
		uintptr(unsafe.Pointer(name.Ptr())),
		uintptr(unsafe.Pointer(&vendor)),
		uintptr(attributes),
		uintptr(len(data)),
		uintptr(unsafe.Pointer(p)),
	))
}

// QueryVariableInfo reports variable storage for the given attributes.
func (rt *RuntimeServices) QueryVariableInfo(attributes uint32) Result[VariableStorageInfo] {
	var info VariableStorageInfo
	status := rt.c.Call(&rt.raw.QueryVariableInfo,
		uintptr(attributes),
		uintptr(unsafe.Pointer(&info.MaximumVariableStorageSize)),
		uintptr(unsafe.Pointer(&info.RemainingVariableStorageSize)),
		uintptr(unsafe.Pointer(&info.MaximumVariableSize)),
	)
	return FromStatus(status, info)
}

// GetNextHighMonotonicCount returns the high 32 bits of the platform
// monotonic counter.
func (rt *RuntimeServices) GetNextHighMonotonicCount() Result[uint32] {
	var count uint32
	status := rt.c.Call(&rt.raw.GetNextHighMonotonicCount, uintptr(unsafe.Pointer(&count)))
	return FromStatus(status, count)
}

// ResetSystem resets the platform. It only returns when firmware refuses.
func (rt *RuntimeServices) ResetSystem(resetType int, status Status, data []byte) Result[Unit] {
	var p *byte
	if len(data) > 0 {
		p = &data[0]
	}

	return Done(rt.c.Call(&rt.raw.ResetSystem,
		uintptr(resetType),
		uintptr(status),
		uintptr(len(data)),
		uintptr(unsafe.Pointer(p)),
	))
}
