package uefitest

import (
	"slices"
	"unsafe"

	"github.com/costinm/goefi/pkg/uefi"
)

const variableStorage = 64 * 1024

type variable struct {
	name   []uefi.Char16
	vendor uefi.GUID
	attrs  uint32
	data   []byte
}

// SetVariable seeds a variable, bypassing attribute checks.
func (fw *Firmware) SetVariable(name string, vendor uefi.GUID, attrs uint32, data []byte) {
	units := toUnits(name)
	if v := fw.variable(units, vendor); v != nil {
		v.attrs, v.data = attrs, append([]byte(nil), data...)
		return
	}
	fw.vars = append(fw.vars, &variable{name: units, vendor: vendor, attrs: attrs, data: append([]byte(nil), data...)})
}

// Variable returns the content of a variable.
func (fw *Firmware) Variable(name string, vendor uefi.GUID) (data []byte, attrs uint32, ok bool) {
	v := fw.variable(toUnits(name), vendor)
	if v == nil {
		return nil, 0, false
	}
	return v.data, v.attrs, true
}

func (fw *Firmware) variable(name []uefi.Char16, vendor uefi.GUID) *variable {
	for _, v := range fw.visibleVariables() {
		if v.vendor == vendor && slices.Equal(v.name, name) {
			return v
		}
	}
	return nil
}

// visibleVariables hides boot service variables once boot services exit.
func (fw *Firmware) visibleVariables() []*variable {
	if !fw.exited {
		return fw.vars
	}
	var out []*variable
	for _, v := range fw.vars {
		if v.attrs&uefi.EFI_VARIABLE_RUNTIME_ACCESS != 0 {
			out = append(out, v)
		}
	}
	return out
}

func (fw *Firmware) used() uint64 {
	var n uint64
	for _, v := range fw.vars {
		n += uint64(len(v.name)*2 + len(v.data))
	}
	return n
}

func (fw *Firmware) runtimeServices() *uefi.EFI_RUNTIME_SERVICES {
	rt := &uefi.EFI_RUNTIME_SERVICES{
		Hdr: uefi.EFI_TABLE_HEADER{
			Signature:  uefi.EFI_RUNTIME_SERVICES_SIGNATURE,
			Revision:   uefi.EFI_2_10_SYSTEM_TABLE_REVISION,
			HeaderSize: uint32(unsafe.Sizeof(uefi.EFI_RUNTIME_SERVICES{})),
		},
	}

	rt.GetTime = fw.register("GetTime", func(a []uintptr) uefi.Status {
		out := at[uefi.EFI_TIME](a, 0)
		if out == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		*out = fw.Time
		return uefi.EFI_SUCCESS
	})
	rt.SetTime = fw.register("SetTime", func(a []uintptr) uefi.Status {
		t := at[uefi.EFI_TIME](a, 0)
		if t == nil || t.Month < 1 || t.Month > 12 || t.Day < 1 || t.Day > 31 || t.Hour > 23 {
			return uefi.EFI_INVALID_PARAMETER
		}
		fw.Time = *t
		return uefi.EFI_SUCCESS
	})

	rt.GetVariable = fw.register("GetVariable", func(a []uintptr) uefi.Status {
		name := at[uefi.Char16](a, 0)
		vendor := at[uefi.GUID](a, 1)
		size := at[uefi.UINTN](a, 3)
		if name == nil || vendor == nil || size == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		v := fw.variable(unitsAt(name), *vendor)
		if v == nil {
			return uefi.EFI_NOT_FOUND
		}
		if attrs := at[uint32](a, 2); attrs != nil {
			*attrs = v.attrs
		}
		if *size < uefi.UINTN(len(v.data)) {
			*size = uefi.UINTN(len(v.data))
			return uefi.EFI_BUFFER_TOO_SMALL
		}
		if len(v.data) > 0 {
			copy(unsafe.Slice(at[byte](a, 4), len(v.data)), v.data)
		}
		*size = uefi.UINTN(len(v.data))
		return uefi.EFI_SUCCESS
	})
	rt.GetNextVariableName = fw.register("GetNextVariableName", func(a []uintptr) uefi.Status {
		size := at[uefi.UINTN](a, 0)
		name := at[uefi.Char16](a, 1)
		vendor := at[uefi.GUID](a, 2)
		if size == nil || name == nil || vendor == nil {
			return uefi.EFI_INVALID_PARAMETER
		}

		vars := fw.visibleVariables()
		prev := unitsAt(name)
		next := 0
		if len(prev) > 0 {
			next = -1
			for i, v := range vars {
				if v.vendor == *vendor && slices.Equal(v.name, prev) {
					next = i + 1
					break
				}
			}
			if next < 0 {
				return uefi.EFI_INVALID_PARAMETER
			}
		}
		if next >= len(vars) {
			return uefi.EFI_NOT_FOUND
		}

		v := vars[next]
		need := uefi.UINTN(len(v.name)+1) * 2
		if *size < need {
			*size = need
			return uefi.EFI_BUFFER_TOO_SMALL
		}
		units := unsafe.Slice(name, len(v.name)+1)
		copy(units, v.name)
		units[len(v.name)] = 0
		*vendor = v.vendor
		*size = need
		return uefi.EFI_SUCCESS
	})
	rt.SetVariable = fw.register("SetVariable", func(a []uintptr) uefi.Status {
		name := at[uefi.Char16](a, 0)
		vendor := at[uefi.GUID](a, 1)
		attrs := uint32(arg(a, 2))
		size := int(arg(a, 3))
		if name == nil || vendor == nil || (size > 0 && arg(a, 4) == 0) {
			return uefi.EFI_INVALID_PARAMETER
		}
		units := unitsAt(name)
		if len(units) == 0 {
			return uefi.EFI_INVALID_PARAMETER
		}
		if attrs&uefi.EFI_VARIABLE_RUNTIME_ACCESS != 0 && attrs&uefi.EFI_VARIABLE_BOOTSERVICE_ACCESS == 0 {
			return uefi.EFI_INVALID_PARAMETER
		}
		if fw.exited && attrs&uefi.EFI_VARIABLE_RUNTIME_ACCESS == 0 && size > 0 {
			return uefi.EFI_INVALID_PARAMETER
		}

		var data []byte
		if size > 0 {
			data = append(data, unsafe.Slice(at[byte](a, 4), size)...)
		}

		v := fw.variable(units, *vendor)
		switch {
		case v == nil && (size == 0 || attrs == 0):
			return uefi.EFI_NOT_FOUND
		case v == nil:
			if fw.used()+uint64(len(units)*2+size) > variableStorage {
				return uefi.EFI_OUT_OF_RESOURCES
			}
			fw.vars = append(fw.vars, &variable{name: units, vendor: *vendor, attrs: attrs, data: data})
		case attrs&uefi.EFI_VARIABLE_APPEND_WRITE != 0:
			v.data = append(v.data, data...)
		case size == 0 || attrs == 0:
			fw.vars = slices.DeleteFunc(fw.vars, func(x *variable) bool { return x == v })
		default:
			if v.attrs != attrs {
				return uefi.EFI_INVALID_PARAMETER
			}
			v.data = data
		}
		return uefi.EFI_SUCCESS
	})
	rt.QueryVariableInfo = fw.register("QueryVariableInfo", func(a []uintptr) uefi.Status {
		maxStorage, remaining, maxSize := at[uint64](a, 1), at[uint64](a, 2), at[uint64](a, 3)
		if maxStorage == nil || remaining == nil || maxSize == nil || arg(a, 0) == 0 {
			return uefi.EFI_INVALID_PARAMETER
		}
		*maxStorage = variableStorage
		*remaining = variableStorage - fw.used()
		*maxSize = variableStorage / 4
		return uefi.EFI_SUCCESS
	})

	rt.GetNextHighMonotonicCount = fw.register("GetNextHighMonotonicCount", func(a []uintptr) uefi.Status {
		out := at[uint32](a, 0)
		if out == nil {
			return uefi.EFI_INVALID_PARAMETER
		}
		fw.highMonotonic++
		fw.monotonic = 0
		*out = fw.highMonotonic
		return uefi.EFI_SUCCESS
	})
	rt.ResetSystem = fw.register("ResetSystem", func(a []uintptr) uefi.Status {
		fw.Resets = append(fw.Resets, int(arg(a, 0)))
		return uefi.EFI_SUCCESS
	})

	return rt
}
