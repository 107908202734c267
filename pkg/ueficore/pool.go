// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ueficore builds the pieces a boot stub needs on top of package
// uefi: pool memory that is released as a unit, a zap logger on the firmware
// console, kernel image loading and the exit path.
package ueficore

import (
	"fmt"
	"unsafe"

	efi "github.com/canonical/go-efilib"
	"github.com/hashicorp/go-multierror"

	"github.com/costinm/goefi/pkg/uefi"
)

// Pool hands out firmware pool memory and remembers every allocation, so
// that memory passed to firmware or to another image can be released in one
// place.
//
// A Pool is not safe for concurrent use.
type Pool struct {
	bs      *uefi.BootServices
	memType int
	allocs  []unsafe.Pointer
}

// NewPool returns a pool allocating memory of memType, typically
// uefi.EfiLoaderData.
func NewPool(bs *uefi.BootServices, memType int) *Pool {
	return &Pool{bs: bs, memType: memType}
}

// Alloc allocates size bytes.
func (p *Pool) Alloc(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool: invalid size %d: %w", size, uefi.ErrInvalidParameter)
	}
	ptr, err := p.bs.AllocatePool(p.memType, size).IgnoreWarning()
	if err != nil {
		return nil, fmt.Errorf("pool: allocate %d bytes: %w", size, err)
	}
	p.allocs = append(p.allocs, ptr)
	return ptr, nil
}

// Bytes allocates a copy of b.
func (p *Pool) Bytes(b []byte) (unsafe.Pointer, error) {
	ptr, err := p.Alloc(len(b))
	if err != nil {
		return nil, err
	}
	copy(unsafe.Slice((*byte)(ptr), len(b)), b)
	return ptr, nil
}

// UTF16 allocates s as a null terminated UTF-16 string and returns it with
// its size in bytes, terminator included.
func (p *Pool) UTF16(s string) (unsafe.Pointer, int, error) {
	u := append(efi.ConvertUTF8ToUTF16(s), 0)
	size := len(u) * 2

	ptr, err := p.Alloc(size)
	if err != nil {
		return nil, 0, err
	}
	copy(unsafe.Slice((*uint16)(ptr), len(u)), u)
	return ptr, size, nil
}

// Free releases one allocation made by p.
func (p *Pool) Free(ptr unsafe.Pointer) error {
	for i, a := range p.allocs {
		if a != ptr {
			continue
		}
		p.allocs = append(p.allocs[:i], p.allocs[i+1:]...)
		if err := p.bs.FreePool(ptr).Err(); err != nil {
			return fmt.Errorf("pool: free %p: %w", ptr, err)
		}
		return nil
	}
	return fmt.Errorf("pool: %p not allocated here: %w", ptr, uefi.ErrInvalidParameter)
}

// Len returns the number of live allocations.
func (p *Pool) Len() int {
	return len(p.allocs)
}

// Close releases every live allocation and reports all failures together.
// After ExitBootServices pool memory belongs to the OS and nothing is
// freed.
func (p *Pool) Close() error {
	if !p.bs.Valid() {
		p.allocs = nil
		return nil
	}

	var result *multierror.Error
	for _, a := range p.allocs {
		if err := p.bs.FreePool(a).Err(); err != nil {
			result = multierror.Append(result, fmt.Errorf("free %p: %w", a, err))
		}
	}
	p.allocs = nil
	return result.ErrorOrNil()
}
