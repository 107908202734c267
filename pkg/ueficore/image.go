// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ueficore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	efi "github.com/canonical/go-efilib"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/costinm/goefi/pkg/proto"
	"github.com/costinm/goefi/pkg/uefi"
)

// Kernel describes an EFI image to start, usually a Linux kernel built with
// the EFI stub.
type Kernel struct {
	// Path locates the image on the boot volume. It is also recorded as the
	// file path of the loaded image.
	Path string
	// Data is the image itself. When nil it is read from Path.
	Data []byte
	// Cmdline is passed to the image as its load options.
	Cmdline string
}

// ExitError reports an image that returned a failure from StartImage,
// together with the exit data it left.
type ExitError struct {
	Path string
	// Message is the text part of the exit data.
	Message string
	// Data is the raw exit data.
	Data []byte
	Err  error
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s exited: %v: %s", e.Path, e.Err, e.Message)
	}
	return fmt.Sprintf("%s exited: %v", e.Path, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Loader loads and starts images on behalf of the running one.
type Loader struct {
	bs  *uefi.BootServices
	log *zap.Logger
}

// NewLoader returns a loader for the running image. A nil log discards
// messages.
func NewLoader(bs *uefi.BootServices, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{bs: bs, log: log}
}

// ReadFile reads path from the boot volume and logs its digest.
func (l *Loader) ReadFile(path string) ([]byte, error) {
	root, err := proto.BootVolume(l.bs)
	if err != nil {
		return nil, fmt.Errorf("could not open root volume: %w", err)
	}
	defer root.Close()

	data, err := proto.ReadFile(root, path)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(data)
	l.log.Info("loaded file",
		zap.String("path", path),
		zap.Int("size", len(data)),
		zap.String("sha256", hex.EncodeToString(hash[:])))
	return data, nil
}

// imagePath returns the device path of the boot device extended with a file
// node for path. A device without a device path gets a bare file node.
func (l *Loader) imagePath(path string) ([]byte, error) {
	var dp efi.DevicePath

	li, err := proto.CurrentImage(l.bs)
	if err != nil {
		return nil, err
	}
	dev, err := li.DeviceHandle()
	if err != nil {
		return nil, err
	}
	if devPath, err := proto.DevicePathOf(l.bs, dev); err == nil {
		dp = append(dp, devPath...)
	} else if !errors.Is(err, uefi.ErrUnsupported) {
		return nil, err
	}

	dp = append(dp, efi.FilePathDevicePathNode(path))
	return dp.Bytes()
}

// Load loads k from memory, reading it first when k.Data is nil, and sets
// its command line. The returned pool holds the load options and must stay
// open until the image has run.
func (l *Loader) Load(k Kernel) (uefi.Handle, *Pool, error) {
	data := k.Data
	if data == nil {
		var err error
		if data, err = l.ReadFile(k.Path); err != nil {
			return 0, nil, err
		}
	}

	path, err := l.imagePath(k.Path)
	if err != nil {
		return 0, nil, fmt.Errorf("device path for %s: %w", k.Path, err)
	}

	h, err := l.bs.LoadImage(false, l.bs.ImageHandle(), unsafe.Pointer(&path[0]), data).IgnoreWarning()
	runtime.KeepAlive(path)
	if err != nil {
		return 0, nil, fmt.Errorf("could not load image %s: %w", k.Path, err)
	}

	pool := NewPool(l.bs, uefi.EfiLoaderData)
	if err := l.setCommandLine(h, pool, k.Cmdline); err != nil {
		var result *multierror.Error
		result = multierror.Append(result, err, pool.Close())
		if uerr := l.bs.UnloadImage(h).Err(); uerr != nil {
			result = multierror.Append(result, fmt.Errorf("unload: %w", uerr))
		}
		return 0, nil, result.ErrorOrNil()
	}

	l.log.Debug("loaded image", zap.String("path", k.Path), zap.Uintptr("handle", uintptr(h)))
	return h, pool, nil
}

func (l *Loader) setCommandLine(h uefi.Handle, pool *Pool, cmdline string) error {
	if cmdline == "" {
		return nil
	}

	li, err := proto.LoadedImageOf(l.bs, h)
	if err != nil {
		return fmt.Errorf("loaded image: %w", err)
	}
	opts, size, err := pool.UTF16(cmdline)
	if err != nil {
		return err
	}
	return li.SetLoadOptions(opts, size)
}

// Start loads k and transfers control to it. It returns once the image
// exits, with an *ExitError when it failed.
func (l *Loader) Start(k Kernel) error {
	h, pool, err := l.Load(k)
	if err != nil {
		return err
	}
	defer pool.Close()

	l.log.Info("starting image", zap.String("path", k.Path), zap.String("cmdline", k.Cmdline))
	res, data := l.bs.StartImage(h)
	if err := res.Err(); err != nil {
		return &ExitError{Path: k.Path, Message: exitMessage(data), Data: data, Err: err}
	}
	if res.IsWarning() {
		l.log.Warn("image returned a warning", zap.String("path", k.Path), zap.Stringer("status", res.Status()))
	}
	return nil
}

// exitMessage decodes the null terminated UCS-2 text at the start of exit
// data. Binary data after it is ignored.
func exitMessage(data []byte) string {
	s, err := uefi.CStr16FromBytes(data)
	if err != nil {
		return ""
	}
	return s.ToUTF8()
}
