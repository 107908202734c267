//go:build tamago && amd64

// Package x64 calls UEFI firmware from a TamaGo x64 application, using the
// Microsoft x64 calling convention firmware expects.
package x64

import (
	"fmt"
	"sync"

	"github.com/costinm/goefi/pkg/uefi"
)

// maxArgs is the widest firmware function signature supported.
const maxArgs = 10

// defined in call_amd64.s
func callFn(fn uintptr, args *[maxArgs]uintptr) uintptr

// ABI is the native firmware ABI. Calls are serialized: firmware is not
// reentrant below TPL_NOTIFY.
type ABI struct {
	mu sync.Mutex
}

// Native is the ABI shared by every system table of the running image.
// go-boot's own services (its Console among them) serialize on a separate
// lock: programs using both call firmware from one goroutine only.
var Native = &ABI{}

// Call invokes fn with args, passing the first four in registers and the
// rest on the stack after the shadow space.
func (a *ABI) Call(fn uintptr, args ...uintptr) uefi.Status {
	if len(args) > maxArgs {
		panic(fmt.Sprintf("x64: %d arguments, at most %d supported", len(args), maxArgs))
	}

	var regs [maxArgs]uintptr
	copy(regs[:], args)

	a.mu.Lock()
	defer a.mu.Unlock()

	return uefi.Status(callFn(fn, &regs))
}
