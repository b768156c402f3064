//go:build wasip1

package guest

import (
	"sync"
	"unsafe"
)

var bytesMu sync.Mutex
var BYTE_HANDLES = map[uint32][]byte{}
var NEXT_BYTE_HANDLE uint32 = 1

//go:wasmexport alloc_bytes
func AllocBytes(size uint32) uint64 {
	bytesMu.Lock()
	defer bytesMu.Unlock()

	// Always back the buffer with at least one byte so it has an address.
	bytes := make([]byte, size, max(size, 1))
	handle := NEXT_BYTE_HANDLE
	BYTE_HANDLES[handle] = bytes
	NEXT_BYTE_HANDLE++
	return uint64(handle)<<32 | uint64(uintptr(unsafe.Pointer(unsafe.SliceData(bytes[:cap(bytes)]))))
}

//go:wasmexport free_bytes
func FreeBytes(handle uint32) {
	bytesMu.Lock()
	defer bytesMu.Unlock()
	delete(BYTE_HANDLES, handle)
}

// TakeBytes returns the buffer behind handle and frees the handle.
func TakeBytes(handle uint32) ([]byte, bool) {
	bytesMu.Lock()
	defer bytesMu.Unlock()
	bytes, ok := BYTE_HANDLES[handle]
	delete(BYTE_HANDLES, handle)
	return bytes, ok
}
