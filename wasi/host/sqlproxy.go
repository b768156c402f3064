// Package host exposes an SQLHost to WebAssembly guests run with wazero.
//
// Guests import env.sqlproxy_call(reqPtr, reqLen) and receive the response in
// a buffer they allocated through their alloc_bytes export. The returned
// value is the buffer handle, with ErrorFlag set when the buffer holds an
// error message rather than a JSON response. A zero handle means the host
// could not deliver anything.
package host

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	sqlhost "github.com/tomyedwab/sqlbridge/sqlproxy/host"
)

const (
	// ModuleName is the import module guests link against.
	ModuleName = "env"
	// ErrorFlag marks a response buffer that holds an error message.
	ErrorFlag = uint64(1) << 32
)

// memory is the part of api.Memory used to exchange payloads.
type memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// allocFunc reserves size bytes in the guest and returns the buffer's handle
// and address.
type allocFunc func(ctx context.Context, size uint32) (handle, ptr uint32, err error)

func guestAlloc(m api.Module) allocFunc {
	return func(ctx context.Context, size uint32) (uint32, uint32, error) {
		alloc := m.ExportedFunction("alloc_bytes")
		if alloc == nil {
			return 0, 0, fmt.Errorf("guest does not export alloc_bytes")
		}
		result, err := alloc.Call(ctx, uint64(size))
		if err != nil {
			return 0, 0, err
		}
		return uint32(result[0] >> 32), uint32(result[0]), nil
	}
}

// Instantiate registers the env module on r with sqlproxy_call bound to h.
// A nil h uses sqlhost.Default().
func Instantiate(ctx context.Context, r wazero.Runtime, h *sqlhost.SQLHost) (api.Module, error) {
	if h == nil {
		h = sqlhost.Default()
	}
	call := func(ctx context.Context, m api.Module, reqOffset, reqByteCount uint32) uint64 {
		return serve(ctx, h, m.Memory(), guestAlloc(m), reqOffset, reqByteCount)
	}
	return r.NewHostModuleBuilder(ModuleName).
		NewFunctionBuilder().WithFunc(call).Export("sqlproxy_call").
		Instantiate(ctx)
}

// serve handles one sqlproxy_call.
func serve(ctx context.Context, h *sqlhost.SQLHost, mem memory, alloc allocFunc, reqOffset, reqByteCount uint32) uint64 {
	request, ok := mem.Read(reqOffset, reqByteCount)
	if !ok {
		return deliver(ctx, mem, alloc, []byte(fmt.Sprintf("request [%d, +%d) is out of range", reqOffset, reqByteCount)), true)
	}

	response, err := h.HandleRequest(ctx, request)
	if err != nil {
		log.WithError(err).Error("failed to handle sqlproxy request")
		return deliver(ctx, mem, alloc, []byte(err.Error()), true)
	}
	return deliver(ctx, mem, alloc, response, false)
}

// deliver copies payload into a fresh guest buffer and returns its handle.
func deliver(ctx context.Context, mem memory, alloc allocFunc, payload []byte, isErr bool) uint64 {
	handle, ptr, err := alloc(ctx, uint32(len(payload)))
	if err != nil {
		log.WithError(err).Error("failed to allocate guest buffer")
		return 0
	}
	if !mem.Write(ptr, payload) {
		log.WithFields(log.Fields{
			"ptr":  ptr,
			"size": len(payload),
		}).Error("guest buffer is out of range")
		return 0
	}
	if isErr {
		return uint64(handle) | ErrorFlag
	}
	return uint64(handle)
}
