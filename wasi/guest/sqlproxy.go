//go:build wasip1

package guest

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	sqlproxy "github.com/tomyedwab/sqlbridge/sqlproxy/driver"
)

//go:wasmimport env sqlproxy_call
func sqlproxy_call(reqPtr, reqLen uint32) uint64

const errorFlag = uint64(1) << 32

// CallHost sends one request payload to the host and returns its response.
func CallHost(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errors.New("sqlproxy: empty request")
	}
	result := sqlproxy_call(uint32(uintptr(unsafe.Pointer(unsafe.SliceData(payload)))), uint32(len(payload)))
	runtime.KeepAlive(payload)

	if result == 0 {
		return nil, errors.New("sqlproxy: host did not deliver a response")
	}
	ret, ok := TakeBytes(uint32(result))
	if !ok {
		return nil, fmt.Errorf("sqlproxy: host returned unknown buffer %d", uint32(result))
	}
	if result&errorFlag != 0 {
		return nil, fmt.Errorf("sqlproxy_call returned error: %s", string(ret))
	}
	return ret, nil
}

// Init routes the sqlproxy driver through the host.
func Init() {
	sqlproxy.SetHostHandler(CallHost)
}
