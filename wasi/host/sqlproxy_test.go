package host

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/tomyedwab/sqlbridge/sqlproxy/bridge"
	sqlhost "github.com/tomyedwab/sqlbridge/sqlproxy/host"
	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// fakeGuest is a linear memory with a bump allocator standing in for a
// guest's alloc_bytes export.
type fakeGuest struct {
	mem     []byte
	next    uint32
	buffers map[uint32][2]uint32 // handle -> ptr, size
}

func newFakeGuest(size int) *fakeGuest {
	return &fakeGuest{mem: make([]byte, size), next: 1024, buffers: map[uint32][2]uint32{}}
}

func (g *fakeGuest) Read(offset, byteCount uint32) ([]byte, bool) {
	if uint64(offset)+uint64(byteCount) > uint64(len(g.mem)) {
		return nil, false
	}
	return g.mem[offset : offset+byteCount], true
}

func (g *fakeGuest) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(g.mem)) {
		return false
	}
	copy(g.mem[offset:], v)
	return true
}

func (g *fakeGuest) alloc(_ context.Context, size uint32) (uint32, uint32, error) {
	handle := uint32(len(g.buffers) + 1)
	ptr := g.next
	g.next += size
	g.buffers[handle] = [2]uint32{ptr, size}
	return handle, ptr, nil
}

// call writes req at offset 0 and runs one sqlproxy_call.
func (g *fakeGuest) call(t *testing.T, h *sqlhost.SQLHost, req types.SQLRequest) (payload []byte, isErr bool) {
	t.Helper()
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	require.True(t, g.Write(0, raw))

	result := serve(context.Background(), h, g, g.alloc, 0, uint32(len(raw)))
	require.NotZero(t, result, "no response delivered")
	return g.buffer(t, uint32(result)), result&ErrorFlag != 0
}

func (g *fakeGuest) buffer(t *testing.T, handle uint32) []byte {
	t.Helper()
	buf, ok := g.buffers[handle]
	require.True(t, ok, "unknown buffer handle %d", handle)
	data, ok := g.Read(buf[0], buf[1])
	require.True(t, ok)
	return data
}

func newTestHost(t *testing.T) *sqlhost.SQLHost {
	t.Helper()
	b, err := bridge.New(bridge.Config{Workers: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return sqlhost.New(sqlhost.Config{Bridge: b})
}

func TestServeRoundTrip(t *testing.T) {
	h := newTestHost(t)
	g := newFakeGuest(1 << 16)

	payload, isErr := g.call(t, h, types.SQLRequest{Command: types.CommandOpen, Path: ":memory:"})
	require.False(t, isErr, string(payload))
	var opened types.GeneralResponse
	require.NoError(t, json.Unmarshal(payload, &opened))
	require.Len(t, opened.ConnID, 36)
	t.Cleanup(func() { _ = h.Close(context.Background(), opened.ConnID) })

	payload, isErr = g.call(t, h, types.SQLRequest{Command: types.CommandStats})
	require.False(t, isErr)
	var stats types.StatsResponse
	require.NoError(t, json.Unmarshal(payload, &stats))
	assert.Equal(t, 1, stats.Connections)
}

func TestServeReportsOperationErrorsInResponse(t *testing.T) {
	h := newTestHost(t)
	g := newFakeGuest(1 << 16)

	payload, isErr := g.call(t, h, types.SQLRequest{Command: types.CommandCloseConn, ConnID: "missing"})
	assert.False(t, isErr, "operation errors travel inside the JSON response")

	var resp types.GeneralResponse
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, types.KindNotFound, resp.ErrorKind)
}

func TestServeRequestOutOfRange(t *testing.T) {
	h := newTestHost(t)
	g := newFakeGuest(4096)

	result := serve(context.Background(), h, g, g.alloc, 4000, 200)
	require.NotZero(t, result)
	assert.NotZero(t, result&ErrorFlag)
	assert.Contains(t, string(g.buffer(t, uint32(result))), "out of range")
}

func TestServeUndeliverable(t *testing.T) {
	h := newTestHost(t)
	g := newFakeGuest(4096)
	raw := []byte(`{"command":"stats"}`)
	require.True(t, g.Write(0, raw))

	failing := func(context.Context, uint32) (uint32, uint32, error) {
		return 0, 0, errors.New("out of memory")
	}
	assert.Zero(t, serve(context.Background(), h, g, failing, 0, uint32(len(raw))))

	outside := func(context.Context, uint32) (uint32, uint32, error) {
		return 1, 1 << 20, nil
	}
	assert.Zero(t, serve(context.Background(), h, g, outside, 0, uint32(len(raw))))
}

func TestInstantiateExportsCall(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	mod, err := Instantiate(ctx, r, newTestHost(t))
	require.NoError(t, err)

	def, ok := mod.ExportedFunctionDefinitions()["sqlproxy_call"]
	require.True(t, ok)
	assert.Equal(t, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, def.ParamTypes())
	assert.Equal(t, []api.ValueType{api.ValueTypeI64}, def.ResultTypes())
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	h := newTestHost(t)

	// The smallest valid module: magic and version, no sections.
	empty := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	assert.NoError(t, Run(ctx, empty, h, RunConfig{Name: "empty"}))

	err := Run(ctx, []byte("not wasm"), h, RunConfig{})
	assert.ErrorContains(t, err, "failed to compile guest")
}
