package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueJSONPreservesBlobVersusText(t *testing.T) {
	in := []Value{Null(), Integer(42), Real(19.99), Text("AAEC"), Blob([]byte{0, 1, 2, 255})}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out []Value
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
	assert.Equal(t, TypeText, out[3].Type)
	assert.Equal(t, TypeBlob, out[4].Type)
}

func TestZeroValueEncodesAsNull(t *testing.T) {
	data, err := json.Marshal(Value{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"null"}`, string(data))
	assert.True(t, Value{}.IsNull())
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	var v Value
	err := json.Unmarshal([]byte(`{"type":"decimal","value":"1.0"}`), &v)
	assert.Error(t, err)
}

func TestFromAny(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		in   any
		want Value
	}{
		{nil, Null()},
		{int64(7), Integer(7)},
		{7, Integer(7)},
		{true, Integer(1)},
		{false, Integer(0)},
		{1.5, Real(1.5)},
		{"x", Text("x")},
		{[]byte("x"), Blob([]byte("x"))},
		{ts, Text("2024-03-01T12:00:00Z")},
	}
	for _, c := range cases {
		got, err := FromAny(c.in)
		require.NoError(t, err, "%#v", c.in)
		assert.Equal(t, c.want, got, "%#v", c.in)
	}

	_, err := FromAny(struct{}{})
	assert.Error(t, err)
	_, err = FromAny(uint64(1 << 63))
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("conn x: %w", ErrNotFound)))
	assert.Equal(t, KindInvalidState, KindOf(fmt.Errorf("tx: %w", ErrInvalidState)))
	assert.Equal(t, KindTimeout, KindOf(ErrTimeout))
	assert.Equal(t, KindEngine, KindOf(Engine("exec", errors.New("syntax error"))))
	assert.Equal(t, KindRequest, KindOf(errors.New("bad request")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Nil(t, Engine("exec", nil))
}

func TestRemoteErrorMatchesSentinels(t *testing.T) {
	err := error(&RemoteError{Kind: KindNotFound, Message: "connection abc: handle not found"})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, "connection abc: handle not found", err.Error())
}
