package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ValueType tags the variant held by a Value.
type ValueType string

const (
	TypeNull    ValueType = "null"
	TypeInteger ValueType = "integer"
	TypeReal    ValueType = "real"
	TypeText    ValueType = "text"
	TypeBlob    ValueType = "blob"
)

// Value is a single SQL parameter or column value. Exactly one of the payload
// fields is meaningful, selected by Type.
type Value struct {
	Type    ValueType
	Integer int64
	Real    float64
	Text    string
	Blob    []byte
}

func Null() Value              { return Value{Type: TypeNull} }
func Integer(v int64) Value    { return Value{Type: TypeInteger, Integer: v} }
func Real(v float64) Value     { return Value{Type: TypeReal, Real: v} }
func Text(v string) Value      { return Value{Type: TypeText, Text: v} }
func Blob(v []byte) Value      { return Value{Type: TypeBlob, Blob: v} }
func (v Value) IsNull() bool   { return v.Type == TypeNull || v.Type == "" }
func (v Value) String() string { return fmt.Sprint(v.Any()) }

// Any returns the value as a plain Go value suitable for database/sql
// argument binding.
func (v Value) Any() any {
	switch v.Type {
	case TypeInteger:
		return v.Integer
	case TypeReal:
		return v.Real
	case TypeText:
		return v.Text
	case TypeBlob:
		return v.Blob
	}
	return nil
}

// FromAny converts a value scanned from, or destined for, database/sql into a
// Value. Timestamps become RFC3339Nano text.
func FromAny(src any) (Value, error) {
	switch v := src.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case int64:
		return Integer(v), nil
	case int:
		return Integer(int64(v)), nil
	case int32:
		return Integer(int64(v)), nil
	case int16:
		return Integer(int64(v)), nil
	case int8:
		return Integer(int64(v)), nil
	case uint32:
		return Integer(int64(v)), nil
	case uint16:
		return Integer(int64(v)), nil
	case uint8:
		return Integer(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return Value{}, fmt.Errorf("uint64 value %d overflows INTEGER", v)
		}
		return Integer(int64(v)), nil
	case bool:
		if v {
			return Integer(1), nil
		}
		return Integer(0), nil
	case float64:
		return Real(v), nil
	case float32:
		return Real(float64(v)), nil
	case string:
		return Text(v), nil
	case []byte:
		return Blob(v), nil
	case time.Time:
		return Text(v.Format(time.RFC3339Nano)), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", src)
}

// Args converts values into database/sql bind arguments.
func Args(values []Value) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v.Any()
	}
	return args
}

type valueJSON struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Type: v.Type}
	var payload any
	switch v.Type {
	case "", TypeNull:
		out.Type = TypeNull
	case TypeInteger:
		payload = v.Integer
	case TypeReal:
		payload = v.Real
	case TypeText:
		payload = v.Text
	case TypeBlob:
		payload = base64.StdEncoding.EncodeToString(v.Blob)
	default:
		return nil, fmt.Errorf("unknown value type %q", v.Type)
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		out.Value = raw
	}
	return json.Marshal(out)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*v = Value{Type: in.Type}
	switch in.Type {
	case "", TypeNull:
		v.Type = TypeNull
		return nil
	case TypeInteger:
		return json.Unmarshal(in.Value, &v.Integer)
	case TypeReal:
		return json.Unmarshal(in.Value, &v.Real)
	case TypeText:
		return json.Unmarshal(in.Value, &v.Text)
	case TypeBlob:
		var encoded string
		if err := json.Unmarshal(in.Value, &encoded); err != nil {
			return err
		}
		blob, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("invalid blob encoding: %w", err)
		}
		v.Blob = blob
		return nil
	}
	return fmt.Errorf("unknown value type %q", in.Type)
}
