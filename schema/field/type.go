package field

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// A Type represents a column type tag.
type Type uint8

// List of column types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeTime
	TypeJSON
	TypeUUID
	TypeBytes
	TypeEnum
	TypeString
	TypeOther
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint
	TypeUint64
	TypeFloat32
	TypeFloat64
	endTypes
)

var (
	typeNames = [...]string{
		TypeInvalid: "invalid",
		TypeBool:    "bool",
		TypeTime:    "time.Time",
		TypeJSON:    "json.RawMessage",
		TypeUUID:    "uuid.UUID",
		TypeBytes:   "[]byte",
		TypeEnum:    "string",
		TypeString:  "string",
		TypeOther:   "other",
		TypeInt:     "int",
		TypeInt8:    "int8",
		TypeInt16:   "int16",
		TypeInt32:   "int32",
		TypeInt64:   "int64",
		TypeUint:    "uint",
		TypeUint8:   "uint8",
		TypeUint16:  "uint16",
		TypeUint32:  "uint32",
		TypeUint64:  "uint64",
		TypeFloat32: "float32",
		TypeFloat64: "float64",
	}
	constNames = [...]string{
		TypeJSON:    "TypeJSON",
		TypeUUID:    "TypeUUID",
		TypeTime:    "TypeTime",
		TypeEnum:    "TypeEnum",
		TypeBytes:   "TypeBytes",
		TypeOther:   "TypeOther",
		TypeBool:    "TypeBool",
		TypeString:  "TypeString",
		TypeInt:     "TypeInt",
		TypeInt8:    "TypeInt8",
		TypeInt16:   "TypeInt16",
		TypeInt32:   "TypeInt32",
		TypeInt64:   "TypeInt64",
		TypeUint:    "TypeUint",
		TypeUint8:   "TypeUint8",
		TypeUint16:  "TypeUint16",
		TypeUint32:  "TypeUint32",
		TypeUint64:  "TypeUint64",
		TypeFloat32: "TypeFloat32",
		TypeFloat64: "TypeFloat64",
	}
)

// String returns the Go type name of the tag.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Numeric reports if the given type is a numeric type.
func (t Type) Numeric() bool {
	return t >= TypeInt8 && t < endTypes
}

// Integer reports if the given type is an integer type.
func (t Type) Integer() bool {
	return t >= TypeInt8 && t <= TypeUint64
}

// Unsigned reports if the given type is an unsigned integer type.
func (t Type) Unsigned() bool {
	return t >= TypeUint8 && t <= TypeUint64
}

// Float reports if the given type is a floating point type.
func (t Type) Float() bool {
	return t == TypeFloat32 || t == TypeFloat64
}

// Valid reports if the given type is known.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < endTypes
}

// ConstName returns the constant name of a type.
func (t Type) ConstName() string {
	if !t.Valid() {
		return typeNames[TypeInvalid]
	}
	return constNames[t]
}

// Normalize converts a Go or driver value into the canonical Go
// representation of the type: signed integers become int64, unsigned
// integers uint64, floats float64, text string, and so on. nil stays nil.
// The canonical form is what identity keys and attribute history compare.
func (t Type) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		v = rv.Elem().Interface()
	}
	switch {
	case t.Integer() && !t.Unsigned():
		return toInt64(v)
	case t.Unsigned():
		return toUint64(v)
	case t.Float():
		return toFloat64(v)
	}
	switch t {
	case TypeBool:
		return toBool(v)
	case TypeString, TypeEnum:
		switch v := v.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case fmt.Stringer:
			return v.String(), nil
		}
		return nil, fmt.Errorf("field: cannot convert %T to %s", v, t)
	case TypeTime:
		return toTime(v)
	case TypeUUID:
		switch v := v.(type) {
		case uuid.UUID:
			return v, nil
		case string:
			return uuid.Parse(v)
		case []byte:
			if len(v) == 16 {
				return uuid.FromBytes(v)
			}
			return uuid.ParseBytes(v)
		}
		return nil, fmt.Errorf("field: cannot convert %T to %s", v, t)
	case TypeBytes:
		switch v := v.(type) {
		case []byte:
			return append([]byte(nil), v...), nil
		case string:
			return []byte(v), nil
		}
		return nil, fmt.Errorf("field: cannot convert %T to %s", v, t)
	case TypeJSON:
		switch v := v.(type) {
		case json.RawMessage:
			return v, nil
		case []byte:
			return json.RawMessage(append([]byte(nil), v...)), nil
		case string:
			return json.RawMessage(v), nil
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("field: marshal json: %w", err)
			}
			return json.RawMessage(b), nil
		}
	}
	return v, nil
}

func toInt64(v any) (any, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("field: %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("field: %v is not an integer", v)
		}
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return nil, fmt.Errorf("field: cannot convert %T to int64", v)
}

func toUint64(v any) (any, error) {
	i, err := toInt64(v)
	if err == nil {
		if n := i.(int64); n >= 0 {
			return uint64(n), nil
		}
		return nil, fmt.Errorf("field: negative value %v for unsigned type", i)
	}
	switch v := v.(type) {
	case uint64:
		return v, nil
	case []byte:
		return strconv.ParseUint(string(v), 10, 64)
	case string:
		return strconv.ParseUint(v, 10, 64)
	}
	return nil, err
}

func toFloat64(v any) (any, error) {
	switch v := v.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	case string:
		return strconv.ParseFloat(v, 64)
	}
	i, err := toInt64(v)
	if err != nil {
		return nil, fmt.Errorf("field: cannot convert %T to float64", v)
	}
	return float64(i.(int64)), nil
}

func toBool(v any) (any, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case []byte:
		return strconv.ParseBool(string(v))
	case string:
		return strconv.ParseBool(v)
	}
	i, err := toInt64(v)
	if err != nil {
		return nil, fmt.Errorf("field: cannot convert %T to bool", v)
	}
	return i.(int64) != 0, nil
}

// timeLayouts are the text layouts drivers without a native time type
// (SQLite) are known to return.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toTime(v any) (any, error) {
	var s string
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return nil, fmt.Errorf("field: cannot convert %T to time.Time", v)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("field: cannot parse %q as time.Time", s)
}
