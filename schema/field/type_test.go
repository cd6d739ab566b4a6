package field_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/schema/field"
)

func TestTypeNumeric(t *testing.T) {
	typ := field.TypeBool
	assert.False(t, typ.Numeric())
	typ = field.TypeUint8
	assert.True(t, typ.Numeric())
}

func TestTypeValid(t *testing.T) {
	typ := field.TypeBool
	assert.True(t, typ.Valid())
	typ = 0
	assert.False(t, typ.Valid())
	typ = 21
	assert.False(t, typ.Valid())
}

// TestFieldTypeInfo tests type information methods.
func TestFieldTypeInfo(t *testing.T) {
	tests := []struct {
		name     string
		typ      field.Type
		numeric  bool
		integer  bool
		valid    bool
		constNam string
	}{
		{"TypeBool", field.TypeBool, false, false, true, "TypeBool"},
		{"TypeInt", field.TypeInt, true, true, true, "TypeInt"},
		{"TypeInt8", field.TypeInt8, true, true, true, "TypeInt8"},
		{"TypeInt64", field.TypeInt64, true, true, true, "TypeInt64"},
		{"TypeUint", field.TypeUint, true, true, true, "TypeUint"},
		{"TypeUint64", field.TypeUint64, true, true, true, "TypeUint64"},
		{"TypeFloat32", field.TypeFloat32, true, false, true, "TypeFloat32"},
		{"TypeFloat64", field.TypeFloat64, true, false, true, "TypeFloat64"},
		{"TypeString", field.TypeString, false, false, true, "TypeString"},
		{"TypeTime", field.TypeTime, false, false, true, "TypeTime"},
		{"TypeBytes", field.TypeBytes, false, false, true, "TypeBytes"},
		{"TypeJSON", field.TypeJSON, false, false, true, "TypeJSON"},
		{"TypeUUID", field.TypeUUID, false, false, true, "TypeUUID"},
		{"TypeEnum", field.TypeEnum, false, false, true, "TypeEnum"},
		{"TypeOther", field.TypeOther, false, false, true, "TypeOther"},
		{"TypeInvalid", field.TypeInvalid, false, false, false, "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.numeric, tt.typ.Numeric(), "Numeric() mismatch")
			assert.Equal(t, tt.integer, tt.typ.Integer(), "Integer() mismatch")
			assert.Equal(t, tt.valid, tt.typ.Valid(), "Valid() mismatch")
			assert.Equal(t, tt.constNam, tt.typ.ConstName(), "ConstName() mismatch")
		})
	}
}

func TestNormalize(t *testing.T) {
	id := uuid.New()
	now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		typ  field.Type
		in   any
		want any
	}{
		{"int from int", field.TypeInt, 6, int64(6)},
		{"int from int32", field.TypeInt64, int32(6), int64(6)},
		{"int from bytes", field.TypeInt, []byte("42"), int64(42)},
		{"int from pointer", field.TypeInt, ptr(7), int64(7)},
		{"uint from int64", field.TypeUint64, int64(3), uint64(3)},
		{"float from int", field.TypeFloat64, 2, float64(2)},
		{"bool from int64", field.TypeBool, int64(1), true},
		{"bool from zero", field.TypeBool, int64(0), false},
		{"string from bytes", field.TypeString, []byte("x"), "x"},
		{"enum from string", field.TypeEnum, "active", "active"},
		{"uuid from string", field.TypeUUID, id.String(), id},
		{"uuid from raw bytes", field.TypeUUID, id[:], id},
		{"time from sqlite text", field.TypeTime, "2024-05-01 10:30:00", now},
		{"json from map", field.TypeJSON, map[string]int{"a": 1}, json.RawMessage(`{"a":1}`)},
		{"nil stays nil", field.TypeInt, nil, nil},
		{"nil pointer", field.TypeInt, (*int)(nil), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.typ.Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeErrors(t *testing.T) {
	_, err := field.TypeInt.Normalize("abc")
	assert.Error(t, err)
	_, err = field.TypeInt.Normalize(1.5)
	assert.Error(t, err)
	_, err = field.TypeUint.Normalize(-1)
	assert.Error(t, err)
	_, err = field.TypeTime.Normalize("yesterday")
	assert.Error(t, err)
	_, err = field.TypeString.Normalize(struct{}{})
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
