package typeutils

import (
	"testing"
	"time"

	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAndMapColumnType(t *testing.T) {
	mapping := map[string]types.DataType{
		"varchar": types.String,
		"int":     types.Int32,
	}

	tests := []struct {
		name     string
		colType  string
		expected types.DataType
	}{
		{
			name:     "simple exact match",
			colType:  "int",
			expected: types.Int32,
		},
		{
			name:     "case insensitive",
			colType:  "VARCHAR",
			expected: types.String,
		},
		{
			name:     "with parameters",
			colType:  "varchar(50)",
			expected: types.String,
		},
		{
			name:     "unknown",
			colType:  "blob",
			expected: types.Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractAndMapColumnType(tt.colType, mapping)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestReformatValue(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("IST", 19800))

	tests := []struct {
		name     string
		dataType types.DataType
		input    any
		expected any
	}{
		{"int_from_int32", types.Int32, int32(7), int64(7)},
		{"int_from_bytes", types.Int64, []byte("42"), int64(42)},
		{"decimal_from_bytes", types.Float64, []byte("12.50"), 12.5},
		{"bool_from_bool", types.Bool, true, true},
		{"timestamp_to_utc", types.Timestamp, ts, ts.UTC()},
		{"string_from_bytes", types.String, []byte("abc"), "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ReformatValue(tt.dataType, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}

	_, err := ReformatValue(types.Int64, nil)
	assert.ErrorIs(t, err, ErrNullValue)

	_, err = ReformatValue(types.Int64, "abc")
	assert.Error(t, err)
}
