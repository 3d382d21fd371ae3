package typeutils

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/datazip-inc/olake-mssql-cdc/types"
)

var ErrNullValue = errors.New("null value")

func ExtractAndMapColumnType(columnType string, typeMapping map[string]types.DataType) types.DataType {
	// extracts the base type (e.g., varchar(50) -> varchar)
	baseType := strings.ToLower(strings.TrimSpace(strings.Split(columnType, "(")[0]))
	if dataType, found := typeMapping[baseType]; found {
		return dataType
	}
	return types.Unknown
}

// ReformatValue converts a raw driver value into the Go type used on emitted
// events for the given data type.
func ReformatValue(dataType types.DataType, value any) (any, error) {
	if value == nil {
		return nil, ErrNullValue
	}

	switch dataType {
	case types.Int32, types.Int64:
		return reformatInt64(value)
	case types.Float32, types.Float64:
		return reformatFloat64(value)
	case types.Bool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case []byte:
			return strconv.ParseBool(string(v))
		case string:
			return strconv.ParseBool(v)
		}
		return nil, fmt.Errorf("failed to reformat %v (%T) as bool", value, value)
	case types.Timestamp, types.TimestampMicro:
		switch v := value.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("failed to reformat %q as timestamp: %s", v, err)
			}
			return parsed.UTC(), nil
		}
		return nil, fmt.Errorf("failed to reformat %v (%T) as timestamp", value, value)
	default:
		switch v := value.(type) {
		case []byte:
			return string(v), nil
		case string:
			return v, nil
		case time.Time:
			return v.UTC().Format(time.RFC3339Nano), nil
		default:
			return fmt.Sprintf("%v", v), nil
		}
	}
}

func reformatInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case bool:
		return map[bool]int64{true: 1, false: 0}[v], nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("failed to reformat %v (%T) as int64", value, value)
}

func reformatFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case []byte:
		// decimal and money arrive as text
		f, _, err := big.ParseFloat(string(v), 10, 64, big.ToNearestEven)
		if err != nil {
			return 0, fmt.Errorf("failed to reformat %q as float64: %s", string(v), err)
		}
		out, _ := f.Float64()
		return out, nil
	case string:
		return strconv.ParseFloat(v, 64)
	}
	return 0, fmt.Errorf("failed to reformat %v (%T) as float64", value, value)
}
