package typeutils

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// floats closer than this compare equal
const floatTolerance = 1e-6

// Compare orders two values of one key column: -1 if a sorts first, 0 if equal
// and 1 otherwise. nil sorts first. Numbers compare across Go types, values
// of unrelated types fall back to their printed form.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if ai, ok := signed(a); ok {
		if bi, ok := signed(b); ok {
			return cmp.Compare(ai, bi)
		}
	}
	if au, ok := unsigned(a); ok {
		if bu, ok := unsigned(b); ok {
			return cmp.Compare(au, bu)
		}
	}
	if af, ok := float(a); ok {
		if bf, ok := float(b); ok {
			return compareFloat(af, bf)
		}
	}

	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			// false < true
			return cmp.Compare(boolRank(av), boolRank(bv))
		}
	case []byte:
		// binary and uniqueidentifier keys compare byte-wise
		if bv, ok := b.([]byte); ok {
			return bytes.Compare(av, bv)
		}
		return strings.Compare(string(av), fmt.Sprintf("%v", b))
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func signed(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	}
	return 0, false
}

func unsigned(v any) (uint64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true
	}
	return 0, false
}

func float(v any) (float64, bool) {
	if i, ok := signed(v); ok {
		return float64(i), true
	}
	if u, ok := unsigned(v); ok {
		return float64(u), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// compareFloat sorts NaN first and treats values within floatTolerance as equal.
func compareFloat(a, b float64) int {
	if !math.IsNaN(a) && !math.IsNaN(b) && (a == b || math.Abs(a-b) < floatTolerance) {
		return 0
	}
	return cmp.Compare(a, b)
}

func boolRank(v bool) int {
	if v {
		return 1
	}
	return 0
}

// CompareKeys compares composite keys column by column. A shorter key that is
// a prefix of the longer one sorts first.
func CompareKeys(a, b []any) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// KeyInRange reports whether key lies in [low, high). A nil bound is open.
func KeyInRange(key, low, high []any) bool {
	if low != nil && CompareKeys(key, low) < 0 {
		return false
	}
	if high != nil && CompareKeys(key, high) >= 0 {
		return false
	}
	return true
}
