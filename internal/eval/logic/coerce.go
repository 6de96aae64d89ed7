package logic

import (
	"math"
	"strconv"
	"strings"
)

// truthy follows JavaScript truthiness, except that an empty array is falsy
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0 && !math.IsNaN(val)
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	}
	return true
}

// toNumber follows JavaScript Number() coercion
func toNumber(v any) float64 {
	switch val := normalize(v).(type) {
	case nil:
		return 0
	case bool:
		if val {
			return 1
		}
		return 0
	case float64:
		return val
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case []any:
		switch len(val) {
		case 0:
			return 0
		case 1:
			return toNumber(val[0])
		}
	}
	return math.NaN()
}

// jsString follows JavaScript String() coercion with null rendered as ""
func jsString(v any) string {
	switch val := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatNumber(val)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = jsString(item)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	}
	return ""
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, bool, float64, string:
		return true
	}
	return false
}

// looseEquals follows the JavaScript == algorithm
func looseEquals(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case string:
		switch bv := b.(type) {
		case string:
			return av == bv
		case float64:
			return toNumber(av) == bv
		}
	case float64:
		switch bv := b.(type) {
		case float64:
			return av == bv
		case string:
			return av == toNumber(bv)
		}
	}
	if ab, ok := a.(bool); ok {
		return looseEquals(toNumber(ab), b)
	}
	if bb, ok := b.(bool); ok {
		return looseEquals(a, toNumber(bb))
	}
	// object against primitive compares the primitive form
	if !isPrimitive(a) && isPrimitive(b) {
		return looseEquals(jsString(a), b)
	}
	if isPrimitive(a) && !isPrimitive(b) {
		return looseEquals(a, jsString(b))
	}
	return false
}

// strictEquals follows the JavaScript === algorithm for primitives; distinct
// objects are never equal
func strictEquals(a, b any) bool {
	a, b = normalize(a), normalize(b)
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return false
}

// lessThan follows JavaScript relational comparison
func lessThan(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return toNumber(a) < toNumber(b)
}

func lessOrEqual(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as <= bs
	}
	return toNumber(a) <= toNumber(b)
}
