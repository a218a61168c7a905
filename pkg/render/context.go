package render

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Version is reported to templates as the "version" keyword.
var Version = "dev"

// Context maps keywords to the values substitution tags are replaced with.
// Only strings and numbers are rendered; any other value counts as missing.
type Context map[string]any

// Merge flattens the layers into a new Context. Keys in later layers
// overwrite keys in earlier ones. Nested values are not merged.
func Merge(layers ...Context) Context {
	size := 0
	for _, layer := range layers {
		size += len(layer)
	}
	res := make(Context, size)
	for _, layer := range layers {
		for k, v := range layer {
			res[k] = v
		}
	}
	return res
}

// DefaultContext returns the lowest-precedence keyword layer for a render
// happening at now.
func DefaultContext(now time.Time) Context {
	return Context{
		"time":    now.UnixMilli(),
		"version": Version,
	}
}

// Lookup returns the rendered form of key. The second return value is false
// when the key is missing or its value is not a string or a number.
func (c Context) Lookup(key string) (string, bool) {
	val, ok := c[key]
	if !ok {
		return "", false
	}
	return stringify(val)
}

func stringify(val any) (string, bool) {
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case int:
		return strconv.Itoa(v), true
	case int8:
		return strconv.FormatInt(int64(v), 10), true
	case int16:
		return strconv.FormatInt(int64(v), 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		return formatFloat(float64(v), 32), true
	case float64:
		return formatFloat(v, 64), true
	default:
		return "", false
	}
}

func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		return strconv.FormatFloat(f, 'g', -1, bitSize)
	}
	// whole numbers have no fractional part, 42.0 renders as "42"
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}
