package settings

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseInteger returns raw as a base-10 integer, or def when raw is empty
// or not an integer.
func ParseInteger(raw string, def int) int {
	i, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return i
}

// ParseBoolean maps "true" and "false" to their values and anything else
// to def.
func ParseBoolean(raw string, def bool) bool {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	default:
		return def
	}
}

// Stringify renders an update value the way it is written to storage.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
