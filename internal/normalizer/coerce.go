package normalizer

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// coerceString renders scalar values as strings. Numbers keep their exact
// decimal form; floats never come out in exponent notation.
func coerceString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return t.String(), true
		}
		return d.String(), true
	case float64:
		return decimal.NewFromFloat(t).String(), true
	case float32:
		return decimal.NewFromFloat32(t).String(), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	default:
		return "", false
	}
}
