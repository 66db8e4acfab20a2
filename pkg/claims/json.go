package claims

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// FromJSON flattens decoded JSON claims into string values. Booleans and numbers use
// their JSON spelling, objects use the "{key=value, ...}" form read by ParseNested,
// arrays are joined with spaces and null claims are dropped.
func FromJSON(raw map[string]any) map[string]string {
	values := make(map[string]string, len(raw))

	for key, value := range raw {
		if value == nil {
			continue
		}

		values[key] = stringify(value)
	}

	return values
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any:
		keys := slices.Sorted(maps.Keys(v))
		pairs := lo.Map(keys, func(k string, _ int) string {
			return k + "=" + stringify(v[k])
		})

		return "{" + strings.Join(pairs, ", ") + "}"
	case []any:
		return strings.Join(lo.Map(v, func(item any, _ int) string { return stringify(item) }), " ")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
