package claims

import (
	"strings"
)

// ParseNested reads the flattened object encoding some providers use for structured claims,
// e.g. "{country=US, street_address=1 Main St, locality=Springfield}".
//
// Anything before the first '{' or after the last '}' is ignored. Segments are split on ','
// so a value containing a comma is cut short; the key ends at the first '=' and the value
// starts after the last '=', so a key must not contain '=' either. Later duplicate keys win.
func ParseNested(s string) map[string]string {
	result := map[string]string{}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start < 0 || end <= start {
		return result
	}

	for _, segment := range strings.Split(s[start+1:end], ",") {
		first := strings.Index(segment, "=")
		if first < 0 {
			continue
		}

		last := strings.LastIndex(segment, "=")

		key := strings.TrimSpace(segment[:first])
		if key == "" {
			continue
		}

		result[key] = strings.TrimSpace(segment[last+1:])
	}

	return result
}
