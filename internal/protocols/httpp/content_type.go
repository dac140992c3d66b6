package httpp

import (
	"strings"
)

// ParseContentType strips parameters from a Content-Type header.
func ParseContentType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(strings.ToLower(v))
}
