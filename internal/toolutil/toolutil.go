// Package toolutil holds input normalization shared by the go_sage MCP tools.
package toolutil

import (
	"fmt"
	"strings"

	"github.com/anatolykoptev/go_sage/internal/engine/streams"
)

// Required trims v and returns an error naming field when it is empty.
func Required(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	return v, nil
}

// Preferences converts raw tool arguments into follow preferences.
// Validation happens in streams.Preferences.Normalize.
func Preferences(contentTypes, modes []string) streams.Preferences {
	var p streams.Preferences
	for _, ct := range contentTypes {
		if ct = norm(ct); ct != "" {
			p.ContentTypes = append(p.ContentTypes, streams.ContentType(ct))
		}
	}
	for _, m := range modes {
		if m = norm(m); m != "" {
			p.ProcessingModes = append(p.ProcessingModes, streams.ProcessingMode(m))
		}
	}
	return p
}

// StreamStatus validates an optional status filter.
func StreamStatus(s string) (streams.StreamStatus, error) {
	st := streams.StreamStatus(norm(s))
	if st == "" || st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// ContentType validates an optional content type filter.
func ContentType(s string) (streams.ContentType, error) {
	ct := streams.ContentType(norm(s))
	if ct == "" || ct.Valid() {
		return ct, nil
	}
	return "", fmt.Errorf("unknown content type %q", s)
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
