package streams

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidPreferences is returned when follow preferences name an unknown
// content type or processing mode.
var ErrInvalidPreferences = errors.New("invalid preferences")

// ProcessingMode selects which analyzers run on a stream.
type ProcessingMode string

const (
	ModeKeyword ProcessingMode = "keyword"
	ModeLLM     ProcessingMode = "llm"
)

// Preferences are the per-follow tracking settings.
type Preferences struct {
	ContentTypes    []ContentType    `json:"content_types"`
	ProcessingModes []ProcessingMode `json:"processing_modes"`
}

// DefaultPreferences tracks live streams and uploads with keyword analysis.
func DefaultPreferences() Preferences {
	return Preferences{
		ContentTypes:    []ContentType{ContentLive, ContentUpload},
		ProcessingModes: []ProcessingMode{ModeKeyword},
	}
}

// Normalize validates p, fills empty lists with defaults and removes duplicates.
func (p Preferences) Normalize() (Preferences, error) {
	def := DefaultPreferences()
	out := Preferences{}

	for _, ct := range p.ContentTypes {
		if !ct.Valid() {
			return Preferences{}, fmt.Errorf("%w: unknown content type %q", ErrInvalidPreferences, ct)
		}
		if !slices.Contains(out.ContentTypes, ct) {
			out.ContentTypes = append(out.ContentTypes, ct)
		}
	}
	for _, m := range p.ProcessingModes {
		if m != ModeKeyword && m != ModeLLM {
			return Preferences{}, fmt.Errorf("%w: unknown processing mode %q", ErrInvalidPreferences, m)
		}
		if !slices.Contains(out.ProcessingModes, m) {
			out.ProcessingModes = append(out.ProcessingModes, m)
		}
	}

	if len(out.ContentTypes) == 0 {
		out.ContentTypes = def.ContentTypes
	}
	if len(out.ProcessingModes) == 0 {
		out.ProcessingModes = def.ProcessingModes
	}
	return out, nil
}

// Tracks reports whether streams of type ct should be discovered.
func (p Preferences) Tracks(ct ContentType) bool {
	return slices.Contains(p.ContentTypes, ct)
}

// Wants reports whether mode m is enabled. Keyword analysis always runs.
func (p Preferences) Wants(m ProcessingMode) bool {
	return m == ModeKeyword || slices.Contains(p.ProcessingModes, m)
}

// ParsePreferences decodes stored JSON. Empty input yields the defaults.
func ParsePreferences(raw []byte) (Preferences, error) {
	if len(raw) == 0 {
		return DefaultPreferences(), nil
	}
	var p Preferences
	if err := json.Unmarshal(raw, &p); err != nil {
		return Preferences{}, fmt.Errorf("%w: %w", ErrInvalidPreferences, err)
	}
	return p.Normalize()
}

// marshalPreferences normalizes p and encodes it for storage.
func marshalPreferences(p Preferences) (Preferences, []byte, error) {
	n, err := p.Normalize()
	if err != nil {
		return Preferences{}, nil, err
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return Preferences{}, nil, fmt.Errorf("encode preferences: %w", err)
	}
	return n, raw, nil
}
