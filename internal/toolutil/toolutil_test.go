package toolutil

import (
	"testing"

	"github.com/anatolykoptev/go_sage/internal/engine/streams"
)

func TestRequired(t *testing.T) {
	if v, err := Required("user_id", "  alice "); err != nil || v != "alice" {
		t.Errorf("Required = %q, %v", v, err)
	}
	if _, err := Required("user_id", "   "); err == nil {
		t.Error("expected error for blank value")
	}
}

func TestPreferences(t *testing.T) {
	p := Preferences([]string{" Live", "", "SHORT"}, []string{"llm "})
	want := []streams.ContentType{streams.ContentLive, streams.ContentShort}
	if len(p.ContentTypes) != 2 || p.ContentTypes[0] != want[0] || p.ContentTypes[1] != want[1] {
		t.Errorf("ContentTypes = %v, want %v", p.ContentTypes, want)
	}
	if len(p.ProcessingModes) != 1 || p.ProcessingModes[0] != streams.ModeLLM {
		t.Errorf("ProcessingModes = %v", p.ProcessingModes)
	}

	empty := Preferences(nil, nil)
	n, err := empty.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if !n.Tracks(streams.ContentUpload) {
		t.Error("empty input should normalize to defaults")
	}
}

func TestFilters(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"Completed", false},
		{"done", true},
	}
	for _, tt := range tests {
		_, err := StreamStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("StreamStatus(%q) err = %v", tt.in, err)
		}
	}
	if ct, err := ContentType(" live "); err != nil || ct != streams.ContentLive {
		t.Errorf("ContentType = %q, %v", ct, err)
	}
	if _, err := ContentType("podcast"); err == nil {
		t.Error("expected error for unknown content type")
	}
}
