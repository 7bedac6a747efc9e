package engine

import (
	"context"
	"errors"
	"testing"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\nplain\n```", "plain"},
		{"  no fences  ", "no fences"},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"bare", `{"summary":"x"}`, `{"summary":"x"}`},
		{"wrapped in prose", `Here you go: {"summary":"x"} hope it helps`, `{"summary":"x"}`},
		{"no object", "nothing here", ""},
		{"reversed braces", "} {", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractObject(tt.in); got != tt.want {
				t.Errorf("extractObject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallLLMDisabled(t *testing.T) {
	Init(Config{})
	if LLMEnabled() {
		t.Fatal("LLM should be disabled without a client")
	}
	if _, err := CallLLM(context.Background(), "", "hi"); !errors.Is(err, ErrLLMDisabled) {
		t.Errorf("got %v, want ErrLLMDisabled", err)
	}
}

func TestNewLLMClientNoKey(t *testing.T) {
	if c := NewLLMClient(Config{}); c != nil {
		t.Error("expected nil client without API key")
	}
}
