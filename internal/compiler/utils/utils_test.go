package utils

import "testing"

func TestNormalizeObjectPath(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		expected string
	}{
		{"single", []string{"user"}, "user"},
		{"nested", []string{"result", "config", "loaded"}, "result.config.loaded"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeObjectPath(tt.segments); got != tt.expected {
				t.Errorf("NormalizeObjectPath(%v) = %q, want %q", tt.segments, got, tt.expected)
			}
		})
	}
}

func TestNormalizeMethodKey(t *testing.T) {
	got := NormalizeMethodKey([]string{"s", "a"}, "f")
	if want := "s.a::f"; got != want {
		t.Errorf("NormalizeMethodKey = %q, want %q", got, want)
	}
}

func TestIsLastElementMarker(t *testing.T) {
	if !IsLastElementMarker("[]") {
		t.Error("expected [] to be recognized as last-element marker")
	}
	if IsLastElementMarker("[0]") {
		t.Error("did not expect [0] to be recognized as last-element marker")
	}
}

func TestSplitPathString(t *testing.T) {
	got := SplitPathString("result.config.loaded")
	want := []string{"result", "config", "loaded"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %q, want %q", i, got[i], want[i])
		}
	}
	if SplitPathString("") != nil {
		t.Error("expected nil for empty path")
	}
}

func TestCapitalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"hello", "Hello"},
		{"", ""},
		{"a", "A"},
		{"Hello", "Hello"},
	}
	for _, tt := range tests {
		if got := Capitalize(tt.in); got != tt.want {
			t.Errorf("Capitalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuote(t *testing.T) {
	tests := []struct{ in, want string }{
		{"abc", `"abc"`},
		{`a"b`, `"a\"b"`},
		{`a\b`, `"a\\b"`},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
