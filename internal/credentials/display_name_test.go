package credentials

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestGenerateDisplayName(t *testing.T) {
	tests := []struct {
		name       string
		iterations int
	}{
		{name: "single name", iterations: 1},
		{name: "many names", iterations: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.iterations; i++ {
				name, err := GenerateDisplayName()
				if err != nil {
					t.Fatalf("GenerateDisplayName() error = %v", err)
				}

				prefix, suffix, ok := strings.Cut(name, "-")
				if !ok {
					t.Fatalf("name %q has no suffix", name)
				}
				if utf8.RuneCountInString(prefix) != 4 {
					t.Errorf("prefix %q should be four characters", prefix)
				}
				if len(suffix) != 4 || strings.Trim(suffix, suffixChars) != "" {
					t.Errorf("suffix %q should be four digits", suffix)
				}
			}
		})
	}
}

func TestGenerateDisplayNameVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		name, _ := GenerateDisplayName()
		seen[name] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected varied names, got %v", seen)
	}
}
