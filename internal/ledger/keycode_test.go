package ledger

import (
	"strings"
	"testing"
)

func TestGenerateCodeFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if !strings.HasPrefix(code, codePrefix) {
			t.Fatalf("code %q missing prefix", code)
		}
		suffix := strings.TrimPrefix(code, codePrefix)
		if len(suffix) != codeLength {
			t.Fatalf("code %q suffix length %d, want %d", code, len(suffix), codeLength)
		}
		for _, c := range suffix {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q contains %q outside alphabet", code, c)
			}
		}
		if seen[code] {
			t.Fatalf("duplicate code %q within 100 draws", code)
		}
		seen[code] = true
	}
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"KEY-ABCD1234", true},
		{"  KEY-ABCD1234  ", true},
		{"KEY-short", true},
		{"key-abcd1234", false},
		{"write me a web server", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsCode(tt.text); got != tt.want {
			t.Errorf("IsCode(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
