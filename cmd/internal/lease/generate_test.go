package lease

import (
	"strings"
	"testing"
)

func TestNewCode(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := NewCode(0)
		if err != nil {
			t.Fatalf("NewCode: %v", err)
		}
		if len(code) != DefaultCodeLength {
			t.Fatalf("expected length %d, got %q", DefaultCodeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(CodeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 190 {
		t.Fatalf("codes look non-random: %d unique of 200", len(seen))
	}

	code, err := NewCode(12)
	if err != nil || len(code) != 12 {
		t.Fatalf("NewCode(12) = %q, %v", code, err)
	}
}

func TestCodeAlphabet_ExcludesAmbiguous(t *testing.T) {
	t.Parallel()
	for _, r := range "01IO" {
		if strings.ContainsRune(CodeAlphabet, r) {
			t.Fatalf("alphabet must not contain %q", r)
		}
	}
}
