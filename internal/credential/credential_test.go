package credential

import (
	"errors"
	"strings"
	"testing"
)

func TestManager_SealOpen(t *testing.T) {
	m, err := NewManager()
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	testCases := []struct {
		name  string
		value string
	}{
		{"empty string", ""},
		{"simple api key", "sk-1234567890abcdef"},
		{"long key", strings.Repeat("a", 1000)},
		{"special chars", "key!@#$%^&*()_+-=[]{}|;':\",./<>?"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := m.Seal(tc.value)
			if err != nil {
				t.Fatalf("seal failed: %v", err)
			}
			if tc.value == "" {
				if sealed != "" {
					t.Errorf("empty string should not be sealed, got: %s", sealed)
				}
				return
			}
			if !IsSealed(sealed) {
				t.Errorf("sealed value should have prefix, got: %s", sealed)
			}

			opened, err := m.Open(sealed)
			if err != nil {
				t.Fatalf("open failed: %v", err)
			}
			if opened != tc.value {
				t.Errorf("expected %q, got %q", tc.value, opened)
			}
		})
	}
}

func TestManager_NonceVaries(t *testing.T) {
	m, _ := NewManager()
	a, _ := m.Seal("sk-test")
	b, _ := m.Seal("sk-test")
	if a == b {
		t.Error("expected two seals of the same value to differ")
	}
}

func TestManager_OpenPlain(t *testing.T) {
	m, _ := NewManager()
	got, err := m.Open("plain-key")
	if err != nil || got != "plain-key" {
		t.Errorf("expected plain value back unchanged, got %q, %v", got, err)
	}
}

func TestManager_OpenErrors(t *testing.T) {
	m, _ := NewManager()

	t.Run("bad base64", func(t *testing.T) {
		_, err := m.Open(Prefix + "!!!")
		if !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("expected ErrInvalidFormat, got %v", err)
		}
	})

	t.Run("too short", func(t *testing.T) {
		_, err := m.Open(Prefix + "AAAA")
		if !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("expected ErrInvalidFormat, got %v", err)
		}
	})

	t.Run("other key", func(t *testing.T) {
		other, err := newManager(make([]byte, 32))
		if err != nil {
			t.Fatal(err)
		}
		sealed, _ := other.Seal("sk-test")
		if _, err := m.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("expected ErrDecryptionFailed, got %v", err)
		}
	})
}

func TestIsSecretKey(t *testing.T) {
	for key, want := range map[string]bool{
		"openai.api_key":  true,
		"GEMINI.API_KEY":  true,
		"ollama.token":    true,
		"openai.base_url": false,
		"ollama.base_url": false,
	} {
		if got := IsSecretKey(key); got != want {
			t.Errorf("IsSecretKey(%q): expected %v, got %v", key, want, got)
		}
	}
}

func TestMask(t *testing.T) {
	if got := Mask("short"); got != "****" {
		t.Errorf("expected '****', got %q", got)
	}
	if got := Mask("sk-1234567890abcdef"); got != "sk-1...cdef" {
		t.Errorf("expected 'sk-1...cdef', got %q", got)
	}
}
