package validation

import (
	"context"
	"errors"
	"testing"
)

func TestValidateAPIKey_RejectsShortKeys(t *testing.T) {
	// Format is checked before any backing store is touched
	v := &Validator{}

	for _, key := range []string{"", "short", "elevenchars"} {
		if _, err := v.ValidateAPIKey(context.Background(), key); !errors.Is(err, ErrInvalidKeyFormat) {
			t.Errorf("ValidateAPIKey(%q) err = %v, want ErrInvalidKeyFormat", key, err)
		}
	}
}

func TestHashKey(t *testing.T) {
	got := hashKey("proctor-key-0001")
	if len(got) != 64 {
		t.Fatalf("hash length = %d, want 64", len(got))
	}
	if got != hashKey("proctor-key-0001") {
		t.Error("hash is not deterministic")
	}
	if got == hashKey("proctor-key-0002") {
		t.Error("different keys hash equal")
	}
}
