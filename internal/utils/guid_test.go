package utils

import "testing"

func TestNewGuid(t *testing.T) {
	seen := make(map[string]struct{})

	for i := 0; i < 100; i++ {
		guid, err := NewGuid()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !guid.IsValid() {
			t.Fatalf("generated invalid guid %q", guid)
		}
		if _, dup := seen[string(guid)]; dup {
			t.Fatalf("generated duplicate guid %q", guid)
		}
		seen[string(guid)] = struct{}{}
	}
}
