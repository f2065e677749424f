package ids

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDProviderIssuesVersion7(t *testing.T) {
	provider := NewUUIDProvider()
	value, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parsed, err := uuid.Parse(value)
	if err != nil {
		t.Fatalf("expected valid uuid, got %q: %v", value, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}

func TestSequenceIsOrdered(t *testing.T) {
	sequence := NewSequence("entry")
	first, _ := sequence.NewID()
	second, _ := sequence.NewID()
	if first != "entry-0001" || second != "entry-0002" {
		t.Fatalf("unexpected sequence values %q %q", first, second)
	}
	if !(first < second) {
		t.Fatalf("expected lexical ordering")
	}
}
