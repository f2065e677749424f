// Package ids issues identifiers for persisted rows.
package ids

import "github.com/google/uuid"

// Provider issues new row identifiers.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
// UUIDv7 values sort by creation time, which listings rely on as a tie-break.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Sequence is a deterministic Provider for tests and fixtures.
type Sequence struct {
	prefix string
	next   int
}

// NewSequence returns a Provider yielding prefix-0001, prefix-0002, ...
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) NewID() (string, error) {
	s.next++
	return s.prefix + "-" + pad(s.next), nil
}

func pad(value int) string {
	digits := []byte("0000")
	for index := len(digits) - 1; index >= 0 && value > 0; index-- {
		digits[index] = byte('0' + value%10)
		value /= 10
	}
	return string(digits)
}
