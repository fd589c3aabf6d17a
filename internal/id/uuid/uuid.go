// Package uuid generates lead and send record identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 strings, so lead IDs sort by first
// discovery and send record IDs by send time.
type Generator struct {
	source func() (uuid.UUID, error)
}

// NewUUIDGenerator creates a Generator backed by uuid.NewV7.
func NewUUIDGenerator() Generator {
	return Generator{source: uuid.NewV7}
}

// NewID returns a UUIDv7 string.
func (g Generator) NewID() (string, error) {
	source := g.source
	if source == nil {
		source = uuid.NewV7
	}
	id, err := source()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
