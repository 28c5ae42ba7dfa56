// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings, optionally prefixed so run
// IDs and audit attempt IDs are distinguishable in logs.
type Generator struct {
	prefix string
}

// New creates a Generator without a prefix.
func New() *Generator {
	return &Generator{}
}

// NewWithPrefix creates a Generator that emits "<prefix>-<uuid>".
func NewWithPrefix(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a UUID7 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	if g == nil || g.prefix == "" {
		return id.String(), nil
	}
	return g.prefix + "-" + id.String(), nil
}
