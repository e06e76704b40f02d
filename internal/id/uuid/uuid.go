// Package uuid generates record, request and temporary identifiers.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TempPrefix marks identifiers synthesized locally when the datastore is unreachable.
const TempPrefix = "temp-"

const tempSuffixLen = 13

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewTempID returns "temp-" followed by random hex characters.
func (Generator) NewTempID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate temp id: %w", err)
	}
	hex := strings.ReplaceAll(id.String(), "-", "")
	return TempPrefix + hex[:tempSuffixLen], nil
}

// IsTemporary reports whether id was produced by NewTempID.
func IsTemporary(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}
