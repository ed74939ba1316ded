// Package idgen hands out identifiers for positions and paper orders.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a new unique id on every call.
type Generator interface {
	NewID() string
}

// UUID generates random v4 UUIDs.
type UUID struct{}

func (UUID) NewID() string { return uuid.NewString() }

// Sequence is a monotonic generator; ids look like "<prefix>-1", "<prefix>-2".
type Sequence struct {
	prefix string
	n      atomic.Int64
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) NewID() string {
	next := s.n.Add(1)
	if s.prefix == "" {
		return fmt.Sprintf("%d", next)
	}
	return fmt.Sprintf("%s-%d", s.prefix, next)
}
