package testutil

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// GUIDGenerator generates name-based (version 5) UUIDs from a seed and a
// counter. Two generators with the same seed yield the same sequence.
//
// Thread-safety: Generate is safe for concurrent use.
type GUIDGenerator struct {
	mu    sync.Mutex
	space uuid.UUID
	n     int
}

// NewGUIDGenerator creates a generator. If seed is empty, "test-guid" is used.
func NewGUIDGenerator(seed string) *GUIDGenerator {
	if seed == "" {
		seed = "test-guid"
	}
	return &GUIDGenerator{space: uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))}
}

// Generate returns the next GUID in canonical string form.
func (g *GUIDGenerator) Generate() string {
	g.mu.Lock()
	g.n++
	n := g.n
	g.mu.Unlock()
	return uuid.NewSHA1(g.space, []byte(strconv.Itoa(n))).String()
}
