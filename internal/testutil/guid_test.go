package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGUIDGenerator_Deterministic(t *testing.T) {
	a := NewGUIDGenerator("seed")
	b := NewGUIDGenerator("seed")

	for range 3 {
		assert.Equal(t, a.Generate(), b.Generate())
	}
}

func TestGUIDGenerator_DistinctValues(t *testing.T) {
	gen := NewGUIDGenerator("")
	seen := make(map[string]bool)
	for range 100 {
		g := gen.Generate()
		assert.False(t, seen[g], "duplicate %s", g)
		seen[g] = true
	}
}

func TestGUIDGenerator_SeedsDiffer(t *testing.T) {
	assert.NotEqual(t, NewGUIDGenerator("a").Generate(), NewGUIDGenerator("b").Generate())
}

func TestGUIDGenerator_ValidUUID(t *testing.T) {
	u, err := uuid.Parse(NewGUIDGenerator("seed").Generate())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), u.Version())
}
