// Package schema holds the attribute type registry consulted by replication.
//
// A Registry owns the authoritative attribute descriptors. Callers never read
// the registry directly; they Acquire a Context, which is an immutable
// snapshot of one schema generation. A Context is cloned per operation and
// refreshed with Acquire when a change touches the schema naming context.
//
// The registry also owns the schema modification lock. Lock ordering: the
// schema lock is always taken before a backend write transaction begins.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrUnknownAttribute is returned when an attribute type is not in the schema.
var ErrUnknownAttribute = errors.New("unknown attribute type")

// Descriptor describes one attribute type.
type Descriptor struct {
	Name        string
	ID          uint16
	MultiValued bool
	Sensitive   bool
}

// snapshot is one immutable schema generation.
type snapshot struct {
	generation uint64
	byName     map[string]Descriptor // keyed by lower-cased name
	maxID      uint16
}

// Registry is the process-wide schema handle. It is passed explicitly to the
// components that need it.
type Registry struct {
	current atomic.Pointer[snapshot]

	// writeMu serializes Register calls.
	writeMu sync.Mutex

	// modMu is the schema modification lock.
	modMu sync.Mutex
}

// NewRegistry creates a registry seeded with the given descriptors.
func NewRegistry(defs []Descriptor) (*Registry, error) {
	snap := &snapshot{byName: make(map[string]Descriptor, len(defs))}
	for _, d := range defs {
		if err := snap.add(d); err != nil {
			return nil, err
		}
	}
	snap.generation = 1

	r := &Registry{}
	r.current.Store(snap)
	return r, nil
}

func (s *snapshot) add(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("attribute descriptor without a name")
	}
	key := strings.ToLower(d.Name)
	if existing, ok := s.byName[key]; ok && existing.ID != d.ID {
		return fmt.Errorf("attribute %q redefined with id %d (was %d)", d.Name, d.ID, existing.ID)
	}
	for _, other := range s.byName {
		if other.ID == d.ID && strings.ToLower(other.Name) != key {
			return fmt.Errorf("attribute id %d used by both %q and %q", d.ID, other.Name, d.Name)
		}
	}
	s.byName[key] = d
	if d.ID > s.maxID {
		s.maxID = d.ID
	}
	return nil
}

// Acquire returns a context bound to the latest schema generation.
func (r *Registry) Acquire() *Context {
	return &Context{snap: r.current.Load()}
}

// Generation returns the latest schema generation number.
func (r *Registry) Generation() uint64 {
	return r.current.Load().generation
}

// Register adds attribute types and publishes a new generation. Descriptors
// with a zero ID are assigned the next free ID. Re-registering an existing
// name with the same ID is a no-op for that descriptor.
func (r *Registry) Register(defs ...Descriptor) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	prev := r.current.Load()
	next := &snapshot{
		generation: prev.generation + 1,
		byName:     make(map[string]Descriptor, len(prev.byName)+len(defs)),
		maxID:      prev.maxID,
	}
	for k, v := range prev.byName {
		next.byName[k] = v
	}

	for _, d := range defs {
		if existing, ok := next.byName[strings.ToLower(d.Name)]; ok {
			if d.ID == 0 || d.ID == existing.ID {
				continue
			}
		}
		if d.ID == 0 {
			if next.maxID == ^uint16(0) {
				return fmt.Errorf("register %q: attribute id space exhausted", d.Name)
			}
			d.ID = next.maxID + 1
		}
		if err := next.add(d); err != nil {
			return fmt.Errorf("register: %w", err)
		}
	}

	r.current.Store(next)
	return nil
}

// NextID returns the ID the next new attribute type would be assigned. The
// answer holds until the next Register as long as every registering caller
// holds the schema modification lock.
func (r *Registry) NextID() (uint16, error) {
	maxID := r.current.Load().maxID
	if maxID == ^uint16(0) {
		return 0, fmt.Errorf("attribute id space exhausted")
	}
	return maxID + 1, nil
}

// LockMod acquires the schema modification lock.
func (r *Registry) LockMod() {
	r.modMu.Lock()
}

// UnlockMod releases the schema modification lock.
func (r *Registry) UnlockMod() {
	r.modMu.Unlock()
}

// Context is a read-only view of one schema generation.
// A nil *Context is not valid.
type Context struct {
	snap *snapshot
}

// Clone returns an independent handle on the same generation.
func (c *Context) Clone() *Context {
	return &Context{snap: c.snap}
}

// Generation returns the schema generation this context is bound to.
func (c *Context) Generation() uint64 {
	return c.snap.generation
}

// Descriptor looks up an attribute type by name (case-insensitive).
func (c *Context) Descriptor(name string) (Descriptor, error) {
	d, ok := c.snap.byName[strings.ToLower(name)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownAttribute, name)
	}
	return d, nil
}

// DescriptorByID looks up an attribute type by its numeric ID.
func (c *Context) DescriptorByID(id uint16) (Descriptor, bool) {
	for _, d := range c.snap.byName {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}
