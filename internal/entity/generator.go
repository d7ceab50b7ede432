package entity

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrAlreadyIdentified is returned when an ID would overwrite an existing one.
var ErrAlreadyIdentified = errors.New("entity: entity already has an id")

// Generator produces new entity identities.
type Generator interface {
	NewID() (ID, error)
}

// UUIDv7Generator generates time-ordered UUIDv7 identities.
//
// The high 48 bits hold a millisecond timestamp and the low bits are random,
// so consecutive inserts land near each other in B-tree indexes while staying
// as collision resistant as random UUIDs.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a fresh UUIDv7.
func (UUIDv7Generator) NewID() (ID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate entity id: %w", err)
	}
	return UUID{UUID: u}, nil
}

// FixedGenerator returns predetermined IDs, for tests.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []ID
	idx int
}

// NewFixedGenerator creates a generator that hands out ids in order.
func NewFixedGenerator(ids ...ID) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewID returns the next id, or an error once all ids are used.
func (g *FixedGenerator) NewID() (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		return nil, errors.New("entity: fixed generator exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id, nil
}

// Assign generates a new identity and writes it onto e in place.
//
// e must not already have an identity; that is a programming error and
// Assign refuses to overwrite it.
func Assign(gen Generator, e HasEntityID) (ID, error) {
	if existing := e.EntityID(); existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyIdentified, existing.Value())
	}
	id, err := gen.NewID()
	if err != nil {
		return nil, err
	}
	e.SetEntityID(id)
	return id, nil
}
