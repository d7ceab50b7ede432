package entity

import (
	"github.com/google/uuid"
)

// ID is an opaque, globally unique entity identity.
type ID interface {
	// Value returns the external form used for storage and lookups.
	Value() string

	String() string
}

// UUID is an ID backed by a 128-bit RFC 4122 value.
type UUID struct {
	uuid.UUID
}

// Value returns the canonical hyphenated form.
func (u UUID) Value() string {
	return u.UUID.String()
}

// Detached is an ID supplied from outside the store, kept verbatim.
type Detached string

// Value returns the raw string.
func (d Detached) Value() string {
	return string(d)
}

func (d Detached) String() string {
	return string(d)
}

// NewUUID wraps an existing uuid.UUID.
func NewUUID(u uuid.UUID) UUID {
	return UUID{UUID: u}
}

// ParseID returns a UUID when s parses as one, otherwise a Detached ID.
// Empty input yields nil.
func ParseID(s string) ID {
	if s == "" {
		return nil
	}
	if u, err := uuid.Parse(s); err == nil {
		return UUID{UUID: u}
	}
	return Detached(s)
}

// Equal reports whether two IDs have the same external form.
// Two nil IDs are equal.
func Equal(a, b ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Value() == b.Value()
}

// HasEntityID is implemented by entities that receive generated identities.
type HasEntityID interface {
	EntityID() ID
	SetEntityID(id ID)
}

// Base is embedded by entity structs. Its ID maps to the "id" column.
type Base struct {
	ID ID `db:"id"`
}

// EntityID returns the current identity, nil if unset.
func (b *Base) EntityID() ID {
	return b.ID
}

// SetEntityID replaces the identity. Passing nil clears it.
func (b *Base) SetEntityID(id ID) {
	b.ID = id
}
