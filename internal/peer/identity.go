package peer

import (
	"github.com/google/uuid"
)

// ID is an opaque, stable device identity.
type ID string

func (id ID) String() string { return string(id) }

type Identity struct {
	ID          ID     `json:"id"`
	DisplayName string `json:"display_name"`
}

// IdentityProvider loads the identity persisted by an earlier run, or
// creates and persists a new one.
type IdentityProvider interface {
	LoadOrCreate(displayName string) (Identity, error)
}

func NewIdentity(displayName string) Identity {
	return Identity{ID: ID(uuid.NewString()), DisplayName: displayName}
}

// StaticIdentity always returns the same identity. Useful in tests.
type StaticIdentity Identity

func (s StaticIdentity) LoadOrCreate(string) (Identity, error) { return Identity(s), nil }
