package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Backend.Get for a missing record.
var ErrNotFound = errors.New("record not found")

// Kind names a record collection.
type Kind string

const (
	KindTeam              Kind = "team"
	KindTeamMembership    Kind = "team_membership"
	KindChannel           Kind = "channel"
	KindChannelMembership Kind = "channel_membership"
	KindChannelHistory    Kind = "channel_history"
	KindPreference        Kind = "preference"
	KindUser              Kind = "user"
	KindRole              Kind = "role"
	KindPost              Kind = "post"
	KindSystem            Kind = "system"
)

// WriteOp is the primitive a Write performs.
type WriteOp uint8

const (
	WritePut WriteOp = iota
	WriteDelete
	// WriteDeleteChildren deletes every record of Kind whose parent is Parent.
	WriteDeleteChildren
)

// Write is one record-level mutation. A Put carries ID, Parent and Value;
// a Delete carries ID; a DeleteChildren carries Parent.
type Write struct {
	Op     WriteOp
	Kind   Kind
	ID     string
	Parent string
	Value  []byte
}

// Record is a stored value with its identity.
type Record struct {
	ID     string
	Parent string
	Value  []byte
}

// Backend is the persistence primitive a Store is built on. Apply must make
// all writes visible at once, applied in order, or none of them.
// List and ListByParent return records sorted by ID.
type Backend interface {
	Get(ctx context.Context, kind Kind, id string) ([]byte, error)
	List(ctx context.Context, kind Kind) ([]Record, error)
	ListByParent(ctx context.Context, kind Kind, parent string) ([]Record, error)
	Apply(ctx context.Context, writes []Write) error
	Close() error
}
