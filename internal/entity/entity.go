// Package entity describes remote objects as seen by the sync engine.
package entity

import (
	"errors"
	"fmt"
)

// Kind is the type of a remote entity.
type Kind string

// Entity kinds.
const (
	Project      Kind = "project"
	Document     Kind = "document"
	Conversation Kind = "conversation"
)

// Kinds lists all kinds in processing order.
var Kinds = []Kind{Project, Document, Conversation}

// Hashable reports whether entities of this kind carry a content hash that
// can detect changes the remote timestamp misses.
func (k Kind) Hashable() bool {
	return k == Document
}

// Entity is a remote object. Only ID is guaranteed; every other field may be
// empty.
type Entity struct {
	Kind Kind
	ID   string
	Name string
	// UpdatedAt is the raw remote timestamp.
	UpdatedAt string
	// ContentHash is known only for hashable kinds.
	ContentHash string
	// Parent is the owning project ID, empty at the top level.
	Parent string
}

// ErrMissingID is returned by Validate.
var ErrMissingID = errors.New("missing id")

// Validate checks the identity of an entity.
func (e *Entity) Validate() error {
	if e.ID == "" {
		if e.Name != "" {
			return fmt.Errorf("%s %q: %w", e.Kind, e.Name, ErrMissingID)
		}
		return fmt.Errorf("%s: %w", e.Kind, ErrMissingID)
	}
	return nil
}

// String returns a short description for logs.
func (e *Entity) String() string {
	if e.Name == "" {
		return fmt.Sprintf("%s %s", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s %s (%q)", e.Kind, e.ID, e.Name)
}
