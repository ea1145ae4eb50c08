// Package detect decides whether a remote entity must be fetched again.
package detect

import (
	"github.com/maruel/claude-sync/internal/entity"
	"github.com/maruel/claude-sync/internal/syncstate"
)

// Action is the outcome for one entity.
type Action int

// Actions.
const (
	Skip Action = iota
	Sync
)

func (a Action) String() string {
	if a == Sync {
		return "sync"
	}
	return "skip"
}

// Reasons reported in a Result.
const (
	ReasonFull      = "full sync"
	ReasonNew       = "new"
	ReasonUpdated   = "updated"
	ReasonChanged   = "content changed"
	ReasonUnchanged = "unchanged"
)

// Result is a decision and why it was made.
type Result struct {
	Action Action
	Reason string
}

// Decide compares the fresh listing of an entity with its prior record.
//
// The decision is per entity: a project being unchanged says nothing about
// its documents or conversations.
func Decide(fresh *entity.Entity, prior *syncstate.Record, forceFull bool) Result {
	switch {
	case forceFull:
		return Result{Sync, ReasonFull}
	case prior == nil:
		return Result{Sync, ReasonNew}
	case syncstate.CompareTimestamps(fresh.UpdatedAt, prior.RemoteUpdatedAt) > 0:
		return Result{Sync, ReasonUpdated}
	case fresh.Kind.Hashable() && fresh.ContentHash != "" && fresh.ContentHash != prior.ContentHash:
		return Result{Sync, ReasonChanged}
	default:
		return Result{Skip, ReasonUnchanged}
	}
}
