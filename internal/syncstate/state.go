// Package syncstate persists what was synced and when.
//
// The state is loaded once at the start of a run and committed once at the
// end. Commits go through a temp file and an atomic rename, so the file on
// disk is always either the previous state or the new one.
package syncstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/maruel/claude-sync/internal/atomicfile"
	"github.com/maruel/claude-sync/internal/entity"
	"github.com/maruel/claude-sync/internal/syncerr"
)

// SchemaVersion is the version written by Commit.
const SchemaVersion = 1

// FileName is the state file name inside the metadata directory.
const FileName = "state.json"

// Record is what the last successful write of an entity looked like.
type Record struct {
	ID              string         `json:"id"`
	Kind            entity.Kind    `json:"kind"`
	Name            string         `json:"name,omitempty"`
	Parent          string         `json:"parent,omitempty"`
	LastSyncedAt    time.Time      `json:"last_synced_at"`
	RemoteUpdatedAt string         `json:"remote_updated_at,omitempty"`
	ContentHash     string         `json:"content_hash,omitempty"`
	LocalPath       string         `json:"local_path,omitempty"`
	ChildCounts     map[string]int `json:"child_counts,omitempty"`
	Orphaned        bool           `json:"orphaned,omitempty"`
	OrphanedAt      *time.Time     `json:"orphaned_at,omitempty"`
}

// State is the full sync state of one output directory.
type State struct {
	SchemaVersion int                `json:"schema_version"`
	OrgID         string             `json:"org_id,omitempty"`
	RunID         string             `json:"run_id,omitempty"`
	LastRunAt     time.Time          `json:"last_run_at,omitzero"`
	Records       map[string]*Record `json:"records"`
}

// New returns an empty state.
func New() *State {
	return &State{SchemaVersion: SchemaVersion, Records: make(map[string]*Record)}
}

// Load reads the state at path. A missing file yields an empty state.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(), nil
		}
		return nil, syncerr.IO("read", path, err)
	}
	corrupt := func(msg string, err error) error {
		return syncerr.Newf(syncerr.CodeCorruptState, "sync state %s: %s", path, msg).WithDetail("path", path).Wrap(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, corrupt("empty file", nil)
	}
	s := &State{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, corrupt("invalid JSON", err)
	}
	if s.SchemaVersion != SchemaVersion {
		return nil, corrupt(fmt.Sprintf("unsupported schema version %d", s.SchemaVersion), nil)
	}
	if s.Records == nil {
		s.Records = make(map[string]*Record)
	}
	for id, r := range s.Records {
		if r == nil || r.ID == "" || r.ID != id {
			return nil, corrupt(fmt.Sprintf("invalid record %q", id), nil)
		}
	}
	return s, nil
}

// Commit atomically replaces the state at path with s.
func Commit(path string, s *State) error {
	s.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}
	data = append(data, '\n')
	if err := atomicfile.WriteFile(path, data); err != nil {
		return syncerr.IO("commit", path, err)
	}
	return nil
}

// Get returns the record for id, or nil.
func (s *State) Get(id string) *Record {
	return s.Records[id]
}

// Put stores r after a successful write. A previously orphaned entity is
// live again.
func (s *State) Put(r *Record) {
	r.Orphaned = false
	r.OrphanedAt = nil
	s.Records[r.ID] = r
}

// Revive clears the orphan flag of an entity seen again in a listing without
// being rewritten.
func (s *State) Revive(id string) bool {
	r := s.Records[id]
	if r == nil || !r.Orphaned {
		return false
	}
	r.Orphaned = false
	r.OrphanedAt = nil
	return true
}

// MarkOrphans flags the records of kind under parent whose IDs are not in
// seen. It only flags; nothing is removed. It returns the newly flagged
// records.
func (s *State) MarkOrphans(kind entity.Kind, parent string, seen map[string]bool, now time.Time) []*Record {
	var out []*Record
	for _, r := range s.Children(kind, parent) {
		if seen[r.ID] || r.Orphaned {
			continue
		}
		r.Orphaned = true
		t := now
		r.OrphanedAt = &t
		out = append(out, r)
	}
	return out
}

// Children returns the records of kind under parent, sorted by ID.
func (s *State) Children(kind entity.Kind, parent string) []*Record {
	var out []*Record
	for _, r := range s.Records {
		if r.Kind == kind && r.Parent == parent {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b *Record) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Counts summarizes the state per kind.
type Counts struct {
	Live     int `json:"live"`
	Orphaned int `json:"orphaned"`
}

// Counts returns per-kind record counts.
func (s *State) Counts() map[entity.Kind]Counts {
	out := make(map[entity.Kind]Counts)
	for _, r := range s.Records {
		c := out[r.Kind]
		if r.Orphaned {
			c.Orphaned++
		} else {
			c.Live++
		}
		out[r.Kind] = c
	}
	return out
}
