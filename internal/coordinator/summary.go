package coordinator

import (
	"fmt"
	"time"

	"github.com/maruel/claude-sync/internal/entity"
	"github.com/maruel/claude-sync/internal/syncerr"
)

// Phase is the state of a run.
type Phase string

// Phases, in order. FailedCleanup replaces the tail of the sequence when the
// run aborts.
const (
	PhaseIdle           Phase = "idle"
	PhaseLockAcquired   Phase = "lock_acquired"
	PhaseStateLoaded    Phase = "state_loaded"
	PhaseProcessing     Phase = "processing"
	PhaseStateCommitted Phase = "state_committed"
	PhaseUnlocked       Phase = "unlocked"
	PhaseFailedCleanup  Phase = "failed_cleanup"
)

// Counts are the per-kind outcomes of a run.
type Counts struct {
	Synced   int `json:"synced"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Orphaned int `json:"orphaned"`
}

func (c *Counts) add(o *Counts) {
	c.Synced += o.Synced
	c.Skipped += o.Skipped
	c.Failed += o.Failed
	c.Orphaned += o.Orphaned
}

// Failure is one entity that could not be synced.
type Failure struct {
	Kind entity.Kind  `json:"kind"`
	ID   string       `json:"id,omitempty"`
	Name string       `json:"name,omitempty"`
	Code syncerr.Code `json:"code"`
	Err  string       `json:"error"`
}

func (f *Failure) Error() string {
	e := entity.Entity{Kind: f.Kind, ID: f.ID, Name: f.Name}
	return fmt.Sprintf("%s: %s", e.String(), f.Err)
}

// Summary is the outcome of a run.
type Summary struct {
	RunID     string                  `json:"run_id"`
	StartedAt time.Time               `json:"started_at"`
	Duration  time.Duration           `json:"duration"`
	Phase     Phase                   `json:"phase"`
	DryRun    bool                    `json:"dry_run,omitempty"`
	Counts    map[entity.Kind]*Counts `json:"counts"`
	Failures  []Failure               `json:"failures,omitempty"`
	Written   []string                `json:"written,omitempty"`
	Backups   int                     `json:"backups,omitempty"`
	BackupDir string                  `json:"backup_dir,omitempty"`
}

func newSummary(runID string, start time.Time) *Summary {
	s := &Summary{RunID: runID, StartedAt: start, Phase: PhaseIdle, Counts: make(map[entity.Kind]*Counts)}
	for _, k := range entity.Kinds {
		s.Counts[k] = &Counts{}
	}
	return s
}

// Total sums the counts of every kind.
func (s *Summary) Total() Counts {
	var t Counts
	for _, c := range s.Counts {
		t.add(c)
	}
	return t
}

// OK reports whether every entity was synced or skipped.
func (s *Summary) OK() bool {
	return len(s.Failures) == 0
}

func (s *Summary) String() string {
	t := s.Total()
	out := fmt.Sprintf("%d updated, %d unchanged, %d failed", t.Synced, t.Skipped, t.Failed)
	if t.Orphaned > 0 {
		out += fmt.Sprintf(", %d orphaned", t.Orphaned)
	}
	if s.DryRun {
		out += " (dry run)"
	}
	return out
}

func kindsOf(s *Summary) []entity.Kind {
	var out []entity.Kind
	for _, k := range entity.Kinds {
		if c := s.Counts[k]; c != nil && *c != (Counts{}) {
			out = append(out, k)
		}
	}
	return out
}
