package coordinator

import (
	"errors"
	"io/fs"
	"os"

	"github.com/maruel/claude-sync/internal/entity"
	"github.com/maruel/claude-sync/internal/jsonldb"
	"github.com/maruel/claude-sync/internal/lock"
	"github.com/maruel/claude-sync/internal/syncstate"
)

// RunRecord is one row of the run history.
type RunRecord struct {
	RunID      string `json:"run_id"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
	Phase      Phase  `json:"phase"`
	Synced     int    `json:"synced"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Orphaned   int    `json:"orphaned"`
	Error      string `json:"error,omitempty"`
}

func recordOf(s *Summary, runErr error) RunRecord {
	t := s.Total()
	r := RunRecord{
		RunID:      s.RunID,
		StartedAt:  s.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		DurationMS: s.Duration.Milliseconds(),
		Phase:      s.Phase,
		Synced:     t.Synced,
		Skipped:    t.Skipped,
		Failed:     t.Failed,
		Orphaned:   t.Orphaned,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

// appendHistory records a run and trims the history.
func appendHistory(out string, r RunRecord) error {
	table, err := jsonldb.NewTable[RunRecord](HistoryPath(out))
	if err != nil {
		return err
	}
	if err := table.Append(r); err != nil {
		return err
	}
	return table.Compact(historyKeep)
}

// Status describes an output directory without modifying it.
type Status struct {
	OrgID     string
	LastRunAt string
	Counts    map[entity.Kind]syncstate.Counts
	// Lock is set when a lock marker exists.
	Lock      *lock.Info
	LockAlive bool
	Runs      []RunRecord
}

// ReadStatus loads the state, lock marker and last runs of out.
func ReadStatus(out string, runs int) (*Status, error) {
	st, err := syncstate.Load(StatePath(out))
	if err != nil {
		return nil, err
	}
	s := &Status{OrgID: st.OrgID, Counts: st.Counts()}
	if !st.LastRunAt.IsZero() {
		s.LastRunAt = st.LastRunAt.UTC().Format("2006-01-02 15:04:05 MST")
	}
	// An unreadable marker is reported as a stale lock of unknown owner.
	if info, ok, _ := lock.Read(LockPath(out)); ok {
		s.Lock = &info
		s.LockAlive = lock.Alive(info)
	}
	if _, err := os.Stat(HistoryPath(out)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	table, err := jsonldb.NewTable[RunRecord](HistoryPath(out))
	if err != nil {
		return nil, err
	}
	s.Runs = table.Last(runs)
	return s, nil
}
