package syncstate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maruel/claude-sync/internal/atomicfile"
	"github.com/maruel/claude-sync/internal/entity"
	"github.com/maruel/claude-sync/internal/syncerr"
)

func TestLoadMissing(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Records) != 0 || s.SchemaVersion != SchemaVersion {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestCommitLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".claude-sync", FileName)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	s.OrgID = "org"
	s.RunID = "run1"
	s.LastRunAt = now
	s.Put(&Record{
		ID:              "p1",
		Kind:            entity.Project,
		Name:            "Proj",
		LastSyncedAt:    now,
		RemoteUpdatedAt: "2024-05-01T10:00:00Z",
		LocalPath:       "proj-p1",
		ChildCounts:     map[string]int{"documents": 2},
	})
	if err := Commit(path, s); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r := got.Get("p1")
	if r == nil {
		t.Fatal("record not persisted")
	}
	if r.Name != "Proj" || r.LocalPath != "proj-p1" || r.ChildCounts["documents"] != 2 || !r.LastSyncedAt.Equal(now) {
		t.Errorf("record mismatch: %+v", r)
	}
	if got.RunID != "run1" || !got.LastRunAt.Equal(now) {
		t.Errorf("state mismatch: %+v", got)
	}
}

func TestInterruptedCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	first := New()
	first.Put(&Record{ID: "a", Kind: entity.Document})
	if err := Commit(path, first); err != nil {
		t.Fatal(err)
	}
	// A crash after the temp file is written but before the rename.
	if _, err := atomicfile.WriteTemp(path, []byte(`{"schema_version":1,"records":{"b":{"id":"b"}}}`)); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Get("a") == nil || got.Get("b") != nil {
		t.Fatalf("expected the previous state, got %+v", got.Records)
	}
}

func TestLoadCorrupt(t *testing.T) {
	tests := map[string]string{
		"truncated": `{"schema_version":1,"records":{`,
		"empty":     "",
		"version":   `{"schema_version":99,"records":{}}`,
		"no id":     `{"schema_version":1,"records":{"x":{"kind":"project"}}}`,
		"mismatch":  `{"schema_version":1,"records":{"x":{"id":"y"}}}`,
		"null":      `{"schema_version":1,"records":{"x":null}}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if !errors.Is(err, syncerr.ErrCorruptState) {
				t.Fatalf("expected corrupt state, got %v", err)
			}
		})
	}
}

func TestOrphans(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	for _, id := range []string{"d1", "d2", "d3"} {
		s.Put(&Record{ID: id, Kind: entity.Document, Parent: "p"})
	}
	s.Put(&Record{ID: "other", Kind: entity.Document, Parent: "q"})

	marked := s.MarkOrphans(entity.Document, "p", map[string]bool{"d1": true}, now)
	if len(marked) != 2 || marked[0].ID != "d2" || marked[1].ID != "d3" {
		t.Fatalf("marked = %+v", marked)
	}
	if s.Get("other").Orphaned {
		t.Error("records of another parent must not be flagged")
	}
	if len(s.Records) != 4 {
		t.Error("orphans must not be removed")
	}
	// Marking again does not report them twice.
	if again := s.MarkOrphans(entity.Document, "p", nil, now); len(again) != 1 || again[0].ID != "d1" {
		t.Errorf("again = %+v", again)
	}
	if !s.Revive("d2") || s.Get("d2").Orphaned || s.Get("d2").OrphanedAt != nil {
		t.Error("Revive failed")
	}
	if s.Revive("d2") {
		t.Error("Revive of a live record must report false")
	}
	s.Put(&Record{ID: "d3", Kind: entity.Document, Parent: "p"})
	if s.Get("d3").Orphaned {
		t.Error("Put must clear the orphan flag")
	}
	c := s.Counts()[entity.Document]
	if c.Live != 3 || c.Orphaned != 1 {
		t.Errorf("counts = %+v", c)
	}
}

func TestTimestamps(t *testing.T) {
	equal := [][2]string{
		{"2024-01-01T00:00:00Z", "2024-01-01T00:00:00+00:00"},
		{"2024-01-01T02:00:00+02:00", "2024-01-01T00:00:00Z"},
		{"2024-01-01T00:00:00.000Z", "2024-01-01T00:00:00Z"},
		{"2024-01-01T00:00:00.123456Z", "2024-01-01T00:00:00.123456+00:00"},
		{"2024-01-01 00:00:00", "2024-01-01T00:00:00Z"},
		{"2024-01-01T00:00:00+0000", "2024-01-01T00:00:00Z"},
		{"", ""},
		{"garbage", ""},
		{"garbage", "also garbage"},
	}
	for _, p := range equal {
		if !TimestampsEqual(p[0], p[1]) {
			t.Errorf("TimestampsEqual(%q, %q) = false", p[0], p[1])
		}
	}
	ordered := [][2]string{
		{"", "2024-01-01T00:00:00Z"},
		{"nope", "1970-01-01T00:00:00Z"},
		{"2024-01-01T00:00:00Z", "2024-01-01T00:00:00.001Z"},
		{"2024-01-01T01:00:00+02:00", "2024-01-01T00:00:00Z"},
	}
	for _, p := range ordered {
		if CompareTimestamps(p[0], p[1]) >= 0 {
			t.Errorf("expected %q < %q", p[0], p[1])
		}
		if CompareTimestamps(p[1], p[0]) <= 0 {
			t.Errorf("expected %q > %q", p[1], p[0])
		}
	}
}
