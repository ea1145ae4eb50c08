package naming

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReserve(t *testing.T) {
	r := NewRegistry(0)
	got := []string{
		r.Reserve("Report?", ".md"),
		r.Reserve("Report*", ".md"),
		r.Reserve("report", ".md"),
		r.Reserve("REPORT.MD", ".md"),
		r.Reserve("README", ""),
		r.Reserve("readme", ""),
		r.Reserve("file.tar.gz", ""),
		r.Reserve("FILE.TAR.GZ", ""),
		r.Reserve("", ".md"),
		r.Reserve("???", ".md"),
	}
	want := []string{
		"Report.md",
		"Report_1.md",
		"report_2.md",
		"REPORT_3.md",
		"README",
		"readme_1",
		"file.tar.gz",
		"FILE.TAR_1.GZ",
		"unnamed.md",
		"unnamed_1.md",
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("#%d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReserveUnique(t *testing.T) {
	r := NewRegistry(20)
	seen := map[string]bool{}
	for range 50 {
		name := r.Reserve(strings.Repeat("Same Title ", 5), ".md")
		k := strings.ToLower(name)
		if seen[k] {
			t.Fatalf("duplicate %q", name)
		}
		seen[k] = true
		if !strings.HasSuffix(name, ".md") {
			t.Fatalf("missing extension: %q", name)
		}
	}
}

func TestReserveDeterministic(t *testing.T) {
	inputs := []string{"A", "a", "B/C", "b-c", "CON", "con", "x.md", "X"}
	run := func() []string {
		r := NewRegistry(0)
		var out []string
		for _, in := range inputs {
			out = append(out, r.Reserve(in, ".md"))
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("run differs at %d: %q vs %q", i, a[i], b[i])
		}
	}
}

func TestSeedAndPrevious(t *testing.T) {
	r := NewRegistry(0)
	r.Seed("Report.md", "Report_1.md", "Other.md")

	// A new entity must not take a name found on disk.
	if got := r.Reserve("Other", ".md"); got != "Other_1.md" {
		t.Errorf("got %q", got)
	}
	// Previous owners get their names back, including numbered variants.
	if got := r.ReserveWithPrevious("Report?", ".md", "Report_1.md"); got != "Report_1.md" {
		t.Errorf("got %q", got)
	}
	if got := r.ReserveWithPrevious("Report*", ".md", "Report.md"); got != "Report.md" {
		t.Errorf("got %q", got)
	}
	// Already claimed this run: a second claimant falls back.
	if got := r.ReserveWithPrevious("Report", ".md", "Report.md"); got != "Report_2.md" {
		t.Errorf("got %q", got)
	}
	// A rename does not reuse the previous name.
	if got := r.ReserveWithPrevious("Renamed", ".md", "Old.md"); got != "Renamed.md" {
		t.Errorf("got %q", got)
	}
}

func TestKeep(t *testing.T) {
	r := NewRegistry(0)
	r.Keep("notes.md")
	if got := r.Reserve("Notes", ".md"); got != "Notes_1.md" {
		t.Errorf("got %q", got)
	}
	if got := r.ReserveWithPrevious("notes", ".md", "notes.md"); got != "notes_2.md" {
		t.Errorf("kept names must not be reclaimed, got %q", got)
	}
}

func TestResolver(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "proj", "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "proj", "docs", "Spec.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	res := NewResolver(root, 0)
	docs, err := res.Scope("proj/docs")
	if err != nil {
		t.Fatal(err)
	}
	if got := docs.Reserve("spec", ".md"); got != "spec_1.md" {
		t.Errorf("got %q", got)
	}
	again, err := res.Scope("PROJ/docs/")
	if err != nil {
		t.Fatal(err)
	}
	if again != docs {
		t.Error("scopes must be case-folded")
	}
	missing, err := res.Scope("nope")
	if err != nil {
		t.Fatal(err)
	}
	if got := missing.Reserve("a", ""); got != "a" {
		t.Errorf("got %q", got)
	}
	if err := res.Claim("nope/b.md"); err != nil {
		t.Fatal(err)
	}
	if got := missing.Reserve("B", ".md"); got != "B_1.md" {
		t.Errorf("claimed name handed out again: %q", got)
	}
}
