package atomicfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "sub", "a.txt")
	if err := WriteFile(dst, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(dst, []byte("two")); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "two" {
		t.Errorf("got %q", got)
	}
	entries, err := os.ReadDir(filepath.Dir(dst))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the destination, got %d entries", len(entries))
	}
}

func TestInterruptedWriteKeepsOld(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "state.json")
	if err := WriteFile(dst, []byte("old")); err != nil {
		t.Fatal(err)
	}
	// Crash between the temp write and the rename.
	tmp, err := WriteTemp(dst, []byte("new"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "old" {
		t.Errorf("got %q", got)
	}
	if !IsTemp(filepath.Base(tmp)) {
		t.Errorf("temp file %q not recognized", tmp)
	}

	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(dir, ".git", TempPrefix+"x"+tempSuffix)
	if err := os.WriteFile(keep, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	removed, err := Sweep(dir, ".git")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != tmp {
		t.Errorf("removed = %v", removed)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("skipped directory was swept: %v", err)
	}
}

func TestSweepMissingRoot(t *testing.T) {
	removed, err := Sweep(filepath.Join(t.TempDir(), "missing"))
	if err != nil || len(removed) != 0 {
		t.Fatalf("Sweep = %v, %v", removed, err)
	}
}
