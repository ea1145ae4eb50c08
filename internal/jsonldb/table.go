// Package jsonldb stores append-only rows as JSON lines.
package jsonldb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/maruel/claude-sync/internal/atomicfile"
)

// Table handles storage and in-memory caching for a single table in JSONL format.
type Table[T any] struct {
	path string
	Mu   sync.RWMutex

	Rows []T
}

// NewTable creates a new Table and loads all data from the file.
func NewTable[T any](path string) (*Table[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	table := &Table[T]{
		path: path,
	}

	if err := table.load(); err != nil {
		return nil, err
	}

	return table, nil
}

// load reads the file. A torn last line, left by a crash during Append, is
// skipped.
func (t *Table[T]) load() error {
	t.Mu.Lock()
	defer t.Mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			t.Rows = []T{}
			return nil
		}
		return fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	rows := []T{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			slog.Warn("skipping unreadable row", "path", t.path, "line", n, "err", err)
			continue
		}
		rows = append(rows, row)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}

	t.Rows = rows
	return nil
}

// Last returns a copy of the last n rows, oldest first.
func (t *Table[T]) Last(n int) []T {
	t.Mu.RLock()
	defer t.Mu.RUnlock()
	if n > len(t.Rows) || n < 0 {
		n = len(t.Rows)
	}
	rows := make([]T, n)
	copy(rows, t.Rows[len(t.Rows)-n:])
	return rows
}

// Append adds a new row to the table and persists it.
func (t *Table[T]) Append(row T) error {
	t.Mu.Lock()
	defer t.Mu.Unlock()

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open table file for append: %w", err)
	}
	// Terminate a torn line so the new row starts on its own line.
	if st, err := f.Stat(); err == nil && st.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, st.Size()-1); err == nil && last[0] != '\n' {
			data = append([]byte{'\n'}, data...)
		}
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return errors.Join(fmt.Errorf("failed to write row: %w", err), f.Close())
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close table file: %w", err)
	}

	t.Rows = append(t.Rows, row)
	return nil
}

// Compact keeps only the last keep rows.
func (t *Table[T]) Compact(keep int) error {
	t.Mu.Lock()
	defer t.Mu.Unlock()
	if len(t.Rows) <= keep {
		return nil
	}
	rows := make([]T, keep)
	copy(rows, t.Rows[len(t.Rows)-keep:])
	return t.replaceLocked(rows)
}

func (t *Table[T]) replaceLocked(rows []T) error {
	var buf bytes.Buffer
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	if err := atomicfile.WriteFile(t.path, buf.Bytes()); err != nil {
		return err
	}
	t.Rows = rows
	return nil
}
