// Package writer materializes rendered artifacts on disk.
//
// Every write is atomic. A file whose content would change is first copied
// into the run's backup directory, so local edits are never lost silently.
package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/maruel/claude-sync/internal/atomicfile"
	"github.com/maruel/claude-sync/internal/entity"
	"github.com/maruel/claude-sync/internal/naming"
	"github.com/maruel/claude-sync/internal/syncerr"
)

// Limits bounds what is written. Zero disables a limit.
type Limits struct {
	MaxDocumentBytes int64
	MaxMessages      int
}

// Artifact is one file to write.
type Artifact struct {
	// Dir is the slash-separated directory relative to the output root.
	Dir string
	// Name is the desired name, sanitized and made unique unless Fixed.
	Name string
	// Ext is appended when Name lacks it.
	Ext string
	// Fixed names are used verbatim; they are trusted constants.
	Fixed bool
	// Previous is the base name used by the last successful write.
	Previous string
	Data     []byte
	// Kind selects which limit applies.
	Kind entity.Kind
	// Items is the message count of a conversation.
	Items int
	// NoBackup skips the backup of generated files such as manifests.
	NoBackup bool
}

// Written reports the outcome for one artifact.
type Written struct {
	RelPath    string
	Changed    bool
	BackupPath string
	Err        error
}

// Options configures a Writer.
type Options struct {
	Limits Limits
	// BackupDir is the slash-separated directory, relative to the root, where
	// previous versions are copied before being overwritten.
	BackupDir string
	// DryRun resolves names and compares content without touching disk.
	DryRun bool
}

// Writer writes artifacts below a root directory.
type Writer struct {
	root     string
	resolver *naming.Resolver
	opts     Options
}

// New returns a Writer for root.
func New(root string, resolver *naming.Resolver, opts Options) *Writer {
	return &Writer{root: root, resolver: resolver, opts: opts}
}

// Write writes the artifacts in order. Each artifact succeeds or fails on its
// own; the returned error joins the failures.
func (w *Writer) Write(arts ...Artifact) ([]Written, error) {
	out := make([]Written, len(arts))
	var errs []error
	for i := range arts {
		out[i] = w.write(&arts[i])
		if out[i].Err != nil {
			errs = append(errs, out[i].Err)
		}
	}
	return out, errors.Join(errs...)
}

func (w *Writer) write(a *Artifact) Written {
	if err := w.checkLimits(a); err != nil {
		return Written{Err: err}
	}
	reg, err := w.resolver.Scope(a.Dir)
	if err != nil {
		return Written{Err: syncerr.IO("scan", a.Dir, err)}
	}
	var name string
	if a.Fixed {
		name = a.Name
		reg.Keep(name)
	} else {
		name = reg.ReserveWithPrevious(a.Name, a.Ext, a.Previous)
	}
	res := Written{RelPath: path.Join(a.Dir, name)}
	abs := filepath.Join(w.root, filepath.FromSlash(res.RelPath))

	old, err := os.ReadFile(abs)
	switch {
	case err == nil:
		if bytes.Equal(old, a.Data) {
			return res
		}
	case errors.Is(err, fs.ErrNotExist):
		old = nil
	default:
		res.Err = syncerr.IO("read", res.RelPath, err)
		return res
	}
	res.Changed = true
	if w.opts.DryRun {
		return res
	}
	if old != nil && !a.NoBackup && w.opts.BackupDir != "" {
		res.BackupPath = path.Join(w.opts.BackupDir, res.RelPath)
		if err := atomicfile.WriteFile(filepath.Join(w.root, filepath.FromSlash(res.BackupPath)), old); err != nil {
			res.Err = syncerr.IO("backup", res.RelPath, err)
			res.BackupPath = ""
			return res
		}
		slog.Debug("backed up", "path", res.RelPath, "backup", res.BackupPath)
	}
	if err := atomicfile.WriteFile(abs, a.Data); err != nil {
		res.Err = syncerr.IO("write", res.RelPath, err)
		return res
	}
	return res
}

func (w *Writer) checkLimits(a *Artifact) error {
	l := w.opts.Limits
	switch a.Kind {
	case entity.Document:
		if n := int64(len(a.Data)); l.MaxDocumentBytes > 0 && n > l.MaxDocumentBytes {
			return syncerr.New(syncerr.CodeSizeLimit, fmt.Sprintf("document %q is %d bytes, limit is %d", a.Name, n, l.MaxDocumentBytes)).
				WithDetail("bytes", n).WithDetail("limit", l.MaxDocumentBytes)
		}
	case entity.Conversation:
		if l.MaxMessages > 0 && a.Items > l.MaxMessages {
			return syncerr.New(syncerr.CodeSizeLimit, fmt.Sprintf("conversation %q has %d messages, limit is %d", a.Name, a.Items, l.MaxMessages)).
				WithDetail("messages", a.Items).WithDetail("limit", l.MaxMessages)
		}
	}
	return nil
}
