// Package lock ensures a single sync run per output directory.
//
// Two layers cooperate: an OS advisory lock (flock) that the kernel drops
// when the process dies, and a JSON marker naming the holder so that other
// processes and operators can see who holds it and whether it is stale.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/maruel/claude-sync/internal/syncerr"
)

// FileName is the marker file name inside the metadata directory.
const FileName = "sync.lock"

// Info describes the holder of a lock.
type Info struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Options control Acquire.
type Options struct {
	// ReclaimStale removes a marker whose holder is no longer running.
	// Without it, a stale marker fails with syncerr.ErrStaleLock.
	ReclaimStale bool
}

// Lock is a held lock. Release it exactly once.
type Lock struct {
	path  string
	guard *flock.Flock
	info  Info
}

// Acquire takes the lock at path without waiting.
func Acquire(path string, opts Options) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, syncerr.IO("mkdir", filepath.Dir(path), err)
	}
	guard := flock.New(path + ".flock")
	ok, err := guard.TryLock()
	if err != nil {
		return nil, syncerr.IO("lock", guard.Path(), err)
	}
	if !ok {
		e := syncerr.New(syncerr.CodeConcurrentSync, "another sync is in progress").WithDetail("path", path)
		if info, found, _ := Read(path); found {
			e = describe(e, info)
		}
		return nil, e
	}
	l, err := acquireMarker(path, opts)
	if err != nil {
		return nil, errors.Join(err, guard.Unlock())
	}
	l.guard = guard
	return l, nil
}

func acquireMarker(path string, opts Options) (*Lock, error) {
	info, found, err := Read(path)
	if err != nil {
		// An unreadable marker was left by a crash while writing it; we hold
		// the guard so nobody else owns it.
		slog.Warn("lock marker unreadable, treating as stale", "path", path, "err", err)
		info, found = Info{}, true
	}
	if found {
		if info.PID != os.Getpid() && Alive(info) {
			return nil, describe(syncerr.New(syncerr.CodeConcurrentSync, "another sync is in progress").WithDetail("path", path), info)
		}
		if !opts.ReclaimStale {
			return nil, describe(syncerr.New(syncerr.CodeStaleLock, "stale lock left by a process that is no longer running").WithDetail("path", path), info)
		}
		slog.Warn("reclaiming stale lock", "path", path, "pid", info.PID, "acquired_at", info.AcquiredAt)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, syncerr.IO("remove", path, err)
		}
	}

	host, _ := os.Hostname()
	l := &Lock{path: path, info: Info{PID: os.Getpid(), Hostname: host, AcquiredAt: time.Now().UTC()}}
	data, err := json.Marshal(l.info)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, syncerr.New(syncerr.CodeConcurrentSync, "another sync is in progress").WithDetail("path", path)
		}
		return nil, syncerr.IO("create", path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return nil, syncerr.IO("write", path, errors.Join(err, f.Close(), os.Remove(path)))
	}
	if err := f.Close(); err != nil {
		return nil, syncerr.IO("close", path, errors.Join(err, os.Remove(path)))
	}
	return l, nil
}

// Info returns the holder description written in the marker.
func (l *Lock) Info() Info {
	return l.info
}

// Release removes the marker and drops the advisory lock.
func (l *Lock) Release() error {
	var errs []error
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("failed to remove lock marker: %w", err))
	}
	if l.guard != nil {
		if err := l.guard.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unlock %s: %w", l.guard.Path(), err))
		}
	}
	return errors.Join(errs...)
}

// Read returns the marker at path, if any.
func Read(path string) (Info, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, false, nil
		}
		return Info{}, false, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, true, fmt.Errorf("invalid lock marker %s: %w", path, err)
	}
	return info, true, nil
}

// Alive reports whether the holder described by info is still running on
// this host. Holders on another host are assumed alive.
func Alive(info Info) bool {
	if !sameHost(info) {
		return true
	}
	return info.PID > 0 && processAlive(info.PID)
}

func sameHost(info Info) bool {
	if info.Hostname == "" {
		return true
	}
	host, err := os.Hostname()
	return err != nil || host == info.Hostname
}

func describe(e *syncerr.Error, info Info) *syncerr.Error {
	e = e.WithDetail("pid", info.PID)
	if info.Hostname != "" {
		e = e.WithDetail("hostname", info.Hostname)
	}
	if !info.AcquiredAt.IsZero() {
		e = e.WithDetail("acquired_at", info.AcquiredAt)
	}
	return e
}
