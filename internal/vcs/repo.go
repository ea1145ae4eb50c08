// Package vcs records each successful sync as a git commit in the output
// directory, using go-git (pure Go, no git binary dependency).
package vcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Commit is a recorded checkpoint.
type Commit struct {
	Hash    string
	Message string
	When    time.Time
}

// Repo is the git repository of an output directory.
type Repo struct {
	dir      string
	name     string
	email    string
	excludes []string

	mu   sync.Mutex
	repo *gogit.Repository
}

// Open opens the repository at dir, initializing it when needed. Paths in
// excludes (directory names relative to dir) are never committed and are
// written to .gitignore on initialization.
func Open(dir, name, email string, excludes ...string) (*Repo, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = name
		cfg.User.Email = email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	r := &Repo{dir: dir, name: name, email: email, excludes: excludes, repo: repo}
	if err := r.writeIgnore(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repo) writeIgnore() error {
	p := filepath.Join(r.dir, ".gitignore")
	old, err := os.ReadFile(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read .gitignore: %w", err)
	}
	content := string(old)
	changed := false
	for _, e := range r.excludes {
		line := strings.TrimSuffix(e, "/") + "/"
		if strings.Contains("\n"+content, "\n"+line+"\n") {
			continue
		}
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += line + "\n"
		changed = true
	}
	if !changed {
		return nil
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write .gitignore: %w", err)
	}
	return nil
}

// Checkpoint stages every change in the working tree and commits it. It
// returns nil when there was nothing to commit.
func (r *Repo) Checkpoint(ctx context.Context, msg string) (*Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	patterns, err := gitignore.ReadPatterns(w.Filesystem, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore patterns: %w", err)
	}
	w.Excludes = append(w.Excludes, patterns...)
	for _, e := range r.excludes {
		w.Excludes = append(w.Excludes, gitignore.ParsePattern(strings.TrimSuffix(e, "/")+"/", nil))
	}
	if err := w.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return nil, fmt.Errorf("failed to stage files: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil, nil
	}

	now := time.Now()
	sig := &object.Signature{Name: r.name, Email: r.email, When: now}
	h, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &Commit{Hash: h.String(), Message: msg, When: now}, nil
}

// History returns up to n most recent commits, newest first.
func (r *Repo) History(_ context.Context, n int) ([]*Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return history(r.repo, n)
}

// ReadHistory is History for an existing repository at dir. It never writes
// to dir, so it is safe without holding the output lock.
func ReadHistory(_ context.Context, dir string, n int) ([]*Commit, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repo: %w", err)
	}
	return history(repo, n)
}

func history(repo *gogit.Repository, n int) ([]*Commit, error) {
	iter, err := repo.Log(&gogit.LogOptions{})
	if err != nil {
		// No commits yet.
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read git log: %w", err)
	}
	defer iter.Close()

	var out []*Commit
	for range n {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read git log: %w", err)
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		out = append(out, &Commit{Hash: c.Hash.String(), Message: subject, When: c.Committer.When})
	}
	return out, nil
}
