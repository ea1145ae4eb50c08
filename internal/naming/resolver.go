package naming

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/text/cases"
)

// Resolver hands out one Registry per directory below root, seeded from the
// directory's contents the first time it is used.
type Resolver struct {
	root   string
	maxLen int

	mu     sync.Mutex
	fold   cases.Caser
	scopes map[string]*Registry
}

// NewResolver returns a Resolver for the tree rooted at root.
func NewResolver(root string, maxLen int) *Resolver {
	return &Resolver{
		root:   root,
		maxLen: maxLen,
		fold:   cases.Fold(),
		scopes: make(map[string]*Registry),
	}
}

// Scope returns the registry for dir, a slash-separated path relative to the
// root ("" or "." for the root itself).
func (r *Resolver) Scope(dir string) (*Registry, error) {
	dir = path.Clean("/" + dir)[1:]
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.fold.String(dir)
	if reg, ok := r.scopes[k]; ok {
		return reg, nil
	}
	reg := NewRegistry(r.maxLen)
	if err := SeedDir(reg, filepath.Join(r.root, filepath.FromSlash(dir))); err != nil {
		return nil, err
	}
	r.scopes[k] = reg
	return reg, nil
}

// Claim marks the last element of rel, a slash-separated path relative to
// the root, as kept in its directory.
func (r *Resolver) Claim(rel string) error {
	reg, err := r.Scope(path.Dir(rel))
	if err != nil {
		return err
	}
	reg.Keep(path.Base(rel))
	return nil
}

// SeedDir seeds reg with the entries of dir. A missing directory is empty.
func SeedDir(reg *Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	reg.Seed(names...)
	return nil
}
