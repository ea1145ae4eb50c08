// Package naming assigns collision-free local names within a directory.
//
// Names are compared case-folded so that two entities never land on the same
// file on case-insensitive filesystems, even when the output directory lives
// on a case-sensitive one.
package naming

import (
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/maruel/claude-sync/internal/fingerprint"
)

// Registry tracks the names used in a single directory during one run.
type Registry struct {
	maxLen int

	mu      sync.Mutex
	fold    cases.Caser
	used    map[string]string
	claimed map[string]bool
}

// NewRegistry returns an empty registry. maxLen bounds generated names,
// extension included; non-positive means fingerprint.DefaultMaxLength.
func NewRegistry(maxLen int) *Registry {
	if maxLen <= 0 {
		maxLen = fingerprint.DefaultMaxLength
	}
	return &Registry{
		maxLen:  maxLen,
		fold:    cases.Fold(),
		used:    make(map[string]string),
		claimed: make(map[string]bool),
	}
}

// Seed records names already present in the directory. Seeded names block
// new reservations but can be reclaimed by their previous owner through
// ReserveWithPrevious.
func (r *Registry) Seed(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		k := r.key(n)
		if _, ok := r.used[k]; !ok {
			r.used[k] = n
		}
	}
}

// Keep claims name for this run as-is, typically for an entity that is
// unchanged and keeps its file.
func (r *Registry) Keep(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(name)
	r.used[k] = name
	r.claimed[k] = true
}

// Reserve returns a unique name for desired with extension ext (for example
// ".md", or "" for none) and records it.
func (r *Registry) Reserve(desired, ext string) string {
	return r.ReserveWithPrevious(desired, ext, "")
}

// ReserveWithPrevious is Reserve for an entity that was previously written
// as previous. When previous is the name Reserve would produce, or one of its
// numbered variants, and nothing claimed it yet in this run, it is returned
// so that names stay stable across runs.
func (r *Registry) ReserveWithPrevious(desired, ext, previous string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidate := r.candidate(desired, ext)
	stem, suffix := splitExt(candidate)
	if previous != "" {
		pk := r.key(previous)
		if !r.claimed[pk] && r.isVariant(previous, stem, suffix) {
			r.used[pk] = previous
			r.claimed[pk] = true
			return previous
		}
	}
	name := candidate
	for n := 1; ; n++ {
		k := r.key(name)
		if _, ok := r.used[k]; !ok {
			r.used[k] = name
			r.claimed[k] = true
			return name
		}
		name = stem + "_" + strconv.Itoa(n) + suffix
	}
}

func (r *Registry) candidate(desired, ext string) string {
	if ext == "" {
		return fingerprint.Sanitize(desired, r.maxLen)
	}
	if n := len(desired) - len(ext); n >= 0 && strings.EqualFold(desired[n:], ext) {
		desired = desired[:n]
	}
	return fingerprint.Sanitize(desired, r.maxLen-len([]rune(ext))) + ext
}

// isVariant reports whether name is stem+suffix or stem_N+suffix, folded.
func (r *Registry) isVariant(name, stem, suffix string) bool {
	k, ks, kx := r.key(name), r.key(stem), r.key(suffix)
	if !strings.HasPrefix(k, ks) || !strings.HasSuffix(k, kx) || len(k) < len(ks)+len(kx) {
		return false
	}
	mid := k[len(ks) : len(k)-len(kx)]
	if mid == "" {
		return true
	}
	if len(mid) < 2 || mid[0] != '_' {
		return false
	}
	_, err := strconv.ParseUint(mid[1:], 10, 32)
	return err == nil
}

func (r *Registry) key(name string) string {
	return r.fold.String(name)
}

// splitExt splits at the last dot; a leading dot is not an extension.
func splitExt(name string) (string, string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}
