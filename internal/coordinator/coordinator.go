// Package coordinator runs one sync of an organization into an output
// directory.
//
// A run takes the output lock, loads the state once, walks the remote
// listings, writes what changed and commits the state once. A run that fails
// or is cancelled leaves the state as it found it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/maruel/ksid"
	"golang.org/x/sync/errgroup"

	"github.com/maruel/claude-sync/internal/atomicfile"
	"github.com/maruel/claude-sync/internal/claude"
	"github.com/maruel/claude-sync/internal/detect"
	"github.com/maruel/claude-sync/internal/entity"
	"github.com/maruel/claude-sync/internal/fingerprint"
	"github.com/maruel/claude-sync/internal/lock"
	"github.com/maruel/claude-sync/internal/naming"
	"github.com/maruel/claude-sync/internal/render"
	"github.com/maruel/claude-sync/internal/syncerr"
	"github.com/maruel/claude-sync/internal/syncstate"
	"github.com/maruel/claude-sync/internal/writer"
)

// Fetcher is the remote API read by a run. *claude.Client implements it.
type Fetcher interface {
	ListProjects(ctx context.Context) ([]claude.Project, error)
	GetProject(ctx context.Context, id string) (*claude.Project, error)
	ListDocuments(ctx context.Context, projectID string) ([]claude.Document, error)
	ListConversations(ctx context.Context, projectID string) ([]claude.Conversation, error)
	ListStandaloneConversations(ctx context.Context) ([]claude.Conversation, error)
	GetConversation(ctx context.Context, id string) (*claude.Conversation, error)
}

var _ Fetcher = (*claude.Client)(nil)

// ioAbortThreshold is the number of consecutive write failures, without any
// successful write, after which the output directory is considered unusable.
const ioAbortThreshold = 5

// Decision reasons added on top of detect's.
const (
	reasonMissing = "missing locally"
	reasonMoved   = "moved"
)

// Options configures a Coordinator.
type Options struct {
	OutputDir string
	OrgID     string
	// Conversations syncs the conversations of each project.
	Conversations bool
	// Standalone syncs the conversations that belong to no project.
	Standalone       bool
	ForceFull        bool
	ReclaimStaleLock bool
	// DryRun decides and renders everything but writes nothing.
	DryRun        bool
	Workers       int
	Limits        writer.Limits
	MaxNameLength int
	Progress      Progress
	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator runs syncs with a fixed configuration.
type Coordinator struct {
	fetcher Fetcher
	opts    Options
}

// New returns a Coordinator. Zero options get their defaults.
func New(f Fetcher, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = fingerprint.DefaultMaxLength
	}
	if opts.Progress == nil {
		opts.Progress = &NullProgress{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{fetcher: f, opts: opts}
}

// run is the mutable state of one Run.
type run struct {
	*Coordinator
	sum      *Summary
	now      time.Time
	state    *syncstate.State
	resolver *naming.Resolver
	w        *writer.Writer
	manifest render.Manifest

	okWrites   int
	ioFailures int
}

// Run performs one sync. The summary is returned even when the run fails.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	now := c.opts.Now().UTC()
	r := &run{Coordinator: c, sum: newSummary(ksid.NewID().String(), now), now: now}
	r.sum.DryRun = c.opts.DryRun

	lk, err := lock.Acquire(LockPath(c.opts.OutputDir), lock.Options{ReclaimStale: c.opts.ReclaimStaleLock})
	if err != nil {
		return r.sum, err
	}
	r.sum.Phase = PhaseLockAcquired
	slog.InfoContext(ctx, "sync started", "run", r.sum.RunID, "out", c.opts.OutputDir, "pid", lk.Info().PID, "dry_run", c.opts.DryRun)

	err = r.locked(ctx)
	if err != nil {
		r.sum.Phase = PhaseFailedCleanup
	}
	r.sum.Duration = time.Since(started)
	if !c.opts.DryRun {
		if herr := appendHistory(c.opts.OutputDir, recordOf(r.sum, err)); herr != nil {
			slog.WarnContext(ctx, "failed to record run history", "err", herr)
		}
	}
	if rerr := lk.Release(); rerr != nil {
		err = errors.Join(err, syncerr.IO("unlock", LockPath(c.opts.OutputDir), rerr))
		r.sum.Phase = PhaseFailedCleanup
	} else if err == nil {
		r.sum.Phase = PhaseUnlocked
	}
	if err != nil {
		slog.ErrorContext(ctx, "sync failed", "run", r.sum.RunID, "phase", r.sum.Phase, "err", err)
	} else {
		slog.InfoContext(ctx, "sync done", "run", r.sum.RunID, "summary", r.sum.String(), "duration", r.sum.Duration)
	}
	c.opts.Progress.OnComplete(r.sum)
	return r.sum, err
}

func (r *run) locked(ctx context.Context) error {
	out := r.opts.OutputDir
	if !r.opts.DryRun {
		removed, err := atomicfile.Sweep(out, ".git")
		if err != nil {
			slog.WarnContext(ctx, "failed to remove interrupted writes", "err", err)
		} else if len(removed) > 0 {
			slog.InfoContext(ctx, "removed interrupted writes", "files", len(removed))
		}
	}

	st, err := syncstate.Load(StatePath(out))
	if err != nil {
		return err
	}
	if st.OrgID != "" && st.OrgID != r.opts.OrgID {
		return fmt.Errorf("%s was synced from organization %s, not %s; use another output directory", out, st.OrgID, r.opts.OrgID)
	}
	r.state = st
	r.sum.Phase = PhaseStateLoaded

	r.resolver = naming.NewResolver(out, r.opts.MaxNameLength)
	root, err := r.resolver.Scope("")
	if err != nil {
		return syncerr.IO("scan", out, err)
	}
	for _, n := range rootNames {
		root.Keep(n)
	}
	r.sum.BackupDir = r.backupDir()
	r.w = writer.New(out, r.resolver, writer.Options{Limits: r.opts.Limits, BackupDir: r.sum.BackupDir, DryRun: r.opts.DryRun})
	r.manifest = render.Manifest{OrgID: r.opts.OrgID, Projects: map[string]render.ManifestProject{}}

	r.sum.Phase = PhaseProcessing
	if err := r.process(ctx); err != nil {
		return err
	}
	if r.opts.DryRun {
		return nil
	}
	st.OrgID = r.opts.OrgID
	st.RunID = r.sum.RunID
	st.LastRunAt = r.now
	if err := syncstate.Commit(StatePath(out), st); err != nil {
		return err
	}
	r.sum.Phase = PhaseStateCommitted
	return nil
}

// backupDir returns this run's backup directory relative to the output.
func (r *run) backupDir() string {
	base := path.Join(MetaDir, backupsDir, r.now.Format("20060102T150405Z"))
	dir := base
	for i := 2; ; i++ {
		if _, err := os.Stat(r.abs(dir)); err != nil {
			return dir
		}
		dir = fmt.Sprintf("%s-%d", base, i)
	}
}

func (r *run) process(ctx context.Context) error {
	projects, err := r.fetcher.ListProjects(ctx)
	if err != nil {
		return syncerr.New(syncerr.CodeEntityFetch, "failed to list projects").Wrap(err)
	}

	// Decide every project first so that the directories of unchanged
	// projects are claimed before any new project picks a name.
	seen := make(map[string]bool, len(projects))
	var work []*projectWork
	for i := range projects {
		p := &projects[i]
		e := &entity.Entity{Kind: entity.Project, ID: string(p.UUID), Name: string(p.Name), UpdatedAt: string(p.UpdatedAt)}
		if !r.admit(e, seen) {
			continue
		}
		pw := &projectWork{entity: e, listed: p, prior: r.state.Get(e.ID)}
		pw.decision = detect.Decide(e, pw.prior, r.opts.ForceFull)
		if pw.decision.Action == detect.Skip && !r.exists(path.Join(pw.prior.LocalPath, render.InstructionsFile)) {
			pw.decision = detect.Result{Action: detect.Sync, Reason: reasonMissing}
		}
		if pw.decision.Action == detect.Skip {
			pw.dir = pw.prior.LocalPath
			r.claim(pw.dir)
		}
		work = append(work, pw)
	}

	r.opts.Progress.OnStart(len(work))
	for i, pw := range work {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := pw.entity.Name
		if name == "" {
			name = pw.entity.ID
		}
		r.opts.Progress.OnProgress(i+1, name)
		if err := r.syncProject(ctx, pw); err != nil {
			return err
		}
	}
	r.orphans(entity.Project, "", seen)

	if r.opts.Standalone {
		if err := r.syncStandalone(ctx); err != nil {
			return err
		}
	}
	// Below the threshold too, an output where nothing could be written is
	// not committed.
	if r.okWrites == 0 && r.ioFailures > 0 {
		return r.ioAbort()
	}
	return r.writeManifest(ctx)
}

// projectWork is one project of the listing.
type projectWork struct {
	entity   *entity.Entity
	listed   *claude.Project
	prior    *syncstate.Record
	decision detect.Result
	// dir is the project directory relative to the output.
	dir string
}

// projectData is what is fetched for a project before anything is written.
type projectData struct {
	detail    *claude.Project
	detailErr error
	docs      []claude.Document
	docsErr   error
	convs     []claude.Conversation
	convsErr  error
}

func (r *run) prefetch(ctx context.Context, pw *projectWork) (*projectData, error) {
	d := &projectData{}
	id := pw.entity.ID
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	if pw.decision.Action == detect.Sync {
		g.Go(func() error {
			d.detail, d.detailErr = r.fetcher.GetProject(gctx, id)
			return r.abortOn(ctx, d.detailErr)
		})
	}
	g.Go(func() error {
		d.docs, d.docsErr = r.fetcher.ListDocuments(gctx, id)
		return r.abortOn(ctx, d.docsErr)
	})
	if r.opts.Conversations {
		g.Go(func() error {
			d.convs, d.convsErr = r.fetcher.ListConversations(gctx, id)
			return r.abortOn(ctx, d.convsErr)
		})
	}
	return d, g.Wait()
}

func (r *run) syncProject(ctx context.Context, pw *projectWork) error {
	d, err := r.prefetch(ctx, pw)
	if err != nil {
		return err
	}
	e := pw.entity
	if pw.decision.Action == detect.Sync {
		root, err := r.resolver.Scope("")
		if err != nil {
			return syncerr.IO("scan", r.opts.OutputDir, err)
		}
		slug := fingerprint.ProjectSlug(e.Name, e.ID)
		previous := slug
		if pw.prior != nil && pw.prior.LocalPath != "" {
			previous = pw.prior.LocalPath
		}
		pw.dir = root.ReserveWithPrevious(slug, "", previous)
		r.writeProject(pw, d)
		if err := r.checkIO(); err != nil {
			return err
		}
	} else {
		r.skip(e)
	}

	counts := map[string]int{}
	if pw.prior != nil {
		for k, v := range pw.prior.ChildCounts {
			counts[k] = v
		}
	}
	if d.docsErr != nil {
		r.failFetch(&entity.Entity{Kind: entity.Document, ID: e.ID, Name: "documents of " + e.String()}, d.docsErr)
	} else {
		n, err := r.syncDocuments(ctx, pw, d.docs)
		if err != nil {
			return err
		}
		counts["documents"] = n
	}
	if r.opts.Conversations {
		if d.convsErr != nil {
			r.failFetch(&entity.Entity{Kind: entity.Conversation, ID: e.ID, Name: "conversations of " + e.String()}, d.convsErr)
		} else {
			n, err := r.syncConversations(ctx, path.Join(pw.dir, convsDir), e.ID, d.convs)
			if err != nil {
				return err
			}
			counts["conversations"] = n
		}
	}

	if rec := r.state.Get(e.ID); rec != nil {
		rec.ChildCounts = counts
	}
	r.manifest.Projects[e.ID] = render.ManifestProject{
		Name:               e.Name,
		Slug:               path.Base(pw.dir),
		Path:               pw.dir + "/",
		UpdatedAt:          e.UpdatedAt,
		DocsCount:          counts["documents"],
		ConversationsCount: counts["conversations"],
	}
	return nil
}

// writeProject writes CLAUDE.md and meta.json. A failure is recorded against
// the project only; its children are still processed.
func (r *run) writeProject(pw *projectWork, d *projectData) {
	e := pw.entity
	if d.detailErr != nil {
		r.failFetch(e, d.detailErr)
		return
	}
	p := d.detail
	if p == nil {
		p = pw.listed
	}
	instructions, err := render.Instructions(p)
	if err != nil {
		r.fail(e, err)
		return
	}
	meta, err := render.ProjectMeta(p)
	if err != nil {
		r.fail(e, err)
		return
	}
	if _, err := r.write(
		writer.Artifact{Dir: pw.dir, Name: render.InstructionsFile, Fixed: true, Data: instructions},
		writer.Artifact{Dir: pw.dir, Name: render.MetaFile, Fixed: true, Data: meta},
	); err != nil {
		r.fail(e, err)
		return
	}
	r.state.Put(&syncstate.Record{
		ID:              e.ID,
		Kind:            e.Kind,
		Name:            e.Name,
		LastSyncedAt:    r.now,
		RemoteUpdatedAt: e.UpdatedAt,
		LocalPath:       pw.dir,
	})
	r.synced(e, pw.decision, pw.dir)
}

// child is one document or conversation of a listing.
type child struct {
	entity   *entity.Entity
	prior    *syncstate.Record
	decision detect.Result
	doc      *claude.Document
	conv     *claude.Conversation
	fetchErr error
}

func (r *run) syncDocuments(ctx context.Context, pw *projectWork, docs []claude.Document) (int, error) {
	dir := path.Join(pw.dir, docsDir)
	entries := make([]*child, 0, len(docs))
	for i := range docs {
		doc := &docs[i]
		entries = append(entries, &child{
			entity: &entity.Entity{
				Kind:        entity.Document,
				ID:          string(doc.UUID),
				Name:        doc.Name(),
				UpdatedAt:   string(doc.UpdatedAt),
				ContentHash: fingerprint.ContentHashString(string(doc.Content)),
				Parent:      pw.entity.ID,
			},
			doc: doc,
		})
	}
	items, seen := r.plan(entries, dir)
	err := r.apply(ctx, items, dir, func(c *child) (writer.Artifact, error) {
		return writer.Artifact{Name: render.DocumentName(c.doc), Ext: ".md", Data: render.Document(c.doc), Kind: entity.Document}, nil
	})
	if err != nil {
		return 0, err
	}
	r.orphans(entity.Document, pw.entity.ID, seen)
	return len(items), nil
}

func (r *run) syncStandalone(ctx context.Context) error {
	list, err := r.fetcher.ListStandaloneConversations(ctx)
	if err != nil {
		if err := r.abortOn(ctx, err); err != nil {
			return err
		}
		r.failFetch(&entity.Entity{Kind: entity.Conversation, Name: "standalone conversations"}, err)
		return nil
	}
	n, err := r.syncConversations(ctx, standaloneDir, "", list)
	if err != nil {
		return err
	}
	r.manifest.StandaloneConversations = n
	return nil
}

// syncConversations fetches the full conversations to write in batches, so
// memory stays bounded on large organizations.
func (r *run) syncConversations(ctx context.Context, dir, parent string, list []claude.Conversation) (int, error) {
	entries := make([]*child, 0, len(list))
	for i := range list {
		cv := &list[i]
		entries = append(entries, &child{
			entity: &entity.Entity{Kind: entity.Conversation, ID: string(cv.UUID), Name: string(cv.Name), UpdatedAt: string(cv.UpdatedAt), Parent: parent},
			conv:   cv,
		})
	}
	items, seen := r.plan(entries, dir)
	build := func(c *child) (writer.Artifact, error) {
		data, n, err := render.Transcript(c.conv)
		return writer.Artifact{Name: render.ConversationName(c.conv), Ext: ".md", Data: data, Kind: entity.Conversation, Items: n}, err
	}
	batch := r.opts.Workers * 4
	for start := 0; start < len(items); start += batch {
		chunk := items[start:min(start+batch, len(items))]
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Workers)
		for _, c := range chunk {
			if c.decision.Action != detect.Sync {
				continue
			}
			g.Go(func() error {
				full, err := r.fetcher.GetConversation(gctx, c.entity.ID)
				if err != nil {
					c.fetchErr = err
					return r.abortOn(ctx, err)
				}
				c.conv = full
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}
		if err := r.apply(ctx, chunk, dir, build); err != nil {
			return 0, err
		}
		for _, c := range chunk {
			c.conv = nil
		}
	}
	r.orphans(entity.Conversation, parent, seen)
	return len(items), nil
}

// plan validates a listing and decides each entry. Names of unchanged entries
// are claimed up front so that new entries cannot take them.
func (r *run) plan(entries []*child, dir string) ([]*child, map[string]bool) {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, c := range entries {
		if !r.admit(c.entity, seen) {
			continue
		}
		c.prior = r.state.Get(c.entity.ID)
		c.decision = r.decideChild(c.entity, c.prior, dir)
		if c.decision.Action == detect.Skip {
			r.claim(c.prior.LocalPath)
		}
		out = append(out, c)
	}
	return out, seen
}

// admit rejects entries without identity and repeated IDs.
func (r *run) admit(e *entity.Entity, seen map[string]bool) bool {
	if err := e.Validate(); err != nil {
		r.fail(e, syncerr.New(syncerr.CodeEntityFetch, "listing entry has no identity").Wrap(err))
		return false
	}
	if seen[e.ID] {
		slog.Warn("duplicate entry in listing", "kind", e.Kind, "id", e.ID)
		return false
	}
	seen[e.ID] = true
	return true
}

func (r *run) decideChild(e *entity.Entity, prior *syncstate.Record, dir string) detect.Result {
	d := detect.Decide(e, prior, r.opts.ForceFull)
	if d.Action != detect.Skip {
		return d
	}
	switch {
	case prior.Parent != e.Parent || path.Dir(prior.LocalPath) != dir:
		return detect.Result{Action: detect.Sync, Reason: reasonMoved}
	case !r.exists(prior.LocalPath):
		return detect.Result{Action: detect.Sync, Reason: reasonMissing}
	}
	return d
}

// apply writes the entries to sync, in order, and counts the others.
func (r *run) apply(ctx context.Context, items []*child, dir string, build func(*child) (writer.Artifact, error)) error {
	for _, c := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := c.entity
		if c.decision.Action == detect.Skip {
			r.skip(e)
			continue
		}
		if c.fetchErr != nil {
			r.failFetch(e, c.fetchErr)
			continue
		}
		art, err := build(c)
		if err != nil {
			r.fail(e, err)
			continue
		}
		art.Dir = dir
		if c.prior != nil && path.Dir(c.prior.LocalPath) == dir {
			art.Previous = path.Base(c.prior.LocalPath)
		}
		res, err := r.write(art)
		if err != nil {
			r.fail(e, err)
			if err := r.checkIO(); err != nil {
				return err
			}
			continue
		}
		r.state.Put(&syncstate.Record{
			ID:              e.ID,
			Kind:            e.Kind,
			Name:            e.Name,
			Parent:          e.Parent,
			LastSyncedAt:    r.now,
			RemoteUpdatedAt: e.UpdatedAt,
			ContentHash:     e.ContentHash,
			LocalPath:       res[0].RelPath,
		})
		r.synced(e, c.decision, res[0].RelPath)
	}
	return nil
}

func (r *run) writeManifest(ctx context.Context) error {
	data, err := render.ManifestJSON(&r.manifest)
	if err != nil {
		return err
	}
	if _, err := r.write(writer.Artifact{Name: render.ManifestFile, Fixed: true, NoBackup: true, Data: data}); err != nil {
		slog.WarnContext(ctx, "failed to write manifest", "err", err)
		r.opts.Progress.OnWarning(fmt.Sprintf("failed to write %s: %v", render.ManifestFile, err))
	}
	return nil
}

// write writes artifacts and tracks I/O health.
func (r *run) write(arts ...writer.Artifact) ([]writer.Written, error) {
	res, err := r.w.Write(arts...)
	for _, w := range res {
		switch {
		case w.Err == nil:
			r.okWrites++
			r.ioFailures = 0
			if w.Changed {
				r.sum.Written = append(r.sum.Written, w.RelPath)
			}
			if w.BackupPath != "" {
				r.sum.Backups++
			}
		case errors.Is(w.Err, syncerr.ErrIO):
			r.ioFailures++
		}
	}
	return res, err
}

// checkIO aborts the run when writes keep failing and none ever succeeded.
func (r *run) checkIO() error {
	if r.okWrites == 0 && r.ioFailures >= ioAbortThreshold {
		return r.ioAbort()
	}
	return nil
}

func (r *run) ioAbort() error {
	return syncerr.Newf(syncerr.CodeIO, "%d writes failed and none succeeded, output directory is not writable", r.ioFailures).
		WithDetail("path", r.opts.OutputDir)
}

// abortOn returns the error that must stop the whole run, if err is one.
func (r *run) abortOn(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if errors.Is(err, claude.ErrUnauthenticated) {
		return err
	}
	return nil
}

func (r *run) orphans(kind entity.Kind, parent string, seen map[string]bool) {
	for _, rec := range r.state.MarkOrphans(kind, parent, seen, r.now) {
		r.sum.Counts[kind].Orphaned++
		slog.Info("no longer listed", "kind", kind, "id", rec.ID, "name", rec.Name, "path", rec.LocalPath)
	}
}

func (r *run) skip(e *entity.Entity) {
	r.sum.Counts[e.Kind].Skipped++
	if r.state.Revive(e.ID) {
		slog.Info("listed again", "kind", e.Kind, "id", e.ID, "name", e.Name)
	}
	slog.Debug("unchanged", "kind", e.Kind, "id", e.ID, "name", e.Name)
}

func (r *run) synced(e *entity.Entity, d detect.Result, rel string) {
	r.sum.Counts[e.Kind].Synced++
	slog.Info("synced", "kind", e.Kind, "name", e.Name, "path", rel, "reason", d.Reason)
}

func (r *run) fail(e *entity.Entity, err error) {
	f := Failure{Kind: e.Kind, ID: e.ID, Name: e.Name, Code: syncerr.CodeOf(err), Err: err.Error()}
	r.sum.Counts[e.Kind].Failed++
	r.sum.Failures = append(r.sum.Failures, f)
	slog.Warn("sync failed", "kind", e.Kind, "id", e.ID, "name", e.Name, "err", err)
	r.opts.Progress.OnError(&f)
}

func (r *run) failFetch(e *entity.Entity, err error) {
	r.fail(e, syncerr.Newf(syncerr.CodeEntityFetch, "failed to fetch %s", e.Kind).Wrap(err))
}

func (r *run) claim(rel string) {
	if err := r.resolver.Claim(rel); err != nil {
		slog.Warn("failed to scan directory", "path", path.Dir(rel), "err", err)
	}
}

func (r *run) exists(rel string) bool {
	if rel == "" {
		return false
	}
	_, err := os.Stat(r.abs(rel))
	return !errors.Is(err, fs.ErrNotExist)
}

func (r *run) abs(rel string) string {
	return filepath.Join(r.opts.OutputDir, filepath.FromSlash(rel))
}
