// Package main is the entry point for claude-sync.
//
// claude-sync mirrors the projects of a claude.ai organization into a local
// directory: project instructions as CLAUDE.md, knowledge documents and
// optionally conversations as markdown. Runs are incremental; only what
// changed upstream is fetched and rewritten. Configuration is read from a
// YAML file, a .env file, the environment and CLI flags, in increasing order
// of precedence.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mattn/go-isatty"

	"github.com/maruel/claude-sync/internal/claude"
	"github.com/maruel/claude-sync/internal/config"
	"github.com/maruel/claude-sync/internal/coordinator"
	"github.com/maruel/claude-sync/internal/entity"
	"github.com/maruel/claude-sync/internal/syncerr"
	"github.com/maruel/claude-sync/internal/vcs"
	"github.com/maruel/claude-sync/internal/writer"
)

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitPartial = 2
)

func main() {
	code, err := mainImpl()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "claude-sync: %v\n", err)
		if code == exitOK {
			code = exitError
		}
	}
	os.Exit(code)
}

func mainImpl() (int, error) {
	version := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", config.DefaultPath(), "YAML config file")
	outputDir := flag.String("o", "", "Output directory (default ~/.local/share/claude-sync, or "+config.EnvOutputDir+")")
	conversations := flag.Bool("conversations", false, "Also sync the conversations of each project")
	standalone := flag.Bool("standalone", false, "Also sync conversations that belong to no project")
	force := flag.Bool("force", false, "Rewrite everything, ignoring the sync state")
	dryRun := flag.Bool("dry-run", false, "Show what would change without writing")
	reclaim := flag.Bool("reclaim-stale-lock", false, "Remove a lock left by a sync that is no longer running")
	useGit := flag.Bool("git", false, "Commit the output directory to git after each successful sync")
	every := flag.Duration("every", 0, "Sync repeatedly at this interval (e.g. 30m) until interrupted")
	status := flag.Bool("status", false, "Print the state of the output directory and exit")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFile := flag.String("log-file", "", "Also write JSON logs to this rotated file; \"auto\" puts it in the output directory")
	workers := flag.Int("workers", 0, "Concurrent API requests")
	rps := flag.Float64("rps", 0, "Maximum API requests per second")
	maxDocBytes := flag.Int64("max-document-bytes", 0, "Skip documents larger than this (0 disables the limit; default from the config)")
	maxMessages := flag.Int("max-messages", 0, "Skip conversations with more messages than this (0 disables the limit; default from the config)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: claude-sync [flags] [org_uuid]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() > 1 {
		return exitError, fmt.Errorf("unknown arguments: %v", flag.Args()[1:])
	}
	if *version {
		printVersion()
		return exitOK, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	slog.SetDefault(slog.New(newConsoleHandler(os.Stderr, ll)))

	// Defaults, then YAML, then .env, then the environment, then flags.
	cfg := config.Default()
	if err := cfg.LoadFile(*configPath); err != nil {
		return exitError, err
	}
	env, envPath, err := config.LoadDotEnv(config.DotEnvPaths()...)
	if err != nil {
		return exitError, err
	}
	cfg.ApplyEnv(config.MapLookup(env))
	cfg.ApplyEnv(os.LookupEnv)

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if org := flag.Arg(0); org != "" {
		cfg.OrgID = org
	}
	if set["o"] {
		cfg.OutputDir = *outputDir
	}
	if set["conversations"] {
		cfg.Conversations = *conversations
	}
	if set["standalone"] {
		cfg.Standalone = *standalone
	}
	if set["git"] {
		cfg.Git = *useGit
	}
	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if set["log-file"] {
		cfg.LogFile = *logFile
	}
	if set["workers"] {
		cfg.Workers = *workers
	}
	if set["rps"] {
		cfg.RequestsPerSecond = *rps
	}
	if set["max-document-bytes"] {
		cfg.MaxDocumentBytes = *maxDocBytes
	}
	if set["max-messages"] {
		cfg.MaxMessages = *maxMessages
	}

	if *status {
		if err := cfg.ValidateOutput(); err != nil {
			return exitError, err
		}
		return exitOK, printStatus(ctx, os.Stdout, cfg.OutputDir)
	}
	if err := cfg.Validate(); err != nil {
		return exitError, err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	ll.Set(level)
	if cfg.LogFile == "auto" {
		cfg.LogFile = filepath.Join(coordinator.LogDir(cfg.OutputDir), "claude-sync.log")
	}
	if cfg.LogFile != "" {
		closeLog := setupFileLog(os.Stderr, ll, cfg.LogFile)
		defer closeLog()
	}
	if envPath != "" {
		slog.DebugContext(ctx, "loaded .env", "path", envPath)
	}

	client := claude.New(cfg.OrgID, cfg.SessionKey, claude.Options{RequestsPerSecond: cfg.RequestsPerSecond})
	opts := coordinator.Options{
		OutputDir:        cfg.OutputDir,
		OrgID:            cfg.OrgID,
		Conversations:    cfg.Conversations,
		Standalone:       cfg.Standalone,
		ForceFull:        *force,
		ReclaimStaleLock: *reclaim,
		DryRun:           *dryRun,
		Workers:          cfg.Workers,
		Limits:           writer.Limits{MaxDocumentBytes: cfg.MaxDocumentBytes, MaxMessages: cfg.MaxMessages},
		MaxNameLength:    cfg.MaxNameLength,
		Progress:         &coordinator.CLIProgress{Out: os.Stdout, Err: os.Stderr},
	}

	var repo *vcs.Repo
	if cfg.Git && !*dryRun {
		if repo, err = vcs.Open(cfg.OutputDir, "claude-sync", "claude-sync@localhost", coordinator.MetaDir); err != nil {
			return exitError, err
		}
	}

	if *every <= 0 {
		return syncOnce(ctx, client, opts, repo)
	}
	// Stop looping when the binary is replaced, so an upgrade takes effect.
	if err := watchExecutable(ctx, stop); err != nil {
		return exitError, fmt.Errorf("failed to watch executable: %w", err)
	}
	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		code, err := syncOnce(ctx, client, opts, repo)
		if err != nil {
			if errors.Is(err, context.Canceled) || syncerr.Fatal(err) || errors.Is(err, claude.ErrUnauthenticated) {
				return code, err
			}
			slog.ErrorContext(ctx, "sync failed, retrying at the next interval", "err", err)
		}
		// -force and -reclaim-stale-lock apply to the first run only.
		opts.ReclaimStaleLock = false
		opts.ForceFull = false
		select {
		case <-ctx.Done():
			return exitOK, nil
		case <-ticker.C:
		}
	}
}

// syncOnce runs one sync, offering to reclaim a stale lock on a terminal.
func syncOnce(ctx context.Context, client *claude.Client, opts coordinator.Options, repo *vcs.Repo) (int, error) {
	sum, err := coordinator.New(client, opts).Run(ctx)
	if errors.Is(err, syncerr.ErrStaleLock) && !opts.ReclaimStaleLock && isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		if confirm(os.Stdin, os.Stderr, "Remove the stale lock and continue?") {
			opts.ReclaimStaleLock = true
			sum, err = coordinator.New(client, opts).Run(ctx)
		}
	}
	if err != nil {
		if errors.Is(err, claude.ErrUnauthenticated) {
			err = fmt.Errorf("%w; the session key was rejected, copy a fresh sessionKey cookie from claude.ai into %s", err, config.EnvSessionKey)
		}
		return exitError, err
	}
	if repo != nil {
		c, err := repo.Checkpoint(ctx, "claude-sync: "+sum.String())
		if err != nil {
			return exitError, err
		}
		if c != nil {
			slog.InfoContext(ctx, "committed", "hash", c.Hash[:12])
		}
	}
	if !sum.OK() {
		return exitPartial, nil
	}
	return exitOK, nil
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	_, _ = fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func printStatus(ctx context.Context, w io.Writer, out string) error {
	s, err := coordinator.ReadStatus(out, 10)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Output:       %s\n", out)
	if s.OrgID == "" {
		_, _ = fmt.Fprintf(w, "Never synced.\n")
		return nil
	}
	_, _ = fmt.Fprintf(w, "Organization: %s\n", s.OrgID)
	_, _ = fmt.Fprintf(w, "Last run:     %s\n", s.LastRunAt)
	for _, k := range entity.Kinds {
		c := s.Counts[k]
		_, _ = fmt.Fprintf(w, "  %-14s %d live, %d orphaned\n", string(k)+"s:", c.Live, c.Orphaned)
	}
	if s.Lock != nil {
		state := "stale"
		if s.LockAlive {
			state = "held"
		}
		_, _ = fmt.Fprintf(w, "Lock:         %s by pid %d on %s since %s\n", state, s.Lock.PID, s.Lock.Hostname, s.Lock.AcquiredAt.Format(time.RFC3339))
	}
	if len(s.Runs) > 0 {
		_, _ = fmt.Fprintf(w, "\nRecent runs:\n")
		for i := len(s.Runs) - 1; i >= 0; i-- {
			r := s.Runs[i]
			line := fmt.Sprintf("  %s  %-15s %d updated, %d unchanged, %d failed", r.StartedAt, r.Phase, r.Synced, r.Skipped, r.Failed)
			if r.Error != "" {
				line += "  " + r.Error
			}
			_, _ = fmt.Fprintln(w, line)
		}
	}
	if _, err := os.Stat(filepath.Join(out, ".git")); err == nil {
		commits, err := vcs.ReadHistory(ctx, out, 5)
		if err != nil {
			return err
		}
		if len(commits) > 0 {
			_, _ = fmt.Fprintf(w, "\nCheckpoints:\n")
		}
		for _, c := range commits {
			_, _ = fmt.Fprintf(w, "  %s  %s  %s\n", c.Hash[:12], c.When.Format(time.DateTime), c.Message)
		}
	}
	return nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("claude-sync %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

// watchExecutable cancels the context when the running binary is replaced.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) || event.Has(fsnotify.Remove) {
					slog.InfoContext(ctx, "Executable modified, stopping")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}
