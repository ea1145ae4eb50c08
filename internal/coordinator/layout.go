package coordinator

import (
	"path/filepath"

	"github.com/maruel/claude-sync/internal/lock"
	"github.com/maruel/claude-sync/internal/syncstate"
)

// MetaDir holds the sync metadata inside the output directory.
const MetaDir = ".claude-sync"

// Fixed names at the output root.
const (
	standaloneDir = "conversations"
	docsDir       = "docs"
	convsDir      = "conversations"
	historyFile   = "runs.jsonl"
	backupsDir    = "backups"
	historyKeep   = 200
)

// rootNames are never handed out to projects.
var rootNames = []string{MetaDir, standaloneDir, ".git", ".gitignore", "index.json"}

// StatePath returns the state file of out.
func StatePath(out string) string {
	return filepath.Join(out, MetaDir, syncstate.FileName)
}

// LockPath returns the lock marker of out.
func LockPath(out string) string {
	return filepath.Join(out, MetaDir, lock.FileName)
}

// HistoryPath returns the run history of out.
func HistoryPath(out string) string {
	return filepath.Join(out, MetaDir, historyFile)
}

// LogDir returns the directory for log files of out.
func LogDir(out string) string {
	return filepath.Join(out, MetaDir, "logs")
}
