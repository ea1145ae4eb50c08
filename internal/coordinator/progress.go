// Defines progress reporting interfaces and implementations.

package coordinator

import (
	"fmt"
	"io"
	"time"
)

// Progress is the interface for reporting sync progress.
type Progress interface {
	OnStart(total int)
	OnProgress(current int, item string)
	OnWarning(msg string)
	OnError(err error)
	OnComplete(s *Summary)
}

// CLIProgress writes progress to stdout/stderr.
type CLIProgress struct {
	Out   io.Writer
	Err   io.Writer
	total int
}

// OnStart is called when the project listing is known.
func (p *CLIProgress) OnStart(total int) {
	p.total = total
	_, _ = fmt.Fprintf(p.Out, "Found %d projects\n", total)
}

// OnProgress is called for each project processed.
func (p *CLIProgress) OnProgress(current int, item string) {
	_, _ = fmt.Fprintf(p.Out, "[%d/%d] %s\n", current, p.total, item)
}

// OnWarning is called for non-fatal issues.
func (p *CLIProgress) OnWarning(msg string) {
	_, _ = fmt.Fprintf(p.Err, "Warning: %s\n", msg)
}

// OnError is called for entities that failed.
func (p *CLIProgress) OnError(err error) {
	_, _ = fmt.Fprintf(p.Err, "Error: %v\n", err)
}

// OnComplete is called when the run finishes.
func (p *CLIProgress) OnComplete(s *Summary) {
	_, _ = fmt.Fprintf(p.Out, "\n%s\n", s.String())
	for _, k := range kindsOf(s) {
		c := s.Counts[k]
		_, _ = fmt.Fprintf(p.Out, "  %-13s %d updated, %d unchanged, %d failed, %d orphaned\n", k+":", c.Synced, c.Skipped, c.Failed, c.Orphaned)
	}
	if s.Backups > 0 {
		_, _ = fmt.Fprintf(p.Out, "Backed up %d files to %s\n", s.Backups, s.BackupDir)
	}
	_, _ = fmt.Fprintf(p.Out, "Duration: %s\n", s.Duration.Round(time.Millisecond))
}

// ProgressUpdate represents a progress update for channel-based reporting.
type ProgressUpdate struct {
	Type    string   `json:"type"` // "start", "progress", "warning", "error", "complete"
	Current int      `json:"current,omitempty"`
	Total   int      `json:"total,omitempty"`
	Message string   `json:"message,omitempty"`
	Summary *Summary `json:"summary,omitempty"`
}

// ChannelProgress sends progress updates via a channel.
type ChannelProgress struct {
	Updates chan<- ProgressUpdate
	total   int
}

// NewChannelProgress creates a new channel-based progress reporter.
func NewChannelProgress(updates chan<- ProgressUpdate) *ChannelProgress {
	return &ChannelProgress{Updates: updates}
}

// OnStart is called when the project listing is known.
func (p *ChannelProgress) OnStart(total int) {
	p.total = total
	p.Updates <- ProgressUpdate{Type: "start", Total: total}
}

// OnProgress is called for each project processed.
func (p *ChannelProgress) OnProgress(current int, item string) {
	p.Updates <- ProgressUpdate{Type: "progress", Current: current, Total: p.total, Message: item}
}

// OnWarning is called for non-fatal issues.
func (p *ChannelProgress) OnWarning(msg string) {
	p.Updates <- ProgressUpdate{Type: "warning", Message: msg}
}

// OnError is called for entities that failed.
func (p *ChannelProgress) OnError(err error) {
	p.Updates <- ProgressUpdate{Type: "error", Message: err.Error()}
}

// OnComplete is called when the run finishes.
func (p *ChannelProgress) OnComplete(s *Summary) {
	p.Updates <- ProgressUpdate{Type: "complete", Summary: s}
}

// NullProgress discards all progress updates.
type NullProgress struct{}

// OnStart is called when the project listing is known.
func (p *NullProgress) OnStart(total int) {}

// OnProgress is called for each project processed.
func (p *NullProgress) OnProgress(current int, item string) {}

// OnWarning is called for non-fatal issues.
func (p *NullProgress) OnWarning(msg string) {}

// OnError is called for entities that failed.
func (p *NullProgress) OnError(err error) {}

// OnComplete is called when the run finishes.
func (p *NullProgress) OnComplete(s *Summary) {}
