package notify

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/gur-shatz/go-integrity/internal/scan"
	"github.com/gur-shatz/go-integrity/internal/verify"
)

// Event types emitted as stdout protocol lines.
const (
	EventGenerated = "generated"
	EventVerified  = "verified"
	EventChanged   = "changed"
	EventStopping  = "stopping"
)

// FileEvent is a single file in an event payload.
type FileEvent struct {
	Path   string `json:"path"`
	Status string `json:"status,omitempty"`
	From   string `json:"from,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Event is the JSON payload for a protocol line.
type Event struct {
	Type       string         `json:"type"`
	Manifest   string         `json:"manifest,omitempty"`
	Algorithm  string         `json:"algorithm,omitempty"`
	Files      int            `json:"files,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Skipped    []FileEvent    `json:"skipped,omitempty"`
	Failed     []FileEvent    `json:"failed,omitempty"`
}

// Notifier emits structured protocol lines to a writer.
type Notifier struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a Notifier that writes to stdout.
func New() *Notifier {
	return &Notifier{w: os.Stdout}
}

// NewWithWriter creates a Notifier that writes to the given writer (for testing).
func NewWithWriter(w io.Writer) *Notifier {
	return &Notifier{w: w}
}

// Generated emits a generated event after a manifest is written. Skips keep
// the order they are given in.
func (this *Notifier) Generated(manifestPath, algorithm string, files int, skipped []scan.Skip, took time.Duration) {
	ev := Event{
		Type:       EventGenerated,
		Manifest:   manifestPath,
		Algorithm:  algorithm,
		Files:      files,
		DurationMs: took.Milliseconds(),
	}
	for _, skip := range skipped {
		ev.Skipped = append(ev.Skipped, FileEvent{Path: skip.Path, Error: skip.Err.Error()})
	}
	this.emit(ev)
}

// Verified emits a verified event with per-status counts and the failures.
func (this *Notifier) Verified(manifestPath string, report *verify.Report, took time.Duration) {
	ev := Event{
		Type:       EventVerified,
		Manifest:   manifestPath,
		Algorithm:  report.Algorithm,
		Files:      len(report.Results),
		DurationMs: took.Milliseconds(),
		Counts:     make(map[string]int),
	}
	for status, n := range report.Counts() {
		ev.Counts[status.String()] = n
	}
	for _, r := range report.Failed() {
		ev.Failed = append(ev.Failed, fileEvent(r, ""))
	}
	this.emit(ev)
}

// Changed emits a changed event for status transitions seen while watching.
// previous maps each path to its status before the transition.
func (this *Notifier) Changed(manifestPath string, results []verify.Result, previous map[string]verify.Status) {
	ev := Event{Type: EventChanged, Manifest: manifestPath, Files: len(results)}
	for _, r := range results {
		from := ""
		if p, ok := previous[r.Path]; ok {
			from = p.String()
		}
		ev.Failed = append(ev.Failed, fileEvent(r, from))
	}
	this.emit(ev)
}

// Stopping emits a stopping event on shutdown.
func (this *Notifier) Stopping() {
	this.emit(Event{
		Type: EventStopping,
	})
}

func fileEvent(r verify.Result, from string) FileEvent {
	fe := FileEvent{Path: r.Path, Status: r.Status.String(), From: from}
	if r.Err != nil {
		fe.Error = r.Err.Error()
	}
	return fe
}

func (this *Notifier) emit(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	this.mu.Lock()
	defer this.mu.Unlock()
	fmt.Fprintf(this.w, "[integrity:%s] %s\n", event.Type, data)
}
