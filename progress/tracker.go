package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/poiesic/docvec/core"
)

// Tracker renders the progress of a batch of documents on one terminal line.
type Tracker struct {
	writer    io.Writer
	total     int
	percents  map[string]int
	terminal  map[string]bool
	done      int
	failed    int
	startTime time.Time
	started   bool
	mu        sync.Mutex
}

// NewTracker creates a tracker for total documents.
// writer: where to write progress output (typically os.Stderr)
func NewTracker(writer io.Writer, total int) *Tracker {
	return &Tracker{
		writer:   writer,
		total:    total,
		percents: make(map[string]int),
		terminal: make(map[string]bool),
	}
}

// Start begins tracking progress.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = time.Now()
	t.started = true
	t.done = 0
	t.failed = 0
	clear(t.percents)
	clear(t.terminal)
}

// Observe records a progress event and redraws the line.
// It returns true once every document has reached a terminal stage.
func (t *Tracker) Observe(event core.ProgressEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started || event.Type != core.EventProgress || event.DocumentID == "" {
		return t.finished()
	}

	if t.terminal[event.DocumentID] {
		return t.finished()
	}
	t.percents[event.DocumentID] = max(t.percents[event.DocumentID], event.Percent)
	if event.Stage.IsTerminal() {
		t.terminal[event.DocumentID] = true
		t.percents[event.DocumentID] = 100
		t.done++
		if event.Stage == core.StageFailed {
			t.failed++
		}
	}

	t.report()
	return t.finished()
}

// Finish prints the final line.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return
	}
	t.report()
	fmt.Fprintln(t.writer) // Print newline after final progress
}

// Failed returns how many documents ended in failure.
func (t *Tracker) Failed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Elapsed returns the time elapsed since Start was called.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return 0
	}
	return time.Since(t.startTime)
}

// finished must be called with lock held.
func (t *Tracker) finished() bool {
	return t.started && t.done >= t.total
}

// report prints the current progress. Must be called with lock held.
func (t *Tracker) report() {
	percentage := 100.0
	if t.total > 0 {
		sum := 0
		for _, p := range t.percents {
			sum += p
		}
		percentage = float64(sum) / float64(t.total)
	}

	fmt.Fprintf(t.writer, "\rProgress: %d/%d documents (%.1f%%) - %d failed - %s",
		t.done, t.total, percentage, t.failed, time.Since(t.startTime).Round(time.Second))
}
