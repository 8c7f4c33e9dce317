package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports progress for long-running operations such as
// budget imports.
type ProgressReporter interface {
	Start(total int64)
	Update(current int64)
	Finish()
	Error(err error)
}

const barWidth = 40

// SimpleProgress redraws a single status line with a carriage return.
type SimpleProgress struct {
	w io.Writer

	mu      sync.Mutex
	total   int64
	done    int64
	started time.Time
}

// NewProgressReporter creates a new progress reporter that writes to w.
// If w is nil, it defaults to os.Stderr.
func NewProgressReporter(w io.Writer) ProgressReporter {
	if w == nil {
		w = os.Stderr
	}
	return &SimpleProgress{w: w}
}

func (p *SimpleProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total, p.done, p.started = total, 0, time.Now()
	p.draw()
}

// Update sets the number of completed items, capped at the total.
func (p *SimpleProgress) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = min(current, p.total)
	p.draw()
}

func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = p.total
	p.draw()
	fmt.Fprintln(p.w)
}

func (p *SimpleProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\n✗ Error: %v\n", err)
}

// draw is a no-op for empty operations.
func (p *SimpleProgress) draw() {
	if p.total == 0 {
		return
	}

	frac := float64(p.done) / float64(p.total)
	filled := int(frac * barWidth)

	var perSecond float64
	if secs := time.Since(p.started).Seconds(); secs > 0 {
		perSecond = float64(p.done) / secs
	}

	fmt.Fprintf(p.w, "\rProgress: [%s%s] %.1f%% (%d/%d) %.1f items/s",
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled),
		frac*100, p.done, p.total, perSecond)
}
