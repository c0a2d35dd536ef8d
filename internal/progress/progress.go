// Package progress provides elapsed-time display for the per-target poll loop.
package progress

import (
	"fmt"
	"io"
	"time"
)

// Ticker displays elapsed time while one target's remote operation is polled
type Ticker struct {
	target    string
	writer    io.Writer
	startTime time.Time
	enabled   bool
	lastDraw  time.Time
	drew      bool
}

// NewTicker creates a new poll-progress ticker for one target
func NewTicker(target string, writer io.Writer, enabled bool) *Ticker {
	return &Ticker{
		target:    target,
		writer:    writer,
		startTime: time.Now(),
		enabled:   enabled,
	}
}

// Tick redraws the elapsed-time line. Called once per poll.
func (t *Ticker) Tick() {
	if !t.enabled {
		return
	}

	now := time.Now()
	// Throttle redraws to avoid excessive output
	if now.Sub(t.lastDraw) < 500*time.Millisecond {
		return
	}
	t.lastDraw = now
	t.drew = true

	elapsed := now.Sub(t.startTime).Round(time.Second)
	fmt.Fprintf(t.writer, "\r\033[Kcapability discovery on %s: %v elapsed", t.target, elapsed)
}

// Finish clears the progress line and prints the terminal outcome
func (t *Ticker) Finish(outcome string) {
	if !t.enabled {
		return
	}

	elapsed := time.Since(t.startTime).Round(time.Second)
	if t.drew {
		fmt.Fprintf(t.writer, "\r\033[K")
	}
	fmt.Fprintf(t.writer, "capability discovery on %s: %s after %v\n", t.target, outcome, elapsed)
}

// Elapsed returns the time since the ticker was created
func (t *Ticker) Elapsed() time.Duration {
	return time.Since(t.startTime)
}
