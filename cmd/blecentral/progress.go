package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/srg/blecentral/internal/groutine"
	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a progress line with elapsed or remaining time.
//
// Usage:
//
//	p := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to X", "Connecting")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Stop must be called to release the
// internal goroutine; it is safe to call more than once.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	phase    atomic.Value // string
	countUp  bool
	duration time.Duration

	started atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	done    <-chan struct{}
	start   time.Time
}

// NewProgressPrinter creates a progress printer that counts up.
func NewProgressPrinter(w io.Writer, prefix, phase string) *ProgressPrinter {
	p := &ProgressPrinter{w: progressWriter(w), prefix: prefix, countUp: true}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter creates a progress printer that counts down from duration.
func NewCountdownProgressPrinter(w io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{w: progressWriter(w), prefix: prefix, duration: duration}
	p.phase.Store(phase)
	return p
}

// progressWriter drops progress output for files that are not a terminal,
// so redirected stderr does not fill up with carriage-return frames.
func progressWriter(w io.Writer) io.Writer {
	if f, ok := w.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return io.Discard
	}
	return w
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.start = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, p.phase.Load().(string))
	p.done = groutine.Go(ctx, "progress", func(ctx context.Context) {
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.print(p.phase.Load().(string), p.seconds())
			}
		}
	})
}

func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.start)
	if p.countUp {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// SetPhase updates the phase shown on the next tick.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Stop stops the progress display and clears the line.
func (p *ProgressPrinter) Stop() {
	if !p.started.Load() || !p.stopped.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	<-p.done
	fmt.Fprint(p.w, clearLineSequence)
}
