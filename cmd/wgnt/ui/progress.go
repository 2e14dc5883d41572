package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"wgnt/pkg/telemetry"
)

// Progress prints one checklist line per finished telemetry step.
type Progress struct {
	mu sync.Mutex
	w  io.Writer
}

func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

// Observe is a telemetry.Observer.
func (p *Progress) Observe(r telemetry.StepResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	counter := Muted(fmt.Sprintf("[%d/%d]", r.Index+1, r.Total))
	if r.Err != nil {
		fmt.Fprintf(p.w, "  %s %s %s %s\n", Failure("✗"), counter, Failure(r.Step.Title), r.Err)
		return
	}
	fmt.Fprintf(p.w, "  %s %s %s %s\n", Success("✓"), counter, r.Step.Title, Muted(r.Duration.Round(time.Millisecond).String()))
}
