package program

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/santa-link/internal/tools"
)

var (
	// ErrHalted is returned by Run when the program was stopped by Halt or
	// by a disconnect.
	ErrHalted = errors.New("program: halted")
	// ErrBusy is returned by Run while another program is running.
	ErrBusy = errors.New("program: already running")
)

// Sender is the part of dispatch.Dispatcher a program needs.
type Sender interface {
	SendText(ctx context.Context, text string) error
	CallTool(ctx context.Context, name string, args map[string]any) error
	RequestTools(ctx context.Context) error
}

// Runner executes one program at a time.
type Runner struct {
	sender   Sender
	registry *tools.Registry

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRunner creates a Runner. When registry is non-nil, call steps get
// schema defaults for parameters they leave out. Panics if sender is nil
// (programmer error).
func NewRunner(sender Sender, registry *tools.Registry) *Runner {
	if sender == nil {
		panic("program: NewRunner called with nil sender")
	}
	return &Runner{sender: sender, registry: registry}
}

// Running reports whether a program is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Run executes p step by step and returns the first step error. It returns
// ErrHalted if Halt is called while it runs and ctx.Err() if ctx ends first.
func (r *Runner) Run(ctx context.Context, p *Program) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
	}()

	slog.Info("program started", "program", p.Name, "steps", len(p.Steps))
	start := time.Now()
	for i, step := range p.Steps {
		if err := stopped(ctx, runCtx); err != nil {
			slog.Info("program stopped", "program", p.Name, "step", i+1, "error", err)
			return err
		}
		slog.Debug("program step", "program", p.Name, "step", i+1, "kind", step.Kind())
		if err := r.exec(runCtx, step); err != nil {
			if serr := stopped(ctx, runCtx); serr != nil {
				slog.Info("program stopped", "program", p.Name, "step", i+1, "error", serr)
				return serr
			}
			return fmt.Errorf("program: step %d (%s): %w", i+1, step.Kind(), err)
		}
	}
	slog.Info("program finished", "program", p.Name, "elapsed", time.Since(start))
	return nil
}

func (r *Runner) exec(ctx context.Context, s Step) error {
	switch {
	case s.Say != "":
		return r.sender.SendText(ctx, s.Say)
	case s.Call != nil:
		args := s.Call.Args
		if r.registry != nil {
			args = r.registry.WithDefaults(s.Call.Tool, args)
		}
		return r.sender.CallTool(ctx, s.Call.Tool, args)
	case s.Wait > 0:
		t := time.NewTimer(s.Wait)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case s.ReloadTools:
		return r.sender.RequestTools(ctx)
	}
	return nil
}

// stopped distinguishes a halt from the caller's context ending.
func stopped(parent, run context.Context) error {
	if run.Err() == nil {
		return nil
	}
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrHalted
}

// Halt stops the running program, if any.
func (r *Runner) Halt() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		slog.Info("halting program")
		cancel()
	}
}

// OnDisconnected halts the running program when the robot link drops.
func (r *Runner) OnDisconnected() {
	r.Halt()
}
