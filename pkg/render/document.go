package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/Fepozopo/maskedit/pkg/logging"
	"github.com/Fepozopo/maskedit/pkg/mask"
)

// Source loads a project's raw file and persisted edit state.
type Source interface {
	Storage
	LoadRawBytes(projectID string) ([]byte, error)
	LoadAdjustments(projectID string) (string, error)
}

// Document is one open project: its decoder session, its render scheduler
// and the edit state the scheduler was last given.
type Document struct {
	ProjectID string
	*Scheduler

	// Strokes hands out brush stroke orders, seeded past every order in the
	// loaded state.
	Strokes *mask.StrokeCounter

	mu    sync.Mutex
	state mask.EditState
}

// OpenDocument loads projectID from src and prepares a scheduler for it.
// The scheduler is not started. A persisted state that cannot be parsed is
// replaced by the default state.
func OpenDocument(ctx context.Context, dec Decoder, src Source, lim *Limiter, projectID string, opts Options) (*Document, error) {
	raw, err := src.LoadRawBytes(projectID)
	if err != nil {
		return nil, fmt.Errorf("load raw file: %w", err)
	}
	sess, err := OpenSession(ctx, dec, raw, lim)
	if err != nil {
		return nil, err
	}
	saved, err := src.LoadAdjustments(projectID)
	if err != nil {
		logging.Logger().Warn("edit state unreadable, using defaults", "project", projectID, "err", err)
		saved = "{}"
	}
	state := mask.LoadEditState([]byte(saved))
	initial, err := state.Encode()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("encode edit state: %w", err)
	}
	strokes := &mask.StrokeCounter{}
	strokes.Observe(state.MaxStrokeOrder())
	return &Document{
		ProjectID: projectID,
		Scheduler: NewScheduler(sess, src, projectID, initial, opts),
		Strokes:   strokes,
		state:     state,
	}, nil
}

// State returns a private copy of the current edit state.
func (d *Document) State() mask.EditState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Clone()
}

// Update applies fn to the current state and submits the result. On error
// the state is left unchanged.
func (d *Document) Update(fn func(mask.EditState) (mask.EditState, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, err := fn(d.state)
	if err != nil {
		return err
	}
	if err := d.Scheduler.Submit(next); err != nil {
		return err
	}
	d.state = next
	return nil
}
