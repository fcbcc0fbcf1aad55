package render

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Fepozopo/maskedit/pkg/logging"
)

// ErrClosed is returned for calls on a closed session.
var ErrClosed = errors.New("render: session closed")

// Session owns one decoder handle. Every decoder call for the handle runs on
// the session's own goroutine, one at a time. A caller whose context ends
// stops waiting; the call itself still completes and its result is dropped.
type Session struct {
	dec Decoder
	lim *Limiter

	// owned by the worker goroutine
	handle  Handle
	created bool

	jobs chan func()
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

// OpenSession creates a decoder session for raw. lim may be nil.
func OpenSession(ctx context.Context, dec Decoder, raw []byte, lim *Limiter) (*Session, error) {
	s := &Session{
		dec:  dec,
		lim:  lim,
		jobs: make(chan func()),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	err := s.Do(ctx, func(Handle) error {
		h, err := dec.CreateSession(raw)
		if err != nil {
			return err
		}
		s.handle, s.created = h, true
		return nil
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create decoder session: %w", err)
	}
	logging.Logger().Info("decoder session opened", "bytes", len(raw))
	return s, nil
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case job := <-s.jobs:
			job()
		case <-s.quit:
			if s.created {
				s.dec.ReleaseSession(s.handle)
				logging.Logger().Info("decoder session released")
			}
			return
		}
	}
}

// Do runs fn with the decoder handle on the session goroutine.
func (s *Session) Do(ctx context.Context, fn func(h Handle) error) error {
	res := make(chan error, 1)
	job := func() {
		if ctx.Err() != nil {
			res <- ctx.Err()
			return
		}
		if s.lim != nil {
			if err := s.lim.Acquire(ctx); err != nil {
				res <- err
				return
			}
			defer s.lim.Release()
		}
		defer func() {
			if r := recover(); r != nil {
				res <- fmt.Errorf("decoder panic: %v", r)
			}
		}()
		res <- fn(s.handle)
	}

	select {
	case s.jobs <- job:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		logging.Logger().Debug("decoder call abandoned", "err", ctx.Err())
		return ctx.Err()
	}
}

// RenderPreview renders adjustments at quality q.
func (s *Session) RenderPreview(ctx context.Context, adjustments string, q Quality) ([]byte, error) {
	var out []byte
	err := s.Do(ctx, func(h Handle) error {
		b, err := s.dec.RenderPreview(h, adjustments, q)
		out = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RenderFullRes renders adjustments at the source resolution.
func (s *Session) RenderFullRes(ctx context.Context, adjustments string) ([]byte, error) {
	var out []byte
	err := s.Do(ctx, func(h Handle) error {
		b, err := s.dec.RenderFullRes(h, adjustments)
		out = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Metadata returns the decoder's metadata JSON for the source file.
func (s *Session) Metadata(ctx context.Context) (string, error) {
	var out string
	err := s.Do(ctx, func(h Handle) error {
		m, err := s.dec.Metadata(h)
		out = m
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Close releases the decoder handle once queued calls have finished. Later
// calls are no-ops.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
	})
	return nil
}
