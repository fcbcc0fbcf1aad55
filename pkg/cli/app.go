package cli

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Fepozopo/maskedit/pkg/config"
	"github.com/Fepozopo/maskedit/pkg/develop"
	"github.com/Fepozopo/maskedit/pkg/logging"
	"github.com/Fepozopo/maskedit/pkg/render"
	"github.com/Fepozopo/maskedit/pkg/storage"
)

// frameTimeout bounds how long a command waits for the full preview.
const frameTimeout = 2 * time.Minute

// app is what every command runs against.
type app struct {
	cfg   config.Config
	store *storage.FS
	dec   render.Decoder
	lim   *render.Limiter
	out   io.Writer
}

func newApp(cfg config.Config) *app {
	return &app{
		cfg:   cfg,
		store: storage.New(cfg.ProjectsDir()),
		dec:   develop.New(),
		lim:   render.NewLimiter(cfg.DecodeLimit),
		out:   os.Stdout,
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// projectID returns args[0] or lets the user pick a project with fzf.
func (a *app) projectID(args []string) (string, []string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], args[1:], nil
	}
	id, err := SelectProjectWithFzf(a.store.Projects())
	if err != nil {
		return "", nil, fmt.Errorf("no project given: %w", err)
	}
	return id, nil, nil
}

// document is an open project plus a wake-up signal for new frames.
type document struct {
	*render.Document

	changed chan struct{}

	mu     sync.Mutex
	failed *render.Status
	sink   func(render.Frame)
}

// open loads and starts the render scheduler of a project.
func (a *app) open(ctx context.Context, id string) (*document, error) {
	d := &document{changed: make(chan struct{}, 1)}
	opts := render.OptionsFromConfig(a.cfg)
	opts.OnFrame = func(f render.Frame) {
		d.mu.Lock()
		d.failed = nil
		sink := d.sink
		d.mu.Unlock()
		if sink != nil {
			sink(f)
		}
		d.wake()
	}
	opts.OnStatus = func(st render.Status) {
		if !st.Failed {
			return
		}
		logging.Logger().Warn("render stage failed", "project", id, "quality", st.Quality, "err", st.Err)
		d.mu.Lock()
		d.failed = &st
		d.mu.Unlock()
		d.wake()
	}
	doc, err := render.OpenDocument(ctx, a.dec, a.store, a.lim, id, opts)
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", id, err)
	}
	d.Document = doc
	if err := doc.Start(ctx); err != nil {
		doc.Close()
		return nil, err
	}
	return d, nil
}

func (d *document) wake() {
	select {
	case d.changed <- struct{}{}:
	default:
	}
}

// onFrame installs fn as an observer of every published frame.
func (d *document) onFrame(fn func(render.Frame)) {
	d.mu.Lock()
	d.sink = fn
	d.mu.Unlock()
}

// fullFrame waits until the newest issued version is shown at full preview
// quality and returns that image.
func (d *document) fullFrame(ctx context.Context) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()
	for {
		want := d.Version()
		if f, ok := d.Latest(); ok && f.Version >= want && f.Quality == render.Full {
			return f.Image, nil
		}
		d.mu.Lock()
		failed := d.failed
		d.mu.Unlock()
		if failed != nil && failed.Version >= want && failed.Quality == render.Full {
			return nil, fmt.Errorf("render %s: %w", failed.Quality, failed.Err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for preview: %w", ctx.Err())
		case <-d.changed:
		}
	}
}
