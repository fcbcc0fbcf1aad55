package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Fepozopo/maskedit/pkg/config"
	"github.com/Fepozopo/maskedit/pkg/logging"
	"github.com/Fepozopo/maskedit/pkg/mask"
)

var (
	ErrNoImage        = errors.New("render: decoder returned no image")
	ErrAlreadyStarted = errors.New("render: scheduler already started")
)

// Storage persists edit state and thumbnails for a project.
type Storage interface {
	SaveAdjustments(projectID, adjustments string) error
	SaveThumbnail(projectID string, jpeg []byte) error
}

// Status reports the outcome of one render stage. A failed stage leaves the
// previously published frame in place.
type Status struct {
	Version int64
	Quality Quality
	Failed  bool
	Err     error
}

// Options tunes a Scheduler. Zero durations and sizes take the defaults.
type Options struct {
	LowestWait    time.Duration
	LowWait       time.Duration
	SaveDelay     time.Duration
	ThumbnailSize int

	OnFrame  func(Frame)
	OnStatus func(Status)
}

// OptionsFromConfig copies the timing knobs from cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		LowestWait: cfg.LowestWait,
		LowWait:    cfg.LowWait,
		SaveDelay:  cfg.SaveDelay,
	}
}

func (o Options) withDefaults() Options {
	if o.LowestWait <= 0 {
		o.LowestWait = config.DefaultLowestWait
	}
	if o.LowWait <= 0 {
		o.LowWait = config.DefaultLowWait
	}
	if o.SaveDelay <= 0 {
		o.SaveDelay = config.DefaultSaveDelay
	}
	if o.ThumbnailSize <= 0 {
		o.ThumbnailSize = DefaultThumbnailSize
	}
	return o
}

type request struct {
	version     int64
	adjustments string
}

// Scheduler is the single render worker of one open document.
type Scheduler struct {
	sess    *Session
	store   Storage
	project string
	opts    Options

	issued atomic.Int64
	queue  *Conflated[request]
	pub    *Publisher
	saver  *Debouncer

	mu       sync.Mutex
	current  string
	dragging bool
	cancel   context.CancelFunc
	done     chan struct{}

	closeOnce sync.Once
}

// NewScheduler renders for sess, starting from the serialized edit state
// initial. store may be nil, which disables persistence and thumbnails.
func NewScheduler(sess *Session, store Storage, projectID, initial string, opts Options) *Scheduler {
	s := &Scheduler{
		sess:    sess,
		store:   store,
		project: projectID,
		opts:    opts.withDefaults(),
		queue:   NewConflated[request](),
		current: initial,
	}
	s.pub = NewPublisher(s.opts.OnFrame)
	if store != nil {
		s.saver = NewDebouncer(s.opts.SaveDelay, func(v string) error {
			if err := store.SaveAdjustments(projectID, v); err != nil {
				return err
			}
			logging.Logger().Info("edit state saved", "project", projectID, "bytes", len(v))
			return nil
		})
	}
	return s
}

// Start launches the render loop and requests a render of the current state.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrAlreadyStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.issue(s.current)
	go s.loop(ctx)
	return nil
}

// Submit serializes state and hands it to SubmitJSON.
func (s *Scheduler) Submit(state mask.EditState) error {
	data, err := state.Encode()
	if err != nil {
		return fmt.Errorf("submit edit state: %w", err)
	}
	s.SubmitJSON(data)
	return nil
}

// SubmitJSON records a new edit state. It is scheduled for persistence and,
// unless a mask handle is being dragged, for rendering.
func (s *Scheduler) SubmitJSON(adjustments string) {
	s.mu.Lock()
	s.current = adjustments
	dragging := s.dragging
	if !dragging {
		s.issue(adjustments)
	}
	s.mu.Unlock()
	if s.saver != nil {
		s.saver.Submit(adjustments)
	}
}

// SetHandleDragging suppresses render requests while a mask handle is being
// dragged. Ending a drag requests a render of the current state.
func (s *Scheduler) SetHandleDragging(dragging bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.dragging
	s.dragging = dragging
	if was && !dragging {
		s.issue(s.current)
	}
}

func (s *Scheduler) issue(adjustments string) {
	v := s.issued.Add(1)
	s.queue.Offer(request{version: v, adjustments: adjustments})
}

// Version is the newest version issued so far.
func (s *Scheduler) Version() int64 { return s.issued.Load() }

// Latest returns the frame currently displayed.
func (s *Scheduler) Latest() (Frame, bool) { return s.pub.Latest() }

// Current returns the latest submitted edit state.
func (s *Scheduler) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Export renders the current state at full source resolution.
func (s *Scheduler) Export(ctx context.Context) ([]byte, error) {
	data, err := s.sess.RenderFullRes(ctx, s.Current())
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("export: %w", ErrNoImage)
	}
	return data, nil
}

// Metadata returns the decoder metadata of the open file.
func (s *Scheduler) Metadata(ctx context.Context) (string, error) {
	return s.sess.Metadata(ctx)
}

// Close stops the loop, saves a pending edit state and releases the session.
func (s *Scheduler) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel, done := s.cancel, s.done
		s.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		if s.saver != nil {
			err = s.saver.Flush()
		}
		if cerr := s.sess.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	req, err := s.queue.Receive(ctx)
	if err != nil {
		return
	}
	for {
		if next, ok := s.queue.TryReceive(); ok {
			req = next
		}

		s.stage(ctx, req, Lowest)
		if next, ok := s.queue.ReceiveWithin(ctx, s.opts.LowestWait); ok {
			req = next
			continue
		}
		if ctx.Err() != nil {
			return
		}

		s.stage(ctx, req, Low)
		if next, ok := s.queue.ReceiveWithin(ctx, s.opts.LowWait); ok {
			req = next
			continue
		}
		if ctx.Err() != nil {
			return
		}

		if img := s.stage(ctx, req, Full); img != nil && req.version == s.issued.Load() {
			s.saveThumbnail(img)
		}

		if req, err = s.queue.Receive(ctx); err != nil {
			return
		}
	}
}

// stage renders req at q and publishes the result. It returns nil when the
// stage failed or was abandoned.
func (s *Scheduler) stage(ctx context.Context, req request, q Quality) image.Image {
	start := time.Now()
	img, err := s.renderImage(ctx, req.adjustments, q)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		logging.Logger().Warn("render failed", "version", req.version, "quality", q.String(), "err", err)
		s.status(Status{Version: req.version, Quality: q, Failed: true, Err: err})
		return nil
	}
	published := s.pub.Publish(Frame{Version: req.version, Quality: q, Image: img})
	logging.Logger().Debug("render stage done", "version", req.version, "quality", q.String(),
		"published", published, "elapsed", time.Since(start))
	s.status(Status{Version: req.version, Quality: q})
	return img
}

func (s *Scheduler) renderImage(ctx context.Context, adjustments string, q Quality) (image.Image, error) {
	data, err := s.sess.RenderPreview(ctx, adjustments, q)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNoImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s preview: %w", q, err)
	}
	return img, nil
}

func (s *Scheduler) status(st Status) {
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(st)
	}
}

func (s *Scheduler) saveThumbnail(img image.Image) {
	if s.store == nil {
		return
	}
	data, err := EncodeThumbnail(img, s.opts.ThumbnailSize)
	if err == nil {
		err = s.store.SaveThumbnail(s.project, data)
	}
	if err != nil {
		logging.Logger().Warn("thumbnail not saved", "project", s.project, "err", err)
	}
}
