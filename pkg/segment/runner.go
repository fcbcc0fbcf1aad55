package segment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Fepozopo/maskedit/pkg/logging"
)

// ErrNoBackend means the binary was built without an inference backend.
var ErrNoBackend = errors.New("segment: no inference backend compiled in (build with -tags onnx)")

// Session is an open inference session.
type Session interface {
	Runner
	Close() error
}

// OpenFunc opens a session for the model file at path.
type OpenFunc func(ctx context.Context, modelPath string) (Session, error)

// Backend builds an OpenFunc given the path of the runtime shared library.
type Backend func(libPath string) OpenFunc

var defaultBackend Backend

func registerBackend(b Backend) { defaultBackend = b }

// HasBackend reports whether a default inference backend is available.
func HasBackend() bool { return defaultBackend != nil }

// LazyRunner opens its session on first use. A failed open is retried by
// the next call; once a session is open it is reused until Close.
type LazyRunner struct {
	Model *ModelStore
	Open  OpenFunc

	mu   sync.Mutex
	sess Session
}

// NewDefaultRunner returns a LazyRunner over the compiled-in backend.
func NewDefaultRunner(store *ModelStore, libPath string) (*LazyRunner, error) {
	if defaultBackend == nil {
		return nil, ErrNoBackend
	}
	return &LazyRunner{Model: store, Open: defaultBackend(libPath)}, nil
}

func (l *LazyRunner) session(ctx context.Context) (Session, error) {
	// Held across Ensure and Open so concurrent first callers share one session.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sess != nil {
		return l.sess, nil
	}

	path, err := l.Model.Ensure(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensure model: %w", err)
	}
	created, err := l.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	l.sess = created
	logging.Logger().Info("segmentation session opened", "model", path)
	return created, nil
}

// Run opens the session if needed and runs it.
func (l *LazyRunner) Run(ctx context.Context, input []float32, size int) ([]float32, error) {
	s, err := l.session(ctx)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, input, size)
}

// Close releases the session, if any. The runner can be used again.
func (l *LazyRunner) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sess == nil {
		return nil
	}
	err := l.sess.Close()
	l.sess = nil
	return err
}
