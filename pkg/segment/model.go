package segment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Fepozopo/maskedit/pkg/config"
	"github.com/Fepozopo/maskedit/pkg/logging"
)

// ErrModelHash is returned when a downloaded model does not match its hash.
var ErrModelHash = errors.New("segment: model hash mismatch")

// ModelStore keeps a verified copy of the model artifact on disk,
// downloading it on first use.
type ModelStore struct {
	Dir      string
	Filename string
	URL      string
	SHA256   string // lower-case hex
	Client   *http.Client

	mu sync.Mutex
}

// NewModelStore configures a store from cfg.
func NewModelStore(cfg config.Config) *ModelStore {
	return &ModelStore{
		Dir:      cfg.ModelDir,
		Filename: config.DefaultModelFilename,
		URL:      cfg.ModelURL,
		SHA256:   cfg.ModelSHA256,
		Client:   &http.Client{Timeout: 10 * time.Minute},
	}
}

// Path is where the model lives once ensured.
func (s *ModelStore) Path() string {
	return filepath.Join(s.Dir, s.Filename)
}

// Ensure returns the path of a model file whose content matches SHA256,
// downloading it when missing or corrupt.
func (s *ModelStore) Ensure(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dest := s.Path()
	if sum, err := fileSHA256(dest); err == nil {
		if s.matches(sum) {
			return dest, nil
		}
		logging.Logger().Warn("cached model corrupt, refetching", "path", dest)
		if err := os.Remove(dest); err != nil {
			return "", fmt.Errorf("remove corrupt model: %w", err)
		}
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	if err := s.download(ctx, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *ModelStore) matches(sum string) bool {
	return s.SHA256 == "" || strings.EqualFold(sum, s.SHA256)
}

func (s *ModelStore) download(ctx context.Context, dest string) error {
	logging.Logger().Info("downloading segmentation model", "url", s.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return fmt.Errorf("model request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(s.Dir, s.Filename+".*.part")
	if err != nil {
		return fmt.Errorf("create temp model: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); !s.matches(sum) {
		return fmt.Errorf("%w: got %s", ErrModelHash, sum)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	logging.Logger().Info("segmentation model ready", "path", dest, "bytes", n)
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
