// Package storage keeps imported raw files, their edit state and thumbnails
// on disk.
//
// Layout under Root:
//
//	projects.json            index of all projects
//	projects/<id>/image.raw
//	projects/<id>/adjustments.json
//	projects/<id>/thumbnail.jpg
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fepozopo/maskedit/pkg/logging"
)

var (
	// ErrNotFound is returned for an id missing from the index.
	ErrNotFound = errors.New("storage: project not found")
	// ErrInvalidID is returned for an id that is not a canonical project UUID.
	ErrInvalidID = errors.New("storage: invalid project id")
)

const (
	indexFile       = "projects.json"
	projectsDir     = "projects"
	rawFile         = "image.raw"
	adjustmentsFile = "adjustments.json"
	thumbnailFile   = "thumbnail.jpg"

	emptyAdjustments = "{}"
	MaxRating        = 5
)

// Metadata is one index entry. Times are Unix milliseconds.
type Metadata struct {
	ID         string `json:"id"`
	FileName   string `json:"fileName"`
	CreatedAt  int64  `json:"createdAt"`
	ModifiedAt int64  `json:"modifiedAt"`
	Rating     int    `json:"rating"`
}

// Project is a project's metadata and persisted edit state.
type Project struct {
	Metadata    Metadata
	Adjustments string
}

// Info summarizes disk usage.
type Info struct {
	ProjectCount   int
	TotalSizeBytes int64
}

// FS is a project store rooted at a directory. It is safe for concurrent
// use within one process.
type FS struct {
	Root string

	mu  sync.Mutex
	now func() time.Time
}

func New(root string) *FS {
	return &FS{Root: root}
}

func (s *FS) clock() int64 {
	if s.now != nil {
		return s.now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

// checkID accepts only the canonical ids Import hands out, so an id can never
// name a path outside Root.
func checkID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil || u.String() != id {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	return nil
}

func (s *FS) dir(id string) string { return filepath.Join(s.Root, projectsDir, id) }

func (s *FS) file(id, name string) string { return filepath.Join(s.dir(id), name) }

// Import stores raw under a new project id and returns the id.
func (s *FS) Import(fileName string, raw []byte) (string, error) {
	id := uuid.NewString()
	if err := os.MkdirAll(s.dir(id), 0o755); err != nil {
		return "", fmt.Errorf("create project dir: %w", err)
	}
	if err := writeFile(s.file(id, rawFile), raw); err != nil {
		return "", err
	}
	if err := writeFile(s.file(id, adjustmentsFile), []byte(emptyAdjustments)); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	projects := s.readIndex()
	projects = append(projects, Metadata{ID: id, FileName: fileName, CreatedAt: now, ModifiedAt: now})
	if err := s.writeIndex(projects); err != nil {
		return "", err
	}
	logging.Logger().Info("project imported", "id", id, "file", fileName, "bytes", len(raw))
	return id, nil
}

// LoadRawBytes returns the imported raw file.
func (s *FS) LoadRawBytes(id string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.file(id, rawFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("raw file of %s: %w", id, ErrNotFound)
	}
	return b, err
}

// LoadAdjustments returns the persisted edit state, or "{}" when there is
// none.
func (s *FS) LoadAdjustments(id string) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	b, err := os.ReadFile(s.file(id, adjustmentsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return emptyAdjustments, nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SaveAdjustments persists the edit state and bumps the modified time.
// Saving for a project that no longer exists is a no-op.
func (s *FS) SaveAdjustments(id, adjustments string) error {
	if !s.exists(id) {
		return nil
	}
	if err := writeFile(s.file(id, adjustmentsFile), []byte(adjustments)); err != nil {
		return err
	}
	return s.touch(id, nil)
}

// SaveThumbnail stores a JPEG thumbnail. Like SaveAdjustments it ignores
// unknown projects.
func (s *FS) SaveThumbnail(id string, jpeg []byte) error {
	if !s.exists(id) {
		return nil
	}
	if err := writeFile(s.file(id, thumbnailFile), jpeg); err != nil {
		return err
	}
	return s.touch(id, nil)
}

// LoadThumbnail returns the stored thumbnail, or nil if there is none.
func (s *FS) LoadThumbnail(id string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.file(id, thumbnailFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// Projects lists the index in import order. An unreadable index lists as
// empty.
func (s *FS) Projects() []Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex()
}

// Project returns the metadata and edit state of id.
func (s *FS) Project(id string) (Project, error) {
	if err := checkID(id); err != nil {
		return Project{}, err
	}
	s.mu.Lock()
	projects := s.readIndex()
	s.mu.Unlock()
	i := slices.IndexFunc(projects, func(m Metadata) bool { return m.ID == id })
	if i < 0 {
		return Project{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	adj, err := s.LoadAdjustments(id)
	if err != nil {
		return Project{}, err
	}
	return Project{Metadata: projects[i], Adjustments: adj}, nil
}

// Delete removes the project directory and its index entry.
func (s *FS) Delete(id string) error {
	if err := checkID(id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return fmt.Errorf("remove project: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	projects := slices.DeleteFunc(s.readIndex(), func(m Metadata) bool { return m.ID == id })
	return s.writeIndex(projects)
}

// SetRating stores a rating clamped to 0..MaxRating.
func (s *FS) SetRating(id string, rating int) error {
	if err := checkID(id); err != nil {
		return err
	}
	r := min(max(rating, 0), MaxRating)
	return s.touch(id, func(m *Metadata) { m.Rating = r })
}

// Info counts projects and the bytes stored for them.
func (s *FS) Info() Info {
	info := Info{ProjectCount: len(s.Projects())}
	dirs, _ := os.ReadDir(filepath.Join(s.Root, projectsDir))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		files, _ := os.ReadDir(filepath.Join(s.Root, projectsDir, d.Name()))
		for _, f := range files {
			if fi, err := f.Info(); err == nil && fi.Mode().IsRegular() {
				info.TotalSizeBytes += fi.Size()
			}
		}
	}
	return info
}

func (s *FS) exists(id string) bool {
	if checkID(id) != nil {
		return false
	}
	fi, err := os.Stat(s.dir(id))
	return err == nil && fi.IsDir()
}

// touch applies fn to the index entry of id and bumps its modified time.
// A missing entry is left alone.
func (s *FS) touch(id string, fn func(*Metadata)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	projects := s.readIndex()
	i := slices.IndexFunc(projects, func(m Metadata) bool { return m.ID == id })
	if i < 0 {
		return nil
	}
	if fn != nil {
		fn(&projects[i])
	}
	projects[i].ModifiedAt = s.clock()
	return s.writeIndex(projects)
}

func (s *FS) readIndex() []Metadata {
	b, err := os.ReadFile(filepath.Join(s.Root, indexFile))
	if err != nil {
		return nil
	}
	var projects []Metadata
	if err := json.Unmarshal(b, &projects); err != nil {
		logging.Logger().Warn("project index unreadable", "err", err)
		return nil
	}
	return projects
}

func (s *FS) writeIndex(projects []Metadata) error {
	if projects == nil {
		projects = []Metadata{}
	}
	b, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project index: %w", err)
	}
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	return writeFile(filepath.Join(s.Root, indexFile), b)
}

// writeFile replaces path through a temp file in the same directory.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
