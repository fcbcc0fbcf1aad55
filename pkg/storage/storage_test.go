package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	s := New(t.TempDir())
	var tick int64
	s.now = func() time.Time {
		tick++
		return time.UnixMilli(1000 * tick)
	}
	return s
}

func TestImportAndLoad(t *testing.T) {
	s := newTestFS(t)
	id, err := s.Import("IMG_0001.DNG", []byte("raw bytes"))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	raw, err := s.LoadRawBytes(id)
	if err != nil || string(raw) != "raw bytes" {
		t.Fatalf("raw: %q %v", raw, err)
	}
	adj, err := s.LoadAdjustments(id)
	if err != nil || adj != "{}" {
		t.Fatalf("new project should start with {}: %q %v", adj, err)
	}
	projects := s.Projects()
	if len(projects) != 1 || projects[0].ID != id || projects[0].FileName != "IMG_0001.DNG" {
		t.Fatalf("unexpected index %+v", projects)
	}
	if projects[0].CreatedAt != projects[0].ModifiedAt {
		t.Fatalf("created and modified should match on import")
	}
}

func TestSaveAdjustmentsBumpsModified(t *testing.T) {
	s := newTestFS(t)
	id, _ := s.Import("a.raw", []byte("x"))
	before := s.Projects()[0].ModifiedAt
	if err := s.SaveAdjustments(id, `{"brightness":10}`); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, err := s.Project(id)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if p.Adjustments != `{"brightness":10}` {
		t.Fatalf("adjustments not saved: %q", p.Adjustments)
	}
	if p.Metadata.ModifiedAt <= before {
		t.Fatalf("modified time should move forward")
	}

	if err := s.SaveAdjustments("missing", "{}"); err != nil {
		t.Fatalf("saving an unknown project should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root, "projects", "missing")); !os.IsNotExist(err) {
		t.Fatalf("unknown project must not be created")
	}
}

func TestRatingClamped(t *testing.T) {
	s := newTestFS(t)
	id, _ := s.Import("a.raw", []byte("x"))
	s.SetRating(id, 9)
	if r := s.Projects()[0].Rating; r != 5 {
		t.Fatalf("expected 5, got %d", r)
	}
	s.SetRating(id, -2)
	if r := s.Projects()[0].Rating; r != 0 {
		t.Fatalf("expected 0, got %d", r)
	}
}

func TestThumbnails(t *testing.T) {
	s := newTestFS(t)
	id, _ := s.Import("a.raw", []byte("x"))
	if b, err := s.LoadThumbnail(id); err != nil || b != nil {
		t.Fatalf("no thumbnail yet: %v %v", b, err)
	}
	if err := s.SaveThumbnail(id, []byte{0xFF, 0xD8}); err != nil {
		t.Fatalf("save thumbnail: %v", err)
	}
	b, err := s.LoadThumbnail(id)
	if err != nil || len(b) != 2 {
		t.Fatalf("thumbnail: %v %v", b, err)
	}
}

func TestDeleteAndInfo(t *testing.T) {
	s := newTestFS(t)
	a, _ := s.Import("a.raw", []byte("1234"))
	b, _ := s.Import("b.raw", []byte("56"))
	info := s.Info()
	// two raw files plus two "{}" files
	if info.ProjectCount != 2 || info.TotalSizeBytes != 4+2+2+2 {
		t.Fatalf("unexpected info %+v", info)
	}
	if err := s.Delete(a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	projects := s.Projects()
	if len(projects) != 1 || projects[0].ID != b {
		t.Fatalf("unexpected index after delete %+v", projects)
	}
	if _, err := s.LoadRawBytes(a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Project(a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCorruptIndexListsEmpty(t *testing.T) {
	s := newTestFS(t)
	if err := os.WriteFile(filepath.Join(s.Root, "projects.json"), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if p := s.Projects(); len(p) != 0 {
		t.Fatalf("expected empty list, got %+v", p)
	}
	if _, err := s.Import("a.raw", []byte("x")); err != nil {
		t.Fatalf("import over a corrupt index: %v", err)
	}
	if len(s.Projects()) != 1 {
		t.Fatalf("index should be rewritten")
	}
}

func TestRejectsIDsOutsideRoot(t *testing.T) {
	parent := t.TempDir()
	s := New(filepath.Join(parent, "store"))
	victim := filepath.Join(parent, "victim")
	if err := os.MkdirAll(victim, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(victim, "image.raw"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"", "../../victim", "..", "a/b", "not-a-uuid"} {
		if _, err := s.LoadRawBytes(id); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("LoadRawBytes(%q) err = %v, want ErrInvalidID", id, err)
		}
		if _, err := s.LoadAdjustments(id); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("LoadAdjustments(%q) err = %v", id, err)
		}
		if _, err := s.Project(id); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("Project(%q) err = %v", id, err)
		}
		if err := s.Delete(id); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("Delete(%q) err = %v", id, err)
		}
		if err := s.SetRating(id, 3); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("SetRating(%q) err = %v", id, err)
		}
		if err := s.SaveAdjustments(id, "{}"); err != nil {
			t.Fatalf("SaveAdjustments(%q) should be a no-op, got %v", id, err)
		}
	}
	if _, err := os.Stat(filepath.Join(victim, "image.raw")); err != nil {
		t.Fatalf("file outside root was touched: %v", err)
	}
	if _, err := os.Stat(filepath.Join(victim, "adjustments.json")); !os.IsNotExist(err) {
		t.Fatalf("adjustments written outside root")
	}
}
