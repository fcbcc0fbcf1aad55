package segment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func modelServer(t *testing.T, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func sumOf(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

func TestModelStoreDownloadsOnce(t *testing.T) {
	body := []byte("fake onnx model bytes")
	srv, hits := modelServer(t, body)
	store := &ModelStore{Dir: t.TempDir(), Filename: "m.onnx", URL: srv.URL, SHA256: sumOf(body), Client: srv.Client()}

	path, err := store.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != string(body) {
		t.Fatalf("model not installed: %v %q", err, got)
	}
	if _, err := store.Ensure(context.Background()); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single download, got %d", hits.Load())
	}
}

func TestModelStoreRefetchesCorruptFile(t *testing.T) {
	body := []byte("the real model")
	srv, hits := modelServer(t, body)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "m.onnx"), []byte("truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := &ModelStore{Dir: dir, Filename: "m.onnx", URL: srv.URL, SHA256: sumOf(body), Client: srv.Client()}
	path, err := store.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != string(body) || hits.Load() != 1 {
		t.Fatalf("corrupt model should be replaced, got %q after %d hits", got, hits.Load())
	}
}

func TestModelStoreRejectsHashMismatch(t *testing.T) {
	srv, _ := modelServer(t, []byte("tampered"))
	dir := t.TempDir()
	store := &ModelStore{Dir: dir, Filename: "m.onnx", URL: srv.URL, SHA256: sumOf([]byte("expected")), Client: srv.Client()}
	if _, err := store.Ensure(context.Background()); !errors.Is(err, ErrModelHash) {
		t.Fatalf("expected ErrModelHash, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("nothing should be left behind, found %d entries", len(entries))
	}
}

func TestModelStoreHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	store := &ModelStore{Dir: t.TempDir(), Filename: "m.onnx", URL: srv.URL, Client: srv.Client()}
	if _, err := store.Ensure(context.Background()); err == nil {
		t.Fatalf("expected an error for a 404")
	}
}
