package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Fepozopo/maskedit/pkg/mask"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startScheduler(t *testing.T, dec *fakeDecoder, store *memStore, opts Options) *Scheduler {
	t.Helper()
	sess, err := OpenSession(context.Background(), dec, []byte("raw"), nil)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	var s *Scheduler
	if store == nil {
		s = NewScheduler(sess, nil, "p1", `{"v":1}`, opts)
	} else {
		s = NewScheduler(sess, store, "p1", `{"v":1}`, opts)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func displayed(s *Scheduler, v int64, q Quality) func() bool {
	return func() bool {
		f, ok := s.Latest()
		return ok && f.Version == v && f.Quality == q
	}
}

func TestOnlyNewestReachesFullQuality(t *testing.T) {
	dec := newFakeDecoder()
	dec.latency = func(Quality) time.Duration { return 20 * time.Millisecond }
	store := &memStore{}
	s := startScheduler(t, dec, store, Options{})

	for v := 2; v <= 5; v++ {
		time.Sleep(10 * time.Millisecond)
		s.SubmitJSON(fmt.Sprintf(`{"v":%d}`, v))
	}
	waitFor(t, "full render of version 5", displayed(s, 5, Full))

	if full := dec.callsAt(Full); len(full) != 1 || full[0] != 5 {
		t.Fatalf("only version 5 may reach the full stage, got %v", full)
	}
	waitFor(t, "thumbnail", func() bool { return len(store.thumbnails()) == 1 })
	waitFor(t, "persisted state", func() bool {
		saves := store.savedValues()
		return len(saves) > 0 && saves[len(saves)-1] == `{"v":5}`
	})
}

func TestPreviewNeverGoesBack(t *testing.T) {
	dec := newFakeDecoder()
	dec.latency = func(Quality) time.Duration { return time.Duration(rand.IntN(8)) * time.Millisecond }

	var (
		mu     sync.Mutex
		frames []Frame
	)
	s := startScheduler(t, dec, nil, Options{
		LowestWait: 5 * time.Millisecond,
		LowWait:    10 * time.Millisecond,
		OnFrame: func(f Frame) {
			mu.Lock()
			frames = append(frames, f)
			mu.Unlock()
		},
	})
	for v := 2; v <= 30; v++ {
		time.Sleep(time.Duration(rand.IntN(25)) * time.Millisecond)
		s.SubmitJSON(fmt.Sprintf(`{"v":%d}`, v))
	}
	waitFor(t, "final frame", displayed(s, 30, Full))

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(frames); i++ {
		a, b := frames[i-1], frames[i]
		if b.Version < a.Version || (b.Version == a.Version && b.Quality < a.Quality) {
			t.Fatalf("frame %d regressed: v%d/%s after v%d/%s", i, b.Version, b.Quality, a.Version, a.Quality)
		}
	}
}

func TestFailedRenderKeepsPreview(t *testing.T) {
	dec := newFakeDecoder()
	statuses := make(chan Status, 16)
	s := startScheduler(t, dec, nil, Options{
		LowestWait: 5 * time.Millisecond,
		LowWait:    5 * time.Millisecond,
		OnStatus: func(st Status) {
			if st.Failed {
				statuses <- st
			}
		},
	})
	waitFor(t, "first full frame", displayed(s, 1, Full))

	s.SubmitJSON(`{"v":2,"fail":true}`)
	select {
	case st := <-statuses:
		if st.Version != 2 || st.Err == nil {
			t.Fatalf("unexpected status %+v", st)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no failure reported")
	}
	waitFor(t, "failed full stage", func() bool {
		for _, v := range dec.callsAt(Full) {
			if v == 2 {
				return true
			}
		}
		return false
	})
	if f, _ := s.Latest(); f.Version != 1 || f.Quality != Full {
		t.Fatalf("previous preview must stay, got v%d/%s", f.Version, f.Quality)
	}

	s.SubmitJSON(`{"v":3}`)
	waitFor(t, "recovery", displayed(s, 3, Full))
}

func TestHandleDragSuppressesRenders(t *testing.T) {
	dec := newFakeDecoder()
	s := startScheduler(t, dec, nil, Options{LowestWait: 5 * time.Millisecond, LowWait: 5 * time.Millisecond})
	waitFor(t, "first full frame", displayed(s, 1, Full))

	s.SetHandleDragging(true)
	s.SubmitJSON(`{"v":7}`)
	s.SubmitJSON(`{"v":8}`)
	if s.Version() != 1 {
		t.Fatalf("no render may be requested while dragging, version %d", s.Version())
	}
	s.SetHandleDragging(false)
	if s.Version() != 2 {
		t.Fatalf("ending the drag should request one render, version %d", s.Version())
	}
	waitFor(t, "render after drag", displayed(s, 2, Full))
	for _, v := range dec.callsAt(Lowest) {
		if v == 7 {
			t.Fatalf("a state from the drag was rendered")
		}
	}
}

func TestThumbnailOnlyForLatest(t *testing.T) {
	dec := newFakeDecoder()
	dec.w, dec.h = 1024, 256
	store := &memStore{}
	s := startScheduler(t, dec, store, Options{LowestWait: 5 * time.Millisecond, LowWait: 5 * time.Millisecond})
	waitFor(t, "thumbnail", func() bool { return len(store.thumbnails()) == 1 })

	img, err := jpeg.Decode(bytes.NewReader(store.thumbnails()[0]))
	if err != nil {
		t.Fatalf("thumbnail is not a JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 512 || b.Dy() != 128 {
		t.Fatalf("unexpected thumbnail size %v", b)
	}
	_ = s
}

func TestCloseFlushesPendingSave(t *testing.T) {
	dec := newFakeDecoder()
	store := &memStore{}
	sess, err := OpenSession(context.Background(), dec, []byte("raw"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := NewScheduler(sess, store, "p1", `{"v":1}`, Options{SaveDelay: time.Hour})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	s.SubmitJSON(`{"v":2}`)
	s.SubmitJSON(`{"v":3}`)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if saves := store.savedValues(); len(saves) != 1 || saves[0] != `{"v":3}` {
		t.Fatalf("expected only the last state saved, got %v", saves)
	}
	if len(dec.released) != 1 {
		t.Fatalf("session should be released on close")
	}
}

func TestExportAndMetadata(t *testing.T) {
	s := startScheduler(t, newFakeDecoder(), nil, Options{})
	data, err := s.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("export is not an image: %v", err)
	}
	meta, err := s.Metadata(context.Background())
	if err != nil || !strings.Contains(meta, "Fake") {
		t.Fatalf("metadata: %q %v", meta, err)
	}
}

func TestSubmitEncodesEditState(t *testing.T) {
	s := startScheduler(t, newFakeDecoder(), nil, Options{})
	st := mask.DefaultEditState().WithMask(mask.NewMask("Sky", mask.NewSubMask(mask.TypeRadial, mask.Additive)))
	if err := s.Submit(st); err != nil {
		t.Fatalf("submit: %v", err)
	}
	back, err := mask.ParseEditState([]byte(s.Current()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(back.Masks) != 1 || back.Masks[0].Name != "Sky" {
		t.Fatalf("submitted state not encoded: %+v", back.Masks)
	}
}

func TestOpenDocument(t *testing.T) {
	st := mask.DefaultEditState()
	sub := mask.NewSubMask(mask.TypeBrush, mask.Additive)
	sub.Lines = []mask.Stroke{{Tool: mask.ToolBrush, BrushSize: 10, Feather: 0.5, Order: 7, Points: []mask.Point{{X: 0.5, Y: 0.5}}}}
	st = st.WithMask(mask.NewMask("Paint", sub))
	saved, err := st.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	store := &memStore{raw: []byte("raw"), adj: saved}

	doc, err := OpenDocument(context.Background(), newFakeDecoder(), store, NewLimiter(1), "p1", Options{SaveDelay: time.Hour})
	if err != nil {
		t.Fatalf("open document: %v", err)
	}
	if doc.Strokes.Current() != 7 {
		t.Fatalf("stroke counter should resume after 7, got %d", doc.Strokes.Current())
	}
	err = doc.Update(func(s mask.EditState) (mask.EditState, error) {
		return s.WithMask(mask.NewMask("Second")), nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(doc.State().Masks) != 2 {
		t.Fatalf("update not applied")
	}
	doc.Close()
	if saves := store.savedValues(); len(saves) != 1 || !strings.Contains(saves[0], "Second") {
		t.Fatalf("update should be persisted on close, got %v", saves)
	}

	bad := &memStore{raw: []byte("raw"), adj: "{not json"}
	doc, err = OpenDocument(context.Background(), newFakeDecoder(), bad, nil, "p2", Options{})
	if err != nil {
		t.Fatalf("open document with bad state: %v", err)
	}
	defer doc.Close()
	if len(doc.State().Masks) != 0 {
		t.Fatalf("bad state should fall back to defaults")
	}
}

func TestThumbnailFits(t *testing.T) {
	small := image.NewNRGBA(image.Rect(0, 0, 100, 50))
	if Thumbnail(small, 512) != image.Image(small) {
		t.Fatalf("small images should not be scaled")
	}
	tall := Thumbnail(image.NewNRGBA(image.Rect(0, 0, 300, 2048)), 512)
	if b := tall.Bounds(); b.Dy() != 512 || b.Dx() != 75 {
		t.Fatalf("unexpected size %v", b)
	}
}
