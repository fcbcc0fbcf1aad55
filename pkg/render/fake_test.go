package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"time"
)

type call struct {
	version int
	quality Quality
}

// fakeDecoder renders a flat image and records which version reached which
// quality. Adjustments are {"v":N}; a "fail" key makes every call fail.
type fakeDecoder struct {
	mu       sync.Mutex
	calls    []call
	released []Handle
	next     Handle
	latency  func(Quality) time.Duration
	w, h     int
}

func newFakeDecoder() *fakeDecoder { return &fakeDecoder{w: 32, h: 16} }

func (f *fakeDecoder) CreateSession(raw []byte) (Handle, error) {
	if len(raw) == 0 {
		return 0, errors.New("empty raw")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next, nil
}

func (f *fakeDecoder) ReleaseSession(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, h)
}

func (f *fakeDecoder) RenderPreview(h Handle, adjustments string, q Quality) ([]byte, error) {
	if f.latency != nil {
		time.Sleep(f.latency(q))
	}
	var doc struct {
		V int `json:"v"`
	}
	json.Unmarshal([]byte(adjustments), &doc)
	f.mu.Lock()
	f.calls = append(f.calls, call{doc.V, q})
	f.mu.Unlock()
	if strings.Contains(adjustments, "fail") {
		return nil, errors.New("native decode failed")
	}
	return f.png(uint8(doc.V)), nil
}

func (f *fakeDecoder) RenderFullRes(h Handle, adjustments string) ([]byte, error) {
	return f.png(255), nil
}

func (f *fakeDecoder) Metadata(h Handle) (string, error) {
	return `{"make":"Fake"}`, nil
}

func (f *fakeDecoder) png(v uint8) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, f.w, f.h))
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func (f *fakeDecoder) callsAt(q Quality) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, c := range f.calls {
		if c.quality == q {
			out = append(out, c.version)
		}
	}
	return out
}

type memStore struct {
	mu     sync.Mutex
	saves  []string
	thumbs [][]byte
	raw    []byte
	adj    string
}

func (m *memStore) SaveAdjustments(id, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, v)
	return nil
}

func (m *memStore) SaveThumbnail(id string, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thumbs = append(m.thumbs, b)
	return nil
}

func (m *memStore) LoadRawBytes(id string) ([]byte, error) { return m.raw, nil }

func (m *memStore) LoadAdjustments(id string) (string, error) { return m.adj, nil }

func (m *memStore) savedValues() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.saves...)
}

func (m *memStore) thumbnails() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.thumbs...)
}
