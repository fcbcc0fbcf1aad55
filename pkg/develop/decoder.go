// Package develop is a reference render.Decoder for display-referred images
// (JPEG, PNG, GIF, BMP, TIFF and WebP). It applies the same adjustment and
// mask pipeline a RAW decoder would, starting from sRGB pixels instead of
// demosaiced sensor data.
package develop

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"github.com/gogpu/gg/cache"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Fepozopo/maskedit/pkg/logging"
	"github.com/Fepozopo/maskedit/pkg/mask"
	"github.com/Fepozopo/maskedit/pkg/maskraster"
	"github.com/Fepozopo/maskedit/pkg/render"
)

var (
	ErrUnknownHandle = errors.New("develop: unknown session handle")
	ErrDecode        = errors.New("develop: cannot decode image")
)

const (
	PreviewQuality = 88
	FullResQuality = 96
)

// tierBox is the bounding box a preview tier is fitted into.
func tierBox(q render.Quality) (int, int) {
	switch q {
	case render.Lowest:
		return 64, 64
	case render.Low:
		return 256, 256
	}
	return 1280, 720
}

const fullRes render.Quality = -1

// selKey identifies a composited selection: the tier it was rendered for,
// the mask and its serialized sub-mask geometry.
type selKey struct {
	tier render.Quality
	mask string
	geom string
}

func hashSelKey(k selKey) uint64 {
	return cache.StringHasher(k.mask+k.geom) ^ uint64(k.tier)
}

type session struct {
	mu       sync.Mutex
	base     *image.NRGBA
	metadata string
	tiers    map[render.Quality]*image.NRGBA
	sels     *cache.ShardedCache[selKey, *maskraster.Buffer]
}

// selectionsPerShard bounds the per-session selection cache to 32 entries.
const selectionsPerShard = 2

// Decoder keeps one decoded image per session. It is safe for concurrent
// use across handles.
type Decoder struct {
	mu       sync.Mutex
	next     render.Handle
	sessions map[render.Handle]*session
}

// New returns an empty Decoder.
func New() *Decoder {
	return &Decoder{sessions: make(map[render.Handle]*session)}
}

// CreateSession decodes raw, applies its EXIF orientation and returns a
// handle for rendering it.
func (d *Decoder) CreateSession(raw []byte) (render.Handle, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	base := toNRGBA(img)
	md, err := ReadMetadata(raw)
	meta := "{}"
	if err == nil {
		base = orient(base, md.Orientation)
		if b, err := json.Marshal(md); err == nil {
			meta = string(b)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	h := d.next
	d.sessions[h] = &session{
		base:     base,
		metadata: meta,
		tiers:    make(map[render.Quality]*image.NRGBA),
		sels:     cache.NewSharded[selKey, *maskraster.Buffer](selectionsPerShard, hashSelKey),
	}
	logging.Logger().Debug("develop session created", "handle", uint64(h), "format", format,
		"width", base.Bounds().Dx(), "height", base.Bounds().Dy())
	return h, nil
}

// ReleaseSession drops the session. Unknown handles are ignored.
func (d *Decoder) ReleaseSession(h render.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, h)
}

func (d *Decoder) session(h render.Handle) (*session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return s, nil
}

// RenderPreview renders the tier for q as a JPEG.
func (d *Decoder) RenderPreview(h render.Handle, adjustments string, q render.Quality) ([]byte, error) {
	s, err := d.session(h)
	if err != nil {
		return nil, err
	}
	return s.render(adjustments, q, PreviewQuality)
}

// RenderFullRes renders the unscaled image as a JPEG.
func (d *Decoder) RenderFullRes(h render.Handle, adjustments string) ([]byte, error) {
	s, err := d.session(h)
	if err != nil {
		return nil, err
	}
	return s.render(adjustments, fullRes, FullResQuality)
}

// Metadata returns the session's camera summary as JSON, "{}" when the
// file carries no EXIF.
func (d *Decoder) Metadata(h render.Handle) (string, error) {
	s, err := d.session(h)
	if err != nil {
		return "", err
	}
	return s.metadata, nil
}

func (s *session) render(adjustments string, q render.Quality, quality int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	state := mask.LoadEditState([]byte(adjustments))
	src := s.tier(q)
	out := Develop(src, state, func(m mask.Mask, w, h int) *maskraster.Buffer {
		return s.selection(q, m, w, h)
	})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode %s render: %w", tierName(q), err)
	}
	logging.Logger().Debug("develop render", "tier", tierName(q), "masks", len(state.Masks),
		"bytes", buf.Len(), "elapsed", time.Since(start))
	return buf.Bytes(), nil
}

func tierName(q render.Quality) string {
	if q == fullRes {
		return "fullres"
	}
	return q.String()
}

// tier returns the base image fitted into q's box, cached per tier.
func (s *session) tier(q render.Quality) *image.NRGBA {
	if q == fullRes {
		return s.base
	}
	if img, ok := s.tiers[q]; ok {
		return img
	}
	mw, mh := tierBox(q)
	img := fit(s.base, mw, mh)
	s.tiers[q] = img
	return img
}

// selection caches composited selections by tier and sub-mask geometry.
func (s *session) selection(q render.Quality, m mask.Mask, w, h int) *maskraster.Buffer {
	geom, err := json.Marshal(m.SubMasks)
	if err != nil {
		return maskraster.Composite(m, w, h)
	}
	k := selKey{tier: q, mask: m.ID, geom: string(geom)}
	return s.sels.GetOrCreate(k, func() *maskraster.Buffer { return maskraster.Composite(m, w, h) })
}

// fit scales src down to fit inside mw x mh keeping its aspect ratio.
// Images that already fit are returned as is.
func fit(src *image.NRGBA, mw, mh int) *image.NRGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= mw && h <= mh {
		return src
	}
	tw, th := mw, max(h*mw/w, 1)
	if w*mh < h*mw {
		tw, th = max(w*mh/h, 1), mh
	}
	dst := image.NewNRGBA(image.Rect(0, 0, tw, th))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n
	}
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

var _ render.Decoder = (*Decoder)(nil)
