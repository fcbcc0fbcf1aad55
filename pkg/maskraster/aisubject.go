package maskraster

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"

	"github.com/gogpu/gg/cache"
	"golang.org/x/image/draw"

	"github.com/Fepozopo/maskedit/pkg/logging"
	"github.com/Fepozopo/maskedit/pkg/mask"
)

// ErrBadMaskData reports a subject mask payload that cannot be decoded.
var ErrBadMaskData = errors.New("maskraster: undecodable subject mask data")

const (
	dataURLMarker = "base64,"
	// DataURLPrefix is what EncodeDataURL puts in front of the PNG.
	DataURLPrefix = "data:image/png;" + dataURLMarker
)

// DecodeDataURL decodes the image inside a base64 data URL.
func DecodeDataURL(s string) (image.Image, error) {
	idx := strings.Index(s, dataURLMarker)
	if idx < 0 {
		return nil, fmt.Errorf("%w: no base64 marker", ErrBadMaskData)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s[idx+len(dataURLMarker):]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMaskData, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMaskData, err)
	}
	return img, nil
}

// EncodeDataURL encodes b as a grayscale PNG data URL.
func EncodeDataURL(b *Buffer) (string, error) {
	var out bytes.Buffer
	if err := png.Encode(&out, b.Gray()); err != nil {
		return "", fmt.Errorf("encode mask png: %w", err)
	}
	return DataURLPrefix + base64.StdEncoding.EncodeToString(out.Bytes()), nil
}

// SoftnessRadius is the box blur radius used for a softness value.
func SoftnessRadius(softness float64) int {
	return int(math.Round(clamp01(softness) * 10))
}

type subjectKey struct {
	data   string
	w, h   int
	radius int
}

func hashSubjectKey(k subjectKey) uint64 {
	return cache.StringHasher(k.data) ^ uint64(k.w)<<32 ^ uint64(k.h)<<8 ^ uint64(k.radius)
}

// subjectCache holds decoded subject masks, one per shard, so at most 16.
// The payload rarely changes while overlays are recomputed on every gesture.
var subjectCache = cache.NewSharded[subjectKey, *Buffer](1, hashSubjectKey)

// RasterizeAiSubject decodes the stored subject mask, scales it bilinearly to
// w x h when needed, reads its red channel and softens it. An empty payload
// yields a zero buffer; a malformed one yields a zero buffer and an error.
func RasterizeAiSubject(p mask.AiSubjectParams, w, h int) (*Buffer, error) {
	b, err := rasterizeAiSubject(p, w, h)
	return b.Clone(), err
}

// rasterizeAiSubject returns a possibly cached buffer that must not be
// modified.
func rasterizeAiSubject(p mask.AiSubjectParams, w, h int) (*Buffer, error) {
	w, h = max(w, 1), max(h, 1)
	if p.MaskDataURL == "" {
		return NewBuffer(w, h), nil
	}
	key := subjectKey{data: p.MaskDataURL, w: w, h: h, radius: SoftnessRadius(p.Softness)}
	if b, ok := subjectCache.Get(key); ok {
		logging.Logger().Debug("subject mask cache hit", "w", w, "h", h)
		return b, nil
	}

	img, err := DecodeDataURL(p.MaskDataURL)
	if err != nil {
		return NewBuffer(w, h), err
	}
	if sz := img.Bounds().Size(); sz.X != w || sz.Y != h {
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}
	b := BoxBlur(RedChannel(img), key.radius)
	subjectCache.Set(key, b)
	return b, nil
}
