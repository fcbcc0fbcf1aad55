package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	DefaultThumbnailSize = 512
	thumbnailQuality     = 85
)

// Thumbnail scales img to fit within size x size. Smaller images are
// returned unchanged.
func Thumbnail(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if size <= 0 || (w <= size && h <= size) {
		return img
	}
	scale := min(float64(size)/float64(w), float64(size)/float64(h))
	tw, th := max(int(float64(w)*scale), 1), max(int(float64(h)*scale), 1)
	dst := image.NewNRGBA(image.Rect(0, 0, tw, th))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// EncodeThumbnail returns the JPEG thumbnail of img.
func EncodeThumbnail(img image.Image, size int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Thumbnail(img, size), &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
