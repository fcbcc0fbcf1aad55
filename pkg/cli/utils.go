package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Fepozopo/maskedit/pkg/mask"
)

// stdin is shared by every prompt so buffered input is never lost between
// the single-key REPL and line prompts.
var stdin = bufio.NewReader(os.Stdin)

// PromptLine displays a prompt and reads a full line of input from the user.
// The returned string is trimmed of surrounding whitespace (including the newline).
func PromptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// PromptLineOrFzf reads a line and treats a lone "/" as a request to pick
// a file with fzf. If fzf is unavailable or cancelled the prompt is repeated.
func PromptLineOrFzf(prompt string) (string, error) {
	input, err := PromptLine(prompt)
	if err != nil {
		return "", err
	}
	if input == "/" {
		if sel, err := SelectFileWithFzf("."); err == nil && sel != "" {
			fmt.Printf(" [fzf] %s\n", sel)
			return sel, nil
		}
		return PromptLine(prompt)
	}
	return input, nil
}

// ParsePoints reads "x,y" pairs separated by spaces or semicolons. Values
// are fractions of the image size.
func ParsePoints(args []string) ([]mask.Point, error) {
	var pts []mask.Point
	for _, a := range args {
		for _, f := range strings.FieldsFunc(a, func(r rune) bool { return r == ' ' || r == ';' }) {
			xs, ys, ok := strings.Cut(f, ",")
			if !ok {
				return nil, fmt.Errorf("invalid point %q, want x,y", f)
			}
			x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 64)
			y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 64)
			if errX != nil || errY != nil {
				return nil, fmt.Errorf("invalid point %q", f)
			}
			pts = append(pts, mask.Point{X: x, Y: y})
		}
	}
	return pts, nil
}

// FindMask resolves ref as a mask id, a 1-based position or a
// case-insensitive name.
func FindMask(s mask.EditState, ref string) (mask.Mask, error) {
	if m, ok := s.Mask(ref); ok {
		return m, nil
	}
	if i, err := strconv.Atoi(ref); err == nil {
		if i < 1 || i > len(s.Masks) {
			return mask.Mask{}, fmt.Errorf("mask %d out of range (have %d)", i, len(s.Masks))
		}
		return s.Masks[i-1], nil
	}
	for _, m := range s.Masks {
		if strings.EqualFold(m.Name, ref) {
			return m, nil
		}
	}
	return mask.Mask{}, fmt.Errorf("mask %q: %w", ref, mask.ErrNotFound)
}

// findSubMask returns the first sub-mask of type t, or the one with id when
// id is set.
func findSubMask(m mask.Mask, t mask.Type, id string) (mask.SubMask, bool) {
	for _, sub := range m.SubMasks {
		if id != "" {
			if sub.ID == id {
				return sub, true
			}
			continue
		}
		if sub.Type == t {
			return sub, true
		}
	}
	return mask.SubMask{}, false
}

// SaveImage saves img using the format implied by the file extension.
// Unknown extensions are written as PNG.
func SaveImage(path string, img image.Image) error {
	var buf bytes.Buffer
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// GetImageInfoImage returns a short info string for an image.Image
func GetImageInfoImage(img image.Image) (string, error) {
	if img == nil {
		return "", fmt.Errorf("nil image")
	}
	b := img.Bounds()
	return fmt.Sprintf("Width: %d, Height: %d", b.Dx(), b.Dy()), nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
