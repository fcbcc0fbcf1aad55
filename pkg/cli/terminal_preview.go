package cli

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/Fepozopo/maskedit/pkg/logging"
)

// Terminal preview for rendered frames.
//
// Backends, in the order they are tried:
//   - the iTerm2 style OSC 1337 inline image sequence (iTerm2, WezTerm, Warp, VSCode, ...)
//   - the kitty graphics protocol (kitty, ghostty, Konsole)
//   - sixel through an external img2sixel
//   - chafa block graphics
//
// MASKEDIT_PREVIEW_BACKEND forces one backend first; the usual order
// still applies when it fails.

var errNoBackend = errors.New("no terminal preview backend available")

// previewOut is where escape sequences are written.
var previewOut io.Writer = os.Stdout

func debugf(format string, args ...any) {
	logging.Logger().Debug(fmt.Sprintf(format, args...), "component", "preview")
}

func isKitty() bool {
	if os.Getenv("KITTY_WINDOW_ID") != "" || os.Getenv("KONSOLE_VERSION") != "" {
		return true
	}
	term := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghost")
}

func isInlineImageCapable() bool {
	switch os.Getenv("TERM_PROGRAM") {
	case "iTerm.app", "WezTerm", "Warp", "Hyper", "vscode", "VSCode", "Tabby", "Bobcat":
		return true
	}
	if os.Getenv("ITERM_SESSION_ID") != "" {
		return true
	}
	term := strings.ToLower(os.Getenv("TERM"))
	for _, s := range []string{"wez", "warp", "tabby", "vscode"} {
		if strings.Contains(term, s) {
			return true
		}
	}
	return false
}

// isSixelCapable is a heuristic; MASKEDIT_SIXEL=1 forces it.
func isSixelCapable() bool {
	if os.Getenv("MASKEDIT_SIXEL") == "1" || os.Getenv("WT_SESSION") != "" {
		return true
	}
	term := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(term, "foot") || strings.Contains(term, "sixel")
}

func hasChafa() bool {
	if os.Getenv("NO_CHAFA") == "1" {
		return false
	}
	_, err := exec.LookPath("chafa")
	return err == nil
}

// postImageNewlines keeps the prompt just under the image.
func postImageNewlines(rows int) int {
	switch {
	case rows <= 2:
		return 1
	case rows <= 6:
		return 2
	case rows <= 20:
		return 3
	}
	return 4
}

// PreviewSupported reports whether some backend is likely to work.
func PreviewSupported() bool {
	return isKitty() || isInlineImageCapable() || isSixelCapable() || hasChafa()
}

// PreviewSize is a target placement in character cells.
type PreviewSize struct {
	Cols        int
	Rows        int
	PixelWidth  int
	PixelHeight int
}

// computePreviewSize maps pixel dimensions onto 8x16 cells, never scaling
// up, clamped to 6..80 columns and 3..40 rows.
func computePreviewSize(img image.Image) PreviewSize {
	const (
		charW, charH     = 8, 16
		minCols, minRows = 6, 3
		maxCols, maxRows = 80, 40
	)
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	scale := 1.0
	if w > 0 && h > 0 {
		scale = min(1, float64(maxCols*charW)/float64(w), float64(maxRows*charH)/float64(h))
	}
	cols := int(float64(w)*scale/charW + 0.5)
	rows := int(float64(h)*scale/charH + 0.5)
	cols = min(max(cols, minCols), maxCols)
	rows = min(max(rows, minRows), maxRows)
	return PreviewSize{Cols: cols, Rows: rows, PixelWidth: cols * charW, PixelHeight: rows * charH}
}

// PreviewImage PNG-encodes img and shows it in the terminal.
func PreviewImage(img image.Image) error {
	if img == nil {
		return fmt.Errorf("nil image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("png encode failed: %w", err)
	}
	return previewBytes(buf.Bytes(), computePreviewSize(img))
}

type previewBackend struct {
	name    string
	capable func() bool
	send    func([]byte, PreviewSize) error
}

func backends() []previewBackend {
	return []previewBackend{
		{"inline", isInlineImageCapable, sendInlineImage},
		{"kitty", isKitty, sendKittyImage},
		{"sixel", isSixelCapable, sendSixelImage},
		{"chafa", hasChafa, sendChafaImage},
	}
}

func previewBytes(blob []byte, size PreviewSize) error {
	if len(blob) == 0 {
		return fmt.Errorf("empty image blob")
	}
	all := backends()
	if want := strings.ToLower(os.Getenv("MASKEDIT_PREVIEW_BACKEND")); want != "" {
		if want == "iterm" || want == "wezterm" {
			want = "inline"
		}
		for _, b := range all {
			if b.name != want {
				continue
			}
			err := b.send(blob, size)
			if err == nil {
				return nil
			}
			debugf("forced backend %s failed: %v", b.name, err)
		}
	}
	var errs []error
	for _, b := range all {
		if !b.capable() {
			continue
		}
		err := b.send(blob, size)
		if err == nil {
			return nil
		}
		debugf("%s preview failed: %v", b.name, err)
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	if len(errs) == 0 {
		return errNoBackend
	}
	return errors.Join(errs...)
}

func newlines(rows int) {
	fmt.Fprint(previewOut, strings.Repeat("\n", postImageNewlines(rows)))
}

// sendKittyImage transmits PNG bytes with the kitty graphics protocol in
// base64 chunks of at most 4096 bytes. Only the first chunk carries the
// control keys and the c/r placement.
func sendKittyImage(data []byte, size PreviewSize) error {
	enc := base64.StdEncoding.EncodeToString(data)
	const chunkSize = 4096
	for pos := 0; pos < len(enc); pos += chunkSize {
		end := min(pos+chunkSize, len(enc))
		more := "0"
		if end < len(enc) {
			more = "1"
		}
		var seq string
		if pos == 0 {
			seq = fmt.Sprintf("\x1b_Ga=T,f=100,t=d,q=2,c=%d,r=%d,m=%s;%s\x1b\\", size.Cols, size.Rows, more, enc[pos:end])
		} else {
			seq = "\x1b_Gm=" + more + ";" + enc[pos:end] + "\x1b\\"
		}
		if _, err := io.WriteString(previewOut, seq); err != nil {
			return err
		}
	}
	newlines(size.Rows)
	return nil
}

func inlineSequence(data []byte, size PreviewSize) string {
	meta := fmt.Sprintf("size=%d;", len(data))
	if size.PixelWidth > 0 && size.PixelHeight > 0 {
		meta += fmt.Sprintf("width=%dpx;height=%dpx;", size.PixelWidth, size.PixelHeight)
	}
	return "\x1b]1337;File=name=preview.png;inline=1;" + meta + ":" + base64.StdEncoding.EncodeToString(data) + "\a"
}

func sendInlineImage(data []byte, size PreviewSize) error {
	_, err := io.WriteString(previewOut, inlineSequence(data, size))
	newlines(0)
	return err
}

func sendSixelImage(data []byte, size PreviewSize) error {
	if _, err := exec.LookPath("img2sixel"); err != nil {
		return fmt.Errorf("img2sixel not found in PATH: %w", err)
	}
	cmd := exec.Command("img2sixel", "-w", fmt.Sprint(size.PixelWidth), "-")
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = previewOut
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("img2sixel failed: %w", err)
	}
	newlines(0)
	return nil
}

func sendChafaImage(data []byte, size PreviewSize) error {
	if !hasChafa() {
		return fmt.Errorf("chafa not available")
	}
	fill, symbols := "block", "block"
	if f := os.Getenv("CHAFA_FILL"); f != "" {
		fill = f
	}
	if s := os.Getenv("CHAFA_SYMBOLS"); s != "" {
		symbols = s
	}
	cmd := exec.Command("chafa", "--fill="+fill, "--symbols="+symbols, "-s", fmt.Sprintf("%dx%d", size.Cols, size.Rows), "-")
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = previewOut
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("chafa failed: %w", err)
	}
	newlines(size.Rows)
	return nil
}
