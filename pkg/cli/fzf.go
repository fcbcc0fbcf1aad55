package cli

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Fepozopo/maskedit/pkg/storage"
)

// SelectWithFzf lets the user pick one of lines in fzf and returns the part
// of the selection before the first ':' (the key), trimmed.
func SelectWithFzf(lines []string, prompt string) (string, error) {
	cmd := exec.Command("fzf", "--prompt="+prompt)
	cmd.Stdin = strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("error running fzf: %w", err)
	}
	key, _, _ := strings.Cut(strings.TrimSpace(out.String()), ":")
	if key = strings.TrimSpace(key); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("nothing selected")
}

// SelectFieldWithFzf offers every adjustment field.
func SelectFieldWithFzf(fields []Field) (string, error) {
	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = fmt.Sprintf("%s: %s [%s]", f.Name, f.Label, f.Section)
	}
	return SelectWithFzf(lines, "Adjustment> ")
}

// projectLines formats projects for a picker, newest first as listed.
func projectLines(projects []storage.Metadata) []string {
	lines := make([]string, len(projects))
	for i, p := range projects {
		modified := time.UnixMilli(p.ModifiedAt).Format("2006-01-02 15:04")
		lines[i] = fmt.Sprintf("%s: %s %s %s", p.ID, p.FileName, stars(p.Rating), modified)
	}
	return lines
}

func stars(rating int) string {
	return strings.Repeat("*", rating) + strings.Repeat(".", max(5-rating, 0))
}

// SelectProjectWithFzf picks a project id.
func SelectProjectWithFzf(projects []storage.Metadata) (string, error) {
	if len(projects) == 0 {
		return "", fmt.Errorf("no projects")
	}
	return SelectWithFzf(projectLines(projects), "Project> ")
}

// SelectFileWithFzf launches find piped into fzf over image and RAW files
// under startDir, with a terminal-aware preview pane.
func SelectFileWithFzf(startDir string) (string, error) {
	var previewCmd string
	switch {
	case isKitty():
		previewCmd = "printf \"\\x1b_Ga=d\\x1b\\\\\"; kitty +kitten icat --silent {} 2>/dev/null || chafa --fill=block --symbols=block -s 80x40 {} 2>/dev/null"
	case isInlineImageCapable():
		previewCmd = "imgcat {} 2>/dev/null || chafa --fill=block --symbols=block -s 80x40 {} 2>/dev/null"
	case isSixelCapable():
		previewCmd = "img2sixel {} 2>/dev/null || chafa --fill=block --symbols=block -s 80x40 {} 2>/dev/null"
	default:
		previewCmd = "chafa --fill=block --symbols=block -s 80x40 {} 2>/dev/null"
	}

	patterns := []string{"jpg", "jpeg", "png", "gif", "bmp", "tif", "tiff", "webp", "dng", "cr2", "cr3", "nef", "arw", "raf", "orf", "rw2"}
	names := make([]string, len(patterns))
	for i, p := range patterns {
		names[i] = fmt.Sprintf("-iname '*.%s'", p)
	}
	cmdStr := fmt.Sprintf(
		"find %s -type f \\( %s \\) | fzf --height 100%% --border --prompt='Files> ' --ansi --preview=%q --preview-window='right:60%%'",
		strconv.Quote(startDir),
		strings.Join(names, " -o "),
		previewCmd,
	)
	cmd := exec.Command("bash", "-lc", cmdStr)
	var out bytes.Buffer
	cmd.Stdout = &out
	err := cmd.Run()
	clearKittyImages()
	if err != nil {
		return "", fmt.Errorf("error running fzf for files: %w", err)
	}
	selection := strings.TrimSpace(out.String())
	if selection == "" {
		return "", fmt.Errorf("no file selected")
	}
	return selection, nil
}

// clearKittyImages emits the kitty graphics delete sequence. Other
// terminals ignore it.
func clearKittyImages() {
	fmt.Fprint(os.Stdout, "\x1b_Ga=d\x1b\\")
}
