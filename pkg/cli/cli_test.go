package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Fepozopo/maskedit/pkg/config"
	"github.com/Fepozopo/maskedit/pkg/mask"
	"github.com/Fepozopo/maskedit/pkg/storage"
)

// newTestApp returns an app over an empty store and the buffer it prints to.
func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Home = t.TempDir()
	a := newApp(cfg)
	var out bytes.Buffer
	a.out = &out
	return a, &out
}

func importTestImage(t *testing.T, a *app) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 8))
	for y := range 8 {
		for x := range 16 {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 32), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	id, err := a.store.Import("test.png", buf.Bytes())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	return id
}

func loadState(t *testing.T, a *app, id string) mask.EditState {
	t.Helper()
	data, err := a.store.LoadAdjustments(id)
	if err != nil {
		t.Fatalf("load adjustments: %v", err)
	}
	return mask.LoadEditState([]byte(data))
}

func TestParseFlagsInterleaved(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	erase := fs.Bool("erase", false, "")
	size := fs.Float64("size", 0, "")
	pos, err := parseFlags(fs, []string{"p1", "-erase", "m1", "-size", "0.2", "0.1,0.2"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if !*erase || *size != 0.2 {
		t.Fatalf("erase=%v size=%v", *erase, *size)
	}
	if strings.Join(pos, " ") != "p1 m1 0.1,0.2" {
		t.Fatalf("positionals = %q", pos)
	}
	if _, err := parseFlags(fs, []string{"-bogus"}); err == nil {
		t.Fatalf("expected unknown flag error")
	}
}

func TestParsePoints(t *testing.T) {
	pts, err := ParsePoints([]string{"0.1,0.2", "0.3,0.4;0.5, 0.6"})
	if err != nil {
		t.Fatalf("ParsePoints: %v", err)
	}
	want := []mask.Point{{X: 0.1, Y: 0.2}, {X: 0.3, Y: 0.4}, {X: 0.5, Y: 0.6}}
	if len(pts) != len(want) {
		t.Fatalf("got %d points, want %d", len(pts), len(want))
	}
	for i := range want {
		if pts[i] != want[i] {
			t.Fatalf("point %d = %v, want %v", i, pts[i], want[i])
		}
	}
	for _, bad := range []string{"0.1", "a,b"} {
		if _, err := ParsePoints([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFindMask(t *testing.T) {
	sky := mask.NewMask("Sky")
	face := mask.NewMask("Face")
	s := mask.DefaultEditState().WithMask(sky).WithMask(face)

	for _, ref := range []string{face.ID, "2", "face"} {
		m, err := FindMask(s, ref)
		if err != nil || m.ID != face.ID {
			t.Fatalf("FindMask(%q) = %s, %v", ref, m.Name, err)
		}
	}
	if _, err := FindMask(s, "3"); err == nil {
		t.Fatalf("expected out of range error")
	}
	if _, err := FindMask(s, "ground"); !errors.Is(err, mask.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestProjectLines(t *testing.T) {
	lines := projectLines([]storage.Metadata{{ID: "abc", FileName: "a.cr2", Rating: 3}})
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "abc: a.cr2 ***..") {
		t.Fatalf("lines = %q", lines)
	}
	if stars(0) != "....." || stars(5) != "*****" {
		t.Fatalf("stars = %q %q", stars(0), stars(5))
	}
}

func TestCmdSetGlobalAndMask(t *testing.T) {
	a, _ := newTestApp(t)
	id := importTestImage(t, a)
	ctx := context.Background()

	if err := cmdSet(ctx, a, []string{id, "contrast=20", "bright=1.5"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	s := loadState(t, a, id)
	if s.Adjustments.Contrast != 20 || s.Adjustments.Brightness != 1.5 {
		t.Fatalf("global = %+v", s.Adjustments)
	}

	if err := cmdMask(ctx, a, []string{"add", id, "radial", "Sky"}); err != nil {
		t.Fatalf("mask add: %v", err)
	}
	if err := cmdSet(ctx, a, []string{id, "-mask", "sky", "saturation=-40"}); err != nil {
		t.Fatalf("set -mask: %v", err)
	}
	s = loadState(t, a, id)
	if len(s.Masks) != 1 || s.Masks[0].Adjustments.Saturation != -40 {
		t.Fatalf("masks = %+v", s.Masks)
	}
	if s.Adjustments.Saturation != 0 {
		t.Fatalf("global saturation changed to %v", s.Adjustments.Saturation)
	}

	if err := cmdSet(ctx, a, []string{id, "nosuch=1"}); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if err := cmdSet(ctx, a, []string{id}); !errors.Is(err, errUsage) {
		t.Fatalf("err = %v, want usage", err)
	}
}

func TestCmdMaskOperations(t *testing.T) {
	a, out := newTestApp(t)
	id := importTestImage(t, a)
	ctx := context.Background()

	if err := cmdMask(ctx, a, []string{"add", id, "linear"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := cmdMask(ctx, a, []string{"sub", id, "1", "brush", "-subtract"}); err != nil {
		t.Fatalf("sub: %v", err)
	}
	if err := cmdMask(ctx, a, []string{"dup", id, "1", "-invert"}); err != nil {
		t.Fatalf("dup: %v", err)
	}
	if err := cmdMask(ctx, a, []string{"hide", id, "2"}); err != nil {
		t.Fatalf("hide: %v", err)
	}
	if err := cmdMask(ctx, a, []string{"opacity", id, "1", "40%"}); err != nil {
		t.Fatalf("opacity: %v", err)
	}

	s := loadState(t, a, id)
	if len(s.Masks) != 2 {
		t.Fatalf("got %d masks, want 2", len(s.Masks))
	}
	first, dup := s.Masks[0], s.Masks[1]
	if first.Opacity != 40 || len(first.SubMasks) != 2 || first.SubMasks[1].Mode != mask.Subtractive {
		t.Fatalf("first = %+v", first)
	}
	if !dup.Invert || dup.Visible || dup.ID == first.ID {
		t.Fatalf("dup = %+v", dup)
	}

	out.Reset()
	if err := cmdMask(ctx, a, []string{"list", id}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "hidden,inverted") {
		t.Fatalf("list output:\n%s", out.String())
	}

	if err := cmdMask(ctx, a, []string{"remove", id, "2"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n := len(loadState(t, a, id).Masks); n != 1 {
		t.Fatalf("got %d masks after remove", n)
	}
	if err := cmdMask(ctx, a, []string{"spin", id, "1"}); !errors.Is(err, errUsage) {
		t.Fatalf("err = %v, want usage", err)
	}
}

func TestCmdBrushAndMove(t *testing.T) {
	a, _ := newTestApp(t)
	id := importTestImage(t, a)
	ctx := context.Background()

	if err := cmdMask(ctx, a, []string{"add", id, "radial"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := cmdBrush(ctx, a, []string{id, "1", "-size", "0.1", "0.2,0.2", "0.4,0.4"}); err != nil {
		t.Fatalf("brush: %v", err)
	}
	if err := cmdBrush(ctx, a, []string{id, "1", "-erase", "0.3,0.3"}); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := cmdMove(ctx, a, []string{id, "1", "center", "0.25,0.75"}); err != nil {
		t.Fatalf("move: %v", err)
	}

	m := loadState(t, a, id).Masks[0]
	radial, ok := findSubMask(m, mask.TypeRadial, "")
	if !ok || radial.Radial.CenterX != 0.25 || radial.Radial.CenterY != 0.75 {
		t.Fatalf("radial = %+v", radial.Radial)
	}
	brush, ok := findSubMask(m, mask.TypeBrush, "")
	if !ok || len(brush.Lines) != 2 {
		t.Fatalf("brush = %+v", brush)
	}
	if brush.Lines[0].BrushSize != 0.1 || brush.Lines[1].Tool != mask.ToolEraser {
		t.Fatalf("lines = %+v", brush.Lines)
	}
	if brush.Lines[1].Order <= brush.Lines[0].Order {
		t.Fatalf("stroke order not increasing: %d then %d", brush.Lines[0].Order, brush.Lines[1].Order)
	}

	if err := cmdMove(ctx, a, []string{id, "1", "start", "0.1,0.1"}); !errors.Is(err, mask.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for missing linear", err)
	}
}

func TestCmdRateProjectsDelete(t *testing.T) {
	a, out := newTestApp(t)
	id := importTestImage(t, a)
	ctx := context.Background()

	if err := cmdRate(ctx, a, []string{id, "4"}); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if err := cmdProjects(ctx, a, nil); err != nil {
		t.Fatalf("projects: %v", err)
	}
	if !strings.Contains(out.String(), id+": test.png ****.") {
		t.Fatalf("projects output: %q", out.String())
	}
	if err := cmdDelete(ctx, a, []string{id}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := cmdDelete(ctx, a, []string{id}); err == nil {
		t.Fatalf("expected error deleting a missing project")
	}
}

func TestCmdImportFromDisk(t *testing.T) {
	a, out := newTestApp(t)
	path := filepath.Join(t.TempDir(), "shot.png")
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := cmdImport(context.Background(), a, []string{path}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out.String(), "shot.png") || len(a.store.Projects()) != 1 {
		t.Fatalf("import output %q, projects %d", out.String(), len(a.store.Projects()))
	}
}

func TestRunUnknownCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Home = t.TempDir()
	if code := Run(context.Background(), cfg, []string{"frobnicate"}); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if code := Run(context.Background(), cfg, []string{"rate"}); code != 2 {
		t.Fatalf("usage exit code = %d, want 2", code)
	}
}

func TestCmdMaskReorder(t *testing.T) {
	a, _ := newTestApp(t)
	id := importTestImage(t, a)
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C"} {
		if err := cmdMask(ctx, a, []string{"add", id, "radial", name}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	names := func() string {
		var s string
		for _, m := range loadState(t, a, id).Masks {
			s += m.Name
		}
		return s
	}

	if err := cmdMask(ctx, a, []string{"up", id, "C"}); err != nil {
		t.Fatalf("up: %v", err)
	}
	if got := names(); got != "ACB" {
		t.Fatalf("order after up = %s", got)
	}
	if err := cmdMask(ctx, a, []string{"down", id, "1"}); err != nil {
		t.Fatalf("down: %v", err)
	}
	if got := names(); got != "CAB" {
		t.Fatalf("order after down = %s", got)
	}
	if err := cmdMask(ctx, a, []string{"up", id, "C"}); err != nil {
		t.Fatalf("up at top: %v", err)
	}
	if got := names(); got != "CAB" {
		t.Fatalf("moving the first mask up should keep the order, got %s", got)
	}
}

func TestCmdExportBulk(t *testing.T) {
	a, out := newTestApp(t)
	first := importTestImage(t, a)
	second := importTestImage(t, a)
	dir := filepath.Join(t.TempDir(), "out")
	ctx := context.Background()

	if err := cmdExport(ctx, a, []string{"-dir", dir, first, second}); err != nil {
		t.Fatalf("export: %v\n%s", err, out.String())
	}
	for _, id := range []string{first, second} {
		fi, err := os.Stat(filepath.Join(dir, "test-"+id[:8]+".jpg"))
		if err != nil || fi.Size() == 0 {
			t.Fatalf("export of %s missing: %v", id, err)
		}
	}
	if !strings.Contains(out.String(), "Exported 2 JPEG(s).") {
		t.Fatalf("output:\n%s", out.String())
	}

	out.Reset()
	err := cmdExport(ctx, a, []string{"-dir", dir, first, "../../etc"})
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("err = %v, want one failure", err)
	}
	if !strings.Contains(out.String(), "Exported 1 JPEG(s).") {
		t.Fatalf("a failing project should not stop the others:\n%s", out.String())
	}
	if err := cmdExport(ctx, a, []string{"-dir", dir}); !errors.Is(err, errUsage) {
		t.Fatalf("err = %v, want usage", err)
	}
}

func TestCmdHistogram(t *testing.T) {
	a, out := newTestApp(t)
	id := importTestImage(t, a)
	path := filepath.Join(t.TempDir(), "hist.png")

	if err := cmdHistogram(context.Background(), a, []string{id, path}); err != nil {
		t.Fatalf("histogram: %v", err)
	}
	for _, label := range []string{"L |", "R |", "G |", "B |"} {
		if !strings.Contains(out.String(), label) {
			t.Fatalf("missing %q row:\n%s", label, out.String())
		}
	}
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		t.Fatalf("histogram image not written: %v", err)
	}
	if err := cmdHistogram(context.Background(), a, nil); !errors.Is(err, errUsage) {
		t.Fatalf("err = %v, want usage", err)
	}
}
