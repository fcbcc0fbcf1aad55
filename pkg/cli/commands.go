package cli

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/image/draw"

	"github.com/Fepozopo/maskedit/pkg/histogram"
	"github.com/Fepozopo/maskedit/pkg/logging"
	"github.com/Fepozopo/maskedit/pkg/mask"
	"github.com/Fepozopo/maskedit/pkg/maskraster"
	"github.com/Fepozopo/maskedit/pkg/render"
	"github.com/Fepozopo/maskedit/pkg/segment"
	"github.com/Fepozopo/maskedit/pkg/storage"
)

var fields = NewMetaStore(Fields)

func cmdImport(_ context.Context, a *app, args []string) error {
	if len(args) == 0 {
		p, err := PromptLineOrFzf("Image to import [enter a path, or '/' to use fzf]: ")
		if err != nil || p == "" {
			return errUsage
		}
		args = []string{p}
	}
	for _, path := range args {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		id, err := a.store.Import(filepath.Base(path), raw)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		a.printf("%s\t%s\n", id, filepath.Base(path))
	}
	return nil
}

func cmdProjects(_ context.Context, a *app, _ []string) error {
	projects := a.store.Projects()
	slices.SortStableFunc(projects, func(x, y storage.Metadata) int { return cmp.Compare(y.ModifiedAt, x.ModifiedAt) })
	for _, line := range projectLines(projects) {
		a.printf("%s\n", line)
	}
	return nil
}

func cmdInfo(_ context.Context, a *app, _ []string) error {
	info := a.store.Info()
	a.printf("Projects: %d\nStorage: %s\nLocation: %s\n", info.ProjectCount, humanBytes(info.TotalSizeBytes), a.store.Root)
	return nil
}

func cmdShow(ctx context.Context, a *app, args []string) error {
	id, _, err := a.projectID(args)
	if err != nil {
		return err
	}
	p, err := a.store.Project(id)
	if err != nil {
		return err
	}
	md := p.Metadata
	a.printf("ID:       %s\nFile:     %s\nRating:   %s\nCreated:  %s\nModified: %s\n",
		md.ID, md.FileName, stars(md.Rating),
		time.UnixMilli(md.CreatedAt).Format(time.DateTime),
		time.UnixMilli(md.ModifiedAt).Format(time.DateTime))

	raw, err := a.store.LoadRawBytes(id)
	if err != nil {
		return err
	}
	sess, err := render.OpenSession(ctx, a.dec, raw, a.lim)
	if err != nil {
		return err
	}
	defer sess.Close()
	meta, err := sess.Metadata(ctx)
	if err != nil {
		return err
	}
	var exif map[string]string
	if json.Unmarshal([]byte(meta), &exif) == nil && len(exif) > 0 {
		keys := make([]string, 0, len(exif))
		for k := range exif {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		a.printf("EXIF:\n")
		for _, k := range keys {
			if exif[k] != "" {
				a.printf("  %-17s %s\n", k+":", exif[k])
			}
		}
	}
	printMasks(a.out, mask.LoadEditState([]byte(p.Adjustments)))
	return nil
}

func cmdRate(_ context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return errUsage
	}
	return a.store.SetRating(args[0], n)
}

func cmdDelete(_ context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if _, err := a.store.Project(args[0]); err != nil {
		return err
	}
	return a.store.Delete(args[0])
}

func cmdFields(_ context.Context, a *app, _ []string) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, f := range Fields {
		fmt.Fprintf(tw, "%s\t%s\t%s..%s\t%s\n", f.Name, f.Section, formatNumber(f.Min), formatNumber(f.Max), f.Label)
	}
	return tw.Flush()
}

// editState applies fn to the persisted edit state of a project without
// rendering it.
func (a *app) editState(id string, fn func(mask.EditState, *mask.StrokeCounter) (mask.EditState, error)) (mask.EditState, error) {
	p, err := a.store.Project(id)
	if err != nil {
		return mask.EditState{}, err
	}
	s := mask.LoadEditState([]byte(p.Adjustments))
	strokes := &mask.StrokeCounter{}
	strokes.Observe(s.MaxStrokeOrder())
	next, err := fn(s, strokes)
	if err != nil {
		return s, err
	}
	data, err := next.Encode()
	if err != nil {
		return s, err
	}
	return next, a.store.SaveAdjustments(id, data)
}

// setAdjustments applies name=value assignments to a.
func setAdjustments(adj *mask.Adjustments, assignments []string) error {
	for _, as := range assignments {
		f, v, err := fields.ParseAssignment(as)
		if err != nil {
			return err
		}
		if err := f.Set(adj, v); err != nil {
			return err
		}
	}
	return nil
}

func cmdSet(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	ref := fs.String("mask", "", "mask id, position or name")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 2 {
		return errUsage
	}
	_, err = a.editState(pos[0], func(s mask.EditState, _ *mask.StrokeCounter) (mask.EditState, error) {
		if *ref == "" {
			adj := s.Adjustments.Clone()
			if err := setAdjustments(&adj, pos[1:]); err != nil {
				return s, err
			}
			return s.WithAdjustments(adj), nil
		}
		m, err := FindMask(s, *ref)
		if err != nil {
			return s, err
		}
		var setErr error
		next, err := s.UpdateMask(m.ID, func(m *mask.Mask) { setErr = setAdjustments(&m.Adjustments, pos[1:]) })
		if err == nil {
			err = setErr
		}
		if err != nil {
			return s, err
		}
		return next, nil
	})
	return err
}

func printMasks(w io.Writer, s mask.EditState) {
	if len(s.Masks) == 0 {
		fmt.Fprintln(w, "Masks: none")
		return
	}
	fmt.Fprintln(w, "Masks:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, m := range s.Masks {
		var flags []string
		if !m.Visible {
			flags = append(flags, "hidden")
		}
		if m.Invert {
			flags = append(flags, "inverted")
		}
		if m.Adjustments.IsNeutral() {
			flags = append(flags, "neutral")
		}
		subs := make([]string, len(m.SubMasks))
		for j, sub := range m.SubMasks {
			subs[j] = string(sub.Type)
			if sub.Mode == mask.Subtractive {
				subs[j] = "-" + subs[j]
			}
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s%%\t[%s]\t%s\n", i+1, m.Name, m.ID,
			formatNumber(m.Opacity), strings.Join(subs, " "), strings.Join(flags, ","))
	}
	tw.Flush()
}

func cmdMask(_ context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	op, id := args[0], args[1]
	if op == "list" {
		p, err := a.store.Project(id)
		if err != nil {
			return err
		}
		printMasks(a.out, mask.LoadEditState([]byte(p.Adjustments)))
		return nil
	}
	fs := flag.NewFlagSet("mask", flag.ContinueOnError)
	subtract := fs.Bool("subtract", false, "add the sub-mask in subtractive mode")
	invert := fs.Bool("invert", false, "invert the duplicate")
	pos, err := parseFlags(fs, args[2:])
	if err != nil {
		return err
	}
	mode := mask.Additive
	if *subtract {
		mode = mask.Subtractive
	}

	need := func(n int) error {
		if len(pos) < n {
			return errUsage
		}
		return nil
	}
	var created string
	s, err := a.editState(id, func(s mask.EditState, _ *mask.StrokeCounter) (mask.EditState, error) {
		if op == "add" {
			if err := need(1); err != nil {
				return s, err
			}
			name := fmt.Sprintf("Mask %d", len(s.Masks)+1)
			if len(pos) > 1 {
				name = strings.Join(pos[1:], " ")
			}
			m := mask.NewMask(name, mask.NewSubMask(mask.ParseType(pos[0]), mode))
			created = m.ID
			return s.WithMask(m), nil
		}
		if err := need(1); err != nil {
			return s, err
		}
		m, err := FindMask(s, pos[0])
		if err != nil {
			return s, err
		}
		switch op {
		case "sub":
			if err := need(2); err != nil {
				return s, err
			}
			sub := mask.NewSubMask(mask.ParseType(pos[1]), mode)
			created = sub.ID
			return s.AddSubMask(m.ID, sub)
		case "remove":
			return s.RemoveMask(m.ID)
		case "up":
			return s.MoveMask(m.ID, -1)
		case "down":
			return s.MoveMask(m.ID, 1)
		case "dup":
			next, dupID, err := s.DuplicateMask(m.ID, *invert)
			created = dupID
			return next, err
		case "invert":
			return s.UpdateMask(m.ID, func(m *mask.Mask) { m.Invert = !m.Invert })
		case "hide", "show":
			return s.UpdateMask(m.ID, func(m *mask.Mask) { m.Visible = op == "show" })
		case "opacity":
			if err := need(2); err != nil {
				return s, err
			}
			v, err := strconv.ParseFloat(strings.TrimSuffix(pos[1], "%"), 64)
			if err != nil {
				return s, fmt.Errorf("invalid opacity %q", pos[1])
			}
			return s.UpdateMask(m.ID, func(m *mask.Mask) { m.Opacity = v })
		}
		return s, fmt.Errorf("unknown mask operation %q: %w", op, errUsage)
	})
	if err != nil {
		return err
	}
	if created != "" {
		a.printf("%s\n", created)
	}
	printMasks(a.out, s)
	return nil
}

func cmdBrush(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("brush", flag.ContinueOnError)
	erase := fs.Bool("erase", false, "paint with the eraser")
	size := fs.Float64("size", 0.05, "brush size as a fraction of the shorter side")
	feather := fs.Float64("feather", 0.5, "edge softness, 0..1")
	subID := fs.String("sub", "", "brush sub-mask id; defaults to the first brush")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 3 {
		return errUsage
	}
	pts, err := ParsePoints(pos[2:])
	if err != nil {
		return err
	}
	st := mask.Stroke{Tool: mask.ToolBrush, BrushSize: *size, Feather: *feather, Points: pts}
	if *erase {
		st.Tool = mask.ToolEraser
	}
	_, err = a.editState(pos[0], func(s mask.EditState, strokes *mask.StrokeCounter) (mask.EditState, error) {
		m, err := FindMask(s, pos[1])
		if err != nil {
			return s, err
		}
		sub, ok := findSubMask(m, mask.TypeBrush, *subID)
		if !ok {
			sub = mask.NewSubMask(mask.TypeBrush, mask.Additive)
			if s, err = s.AddSubMask(m.ID, sub); err != nil {
				return s, err
			}
		}
		return s.AppendStroke(m.ID, sub.ID, st, strokes)
	})
	return err
}

func parseHandle(s string) (mask.Handle, mask.Type, error) {
	switch strings.ToLower(s) {
	case "center", "centre":
		return mask.RadialCenter, mask.TypeRadial, nil
	case "start":
		return mask.LinearStart, mask.TypeLinear, nil
	case "end":
		return mask.LinearEnd, mask.TypeLinear, nil
	}
	return 0, "", fmt.Errorf("unknown handle %q, want center, start or end", s)
}

func cmdMove(_ context.Context, a *app, args []string) error {
	if len(args) != 4 {
		return errUsage
	}
	h, t, err := parseHandle(args[2])
	if err != nil {
		return err
	}
	pts, err := ParsePoints(args[3:])
	if err != nil || len(pts) != 1 {
		return errUsage
	}
	_, err = a.editState(args[0], func(s mask.EditState, _ *mask.StrokeCounter) (mask.EditState, error) {
		m, err := FindMask(s, args[1])
		if err != nil {
			return s, err
		}
		sub, ok := findSubMask(m, t, "")
		if !ok {
			return s, fmt.Errorf("mask %q has no %s sub-mask: %w", m.Name, t, mask.ErrNotFound)
		}
		return s.MoveHandle(m.ID, sub.ID, h, pts[0])
	})
	return err
}

func cmdSegment(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("segment", flag.ContinueOnError)
	overwrite := fs.Bool("overwrite", false, "replace an existing subject mask")
	subID := fs.String("sub", "", "ai-subject sub-mask id; defaults to the first one")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 3 {
		return errUsage
	}
	lasso, err := ParsePoints(pos[2:])
	if err != nil {
		return err
	}
	if len(lasso) < 3 {
		return segment.ErrTooFewPoints
	}
	runner, err := segment.NewDefaultRunner(segment.NewModelStore(a.cfg), a.cfg.OrtLibrary)
	if err != nil {
		return err
	}
	defer runner.Close()

	doc, err := a.open(ctx, pos[0])
	if err != nil {
		return err
	}
	defer doc.Close()
	preview, err := doc.fullFrame(ctx)
	if err != nil {
		return err
	}
	gen := segment.NewGenerator(runner)
	a.printf("Generating subject mask...\n")
	err = doc.Update(func(s mask.EditState) (mask.EditState, error) {
		m, err := FindMask(s, pos[1])
		if err != nil {
			return s, err
		}
		sub, ok := findSubMask(m, mask.TypeAiSubject, *subID)
		if !ok {
			sub = mask.NewSubMask(mask.TypeAiSubject, mask.Additive)
			if s, err = s.AddSubMask(m.ID, sub); err != nil {
				return s, err
			}
		}
		return gen.Apply(ctx, s, m.ID, sub.ID, preview, lasso, *overwrite)
	})
	if errors.Is(err, mask.ErrAiMaskExists) {
		return fmt.Errorf("%w; pass -overwrite to replace it", err)
	}
	if err != nil {
		return err
	}
	a.printf("Subject mask stored.\n")
	return nil
}

// maskOnPreview opens a project, waits for its full preview and resolves
// the referenced mask.
func (a *app) maskOnPreview(ctx context.Context, id, ref string) (*document, image.Image, mask.Mask, error) {
	doc, err := a.open(ctx, id)
	if err != nil {
		return nil, nil, mask.Mask{}, err
	}
	m, err := FindMask(doc.State(), ref)
	if err != nil {
		doc.Close()
		return nil, nil, mask.Mask{}, err
	}
	preview, err := doc.fullFrame(ctx)
	if err != nil {
		doc.Close()
		return nil, nil, mask.Mask{}, err
	}
	return doc, preview, m, nil
}

// tinted draws the selection overlay of m over preview.
func tinted(preview image.Image, m mask.Mask) (*image.NRGBA, bool) {
	b := preview.Bounds()
	overlay, ok := maskraster.MaskOverlay(m, b.Dx(), b.Dy())
	if !ok {
		return nil, false
	}
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), preview, b.Min, draw.Src)
	draw.Draw(out, out.Bounds(), overlay, image.Point{}, draw.Over)
	return out, true
}

func cmdOverlay(ctx context.Context, a *app, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	doc, preview, m, err := a.maskOnPreview(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	defer doc.Close()
	out, ok := tinted(preview, m)
	if !ok {
		return fmt.Errorf("mask %q already has adjustments; its selection is no longer shown", m.Name)
	}
	if err := SaveImage(args[2], out); err != nil {
		return err
	}
	if PreviewSupported() {
		_ = PreviewImage(out)
	}
	a.printf("Saved to %s\n", args[2])
	return nil
}

func cmdOutline(ctx context.Context, a *app, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	doc, preview, m, err := a.maskOnPreview(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	defer doc.Close()
	b := preview.Bounds()
	sel := maskraster.Effective(m, maskraster.Composite(m, b.Dx(), b.Dy()))
	svg, err := maskraster.TraceOutline(sel)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[2], []byte(svg), 0o644); err != nil {
		return err
	}
	a.printf("Saved to %s\n", args[2])
	return nil
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dir := fs.String("dir", "", "export every listed project as a JPEG into this directory")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if *dir != "" {
		if len(pos) == 0 {
			return errUsage
		}
		return a.exportAll(ctx, *dir, pos)
	}
	if len(pos) != 2 {
		return errUsage
	}
	return a.exportOne(ctx, pos[0], pos[1])
}

func (a *app) exportOne(ctx context.Context, id, path string) error {
	doc, err := a.open(ctx, id)
	if err != nil {
		return err
	}
	defer doc.Close()
	return exportTo(ctx, doc, path)
}

// exportName is the file a bulk export writes for p.
func exportName(p storage.Metadata) string {
	stem := strings.TrimSuffix(filepath.Base(p.FileName), filepath.Ext(p.FileName))
	if stem == "" || stem == "." {
		stem = "export"
	}
	return fmt.Sprintf("%s-%s.jpg", stem, p.ID[:min(8, len(p.ID))])
}

// exportAll renders each project in turn. A failing project is reported
// and skipped; the error lists how many failed.
func (a *app) exportAll(ctx context.Context, dir string, ids []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var failed int
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := a.store.Project(id)
		if err == nil {
			path := filepath.Join(dir, exportName(p.Metadata))
			if err = a.exportOne(ctx, id, path); err == nil {
				a.printf("[%d/%d] %s -> %s\n", i+1, len(ids), id, path)
				continue
			}
		}
		failed++
		logging.Logger().Warn("bulk export failed", "project", id, "err", err)
		a.printf("[%d/%d] %s failed: %v\n", i+1, len(ids), id, err)
	}
	a.printf("Exported %d JPEG(s).\n", len(ids)-failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d exports failed", failed, len(ids))
	}
	return nil
}

func cmdHistogram(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	doc, err := a.open(ctx, args[0])
	if err != nil {
		return err
	}
	defer doc.Close()
	preview, err := doc.fullFrame(ctx)
	if err != nil {
		return err
	}
	d := histogram.Compute(preview)
	for _, row := range []struct {
		label string
		curve []float64
	}{{"L", d.Luma}, {"R", d.Red}, {"G", d.Green}, {"B", d.Blue}} {
		a.printf("%s |%s|\n", row.label, histogram.Sparkline(row.curve, 64))
	}
	if len(args) == 2 {
		if err := SaveImage(args[1], histogram.Render(d, 512, 128)); err != nil {
			return err
		}
		a.printf("Saved to %s\n", args[1])
	}
	return nil
}

func exportTo(ctx context.Context, doc *document, path string) error {
	data, err := doc.Export(ctx)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return os.WriteFile(path, data, 0o644)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode export: %w", err)
	}
	return SaveImage(path, img)
}
