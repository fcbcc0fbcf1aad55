package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Fepozopo/maskedit/pkg/mask"
)

func replUsage() {
	fmt.Println("Commands available:")
	fmt.Println("  /  - select an adjustment and set its value")
	fmt.Println("  t  - choose what adjustments apply to (global or a mask)")
	fmt.Println("  m  - list masks")
	fmt.Println("  a  - add a mask")
	fmt.Println("  i  - toggle invert on the current mask")
	fmt.Println("  p  - preview (the selection while a mask is still neutral)")
	fmt.Println("  s  - export the full resolution image")
	fmt.Println("  u  - check for updates")
	fmt.Println("  h  - show this help message")
	fmt.Println("  q  - quit")
}

// editor is the state of one interactive session.
type editor struct {
	a      *app
	doc    *document
	target string // mask id, empty for global adjustments
}

func (e *editor) targetName() string {
	if e.target == "" {
		return "global"
	}
	if m, ok := e.doc.State().Mask(e.target); ok {
		return "mask " + m.Name
	}
	e.target = ""
	return "global"
}

func (e *editor) adjustments() mask.Adjustments {
	s := e.doc.State()
	if m, ok := s.Mask(e.target); ok {
		return m.Adjustments
	}
	return s.Adjustments
}

// set stores v in field f of the current target.
func (e *editor) set(f Field, v float64) error {
	return e.doc.Update(func(s mask.EditState) (mask.EditState, error) {
		if e.target == "" {
			adj := s.Adjustments.Clone()
			if err := f.Set(&adj, v); err != nil {
				return s, err
			}
			return s.WithAdjustments(adj), nil
		}
		var setErr error
		next, err := s.UpdateMask(e.target, func(m *mask.Mask) { setErr = f.Set(&m.Adjustments, v) })
		return next, errors.Join(err, setErr)
	})
}

func (e *editor) preview(ctx context.Context) {
	img, err := e.doc.fullFrame(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "preview error: %v\n", err)
		return
	}
	if m, ok := e.doc.State().Mask(e.target); ok {
		if t, ok := tinted(img, m); ok {
			img = t
		}
	}
	if PreviewSupported() {
		_ = PreviewImage(img)
	}
	if info, err := GetImageInfoImage(img); err == nil {
		fmt.Println(info)
	}
}

// chooseField offers fzf first, then a numbered list.
func (e *editor) chooseField() (Field, bool) {
	if name, err := SelectFieldWithFzf(Fields); err == nil {
		if f, err := fields.Lookup(name); err == nil {
			return f, true
		}
	}
	fmt.Println("Adjustment selection (fallback):")
	adj := e.adjustments()
	for i, f := range Fields {
		fmt.Printf("  %2d) %-30s %s\n", i+1, f.Name, formatNumber(f.Get(adj)))
	}
	sel, _ := PromptLine("Enter number or name (leave empty to cancel): ")
	if sel == "" {
		fmt.Println("selection cancelled")
		return Field{}, false
	}
	if i, err := strconv.Atoi(sel); err == nil {
		if i < 1 || i > len(Fields) {
			fmt.Println("invalid selection")
			return Field{}, false
		}
		return Fields[i-1], true
	}
	f, err := fields.Lookup(sel)
	if err != nil {
		fmt.Println(err)
		return Field{}, false
	}
	return f, true
}

func (e *editor) chooseTarget() {
	s := e.doc.State()
	fmt.Println("  0) global")
	for i, m := range s.Masks {
		fmt.Printf("  %d) %s\n", i+1, m.Name)
	}
	sel, _ := PromptLine("Apply adjustments to: ")
	if sel == "" || sel == "0" || strings.EqualFold(sel, "global") {
		e.target = ""
		return
	}
	m, err := FindMask(s, sel)
	if err != nil {
		fmt.Println(err)
		return
	}
	e.target = m.ID
}

func (e *editor) addMask() {
	kind, _ := PromptLine("Mask type (brush, linear, radial, ai-subject) [radial]: ")
	if kind == "" {
		kind = string(mask.TypeRadial)
	}
	name, _ := PromptLine("Name (optional): ")
	err := e.doc.Update(func(s mask.EditState) (mask.EditState, error) {
		if name == "" {
			name = fmt.Sprintf("Mask %d", len(s.Masks)+1)
		}
		m := mask.NewMask(name, mask.NewSubMask(mask.ParseType(kind), mask.Additive))
		e.target = m.ID
		return s.WithMask(m), nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "add mask error: %v\n", err)
		return
	}
	fmt.Printf("Added %s; adjustments now apply to it\n", name)
}

func cmdEdit(ctx context.Context, a *app, args []string) error {
	id, _, err := a.projectID(args)
	if err != nil {
		return err
	}
	doc, err := a.open(ctx, id)
	if err != nil {
		return err
	}
	defer doc.Close()
	e := &editor{a: a, doc: doc}

	fmt.Println("Mask Editor")
	replUsage()
	e.preview(ctx)

	for {
		fmt.Printf("[%s]> ", e.targetName())
		r, _, err := stdin.ReadRune()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read input error: %v\n", err)
			continue
		}
		if r != '\n' {
			// the rest of the line belongs to this key
			stdin.ReadString('\n')
		}

		switch r {
		case '/':
			f, ok := e.chooseField()
			if !ok {
				continue
			}
			fmt.Println("\n" + f.Tooltip() + "\n")
			val, _ := PromptLine(fmt.Sprintf("%s [%s]: ", f.Name, formatNumber(f.Get(e.adjustments()))))
			v, err := f.Parse(val)
			if err != nil {
				fmt.Fprintf(os.Stderr, "input validation error: %v\n", err)
				continue
			}
			if err := e.set(f, v); err != nil {
				fmt.Fprintf(os.Stderr, "apply error: %v\n", err)
				continue
			}
			fmt.Printf("Set %s = %s on %s\n", f.Name, formatNumber(v), e.targetName())
			e.preview(ctx)

		case 't':
			e.chooseTarget()

		case 'm':
			printMasks(os.Stdout, e.doc.State())

		case 'a':
			e.addMask()

		case 'i':
			if e.target == "" {
				fmt.Println("no mask selected")
				continue
			}
			err := e.doc.Update(func(s mask.EditState) (mask.EditState, error) {
				return s.UpdateMask(e.target, func(m *mask.Mask) { m.Invert = !m.Invert })
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "invert error: %v\n", err)
				continue
			}
			e.preview(ctx)

		case 'p':
			e.preview(ctx)

		case 's':
			out, _ := PromptLine("Enter output filename: ")
			if out == "" {
				fmt.Println("no filename provided")
				continue
			}
			if err := exportTo(ctx, doc, out); err != nil {
				fmt.Fprintf(os.Stderr, "failed to export: %v\n", err)
				continue
			}
			fmt.Printf("Saved to %s\n", out)

		case 'u':
			if err := CheckForUpdates(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "update check error: %v\n", err)
			}

		case 'h':
			replUsage()

		case 'q':
			fmt.Println("Exiting...")
			return nil

		default:
			// ignore other keys
		}
	}
}
