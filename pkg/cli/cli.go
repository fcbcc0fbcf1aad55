package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/Fepozopo/maskedit/pkg/config"
)

var errUsage = errors.New("usage")

// command is one subcommand of the maskedit binary.
type command struct {
	Name    string
	Args    string
	Summary string
	Run     func(ctx context.Context, a *app, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"import", "<file>...", "import image files as new projects", cmdImport},
		{"projects", "", "list projects, newest first", cmdProjects},
		{"info", "", "show project count and disk usage", cmdInfo},
		{"show", "[id]", "show a project's metadata and masks", cmdShow},
		{"rate", "<id> <0-5>", "set a project's star rating", cmdRate},
		{"delete", "<id>", "delete a project", cmdDelete},
		{"set", "<id> [-mask ref] name=value...", "set global or mask adjustments", cmdSet},
		{"fields", "", "list adjustable fields and their ranges", cmdFields},
		{"mask", "<list|add|sub|remove|up|down|dup|invert|hide|show|opacity> <id> ...", "edit masks", cmdMask},
		{"brush", "<id> <mask> [-erase] [-size s] [-feather f] x,y...", "paint a stroke into a mask", cmdBrush},
		{"move", "<id> <mask> <center|start|end> x,y", "move a radial or linear handle", cmdMove},
		{"segment", "<id> <mask> [-overwrite] x,y x,y x,y...", "generate a subject mask from a lasso", cmdSegment},
		{"overlay", "<id> <mask> <out.png>", "write the preview with the mask selection tinted", cmdOverlay},
		{"outline", "<id> <mask> <out.svg>", "trace the mask selection as SVG", cmdOutline},
		{"export", "<id> <out.jpg> | -dir <dir> <id>...", "render full resolution images", cmdExport},
		{"histogram", "<id> [out.png]", "show the tone histogram of the preview", cmdHistogram},
		{"edit", "[id]", "interactive editor with terminal previews", cmdEdit},
		{"tui", "[id]", "full screen slider editor", cmdTUI},
		{"update", "", "check for a newer release", cmdUpdate},
		{"version", "", "print the version", cmdVersion},
		{"help", "", "show this help message", cmdHelp},
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: maskedit <command> [arguments]")
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s %s\t%s\n", c.Name, c.Args, c.Summary)
	}
	tw.Flush()
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.Name == name {
			return c, true
		}
	}
	return command{}, false
}

// Run executes one command line and returns the process exit code.
func Run(ctx context.Context, cfg config.Config, args []string) int {
	if len(args) == 0 {
		args = []string{"edit"}
	}
	c, ok := lookupCommand(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		usage(os.Stderr)
		return 2
	}
	a := newApp(cfg)
	if err := c.Run(ctx, a, args[1:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "usage: maskedit %s %s\n", c.Name, c.Args)
			return 2
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", c.Name, err)
		return 1
	}
	return 0
}

// parseFlags parses interleaved flags and positional arguments.
func parseFlags(fs *flag.FlagSet, args []string) ([]string, error) {
	fs.SetOutput(io.Discard)
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

func cmdHelp(_ context.Context, a *app, _ []string) error {
	usage(a.out)
	return nil
}

func cmdVersion(_ context.Context, a *app, _ []string) error {
	a.printf("maskedit %s\n", Version)
	return nil
}

func cmdUpdate(ctx context.Context, _ *app, _ []string) error {
	return CheckForUpdates(ctx)
}
