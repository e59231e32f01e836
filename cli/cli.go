package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/perfgo/kboot/cli/builder"
	"github.com/perfgo/kboot/cli/kview"
	"github.com/perfgo/kboot/cli/qemu"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "kboot"

// vmRunner boots a disk image and waits for the VM to exit.
type vmRunner interface {
	Run(ctx context.Context, args *qemu.Arguments) (qemu.Result, error)
}

// resultsViewer shows the results of a finished round.
type resultsViewer interface {
	StartIfNeeded(ctx context.Context, opts kview.Options) error
}

type App struct {
	logger  zerolog.Logger
	console io.Writer
	stdout  io.Writer
	now     func() time.Time
	cli     *cli.App

	newBuilder func(logger zerolog.Logger, program string) builder.Builder
	newRunner  func(logger zerolog.Logger) vmRunner
	newViewer  func(logger zerolog.Logger) resultsViewer
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339Nano,
	}
	logger := log.Output(console)

	app := &App{
		logger:  logger,
		console: console,
		stdout:  os.Stdout,
		now:     time.Now,
		newBuilder: func(logger zerolog.Logger, program string) builder.Builder {
			return builder.NewCommand(logger, program, os.Stdout)
		},
		newRunner: func(logger zerolog.Logger) vmRunner {
			return qemu.NewRunner(logger)
		},
		newViewer: func(logger zerolog.Logger) resultsViewer {
			return kview.New(logger)
		},
	}
	app.cli = &cli.App{
		Name:      AppName,
		Usage:     "Boot kernel executables and their tests in QEMU",
		ArgsUsage: "<executable> [test arguments]",
		Description: `kboot is meant to be used as the cargo runner of a kernel workspace:

  [target.'cfg(target_os = "none")']
  runner = "kboot"

Each invocation packages the executable into a disk image and boots it in
QEMU inside docker. Test executables report their results through the debug
console; the results of all test groups of a workspace are collected into
one round under .build/testing and archived when the last group finished.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose (debug) logging",
			},
			&cli.BoolFlag{
				Name:  "no-ktest",
				Usage: "Do not ingest test results",
			},
			qemu.QEMUFlag(),
			qemu.CIFlag(),
			builder.LegacyBootFlag(),
			builder.LimineFlag(),
			builder.RamdiskFlag(),
			builder.ImageBuilderFlag(),
		},
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
		Action: app.run,
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List archived test rounds",
		Action: app.list,
		Flags: []cli.Flag{
			workspaceFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "view",
		Usage:           "View the results of a test round",
		ArgsUsage:       "[-w DIR] [ID|INDEX] [--pprof] [pprof args]",
		Action:          app.view,
		SkipFlagParsing: true,
		Description: `View the results of a test round.

Arguments:
  -w <dir>    Workspace root, must come first (default: current directory)
  0           View the latest round (default)
  -1          View the 2nd latest round
  live        View the round in progress
  <id>        View the round whose ID (archive epoch milliseconds) starts with <id>

Any further arguments switch to the cycle profile of the round, which is
opened with go tool pprof and receives these arguments. --pprof alone opens
the profile without extra arguments.

Examples:
  kboot view                  # Results of the latest round
  kboot view -1               # Results of the round before
  kboot view 0 --pprof        # Cycle profile of the latest round
  kboot view 0 -- -top        # Top test cases by cycles`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "clean",
		Usage:  "Remove the build directory and run cargo clean",
		Action: app.clean,
		Flags: []cli.Flag{
			workspaceFlag(),
		},
	})
	return app
}

func workspaceFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "workspace",
		Aliases: []string{"w"},
		Usage:   "Workspace root (default: current directory)",
		Value:   ".",
	}
}

func (a *App) Run(args []string) error {
	return a.cli.Run(a.hoistFlags(args))
}

// hoistFlags moves kboot flags that follow the executable in front of it.
// cargo appends the arguments given after "--" to the executable path, but
// flag parsing stops at the first positional argument. Arguments that are
// not kboot flags keep their order behind the executable.
func (a *App) hoistFlags(args []string) []string {
	if len(args) < 2 {
		return args
	}

	// flag name -> whether it takes a separate value
	takesValue := make(map[string]bool)
	for _, f := range a.cli.Flags {
		_, isBool := f.(*cli.BoolFlag)
		for _, name := range f.Names() {
			takesValue[name] = !isBool
		}
	}

	front := []string{args[0]}
	i := 1
	for ; i < len(args); i++ {
		arg := args[i]
		if arg == "--" || !strings.HasPrefix(arg, "-") {
			break
		}
		front = append(front, arg)
		name, inline := flagName(arg)
		if takesValue[name] && !inline && i+1 < len(args) {
			i++
			front = append(front, args[i])
		}
	}
	if i >= len(args) || a.cli.Command(args[i]) != nil {
		return args
	}

	var rest []string
	for ; i < len(args); i++ {
		arg := args[i]
		name, inline := flagName(arg)
		value, known := takesValue[name]
		if !strings.HasPrefix(arg, "-") || !known {
			rest = append(rest, arg)
			continue
		}
		front = append(front, arg)
		if value && !inline && i+1 < len(args) {
			i++
			front = append(front, args[i])
		}
	}

	return append(front, rest...)
}

// flagName returns the name of a "-name", "--name" or "--name=value"
// argument and whether the value is inline.
func flagName(arg string) (string, bool) {
	name := strings.TrimLeft(arg, "-")
	if k := strings.IndexByte(name, '='); k >= 0 {
		return name[:k], true
	}
	return name, false
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		if len(commit) > 8 {
			commit = commit[:8]
		}
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	}
}
