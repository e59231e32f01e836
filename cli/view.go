package cli

// This file contains the view command for displaying the results of a round.

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/perfgo/kboot/cycleprof"
	"github.com/perfgo/kboot/history"
	"github.com/perfgo/kboot/model"
	"github.com/urfave/cli/v2"
)

// profileName is the cycle profile written next to a round's reports
const profileName = "cycles.pb.gz"

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

func parseViewArgs(in []string) (idArg string, pprofArgs []string) {
	if len(in) == 0 {
		return "0", nil
	}

	// If first arg is "--", use default "0" and rest are pprof args
	if in[0] == "--" {
		return "0", in[1:]
	}

	// Check if first arg looks like a pprof flag instead of an ID
	// A negative index is: "-" followed by only digits (e.g., "-1", "-2")
	// A pprof flag is: "-" followed by non-digit or equals (e.g., "-http=:8080", "-top")
	if len(in[0]) > 1 && in[0][0] == '-' {
		// Check if it's a valid negative integer
		if _, err := strconv.ParseInt(in[0], 10, 64); err != nil {
			// Not a valid negative integer, so it's a pprof flag
			return "0", in
		}
	}

	// First arg is the ID/index, rest are pprof args (with optional "--" removed)
	return in[0], removeFirstDashDash(in[1:])
}

// workspaceArg strips a leading "-w <dir>", "--workspace <dir>" or
// "--workspace=<dir>" from the view arguments. Flag parsing is skipped for
// view so that pprof flags pass through untouched.
func workspaceArg(in []string) (string, []string) {
	if len(in) == 0 {
		return ".", in
	}
	switch arg := in[0]; {
	case arg == "-w" || arg == "--workspace" || arg == "-workspace":
		if len(in) > 1 {
			return in[1], in[2:]
		}
	case strings.HasPrefix(arg, "--workspace="):
		return strings.TrimPrefix(arg, "--workspace="), in[1:]
	case strings.HasPrefix(arg, "-w="):
		return strings.TrimPrefix(arg, "-w="), in[1:]
	}
	return ".", in
}

// profileMode reports whether pprof should be opened and strips the --pprof
// switch from the arguments handed to it.
func profileMode(pprofArgs []string) (bool, []string) {
	if len(pprofArgs) == 0 {
		return false, pprofArgs
	}
	rest := make([]string, 0, len(pprofArgs))
	for _, arg := range pprofArgs {
		if arg == "--pprof" || arg == "-pprof" {
			continue
		}
		rest = append(rest, arg)
	}
	return true, rest
}

func (a *App) view(ctx *cli.Context) error {
	// Parse arguments to extract ID/index and pprof args
	root, args := workspaceArg(ctx.Args().Slice())
	arg, pprofArgs := parseViewArgs(args)

	paths, err := loadPaths(root)
	if err != nil {
		return err
	}

	rounds, err := a.loadAllRounds(paths)
	if err != nil {
		return err
	}

	r, err := history.Find(rounds, arg)
	if err != nil {
		return err
	}

	if ok, args := profileMode(pprofArgs); ok {
		return a.displayProfile(r, args)
	}

	a.displayRound(r)
	return nil
}

func (a *App) displayRound(r *history.Round) {
	s := r.Summary()

	fmt.Fprintf(a.stdout, "=== Test Round: %s ===\n", r.ID())
	if !r.Live {
		fmt.Fprintf(a.stdout, "Time: %s\n", r.Timestamp.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(a.stdout, "Duration: %s\n", time.Duration(s.DurationMS)*time.Millisecond)
	fmt.Fprintf(a.stdout, "Tests: %d  Passed: %d  Failed: %d  Ignored: %d\n", s.Total, s.Passed, s.Failed, s.Ignored)
	fmt.Fprintf(a.stdout, "Directory: %s\n", r.Dir)
	fmt.Fprintln(a.stdout)

	for _, g := range r.Groups {
		a.displayGroup(g)
	}
}

func (a *App) displayGroup(g history.Group) {
	rep := g.Report
	fmt.Fprintf(a.stdout, "--- [%d] %s (%d/%d passed, %d failed, %d ignored, %dms) ---\n",
		g.Index, rep.Name, rep.Summary.Passed, rep.Summary.Total, rep.Summary.Failed, rep.Summary.Ignored, rep.Summary.DurationMS)

	for _, m := range rep.Modules {
		fmt.Fprintf(a.stdout, "  %s\n", m.Name)
		for _, tc := range m.Tests {
			fmt.Fprintf(a.stdout, "    %s %s (%d cycles)\n", outcomeMark(tc.Result), tc.Test, tc.CycleCount)
			if tc.Location != nil {
				fmt.Fprintf(a.stdout, "        at %s\n", *tc.Location)
			}
			if tc.Message != nil {
				fmt.Fprintf(a.stdout, "        %s\n", *tc.Message)
			}
		}
	}
	fmt.Fprintln(a.stdout)
}

func outcomeMark(result string) string {
	switch result {
	case model.OutcomePass:
		return "✓"
	case model.OutcomeFail:
		return "✗"
	default:
		return "-"
	}
}

func (a *App) displayProfile(r *history.Round, pprofArgs []string) error {
	profilePath := filepath.Join(r.Dir, profileName)

	p := cycleprof.FromGroups(r.Reports(), r.Timestamp)
	if err := cycleprof.WriteFile(profilePath, p); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Profile: %s (%d test cases)\n", profilePath, len(p.Sample))

	// Build pprof command with any additional args
	args := []string{"tool", "pprof"}
	args = append(args, pprofArgs...)
	args = append(args, profilePath)

	cmd := exec.Command("go", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = r.Dir

	return cmd.Run()
}
