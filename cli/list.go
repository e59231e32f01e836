package cli

// This file contains the list command for displaying archived test rounds.

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/perfgo/kboot/history"
	"github.com/perfgo/kboot/workspace"
	"github.com/urfave/cli/v2"
)

// loadPaths resolves the build directory layout of the workspace at root.
func loadPaths(root string) (workspace.Paths, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return workspace.Paths{}, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	cfg, err := workspace.LoadConfig(abs)
	if err != nil {
		return workspace.Paths{}, err
	}

	return workspace.NewPaths(abs, cfg.BuildDir), nil
}

// loadAllRounds returns the live round, if any, followed by the archived
// rounds, newest first.
func (a *App) loadAllRounds(paths workspace.Paths) ([]history.Round, error) {
	rounds, err := history.LoadRounds(a.logger, paths.Build)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	live, err := history.LoadLive(a.logger, paths.Testing)
	if err != nil {
		return nil, fmt.Errorf("failed to load live round: %w", err)
	}
	if live != nil {
		rounds = append([]history.Round{*live}, rounds...)
	}

	return rounds, nil
}

func (a *App) list(ctx *cli.Context) error {
	limit := ctx.Int("limit")

	paths, err := loadPaths(ctx.String("workspace"))
	if err != nil {
		return err
	}

	rounds, err := a.loadAllRounds(paths)
	if err != nil {
		return err
	}

	if len(rounds) == 0 {
		fmt.Fprintf(a.stdout, "No test rounds found in %s\n", paths.Build)
		return nil
	}

	// Apply limit
	displayRounds := rounds
	if limit > 0 && limit < len(displayRounds) {
		displayRounds = displayRounds[:limit]
	}

	fmt.Fprintf(a.stdout, "\n=== Test rounds (%d total) ===\n\n", len(rounds))

	for _, r := range displayRounds {
		s := r.Summary()

		status := "✓"
		if s.Failed > 0 {
			status = "✗"
		}

		label := r.Timestamp.Format("2006-01-02 15:04:05")
		if r.Live {
			label = "in progress"
		}

		duration := (time.Duration(s.DurationMS) * time.Millisecond).Round(time.Millisecond)

		fmt.Fprintf(a.stdout, "%s  %s  [%s]  id=%s\n", status, label, duration, r.ID())
		fmt.Fprintf(a.stdout, "   Groups: %d  Tests: %d  Passed: %d  Failed: %d  Ignored: %d\n",
			len(r.Groups), s.Total, s.Passed, s.Failed, s.Ignored)
		for _, g := range r.Groups {
			gs := g.Report.Summary
			fmt.Fprintf(a.stdout, "   [%d] %s: %d/%d passed\n", g.Index, g.Report.Name, gs.Passed, gs.Total)
		}
		fmt.Fprintf(a.stdout, "   %s\n", r.Dir)
		fmt.Fprintln(a.stdout)
	}

	fmt.Fprintln(a.stdout, "View results: kboot view <ID>")
	fmt.Fprintln(a.stdout, "View cycle profile: kboot view <ID> --pprof")

	return nil
}
