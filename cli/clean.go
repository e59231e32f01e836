package cli

// This file contains the clean command.

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/urfave/cli/v2"
)

func (a *App) clean(ctx *cli.Context) error {
	paths, err := loadPaths(ctx.String("workspace"))
	if err != nil {
		return err
	}

	if _, err := os.Stat(paths.Build); os.IsNotExist(err) {
		a.logger.Info().Str("path", paths.Build).Msg("Build directory does not exist, nothing to clean")
	} else {
		if err := os.RemoveAll(paths.Build); err != nil {
			return fmt.Errorf("failed to clean build directory: %w", err)
		}
		a.logger.Info().Str("path", paths.Build).Msg("Cleaned build directory")
	}

	cmd := exec.CommandContext(ctx.Context, "cargo", "clean")
	cmd.Dir = paths.Root
	cmd.Stdout = a.stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			a.logger.Warn().Int("exit_code", exitErr.ExitCode()).Msg("cargo clean exited with a non-zero status")
			return nil
		}
		return fmt.Errorf("failed to execute cargo clean: %w", err)
	}

	a.logger.Info().Msg("Successfully ran cargo clean")
	return nil
}
