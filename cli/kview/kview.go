// Package kview starts the kview results viewer container and opens it in
// the browser.
package kview

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContainerName is the docker container name of the viewer.
const ContainerName = "kview"

// Options configures the viewer container.
type Options struct {
	Image    string
	Port     int
	Wait     time.Duration
	BuildDir string // Mounted at /kview
}

// URL returns the address the viewer listens on.
func (o Options) URL() string {
	return fmt.Sprintf("http://localhost:%d", o.Port)
}

// RunArgs returns the docker run arguments for the viewer.
func (o Options) RunArgs() []string {
	return []string{
		"run", "--rm", "-d",
		"--name", ContainerName,
		"-p", fmt.Sprintf("%d:3000", o.Port),
		"-v", fmt.Sprintf("%s:/kview", o.BuildDir),
		o.Image,
	}
}

// Viewer starts kview through docker.
type Viewer struct {
	logger zerolog.Logger
	docker string
	sleep  func(context.Context, time.Duration) error
	open   func(ctx context.Context, url string) error
}

// New returns a Viewer using the docker CLI and the system browser.
func New(logger zerolog.Logger) *Viewer {
	return &Viewer{
		logger: logger,
		docker: "docker",
		sleep:  sleep,
		open:   openBrowser,
	}
}

// Running reports whether a container named kview is running.
func (v *Viewer) Running(ctx context.Context) (bool, error) {
	out, err := exec.CommandContext(ctx, v.docker, "ps", "--filter", "name="+ContainerName, "--format", "{{.Names}}").Output()
	if err != nil {
		return false, fmt.Errorf("failed to list docker containers: %w", err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == ContainerName {
			return true, nil
		}
	}
	return false, nil
}

// StartIfNeeded starts the viewer unless it is already running, waits for it
// to come up and opens it in the browser.
func (v *Viewer) StartIfNeeded(ctx context.Context, opts Options) error {
	running, err := v.Running(ctx)
	if err != nil {
		v.logger.Debug().Err(err).Msg("Could not check for a running viewer")
	}
	if running {
		v.logger.Info().Msg("kview docker container is already running")
		return nil
	}

	v.logger.Info().Str("image", opts.Image).Msg("Starting kview docker container in detached mode")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, v.docker, opts.RunArgs()...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to start kview docker container: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	if err := v.sleep(ctx, opts.Wait); err != nil {
		return err
	}

	v.logger.Info().Str("url", opts.URL()).Msg("Opening kview in the default web browser")
	if err := v.open(ctx, opts.URL()); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	return cmd.Start()
}
