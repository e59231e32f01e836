package qemu

// qemu.go builds and runs the docker command that boots a disk image in
// QEMU, and classifies the exit code the kernel reports through the
// isa-debug-exit device.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// Exit codes written by the kernel to the isa-debug-exit port.
const (
	ExitSuccess = 0x10
	ExitFailed  = 0x11
)

const (
	// ContainerName is the name of the docker container running QEMU.
	ContainerName = "qemu"
	// CaptureMount is where the testing directory is mounted in the container.
	CaptureMount = "/testing/logs"
)

var (
	// ErrDockerNotRunning is returned when the docker daemon is unreachable.
	ErrDockerNotRunning = errors.New("docker does not seem to be running, please start docker and try again")
	// ErrTestsFailed is returned when the kernel exits with ExitFailed.
	ErrTestsFailed = errors.New("tests failed")
)

// testArguments are added to every test run.
var testArguments = []string{
	"-device", "isa-debug-exit,iobase=0xf4,iosize=0x04",
	"-display", "none",
}

// Arguments collects what the docker command needs.
type Arguments struct {
	BuildPath   string   // Mounted as the QEMU storage parent
	ImagePath   string   // Disk image booted as /boot.img
	TestingPath string   // Mounted at CaptureMount
	RunArgs     []string // QEMU arguments from --qemu
	TestArgs    []string // QEMU arguments for test runs
	Image       string   // Docker image running QEMU
	WebPort     int      // noVNC web port
	Interactive bool     // Attach a terminal to the container
}

// EnableTestOutput adds the test arguments and directs the debug console
// into the capture file of runID.
func (a *Arguments) EnableTestOutput(runID string) {
	a.TestArgs = append(a.TestArgs, testArguments...)
	a.TestArgs = append(a.TestArgs, "-debugcon", fmt.Sprintf("file:%s/tests-%s.json", CaptureMount, runID))
}

// PrepareCapture creates the testing directory and an empty capture file so
// the container can write to it.
func (a *Arguments) PrepareCapture(runID string) (string, error) {
	if err := os.MkdirAll(a.TestingPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create testing directory: %w", err)
	}

	path := filepath.Join(a.TestingPath, fmt.Sprintf("tests-%s.json", runID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create capture file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to create capture file: %w", err)
	}

	return path, nil
}

// QEMUArguments returns the value passed to the container as ARGUMENTS.
func (a *Arguments) QEMUArguments() string {
	return strings.TrimSpace(strings.Join(a.RunArgs, " ") + " " + strings.Join(a.TestArgs, " "))
}

// DockerArgs returns the docker run arguments.
func (a *Arguments) DockerArgs() []string {
	args := []string{"run", "--rm"}
	if a.Interactive {
		args = append(args, "-it")
	}

	port := fmt.Sprintf("%d:8006", a.WebPort)
	args = append(args,
		"--name", ContainerName,
		"-p", port,
		"-v", fmt.Sprintf("%s:/storage", filepath.Join(a.BuildPath, "qemu-storage")),
		"-v", fmt.Sprintf("%s:/boot.img", a.ImagePath),
		"-v", fmt.Sprintf("%s:%s", a.TestingPath, CaptureMount),
		"--device=/dev/kvm",
		"--device=/dev/net/tun",
		"--cap-add", "NET_ADMIN",
		"-e", "ARGUMENTS="+a.QEMUArguments(),
		a.Image,
	)
	return args
}

// Command returns the shell-escaped docker command line.
func (a *Arguments) Command() string {
	args := a.DockerArgs()

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, "docker")
	for _, arg := range args {
		parts = append(parts, shellescape.Quote(arg))
	}

	return strings.Join(parts, " ")
}

// Result of a QEMU run
type Result struct {
	ExitCode int
	Elapsed  time.Duration
}

// Err classifies the exit code: ErrTestsFailed for ExitFailed, nil
// otherwise. Codes other than ExitSuccess are not errors.
func (r Result) Err() error {
	if r.ExitCode == ExitFailed {
		return fmt.Errorf("%w: qemu exited with code %#x", ErrTestsFailed, r.ExitCode)
	}
	return nil
}

// Succeeded reports whether the kernel signalled success.
func (r Result) Succeeded() bool {
	return r.ExitCode == ExitSuccess
}

// Runner runs docker.
type Runner struct {
	logger zerolog.Logger
	docker string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewRunner returns a Runner attached to the process standard streams.
func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{
		logger: logger,
		docker: "docker",
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// DockerRunning reports whether `docker info` succeeds.
func (r *Runner) DockerRunning(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, r.docker, "info")
	if err := cmd.Run(); err != nil {
		r.logger.Debug().Err(err).Msg("docker info failed")
		return false
	}
	return true
}

// Run boots the image and blocks until the container exits. A non-zero exit
// code is reported in the Result, not as an error.
func (r *Runner) Run(ctx context.Context, args *Arguments) (Result, error) {
	if !r.DockerRunning(ctx) {
		return Result{}, ErrDockerNotRunning
	}

	r.logger.Info().
		Str("build_path", args.BuildPath).
		Str("image_path", args.ImagePath).
		Str("testing_path", args.TestingPath).
		Strs("run_args", args.RunArgs).
		Strs("test_args", args.TestArgs).
		Msg("Starting QEMU")
	r.logger.Debug().Str("command", args.Command()).Msg("Executing docker run")

	cmd := exec.CommandContext(ctx, r.docker, args.DockerArgs()...)
	cmd.Stdin = r.stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{Elapsed: time.Since(start)}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("failed to run qemu: %w", err)
	}

	switch result.ExitCode {
	case ExitSuccess:
		r.logger.Info().Int("exit_code", result.ExitCode).Dur("elapsed", result.Elapsed).Msg("QEMU exited successfully")
	case ExitFailed:
		r.logger.Error().Int("exit_code", result.ExitCode).Dur("elapsed", result.Elapsed).Msg("QEMU exited with failure code")
	default:
		r.logger.Warn().Int("exit_code", result.ExitCode).Dur("elapsed", result.Elapsed).Msg("QEMU exited with unknown code")
	}

	return result, nil
}

// QEMUFlag passes extra arguments to QEMU.
func QEMUFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "qemu",
		Usage: "Quoted QEMU arguments replacing the default run arguments",
	}
}

// CIFlag disables the interactive terminal.
func CIFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "ci",
		Usage:   "Run QEMU without an interactive terminal",
		EnvVars: []string{"CI"},
	}
}

// SplitArgs splits the --qemu value into arguments, dropping the quotes
// some shells leave in place.
func SplitArgs(value string) []string {
	fields := strings.Fields(value)
	args := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"`)
		if f != "" {
			args = append(args, f)
		}
	}
	return args
}
