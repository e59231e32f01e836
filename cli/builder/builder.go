package builder

// builder.go packages a kernel executable into a bootable disk image by
// driving an external image builder.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// DefaultProgram is the image builder invoked when none is configured.
const DefaultProgram = "kboot-mkimage"

var (
	// ErrLimineConfNotFound is returned when limine is selected but the
	// workspace has no limine.conf.
	ErrLimineConfNotFound = errors.New("limine.conf not found in workspace")
	// ErrLimineBIOS is returned for limine images requested with legacy boot.
	ErrLimineBIOS = errors.New("limine images only support UEFI boot")
)

// Selection picks the bootloader placed into the image.
type Selection int

const (
	BootloaderCrate Selection = iota
	Limine
)

func (s Selection) String() string {
	if s == Limine {
		return "limine"
	}
	return "bootloader"
}

// ImageType is the firmware interface the image boots with.
type ImageType int

const (
	UEFI ImageType = iota
	BIOS
)

func (t ImageType) String() string {
	if t == BIOS {
		return "bios"
	}
	return "uefi"
}

// Request describes one image build.
type Request struct {
	Executable string    // Kernel executable to package
	BuildDir   string    // Build directory, created if missing
	Image      string    // Output image path
	Bootloader Selection // Bootloader to install
	ImageType  ImageType // UEFI or BIOS
	Ramdisk    string    // Optional ramdisk file
	LimineConf string    // limine.conf, required for Limine
}

// Validate checks the request against the filesystem.
func (r Request) Validate() error {
	if r.Executable == "" {
		return errors.New("no executable to package")
	}
	if r.Image == "" {
		return errors.New("no image path")
	}
	if r.Bootloader == Limine {
		if r.ImageType == BIOS {
			return ErrLimineBIOS
		}
		if r.LimineConf == "" {
			return ErrLimineConfNotFound
		}
	}
	if r.Ramdisk != "" {
		info, err := os.Stat(r.Ramdisk)
		if err != nil {
			return fmt.Errorf("invalid ramdisk path: %w", err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("invalid ramdisk path: %s is not a file", r.Ramdisk)
		}
	}
	return nil
}

// Builder produces the disk image for a request.
type Builder interface {
	Build(ctx context.Context, req Request) error
}

// BuildArgs renders a request as image builder arguments.
func BuildArgs(req Request) []string {
	args := []string{
		"--kernel", req.Executable,
		"--output", req.Image,
		"--boot", req.ImageType.String(),
		"--bootloader", req.Bootloader.String(),
	}
	if req.Ramdisk != "" {
		args = append(args, "--ramdisk", req.Ramdisk)
	}
	if req.LimineConf != "" {
		args = append(args, "--limine-conf", req.LimineConf)
	}
	return args
}

// BuildCommand returns the shell-escaped command line for logging.
func BuildCommand(program string, req Request) string {
	args := BuildArgs(req)

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellescape.Quote(program))
	for _, arg := range args {
		parts = append(parts, shellescape.Quote(arg))
	}

	return strings.Join(parts, " ")
}

// Command runs an external image builder program.
type Command struct {
	logger  zerolog.Logger
	program string
	stdout  io.Writer
}

// NewCommand returns a Builder that runs program, or DefaultProgram when
// program is empty. Builder output is forwarded to stdout.
func NewCommand(logger zerolog.Logger, program string, stdout io.Writer) *Command {
	if program == "" {
		program = DefaultProgram
	}
	return &Command{
		logger:  logger,
		program: program,
		stdout:  stdout,
	}
}

// Build implements Builder.
func (c *Command) Build(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	if req.BuildDir != "" {
		if err := os.MkdirAll(req.BuildDir, 0o755); err != nil {
			return fmt.Errorf("failed to create build directory: %w", err)
		}
	}

	c.logger.Info().
		Str("executable", req.Executable).
		Str("image", req.Image).
		Stringer("bootloader", req.Bootloader).
		Stringer("boot", req.ImageType).
		Msg("Building disk image")
	c.logger.Debug().Str("command", BuildCommand(c.program, req)).Msg("Executing image builder")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.program, BuildArgs(req)...)
	cmd.Stdout = c.stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to build disk image: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	if _, err := os.Stat(req.Image); err != nil {
		return fmt.Errorf("disk image not found after build: %w", err)
	}

	return nil
}

// FindLimineConf searches root for limine.conf. Files of a directory are
// checked before its subdirectories; target, .build and hidden directories
// are skipped.
func FindLimineConf(root string) (string, error) {
	if path, ok := scanLimineConf(root); ok {
		return path, nil
	}
	return "", ErrLimineConfNotFound
}

func scanLimineConf(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	for _, entry := range entries {
		if entry.Type().IsRegular() && entry.Name() == "limine.conf" {
			return filepath.Join(dir, entry.Name()), true
		}
	}

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || name == "target" || strings.HasPrefix(name, ".") {
			continue
		}
		if path, ok := scanLimineConf(filepath.Join(dir, name)); ok {
			return path, true
		}
	}

	return "", false
}

// LimineFlag selects the limine bootloader.
func LimineFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "limine",
		Usage: "Boot with limine instead of the bootloader crate (requires a limine.conf in the workspace)",
	}
}

// LegacyBootFlag selects a BIOS image.
func LegacyBootFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "legacy-boot",
		Usage: "Build a BIOS disk image instead of UEFI",
	}
}

// RamdiskFlag adds a ramdisk to the image.
func RamdiskFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "ramdisk",
		Usage: "Path of a ramdisk file to add to the disk image",
	}
}

// ImageBuilderFlag overrides the image builder program.
func ImageBuilderFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "image-builder",
		Usage:   "Program that builds the disk image",
		EnvVars: []string{"KBOOT_IMAGE_BUILDER"},
	}
}
