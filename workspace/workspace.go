// Package workspace answers the questions kboot asks about the cargo
// workspace it runs in: what executable to boot, whether it is a test, where
// the workspace root is and how many test groups make up a round.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ErrNoExecutable is returned when no executable was passed to the runner.
var ErrNoExecutable = errors.New("no executable specified")

// Executable returns the executable to package and boot: the last argument
// that is not a flag.
func Executable(args []string) (string, error) {
	for i := len(args) - 1; i >= 0; i-- {
		if args[i] != "" && !strings.HasPrefix(args[i], "-") {
			return args[i], nil
		}
	}
	return "", ErrNoExecutable
}

// FileStem returns the executable name without its extension.
func FileStem(exe string) string {
	base := filepath.Base(exe)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsDoctest reports whether exe is a rustdoc test executable, which cargo
// places in a directory starting with "rustdoctest".
func IsDoctest(exe string) bool {
	return strings.HasPrefix(filepath.Base(filepath.Dir(exe)), "rustdoctest")
}

// IsTest reports whether exe is a test executable: a doctest or anything
// cargo built into a "deps" directory.
func IsTest(exe string) bool {
	return IsDoctest(exe) || filepath.Base(filepath.Dir(exe)) == "deps"
}

// Root returns the workspace root for exe: the parent of the nearest
// enclosing "target" directory. Executables outside a target directory use
// their own directory as root.
func Root(exe string) (string, error) {
	parent, err := filepath.Abs(filepath.Dir(exe))
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable directory: %w", err)
	}

	for dir := parent; ; {
		if filepath.Base(dir) == "target" {
			return filepath.Dir(dir), nil
		}
		next := filepath.Dir(dir)
		if next == dir {
			break
		}
		dir = next
	}

	return parent, nil
}

type cargoManifest struct {
	Workspace *struct {
		Members []string `toml:"members"`
	} `toml:"workspace"`
}

// TotalTestGroups returns the number of test groups in a round: one per
// workspace member plus one for the root binary, or two (binary and
// library) for a single crate.
func TotalTestGroups(root string) (int, error) {
	data, err := os.ReadFile(filepath.Join(root, "Cargo.toml"))
	if err != nil {
		return 0, fmt.Errorf("failed to read cargo manifest: %w", err)
	}

	var manifest cargoManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return 0, fmt.Errorf("failed to parse cargo manifest: %w", err)
	}

	if manifest.Workspace == nil {
		return 2, nil
	}
	return len(manifest.Workspace.Members) + 1, nil
}

// Paths lists the files and directories kboot uses below the build directory
type Paths struct {
	Root     string
	Build    string
	Testing  string
	EventLog string
	Logs     string
	Image    string
}

// NewPaths lays out the build directory buildDir inside root.
func NewPaths(root, buildDir string) Paths {
	build := filepath.Join(root, buildDir)
	return Paths{
		Root:     root,
		Build:    build,
		Testing:  filepath.Join(build, "testing"),
		EventLog: filepath.Join(build, "event.log.json"),
		Logs:     filepath.Join(build, "logs"),
		Image:    filepath.Join(build, "kernel.img"),
	}
}

// LogFile returns the log file of a run.
func (p Paths) LogFile(runID string) string {
	return filepath.Join(p.Logs, fmt.Sprintf("kboot-%s.log", runID))
}
