// Package ktest ingests the test output a kernel writes to the VM's debug
// console, persists one report per test group and archives the reports of
// a finished round.
package ktest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/perfgo/kboot/model"
	"github.com/rs/zerolog"
)

const (
	reportPrefix    = "tests-"
	reportExtension = ".json"
	archivePrefix   = "testing-"
	maxLineSize     = 1024 * 1024
)

// CapturePath returns the file the VM's debug console is redirected to.
func CapturePath(testingDir, runID string) string {
	return filepath.Join(testingDir, reportPrefix+runID+reportExtension)
}

// ReportPath returns the persisted report of a test group.
func ReportPath(testingDir string, groupIndex int) string {
	return filepath.Join(testingDir, reportPrefix+strconv.Itoa(groupIndex)+reportExtension)
}

// ArchiveDir returns the directory a round finished at t is archived to.
func ArchiveDir(buildDir string, t time.Time) string {
	return filepath.Join(buildDir, fmt.Sprintf("%s%d", archivePrefix, t.UnixMilli()))
}

// ParseArchiveDir extracts the archive time from a directory name created by
// ArchiveDir.
func ParseArchiveDir(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, archivePrefix) {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimPrefix(name, archivePrefix), 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// ShouldIngest reports whether a run's output needs to be ingested. Runs of
// non-test executables, runs with ingestion disabled and runs whose guest
// never produced a capture file are skipped without touching anything.
func ShouldIngest(isTestRun, skip, captureExists bool) bool {
	return isTestRun && !skip && captureExists
}

// CaptureExists reports whether the capture file is present and the guest
// wrote anything to it. The runner creates an empty capture file before the
// VM starts, so an empty file means the guest died before its first line.
func CaptureExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat capture file: %w", err)
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}

// DiscardCapture removes the capture file of runID if it is present.
func (p *Pipeline) DiscardCapture(runID string) error {
	err := os.Remove(CapturePath(p.testingDir, runID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove capture file: %w", err)
	}
	return nil
}

// Report is the outcome of one ingestion
type Report struct {
	Group *model.TestGroup
	// Where the report was persisted
	Path string
	// Whether the guest asked for the results viewer
	UseViewer bool
}

// Pipeline ingests capture files inside the live testing directory.
type Pipeline struct {
	logger     zerolog.Logger
	testingDir string
}

// New creates a pipeline working on testingDir.
func New(logger zerolog.Logger, testingDir string) *Pipeline {
	return &Pipeline{
		logger:     logger,
		testingDir: testingDir,
	}
}

// TestingDir returns the live testing directory.
func (p *Pipeline) TestingDir() string {
	return p.testingDir
}

// Ingest reads the capture file of runID, builds the group's report,
// persists it and only then removes the capture file. The capture file must
// exist; check ShouldIngest first.
func (p *Pipeline) Ingest(runID string, desc model.GroupDescriptor, runDuration time.Duration) (*Report, error) {
	capturePath := CapturePath(p.testingDir, runID)

	acc, err := p.read(capturePath)
	if err != nil {
		return nil, err
	}

	group, err := acc.Finalize(runDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize test results: %w", err)
	}

	reportPath, err := p.Persist(desc, group)
	if err != nil {
		return nil, err
	}

	if err := os.Remove(capturePath); err != nil {
		return nil, fmt.Errorf("failed to remove capture file: %w", err)
	}

	p.logger.Info().
		Str("group", group.Name).
		Int("index", desc.Index).
		Uint64("total", group.Summary.Total).
		Uint64("passed", group.Summary.Passed).
		Uint64("failed", group.Summary.Failed).
		Uint64("ignored", group.Summary.Ignored).
		Uint64("duration_ms", group.Summary.DurationMS).
		Str("report", reportPath).
		Msg("Test results ingested")

	return &Report{
		Group:     group,
		Path:      reportPath,
		UseViewer: acc.UseViewer(),
	}, nil
}

func (p *Pipeline) read(capturePath string) (*Accumulator, error) {
	f, err := os.Open(capturePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()

	acc := NewAccumulator()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		p.logger.Info().Msg(string(line))

		if _, err := acc.Ingest(line); err != nil {
			p.logger.Warn().Err(err).Int("line", lineNum).Msg("Skipping test output line")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read capture file: %w", err)
	}

	return acc, nil
}

// Persist writes the report of the group described by desc as indented
// JSON. The file is written under a temporary name and renamed into place,
// so a crash never leaves a truncated report behind.
func (p *Pipeline) Persist(desc model.GroupDescriptor, group *model.TestGroup) (string, error) {
	if err := os.MkdirAll(p.testingDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create testing directory: %w", err)
	}

	data, err := json.MarshalIndent(group, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal test report: %w", err)
	}

	tmp, err := os.CreateTemp(p.testingDir, ".report-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create test report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write test report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync test report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close test report: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", fmt.Errorf("failed to chmod test report: %w", err)
	}

	reportPath := ReportPath(p.testingDir, desc.Index)
	if err := os.Rename(tmp.Name(), reportPath); err != nil {
		return "", fmt.Errorf("failed to write test report: %w", err)
	}

	p.logger.Debug().Str("path", reportPath).Msg("Persisted test report")
	return reportPath, nil
}

// ArchiveRound moves every report of the live testing directory into a new
// directory named after now, next to the live directory, and removes the
// live directory. It returns the archive directory, or an empty string if
// there was no live directory to archive.
func (p *Pipeline) ArchiveRound(now time.Time) (string, error) {
	entries, err := os.ReadDir(p.testingDir)
	if errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn().Str("path", p.testingDir).Msg("No test reports to archive")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read testing directory: %w", err)
	}

	archiveDir := ArchiveDir(filepath.Dir(p.testingDir), now)
	// An existing archive is never merged into
	if err := os.Mkdir(archiveDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	moved := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != reportExtension {
			continue
		}
		src := filepath.Join(p.testingDir, entry.Name())
		dst := filepath.Join(archiveDir, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return "", fmt.Errorf("failed to archive %s: %w", entry.Name(), err)
		}
		moved++
	}

	if err := os.RemoveAll(p.testingDir); err != nil {
		return "", fmt.Errorf("failed to remove testing directory: %w", err)
	}

	p.logger.Info().
		Str("archive", archiveDir).
		Int("reports", moved).
		Msg("Test round archived")
	return archiveDir, nil
}

// Load reads a persisted report and validates it against the report schema.
func Load(path string) (*model.TestGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := ValidateReport(data); err != nil {
		return nil, err
	}

	var group model.TestGroup
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("failed to parse test report: %w", err)
	}
	return &group, nil
}

// ReportIndex extracts the group index from a report file name. Capture
// files, whose names carry a run ID, are not reports.
func ReportIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, reportPrefix) || filepath.Ext(name) != reportExtension {
		return 0, false
	}
	index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, reportPrefix), reportExtension))
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}
