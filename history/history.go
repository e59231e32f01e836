package history

// This file contains shared history utilities for loading the rounds
// archived in the build directory.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/perfgo/kboot/ktest"
	"github.com/perfgo/kboot/model"
	"github.com/rs/zerolog"
)

// Group is one persisted test group report
type Group struct {
	Index  int
	Path   string
	Report *model.TestGroup
}

// Round is an archived round, or the live round when Live is set
type Round struct {
	Timestamp time.Time
	Dir       string
	Live      bool
	Groups    []Group
}

// ID returns the identifier used to select the round: the epoch
// milliseconds of an archived round, "live" for the live round.
func (r Round) ID() string {
	if r.Live {
		return "live"
	}
	return strconv.FormatInt(r.Timestamp.UnixMilli(), 10)
}

// Summary sums the summaries of all groups.
func (r Round) Summary() model.TestSummary {
	var s model.TestSummary
	for _, g := range r.Groups {
		s.Add(g.Report.Summary)
	}
	return s
}

// Reports returns the group reports in group order.
func (r Round) Reports() []*model.TestGroup {
	reports := make([]*model.TestGroup, 0, len(r.Groups))
	for _, g := range r.Groups {
		reports = append(reports, g.Report)
	}
	return reports
}

// LoadRounds loads every archived round below buildDir, newest first.
// Directories or reports that cannot be read are skipped with a warning.
func LoadRounds(logger zerolog.Logger, buildDir string) ([]Round, error) {
	entries, err := os.ReadDir(buildDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read build directory: %w", err)
	}

	var rounds []Round
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		ts, ok := ktest.ParseArchiveDir(entry.Name())
		if !ok {
			continue
		}

		dir := filepath.Join(buildDir, entry.Name())
		groups, err := LoadGroups(logger, dir)
		if err != nil {
			logger.Warn().Err(err).Str("path", dir).Msg("Failed to load archived round")
			continue
		}

		rounds = append(rounds, Round{
			Timestamp: ts,
			Dir:       dir,
			Groups:    groups,
		})
	}

	sort.Slice(rounds, func(i, j int) bool {
		return rounds[i].Timestamp.After(rounds[j].Timestamp)
	})

	return rounds, nil
}

// LoadLive loads the reports of the round in progress from testingDir. It
// returns nil when there is no live round.
func LoadLive(logger zerolog.Logger, testingDir string) (*Round, error) {
	info, err := os.Stat(testingDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat testing directory: %w", err)
	}

	groups, err := LoadGroups(logger, testingDir)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}

	return &Round{
		Timestamp: info.ModTime(),
		Dir:       testingDir,
		Live:      true,
		Groups:    groups,
	}, nil
}

// LoadGroups loads the tests-<index>.json reports in dir, ordered by group
// index. Other files, including capture files, are ignored.
func LoadGroups(logger zerolog.Logger, dir string) ([]Group, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read round directory: %w", err)
	}

	var groups []Group
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		index, ok := ktest.ReportIndex(entry.Name())
		if !ok {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		report, err := ktest.Load(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to load test group report")
			continue
		}

		groups = append(groups, Group{
			Index:  index,
			Path:   path,
			Report: report,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Index < groups[j].Index
	})

	return groups, nil
}

// Find selects a round like the view command addresses it: 0 is the
// newest round, -1 the one before and so on. Any other selector is matched
// as a prefix of the round ID.
func Find(rounds []Round, selector string) (*Round, error) {
	if len(rounds) == 0 {
		return nil, fmt.Errorf("no rounds found")
	}

	if parsed, err := strconv.ParseInt(selector, 10, 64); err == nil && parsed <= 0 {
		index := -parsed
		if index >= int64(len(rounds)) {
			return nil, fmt.Errorf("index %s out of range (only %d rounds)", selector, len(rounds))
		}
		return &rounds[index], nil
	}

	var matches []*Round
	for i := range rounds {
		if strings.HasPrefix(rounds[i].ID(), selector) {
			matches = append(matches, &rounds[i])
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no round found matching: %s", selector)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("round selector %s is ambiguous, it matches %d rounds", selector, len(matches))
	}
}
