package ktest

// This file contains the per-run accumulator that turns the guest's
// line-delimited test output into a TestGroup report.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/perfgo/kboot/model"
)

const (
	// ModuleSeparator splits a fully qualified test name into module and case
	ModuleSeparator = "::"
	// UnknownModule is used for test names without a module path
	UnknownModule = "unknown"
)

// ErrNoHeader is returned by Finalize when no header line was ingested.
var ErrNoHeader = errors.New("no test group header in test output")

// LineKind classifies a line of test output by its shape
type LineKind int

const (
	LineIgnored LineKind = iota
	LineHeader
	LineResult
)

// headerLine announces a test group. It is the first line the guest writes.
type headerLine struct {
	TestGroup *string `json:"test_group"`
	TestCount *uint64 `json:"test_count"`
	UseViewer *bool   `json:"use_viewer"`
	// older guests spell the viewer flag after the viewer's name
	UseKview *bool `json:"use_kview"`
}

// resultLine reports the outcome of a single test case
type resultLine struct {
	Test       *string `json:"test"`
	Result     *string `json:"result"`
	CycleCount *uint64 `json:"cycle_count"`
	Location   *string `json:"location"`
	Message    *string `json:"message"`
}

// Accumulator collects the lines of one run. It is not safe for concurrent
// use and must not be shared between runs.
type Accumulator struct {
	group     *model.TestGroup
	useViewer bool
	modules   map[string]int
}

// NewAccumulator returns an empty accumulator. The report is allocated by
// the first header line.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		modules: make(map[string]int),
	}
}

// Started reports whether a header line has been ingested.
func (a *Accumulator) Started() bool {
	return a.group != nil
}

// UseViewer reports whether the guest asked for the results viewer.
func (a *Accumulator) UseViewer() bool {
	return a.useViewer
}

// Ingest parses one line of test output. A returned error means the line
// was skipped; it never invalidates what has been collected so far, so
// callers should log it and continue with the next line.
func (a *Accumulator) Ingest(line []byte) (LineKind, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return LineIgnored, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return LineIgnored, fmt.Errorf("invalid JSON: %w", err)
	}

	if _, ok := fields["test_group"]; ok {
		return LineHeader, a.ingestHeader(line)
	}
	if _, ok := fields["test"]; ok {
		return LineResult, a.ingestResult(line)
	}
	return LineIgnored, nil
}

func (a *Accumulator) ingestHeader(line []byte) error {
	var h headerLine
	if err := json.Unmarshal(line, &h); err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}
	if h.TestGroup == nil {
		return fmt.Errorf("invalid header: test_group is null")
	}
	if h.TestCount == nil {
		return fmt.Errorf("invalid header: test_count is missing")
	}

	// only the first header of a run counts
	if a.group != nil {
		return nil
	}

	a.group = &model.TestGroup{
		Name:    *h.TestGroup,
		Summary: model.TestSummary{Total: *h.TestCount},
		Modules: []model.TestModule{},
	}
	switch {
	case h.UseViewer != nil:
		a.useViewer = *h.UseViewer
	case h.UseKview != nil:
		a.useViewer = *h.UseKview
	}
	return nil
}

func (a *Accumulator) ingestResult(line []byte) error {
	var r resultLine
	if err := json.Unmarshal(line, &r); err != nil {
		return fmt.Errorf("invalid result: %w", err)
	}
	switch {
	case r.Test == nil:
		return fmt.Errorf("invalid result: test is null")
	case r.Result == nil:
		return fmt.Errorf("invalid result: result is missing")
	case r.CycleCount == nil:
		return fmt.Errorf("invalid result: cycle_count is missing")
	}
	if a.group == nil {
		return fmt.Errorf("result for %q before test group header", *r.Test)
	}

	moduleName, caseName := SplitTestName(*r.Test)
	result := model.TestResult{
		Test:       caseName,
		Result:     *r.Result,
		CycleCount: *r.CycleCount,
		Location:   r.Location,
		Message:    r.Message,
	}

	if i, ok := a.modules[moduleName]; ok {
		a.group.Modules[i].Tests = append(a.group.Modules[i].Tests, result)
		return nil
	}

	a.modules[moduleName] = len(a.group.Modules)
	a.group.Modules = append(a.group.Modules, model.TestModule{
		Name:  moduleName,
		Tests: []model.TestResult{result},
	})
	return nil
}

// Finalize computes the summary counts and returns the report. runDuration
// is the wall-clock time of the VM invocation measured by the host.
func (a *Accumulator) Finalize(runDuration time.Duration) (*model.TestGroup, error) {
	if a.group == nil {
		return nil, ErrNoHeader
	}

	var passed, failed uint64
	for _, m := range a.group.Modules {
		for _, t := range m.Tests {
			switch t.Result {
			case model.OutcomePass:
				passed++
			case model.OutcomeFail:
				failed++
			}
		}
	}

	s := &a.group.Summary
	s.Passed = passed
	s.Failed = failed
	// saturating: a guest reporting more results than announced yields 0
	s.Ignored = 0
	if seen := passed + failed; s.Total > seen {
		s.Ignored = s.Total - seen
	}
	s.DurationMS = uint64(runDuration.Milliseconds())

	return a.group, nil
}

// SplitTestName splits "a::b::case" into module "a::b" and case "case".
// Names without a separator belong to UnknownModule.
func SplitTestName(name string) (module, testCase string) {
	i := strings.LastIndex(name, ModuleSeparator)
	if i < 0 {
		return UnknownModule, name
	}
	return name[:i], name[i+len(ModuleSeparator):]
}
