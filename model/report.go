package model

// Outcomes counted in a group summary. Any other value is stored verbatim
// and counts as ignored.
const (
	OutcomePass = "pass"
	OutcomeFail = "fail"
)

// TestGroup is the report of one test binary's run inside the VM
type TestGroup struct {
	// Name reported by the guest in the header line
	Name string `json:"test_group"`
	// Aggregated counts
	Summary TestSummary `json:"summary"`
	// Modules in the order their first result was seen
	Modules []TestModule `json:"modules"`
}

// TestSummary holds the aggregated counts of a test group
type TestSummary struct {
	// Number of tests the guest announced
	Total uint64 `json:"total"`
	Passed uint64 `json:"passed"`
	Failed uint64 `json:"failed"`
	// Total minus passed and failed, never below zero
	Ignored uint64 `json:"ignored"`
	// Wall-clock time of the VM invocation measured on the host
	DurationMS uint64 `json:"duration"`
}

// TestModule buckets the results of a single kernel module
type TestModule struct {
	Name  string       `json:"module"`
	Tests []TestResult `json:"tests"`
}

// TestResult is a single test case outcome
type TestResult struct {
	// Case name without the module path
	Test string `json:"test"`
	// Outcome as reported by the guest ("pass", "fail", ...)
	Result     string `json:"result"`
	CycleCount uint64 `json:"cycle_count"`
	// Source location, failures only
	Location *string `json:"location,omitempty"`
	// Failure message, failures only
	Message *string `json:"message,omitempty"`
}

// Add accumulates another summary into s.
func (s *TestSummary) Add(o TestSummary) {
	s.Total += o.Total
	s.Passed += o.Passed
	s.Failed += o.Failed
	s.Ignored += o.Ignored
	s.DurationMS += o.DurationMS
}
