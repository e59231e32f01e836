package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/perfgo/kboot/history"
	"github.com/perfgo/kboot/model"
	"github.com/stretchr/testify/require"
)

func readMetrics(t *testing.T, groups []history.Group) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, WriteRound(path, groups, 1700000000000))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestWriteRound(t *testing.T) {
	groups := []history.Group{
		{Index: 0, Report: &model.TestGroup{
			Name:    "kernel",
			Summary: model.TestSummary{Total: 4, Passed: 2, Failed: 1, Ignored: 1, DurationMS: 1500},
			Modules: []model.TestModule{
				{Name: "mem", Tests: []model.TestResult{
					{Test: "a", Result: "pass", CycleCount: 10},
					{Test: "b", Result: "fail", CycleCount: 20},
				}},
				{Name: "io", Tests: []model.TestResult{
					{Test: "c", Result: "pass", CycleCount: 5},
				}},
			},
		}},
		{Index: 1},
		{Index: 2, Report: &model.TestGroup{
			Name:    "libs",
			Summary: model.TestSummary{DurationMS: 20},
			Modules: []model.TestModule{},
		}},
	}

	out := readMetrics(t, groups)
	for _, line := range []string{
		`# TYPE kboot_tests gauge`,
		`kboot_tests{group="kernel",group_index="0",outcome="passed"} 2`,
		`kboot_tests{group="kernel",group_index="0",outcome="failed"} 1`,
		`kboot_tests{group="kernel",group_index="0",outcome="ignored"} 1`,
		`kboot_tests{group="kernel",group_index="0",outcome="total"} 4`,
		`kboot_tests{group="libs",group_index="2",outcome="total"} 0`,
		`kboot_group_duration_milliseconds{group="kernel",group_index="0"} 1500`,
		`kboot_group_duration_milliseconds{group="libs",group_index="2"} 20`,
		`kboot_group_cycles{group="kernel",group_index="0"} 35`,
		`kboot_group_cycles{group="libs",group_index="2"} 0`,
		`kboot_round_groups 2`,
		`kboot_round_finished_timestamp_seconds 1.7e+09`,
	} {
		require.Contains(t, out, line+"\n")
	}
}

func TestWriteRoundDuplicateGroupNames(t *testing.T) {
	groups := []history.Group{
		{Index: 0, Report: &model.TestGroup{Name: "kernel", Summary: model.TestSummary{Total: 3, Passed: 3}}},
		{Index: 1, Report: &model.TestGroup{Name: "kernel", Summary: model.TestSummary{Total: 5, Passed: 4, Failed: 1}}},
	}

	out := readMetrics(t, groups)
	require.Contains(t, out, `kboot_tests{group="kernel",group_index="0",outcome="passed"} 3`+"\n")
	require.Contains(t, out, `kboot_tests{group="kernel",group_index="1",outcome="passed"} 4`+"\n")
	require.Contains(t, out, `kboot_tests{group="kernel",group_index="1",outcome="failed"} 1`+"\n")
	require.Contains(t, out, "kboot_round_groups 2\n")
}

func TestWriteRoundEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, WriteRound(path, nil, 0))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "kboot_round_groups 0\n")
	require.NotContains(t, string(data), "kboot_tests{")
}

func TestWriteFileMissingDirectory(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.WriteFile(filepath.Join(t.TempDir(), "missing", FileName)))
}
