package cycleprof

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/perfgo/kboot/model"
	"github.com/stretchr/testify/require"
)

func testGroups() []*model.TestGroup {
	return []*model.TestGroup{
		{
			Name:    "kernel",
			Summary: model.TestSummary{Total: 3, Passed: 2, Failed: 1, DurationMS: 1500},
			Modules: []model.TestModule{
				{Name: "mem", Tests: []model.TestResult{
					{Test: "alloc_basic", Result: "pass", CycleCount: 10},
					{Test: "alloc_oom", Result: "fail", CycleCount: 20},
				}},
				{Name: "io", Tests: []model.TestResult{
					{Test: "read", Result: "pass", CycleCount: 5},
				}},
			},
		},
		{
			Name:    "libs",
			Summary: model.TestSummary{Total: 1, Passed: 1, DurationMS: 500},
			Modules: []model.TestModule{
				{Name: "mem", Tests: []model.TestResult{
					{Test: "alloc_basic", Result: "pass", CycleCount: 7},
				}},
			},
		},
	}
}

func TestFromGroups(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	p := FromGroups(testGroups(), at)

	require.NoError(t, p.CheckValid())
	require.Equal(t, "cycles", p.SampleType[0].Type)
	require.Equal(t, "count", p.SampleType[0].Unit)
	require.Equal(t, at.UnixNano(), p.TimeNanos)
	require.Equal(t, int64(2*time.Second), p.DurationNanos)
	require.Len(t, p.Sample, 4)

	// 2 groups, 3 modules and 4 test cases; "mem" exists in both groups
	require.Len(t, p.Location, 9)
	require.Len(t, p.Function, 9)

	oom := p.Sample[1]
	require.Equal(t, []int64{20}, oom.Value)
	require.Equal(t, []string{"fail"}, oom.Label["result"])
	require.Len(t, oom.Location, 3)
	require.Equal(t, "mem::alloc_oom", oom.Location[0].Line[0].Function.Name)
	require.Equal(t, "mem", oom.Location[1].Line[0].Function.Name)
	require.Equal(t, "kernel", oom.Location[2].Line[0].Function.Name)

	require.Same(t, p.Sample[0].Location[1], p.Sample[1].Location[1])
	require.NotSame(t, p.Sample[0].Location[1], p.Sample[3].Location[1])

	var total int64
	for _, s := range p.Sample {
		total += s.Value[0]
	}
	require.Equal(t, int64(42), total)
}

func TestFromGroupsEmpty(t *testing.T) {
	p := FromGroups(nil, time.Now())
	require.NoError(t, p.CheckValid())
	require.Empty(t, p.Sample)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.pb.gz")
	require.NoError(t, WriteFile(path, FromGroups(testGroups(), time.Now())))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	p, err := profile.Parse(f)
	require.NoError(t, err)
	require.Len(t, p.Sample, 4)
	require.Equal(t, "cycles", p.SampleType[0].Type)
}
