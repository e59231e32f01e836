package round

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/perfgo/kboot/eventlog"
	"github.com/perfgo/kboot/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newCoordinator(t *testing.T, total int, content string) (*Coordinator, *eventlog.Log) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "event.log.json")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	l, err := eventlog.Open(zerolog.Nop(), path)
	require.NoError(t, err)
	return New(zerolog.Nop(), l, total), l
}

func kinds(t *testing.T, l *eventlog.Log) []model.EventKind {
	t.Helper()
	records, err := l.Records()
	require.NoError(t, err)
	var out []model.EventKind
	for _, r := range records {
		out = append(out, r.Kind)
	}
	return out
}

func TestScan(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantStart bool
		wantIndex int
	}{
		{
			name:      "empty log",
			wantStart: true,
			wantIndex: 0,
		},
		{
			name: "mid round",
			content: `{"event":"RoundStarted","timestamp":1}
{"event":"GroupStarted","timestamp":2,"current_test_group":0,"total_test_groups":5}
{"event":"GroupStarted","timestamp":3,"current_test_group":1,"total_test_groups":5}
{"event":"GroupStarted","timestamp":4,"current_test_group":2,"total_test_groups":5}
`,
			wantStart: false,
			wantIndex: 3,
		},
		{
			name: "round ended",
			content: `{"event":"RoundStarted","timestamp":1}
{"event":"GroupStarted","timestamp":2,"current_test_group":0,"total_test_groups":2}
{"event":"GroupStarted","timestamp":3,"current_test_group":1,"total_test_groups":2}
{"event":"RoundEnded","timestamp":4}
`,
			wantStart: true,
			wantIndex: 0,
		},
		{
			name: "round ended after unrelated history",
			content: `{"event":"GroupStarted","timestamp":1,"current_test_group":7,"total_test_groups":9}
{"event":"RoundStarted","timestamp":2}
{"event":"RoundEnded","timestamp":3}
`,
			wantStart: true,
			wantIndex: 0,
		},
		{
			name: "round started without groups",
			content: `{"event":"RoundEnded","timestamp":1}
{"event":"RoundStarted","timestamp":2}
`,
			wantStart: false,
			wantIndex: 0,
		},
		{
			name: "group started without round marker",
			content: `{"event":"GroupStarted","timestamp":1,"current_test_group":0,"total_test_groups":3}
`,
			wantStart: true,
			wantIndex: 1,
		},
		{
			name: "trailing garbage and unknown events are skipped",
			content: `{"event":"RoundStarted","timestamp":1}
{"event":"GroupStarted","timestamp":2,"current_test_group":1,"total_test_groups":4}
{"event":"ViewerOpened","timestamp":3}
{"event":"GroupStarted","timestamp":4}
{"event":"Gro
`,
			wantStart: false,
			wantIndex: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newCoordinator(t, 5, tt.content)

			start, err := c.IsRoundStart()
			require.NoError(t, err)
			require.Equal(t, tt.wantStart, start)

			index, err := c.CurrentGroupIndex()
			require.NoError(t, err)
			require.Equal(t, tt.wantIndex, index)
		})
	}
}

func TestFullRound(t *testing.T) {
	c, l := newCoordinator(t, 3, "")
	require.Equal(t, 3, c.TotalGroups())

	for i := 0; i < 3; i++ {
		desc, err := c.BeginGroup()
		require.NoError(t, err)
		require.Equal(t, model.GroupDescriptor{Index: i, Total: 3}, desc)
		require.Equal(t, i == 2, desc.IsFinal())
		require.NoError(t, c.EndGroup(desc))
	}

	require.Equal(t, []model.EventKind{
		model.EventRoundStarted,
		model.EventGroupStarted,
		model.EventGroupStarted,
		model.EventGroupStarted,
		model.EventRoundEnded,
	}, kinds(t, l))

	// the next invocation starts a new round at index 0
	desc, err := c.BeginGroup()
	require.NoError(t, err)
	require.Equal(t, 0, desc.Index)
	require.Equal(t, model.EventRoundStarted, kinds(t, l)[5])
}

func TestEndGroupNotFinal(t *testing.T) {
	c, l := newCoordinator(t, 2, "")

	desc, err := c.BeginGroup()
	require.NoError(t, err)
	require.NoError(t, c.EndGroup(desc))

	require.Equal(t, []model.EventKind{
		model.EventRoundStarted,
		model.EventGroupStarted,
	}, kinds(t, l))
}

func TestEndGroupSingleGroupRound(t *testing.T) {
	c, l := newCoordinator(t, 1, "")

	desc, err := c.BeginGroup()
	require.NoError(t, err)
	require.True(t, desc.IsFinal())
	require.NoError(t, c.EndGroup(desc))

	require.Equal(t, []model.EventKind{
		model.EventRoundStarted,
		model.EventGroupStarted,
		model.EventRoundEnded,
	}, kinds(t, l))
}

func TestLogFailureIsFatal(t *testing.T) {
	c, l := newCoordinator(t, 2, "")
	require.NoError(t, os.Remove(l.Path()))

	_, err := c.IsRoundStart()
	require.Error(t, err)
	_, err = c.CurrentGroupIndex()
	require.Error(t, err)
	_, err = c.BeginGroup()
	require.Error(t, err)
	require.Error(t, c.EndGroup(model.GroupDescriptor{Index: 1, Total: 2}))
}

func TestLock(t *testing.T) {
	c, l := newCoordinator(t, 2, "")

	unlock, err := c.Lock()
	require.NoError(t, err)
	_, err = os.Stat(l.Path() + ".lock")
	require.NoError(t, err)
	require.NoError(t, unlock())

	// the lock can be taken again once released
	unlock, err = c.Lock()
	require.NoError(t, err)
	require.NoError(t, unlock())
}
