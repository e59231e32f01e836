// Package round derives where an invocation sits within a test round by
// scanning the shared event log backwards, and writes the round lifecycle
// markers.
//
// Invocations never talk to each other: the event log is the only source of
// truth. Callers must not run two invocations against the same log at the
// same time; Lock makes that contract explicit with an advisory lock file.
package round

import (
	"fmt"

	"github.com/perfgo/kboot/eventlog"
	"github.com/perfgo/kboot/model"
	"github.com/rs/zerolog"
)

// Coordinator reads and writes round lifecycle events.
// All errors are fatal to the caller; nothing is retried.
type Coordinator struct {
	logger      zerolog.Logger
	log         *eventlog.Log
	totalGroups int
}

// New creates a coordinator. totalGroups is owned by the workspace
// configuration and is never derived from the log.
func New(logger zerolog.Logger, log *eventlog.Log, totalGroups int) *Coordinator {
	return &Coordinator{
		logger:      logger,
		log:         log,
		totalGroups: totalGroups,
	}
}

// IsRoundStart reports whether the next group begins a new round: the most
// recent terminal marker is RoundEnded, or there is none at all.
func (c *Coordinator) IsRoundStart() (bool, error) {
	start := true
	err := c.log.Reverse(func(r eventlog.Record) bool {
		switch r.Kind {
		case model.EventRoundEnded:
			start = true
			return false
		case model.EventRoundStarted:
			start = false
			return false
		}
		return true
	})
	if err != nil {
		return false, fmt.Errorf("failed to scan event log: %w", err)
	}
	return start, nil
}

// CurrentGroupIndex returns the index the next group will get: 0 after a
// RoundEnded or on an empty log, otherwise one past the latest GroupStarted.
func (c *Coordinator) CurrentGroupIndex() (int, error) {
	index := 0
	err := c.log.Reverse(func(r eventlog.Record) bool {
		switch r.Kind {
		case model.EventRoundEnded:
			index = 0
			return false
		case model.EventGroupStarted:
			if r.CurrentTestGroup == nil {
				c.logger.Debug().Int("line", r.Line).Msg("Skipping GroupStarted without current_test_group")
				return true
			}
			index = *r.CurrentTestGroup + 1
			return false
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan event log: %w", err)
	}
	return index, nil
}

// TotalGroups returns the number of groups in a round.
func (c *Coordinator) TotalGroups() int {
	return c.totalGroups
}

// BeginGroup writes RoundStarted if this is the first group of a round,
// then GroupStarted, and returns the descriptor of the new group.
func (c *Coordinator) BeginGroup() (model.GroupDescriptor, error) {
	start, err := c.IsRoundStart()
	if err != nil {
		return model.GroupDescriptor{}, err
	}
	if start {
		if err := c.log.Append(model.RoundStarted()); err != nil {
			return model.GroupDescriptor{}, err
		}
		c.logger.Info().Int("total_groups", c.totalGroups).Msg("Test round started")
	}

	index, err := c.CurrentGroupIndex()
	if err != nil {
		return model.GroupDescriptor{}, err
	}

	desc := model.GroupDescriptor{Index: index, Total: c.totalGroups}
	if err := c.log.Append(model.GroupStarted(desc)); err != nil {
		return model.GroupDescriptor{}, err
	}

	c.logger.Info().
		Int("group", desc.Index).
		Int("total_groups", desc.Total).
		Msg("Test group started")
	return desc, nil
}

// EndGroup writes RoundEnded when desc is the last group of its round.
func (c *Coordinator) EndGroup(desc model.GroupDescriptor) error {
	if !desc.IsFinal() {
		return nil
	}
	if err := c.log.Append(model.RoundEnded()); err != nil {
		return err
	}
	c.logger.Info().Int("group", desc.Index).Msg("Test round ended")
	return nil
}

// Lock takes the advisory single-writer lock next to the event log. It
// blocks while another invocation holds it. The returned function releases
// the lock.
func (c *Coordinator) Lock() (func() error, error) {
	path := c.log.Path() + ".lock"
	unlock, err := lockFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to lock event log: %w", err)
	}
	c.logger.Debug().Str("path", path).Msg("Acquired event log lock")
	return unlock, nil
}
