package model

import "strings"

// EventKind identifies the type of a record in the event log
type EventKind string

const (
	EventRoundStarted EventKind = "RoundStarted"
	EventRoundEnded   EventKind = "RoundEnded"
	EventGroupStarted EventKind = "GroupStarted"
)

// Event is a single line of the event log.
// Records are never rewritten, so unknown kinds and fields must be tolerated
// by every reader.
type Event struct {
	// Kind of event
	Kind EventKind `json:"event"`
	// Milliseconds since the unix epoch at which the event was written
	Timestamp int64 `json:"timestamp"`
	// Index of the test group within its round (GroupStarted only)
	CurrentTestGroup *int `json:"current_test_group,omitempty"`
	// Number of test groups in a round (GroupStarted only)
	TotalTestGroups *int `json:"total_test_groups,omitempty"`
}

// RoundStarted returns the marker written before the first group of a round.
func RoundStarted() Event {
	return Event{Kind: EventRoundStarted}
}

// RoundEnded returns the marker written after the last group of a round.
func RoundEnded() Event {
	return Event{Kind: EventRoundEnded}
}

// GroupStarted returns the event recording that a group began.
func GroupStarted(desc GroupDescriptor) Event {
	current, total := desc.Index, desc.Total
	return Event{
		Kind:             EventGroupStarted,
		CurrentTestGroup: &current,
		TotalTestGroups:  &total,
	}
}

// NormalizeKind maps the kind names written by older runners
// (e.g. "kboot::event::TestRoundEndedEvent") onto the current ones.
// Kinds that are not recognized are returned unchanged.
func NormalizeKind(kind EventKind) EventKind {
	s := string(kind)
	switch {
	case strings.HasSuffix(s, "TestRoundStartedEvent"):
		return EventRoundStarted
	case strings.HasSuffix(s, "TestRoundEndedEvent"):
		return EventRoundEnded
	case strings.HasSuffix(s, "TestGroupStartedEvent"):
		return EventGroupStarted
	}
	return kind
}

// GroupDescriptor captures a group's position within its round at the moment
// the group began, so that the finality check does not need another log scan.
type GroupDescriptor struct {
	Index int `json:"current_test_group"`
	Total int `json:"total_test_groups"`
}

// IsFinal reports whether the group is the last one of its round.
func (d GroupDescriptor) IsFinal() bool {
	return d.Index+1 >= d.Total
}
