package eventlog

// This file contains the append-only event log shared by every kboot
// invocation. It is the only coordination channel between runs.

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/perfgo/kboot/model"
	"github.com/rs/zerolog"
)

// maxLineSize bounds a single record; the scanner default of 64KiB is kept
// for the initial buffer.
const maxLineSize = 1024 * 1024

// Record is a parsed event log line
type Record struct {
	model.Event
	// Raw line as written, including fields the model does not know
	Raw json.RawMessage
	// 1-based line number in the log file
	Line int
}

// Log is a line-delimited JSON event log. Each Append opens the file in
// append mode, writes one line and syncs it, so no handle is held between
// calls.
type Log struct {
	logger zerolog.Logger
	path   string
	now    func() time.Time
}

// Open prepares the event log at path, creating parent directories and an
// empty file if they do not exist yet.
func Open(logger zerolog.Logger, path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close event log: %w", err)
	}

	return &Log{
		logger: logger,
		path:   path,
		now:    time.Now,
	}, nil
}

// Path returns the location of the log file.
func (l *Log) Path() string {
	return l.path
}

// Append writes the event as a single compact JSON line. A zero timestamp is
// replaced by the current time.
func (l *Log) Append(event model.Event) error {
	if event.Timestamp == 0 {
		event.Timestamp = l.now().UnixMilli()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}

	l.logger.Debug().
		Str("event", string(event.Kind)).
		Int64("timestamp", event.Timestamp).
		Msg("Appended event")
	return nil
}

// Records reads and parses the whole log in file order. Lines that are not
// valid JSON objects are skipped.
func (l *Log) Records() ([]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var event model.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			l.logger.Debug().Err(err).Int("line", lineNum).Msg("Skipping unparseable event")
			continue
		}
		event.Kind = model.NormalizeKind(event.Kind)

		records = append(records, Record{Event: event, Raw: append(json.RawMessage(nil), raw...), Line: lineNum})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	return records, nil
}

// Reverse visits the records from newest to oldest until fn returns false.
func (l *Log) Reverse(fn func(Record) bool) error {
	records, err := l.Records()
	if err != nil {
		return err
	}

	for i := len(records) - 1; i >= 0; i-- {
		if !fn(records[i]) {
			break
		}
	}
	return nil
}
