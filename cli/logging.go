package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// runLogger returns a logger writing to the console and, as JSON, to the
// log file of the run. The returned function closes the log file.
func (a *App) runLogger(path string) (zerolog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return a.logger, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return a.logger, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(a.console, f)).
		With().
		Timestamp().
		Logger()

	return logger, func() {
		if err := f.Close(); err != nil {
			a.logger.Warn().Err(err).Str("path", path).Msg("Failed to close log file")
		}
	}, nil
}
