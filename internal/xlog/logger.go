// Package xlog builds the slog loggers of the binaries and tests.
package xlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/michael-freling/file-drive/internal/config"
)

// New writes JSON logs to <log_directory>/<environment>.log. Development
// logs are also written to stdout at debug level.
func New(conf config.Config) (*slog.Logger, io.Closer, error) {
	logFile := filepath.Join(conf.LogDirectory, string(conf.Environment)+".log")
	file, err := os.OpenFile(
		logFile,
		os.O_RDWR|os.O_APPEND|os.O_CREATE,
		0644,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("os.OpenFile: %w", err)
	}
	return newLogger(conf.Environment, file, os.Stdout), file, nil
}

func newLogger(environment config.Environment, file io.Writer, stdout io.Writer) *slog.Logger {
	if environment == config.EnvironmentProduction {
		return slog.New(slog.NewJSONHandler(
			file,
			&slog.HandlerOptions{
				Level: slog.LevelInfo,
			},
		))
	}
	return slog.New(slog.NewJSONHandler(
		io.MultiWriter(stdout, file),
		&slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	))
}

func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
