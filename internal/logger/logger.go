// Package logger provides logging functionalities for ngescape.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the configuration for the logger.
type Config struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	JSONFormat bool   `mapstructure:"json_format"`
}

// Setup configures the global logger based on the provided configuration.
// The returned closer releases the log file, if any.
func Setup(cfg Config) (io.Closer, error) {
	return SetupWriter(os.Stderr, cfg)
}

// SetupWriter is Setup with the console output sent to w.
func SetupWriter(w io.Writer, cfg Config) (io.Closer, error) {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		logFile, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closer = logFile
		if cfg.JSONFormat {
			writers = append(writers, logFile)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: logFile, TimeFormat: time.RFC3339, NoColor: true})
		}
	}

	multiWriter := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multiWriter).With().Timestamp().Logger()

	SetLevel(cfg.Level)
	return closer, nil
}

// SetLevel sets the global logging level.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		if level != "" {
			log.Warn().Msgf("Unknown log level '%s', defaulting to 'info'", level)
		}
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
