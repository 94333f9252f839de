package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig selects where pwrsync logs go. With a File set, the file gets
// every event at the chosen level and the console keeps only warnings and
// errors so the live progress display stays readable.
type LogConfig struct {
	Debug   bool
	Console io.Writer // defaults to stderr
	File    io.Writer
}

func InitLogger(cfg LogConfig) {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	var out io.Writer = zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime}
	if cfg.File != nil {
		out = zerolog.MultiLevelWriter(
			minLevelWriter{w: out, min: zerolog.WarnLevel},
			zerolog.ConsoleWriter{Out: cfg.File, TimeFormat: time.RFC3339, NoColor: true},
		)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("app", "pwrsync").Logger()
}

func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// RunLogger tags a component logger with the run id shared by every event of
// one install run.
func RunLogger(l zerolog.Logger, runID string) zerolog.Logger {
	if runID == "" {
		return l
	}
	return l.With().Str("run", runID).Logger()
}

type minLevelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (m minLevelWriter) Write(p []byte) (int, error) {
	return m.w.Write(p)
}

func (m minLevelWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < m.min {
		return len(p), nil
	}
	return m.w.Write(p)
}
