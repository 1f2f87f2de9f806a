// Package logging builds the hclog loggers used across texresolve.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	// EnvLevel overrides the configured log level.
	EnvLevel = "TEXRESOLVE_LOG_LEVEL"
	// EnvJSON switches to JSON output when set to 1.
	EnvJSON = "TEXRESOLVE_JSON_LOG"

	// DefaultLevel is used when neither configuration nor environment name one.
	DefaultLevel = "warn"
)

// New returns a logger writing to out, or stderr when out is nil. A level
// in EnvLevel takes precedence over level.
func New(name, level string, out io.Writer) hclog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if env := os.Getenv(EnvLevel); env != "" {
		level = env
	}
	if level == "" {
		level = DefaultLevel
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(level),
		JSONFormat: os.Getenv(EnvJSON) == "1",
		Output:     out,
		TimeFormat: "2006-01-02T15:04:05Z",
		TimeFn: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// ParseLevel checks that s names an hclog level.
func ParseLevel(s string) (hclog.Level, error) {
	level := hclog.LevelFromString(strings.TrimSpace(s))
	if level == hclog.NoLevel {
		return level, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
