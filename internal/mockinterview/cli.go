package mockinterview

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/bluffmeter/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging initializes the logger. When logFile is set, log lines go to
// that file so they do not interleave with the transcript on stdout.
func SetupLogging(logFile string, verbose bool) (io.Closer, error) {
	opts := []logger.Option{logger.WithWriter(os.Stderr)}
	var closer io.Closer = io.NopCloser(nil)
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		opts = []logger.Option{logger.WithWriter(file)}
		closer = file
	}
	if err := logger.Init(opts...); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return closer, nil
}

// ShowHelp prints usage information for the mock interview tool.
func ShowHelp(out io.Writer) {
	_, _ = io.WriteString(out, `Bluff Meter Mock Interview
==========================

Plays a scripted interview against a running server over the live socket,
prints every analysis and steering frame, ends the session and verifies the
stored record.

Usage:
  go run ./cmd/mock-interview [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -candidate string
        Candidate id (default "mock-candidate")
  -topic string
        Topic id (default "databases")
  -difficulty string
        Difficulty profile (default: server default)
  -gap duration
        Pause between fragments of one answer (default 300ms)
  -pause duration
        Pause after each answer, longer than the server debounce (default 3s)
  -settle duration
        Wait for trailing analysis before ending (default 5s)
  -timeout duration
        HTTP request timeout (default 10s)
  -log string
        Log file (default: stderr)
  -verbose
        Print every frame
  -help
        Show this help message

Environment:
  MOCK_URL, MOCK_CANDIDATE, MOCK_TOPIC override the defaults and may be set
  in a .env file.

Examples:
  # Default databases interview
  go run ./cmd/mock-interview

  # A roasted system design interview with quick pauses
  go run ./cmd/mock-interview -topic system-design -difficulty roasted -pause 2500ms
`)
}
