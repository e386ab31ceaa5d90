package racecheck

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/barrace/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging sends log output to stdout and, when logFile is set, to that
// file as well. The returned func closes the file.
func SetupLogging(logFile string, verbose bool) (func(), error) {
	var out io.Writer = os.Stdout
	closeFn := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeFn = func() { _ = f.Close() }
	}

	if err := logger.Init(logger.WithOutput(out)); err != nil {
		closeFn()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return closeFn, nil
}

// ShowHelp prints usage information for the race check tool.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`barrace race check
==================

Submits datasets to a running barrace service and verifies every frame of
the resulting races.

Usage:
  go run ./cmd/racecheck [options]

Options:
  -url string         Base URL of the service (default "http://localhost:9080")
  -datasets int       Number of datasets to generate (default 20)
  -names int          Names per generated dataset (default 15)
  -dates int          Dates per generated dataset (default 10)
  -sub-steps int      sub_steps sent with each dataset (0 keeps the server default)
  -visible int        visible_bar_count sent with each dataset (0 keeps the server default)
  -workers int        Number of concurrent workers (default CPU cores * 2)
  -timeout duration   HTTP request timeout (default 30s)
  -wait duration      Server-side wait for pending races (default 30s)
  -input string       CSV file (date,name,value) to submit instead of generated data
  -output string      Write the submitted datasets and their ids to this JSON file
  -log string         Also write log output to this file
  -verbose            Enable verbose logging
  -help               Show this help message

Examples:
  go run ./cmd/racecheck -datasets 100 -workers 16
  go run ./cmd/racecheck -input data/population.csv -sub-steps 30
`)
}
