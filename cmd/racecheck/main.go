package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/barrace/internal/racecheck"
	"github.com/okian/barrace/pkg/logger"
)

// Default configuration constants.
const (
	defaultDatasets    = 20
	defaultNames       = 15
	defaultDates       = 10
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultWait        = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		datasets   = flag.Int("datasets", defaultDatasets, "Number of datasets to generate and submit")
		names      = flag.Int("names", defaultNames, "Names per generated dataset")
		dates      = flag.Int("dates", defaultDates, "Dates per generated dataset")
		subSteps   = flag.Int("sub-steps", 0, "sub_steps sent with each dataset")
		visible    = flag.Int("visible", 0, "visible_bar_count sent with each dataset")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		wait       = flag.Duration("wait", defaultWait, "Server-side wait for pending races")
		inputFile  = flag.String("input", "", "CSV file to submit instead of generated data")
		outputFile = flag.String("output", "", "Output file for submitted datasets")
		logFile    = flag.String("log", "", "Log file for check output")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		racecheck.ShowHelp()
		return
	}

	closeLog, err := racecheck.SetupLogging(*logFile, *verbose)
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)

	cfg := &racecheck.Config{
		BaseURL:    *baseURL,
		Datasets:   *datasets,
		Names:      *names,
		Dates:      *dates,
		SubSteps:   *subSteps,
		Visible:    *visible,
		Workers:    *workers,
		Timeout:    *timeout,
		Wait:       *wait,
		InputFile:  *inputFile,
		OutputFile: *outputFile,
		Verbose:    *verbose,
	}

	_, err = racecheck.Run(ctx, cfg)
	cancel()
	if err != nil {
		logger.Get().Error(context.Background(), "race check failed", logger.Error(err))
		closeLog()
		os.Exit(1)
	}
	closeLog()
}
