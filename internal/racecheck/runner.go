package racecheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/barrace/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// ErrInvalidRaces reports that at least one race broke an invariant.
var ErrInvalidRaces = errors.New("invalid races")

// Run executes the complete check: health, generate or load, submit, verify.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting barrace race check",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("datasets", cfg.Datasets),
		logger.Int("workers", cfg.Workers),
		logger.String("timeout", cfg.Timeout.String()),
		logger.String("input", cfg.InputFile),
		logger.Any("verbose", cfg.Verbose))

	if err := checkServiceHealth(ctx, cfg); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	var (
		datasets []Dataset
		err      error
	)
	if cfg.InputFile != "" {
		datasets, err = loadDatasets(ctx, cfg, stats)
	} else {
		datasets, err = generateDatasets(ctx, cfg, stats)
	}
	if err != nil {
		return stats, fmt.Errorf("dataset preparation failed: %w", err)
	}

	if err := submitDatasets(ctx, cfg, datasets, stats); err != nil {
		return stats, fmt.Errorf("dataset submission failed: %w", err)
	}

	verifyErr := verifyRaces(ctx, cfg, datasets, stats)

	if cfg.OutputFile != "" {
		if err := saveDatasets(ctx, cfg.OutputFile, datasets); err != nil {
			logger.Get().Warn(ctx, "failed to save datasets", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if verifyErr != nil {
		return stats, fmt.Errorf("%w: %w", ErrInvalidRaces, verifyErr)
	}
	if stats.DatasetsFailed > 0 {
		return stats, fmt.Errorf("%d submissions failed", stats.DatasetsFailed)
	}
	logger.Get().Info(ctx, "race check completed successfully")
	return stats, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, cfg *Config) error {
	resp, err := newHTTPClient(cfg.Timeout).Get(ctx, cfg.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// saveDatasets writes the submitted datasets with their ids as JSON.
func saveDatasets(ctx context.Context, filename string, datasets []Dataset) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(datasets, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal datasets: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write datasets: %w", err)
	}
	logger.Get().Info(ctx, "datasets saved to file", logger.String("filename", filename))
	return nil
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.RacesVerified) / stats.Duration.Seconds()
	}
	logger.Get().Info(ctx, "final statistics",
		logger.Int("datasetsGenerated", stats.DatasetsGenerated),
		logger.Int("datasetsSubmitted", stats.DatasetsSubmitted),
		logger.Int("datasetsDuplicate", stats.DatasetsDuplicate),
		logger.Int("datasetsFailed", stats.DatasetsFailed),
		logger.Int("racesVerified", stats.RacesVerified),
		logger.Int("racesInvalid", stats.RacesInvalid),
		logger.Int("framesChecked", stats.FramesChecked),
		logger.Duration("duration", stats.Duration),
		logger.Float64("racesPerSecond", perSecond))
}
