package racecheck

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/okian/barrace/internal/adapters/source"
	"github.com/okian/barrace/internal/domain/model"
	"github.com/okian/barrace/pkg/logger"
)

// Constants for value generation.
const (
	randomFloatDivisor = 1_000_000
	baseValueMax       = 100.0
	growthMax          = 25.0
	firstYear          = 2000
)

// getRandomFloat returns a random float64 in [0, 1) using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// generateDatasets builds cfg.Datasets random datasets. Every name has a value
// on every date so the last frame can be checked against the input.
func generateDatasets(ctx context.Context, cfg *Config, stats *Stats) ([]Dataset, error) {
	logger.Get().Info(ctx, "generating datasets",
		logger.Int("datasets", cfg.Datasets),
		logger.Int("names", cfg.Names),
		logger.Int("dates", cfg.Dates))

	out := make([]Dataset, cfg.Datasets)
	for i := range out {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during generation: %w", err)
		}
		out[i] = Dataset{Rows: generateRows(cfg.Names, cfg.Dates)}
	}
	stats.DatasetsGenerated = len(out)
	return out, nil
}

// generateRows creates a growing series per name over yearly dates. Names are
// random so independent runs never collide in the service's dedupe index.
func generateRows(names, dates int) []model.Row {
	ids := make([]string, names)
	values := make([]float64, names)
	for i := range ids {
		ids[i] = "n-" + uuid.New().String()[:8]
		values[i] = getRandomFloat() * baseValueMax
	}

	rows := make([]model.Row, 0, names*dates)
	for d := 0; d < dates; d++ {
		date := fmt.Sprintf("%04d", firstYear+d)
		for i, id := range ids {
			if d > 0 {
				values[i] += getRandomFloat() * growthMax
			}
			rows = append(rows, model.Row{Date: date, Name: id, Value: values[i]})
		}
	}
	return rows
}

// loadDatasets reads cfg.InputFile as the single dataset to check.
func loadDatasets(ctx context.Context, cfg *Config, stats *Stats) ([]Dataset, error) {
	f, err := os.Open(cfg.InputFile)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := source.ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", cfg.InputFile, err)
	}
	logger.Get().Info(ctx, "loaded dataset", logger.String("file", cfg.InputFile), logger.Int("rows", len(rows)))
	stats.DatasetsGenerated = 1
	return []Dataset{{Rows: rows}}, nil
}

// lastDateValues returns the values on the latest date of rows, which must be
// parseable as four digit years.
func lastDateValues(rows []model.Row) map[string]float64 {
	var last time.Time
	out := map[string]float64{}
	for _, r := range rows {
		t, err := time.Parse("2006", r.Date)
		if err != nil {
			return nil
		}
		switch {
		case t.After(last):
			last = t
			out = map[string]float64{r.Name: r.Value}
		case t.Equal(last):
			out[r.Name] = r.Value
		}
	}
	return out
}
