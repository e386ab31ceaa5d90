package racecheck

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/okian/barrace/pkg/logger"
)

// HTTPClient wraps http.Client with timeout.
type HTTPClient struct {
	client *http.Client
}

func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body.
func (c *HTTPClient) Post(ctx context.Context, url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// decode reads a JSON body into v, failing on statuses other than want.
func decode(resp *http.Response, v any, want ...int) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	for _, code := range want {
		if resp.StatusCode == code {
			return json.Unmarshal(body, v)
		}
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

// submitDatasets posts every dataset concurrently and records the ids the
// service assigns. A failed submission is counted, not fatal.
func submitDatasets(ctx context.Context, cfg *Config, datasets []Dataset, stats *Stats) error {
	logger.Get().Info(ctx, "submitting datasets", logger.Int("datasets", len(datasets)), logger.Int("workers", cfg.Workers))

	client := newHTTPClient(cfg.Timeout)
	var opts *optionsRequest
	if cfg.SubSteps > 0 || cfg.Visible > 0 {
		opts = &optionsRequest{VisibleBarCount: cfg.Visible, SubSteps: cfg.SubSteps}
	}

	var submitted, duplicate, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for i := range datasets {
		g.Go(func() error {
			resp, err := client.Post(gctx, cfg.BaseURL+"/datasets", submitRequest{
				Rows:    datasets[i].Rows,
				Options: opts,
				Source:  "racecheck",
			})
			if err != nil {
				failed.Add(1)
				return nil
			}
			var ack submitResponse
			if err := decode(resp, &ack, http.StatusAccepted, http.StatusOK); err != nil {
				failed.Add(1)
				if cfg.Verbose {
					logger.Get().Warn(gctx, "submission failed", logger.Int("dataset", i), logger.Error(err))
				}
				return nil
			}
			submitted.Add(1)
			if ack.Duplicate {
				duplicate.Add(1)
			}
			datasets[i].ID = ack.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	stats.DatasetsSubmitted = int(submitted.Load())
	stats.DatasetsDuplicate = int(duplicate.Load())
	stats.DatasetsFailed = int(failed.Load())
	logger.Get().Info(ctx, "dataset submission completed",
		logger.Int("submitted", stats.DatasetsSubmitted),
		logger.Int("duplicate", stats.DatasetsDuplicate),
		logger.Int("failed", stats.DatasetsFailed))
	return ctx.Err()
}

// fetchRace reads the whole race for id, letting the service block up to
// cfg.Wait while it is still pending.
func fetchRace(ctx context.Context, client *HTTPClient, cfg *Config, id string) (Race, error) {
	u := cfg.BaseURL + "/races/" + url.PathEscape(id) + "?wait=" + url.QueryEscape(cfg.Wait.String())
	resp, err := client.Get(ctx, u)
	if err != nil {
		return Race{}, err
	}
	var r Race
	if err := decode(resp, &r, http.StatusOK, http.StatusAccepted); err != nil {
		return Race{}, err
	}
	if r.Status != "ready" {
		return r, fmt.Errorf("race %s is %s %s", id, r.Status, r.Error)
	}
	return r, nil
}
