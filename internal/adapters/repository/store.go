// Package repository defines the dataset store interface and its
// in-memory and SQLite implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/barrace/internal/domain/model"
	"github.com/okian/barrace/internal/domain/race"
)

// Dataset is one submitted table of rows plus the options its race is
// computed with.
type Dataset struct {
	ID      string
	Digest  string
	Source  string
	Version int
	Rows    []model.Row
	Options race.Options

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is a Dataset without its rows.
type Summary struct {
	ID        string
	Digest    string
	Source    string
	Version   int
	RowCount  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summarize drops the rows of d.
func (d Dataset) Summarize() Summary {
	return Summary{
		ID:        d.ID,
		Digest:    d.Digest,
		Source:    d.Source,
		Version:   d.Version,
		RowCount:  len(d.Rows),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// Store provides read/write access to datasets.
type Store interface {
	// Save inserts or replaces the dataset with d.ID.
	Save(ctx context.Context, d Dataset) error

	// Load returns the dataset with id.
	// Returns ErrNotFound if the dataset is unknown.
	Load(ctx context.Context, id string) (Dataset, error)

	// Delete removes the dataset with id.
	// Returns ErrNotFound if the dataset is unknown.
	Delete(ctx context.Context, id string) error

	// List returns summaries ordered by creation time, oldest first.
	List(ctx context.Context) ([]Summary, error)

	// Count returns the number of stored datasets.
	Count(ctx context.Context) int

	Close() error
}
