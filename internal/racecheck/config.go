// Package racecheck drives a running barrace service end to end: it submits
// generated or file-backed datasets, waits for their races and checks every
// frame against the invariants a renderer relies on.
package racecheck

import (
	"time"

	"github.com/okian/barrace/internal/domain/model"
)

// Config holds configuration for a check run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Datasets   int           // Number of datasets to generate and submit
	Names      int           // Names per generated dataset
	Dates      int           // Dates per generated dataset
	SubSteps   int           // sub_steps override sent with each dataset
	Visible    int           // visible_bar_count override sent with each dataset
	Workers    int           // Number of concurrent workers
	Timeout    time.Duration // HTTP request timeout
	Wait       time.Duration // How long the service may block on a pending race
	InputFile  string        // CSV file submitted instead of generated data
	OutputFile string        // File the generated datasets are written to
	Verbose    bool          // Enable verbose logging
}

// Dataset is one submission: the rows plus the id the service assigned.
type Dataset struct {
	ID   string      `json:"id,omitempty"`
	Rows []model.Row `json:"rows"`
}

type optionsRequest struct {
	VisibleBarCount int `json:"visible_bar_count,omitempty"`
	SubSteps        int `json:"sub_steps,omitempty"`
}

type submitRequest struct {
	Rows    []model.Row     `json:"rows"`
	Options *optionsRequest `json:"options,omitempty"`
	Source  string          `json:"source,omitempty"`
}

type submitResponse struct {
	ID         string `json:"id"`
	Generation uint64 `json:"generation"`
	Status     string `json:"status"`
	Duplicate  bool   `json:"duplicate"`
}

// Entry is one ranked bar as served by GET /races/{id}.
type Entry struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Rank  int     `json:"rank"`
	Prev  int     `json:"prev"`
	Next  int     `json:"next"`
}

// Frame is one served frame.
type Frame struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Entries   []Entry   `json:"entries"`
}

// Race is the served race document.
type Race struct {
	DatasetID  string   `json:"dataset_id"`
	Generation uint64   `json:"generation"`
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
	Names      []string `json:"names"`
	Dates      int      `json:"dates"`
	FrameCount int      `json:"frame_count"`
	Options    struct {
		VisibleBarCount int `json:"visible_bar_count"`
		SubSteps        int `json:"sub_steps"`
	} `json:"options"`
	Frames []Frame `json:"frames"`
}

// Stats holds run statistics.
type Stats struct {
	DatasetsGenerated int
	DatasetsSubmitted int
	DatasetsDuplicate int
	DatasetsFailed    int
	RacesVerified     int
	RacesInvalid      int
	FramesChecked     int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
