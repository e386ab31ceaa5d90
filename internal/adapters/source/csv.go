// Package source reads datasets from outside the API: CSV files on disk and
// a watcher that reloads them when they change.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/okian/barrace/internal/domain/model"
)

// Column names recognised in the header, case-insensitively.
const (
	ColumnDate  = "date"
	ColumnName  = "name"
	ColumnValue = "value"
)

// ParseCSV reads rows from a CSV stream whose header names a date, name and
// value column in any order. Extra columns are ignored. An empty value cell
// counts as 0; values that are not finite numbers are rejected.
func ParseCSV(r io.Reader) ([]model.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnDate)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := map[string]int{ColumnDate: -1, ColumnName: -1, ColumnValue: -1}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if idx, ok := cols[key]; ok && idx < 0 {
			cols[key] = i
		}
	}
	for _, c := range []string{ColumnDate, ColumnName, ColumnValue} {
		if cols[c] < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}

	var rows []model.Row
	for n := 1; ; n++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &RowError{Row: n, Err: err}
		}
		if blank(rec) {
			continue
		}

		row := model.Row{
			Date: cell(rec, cols[ColumnDate]),
			Name: cell(rec, cols[ColumnName]),
		}
		if raw := cell(rec, cols[ColumnValue]); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &RowError{Row: n, Err: fmt.Errorf("%w: %q", ErrBadValue, raw)}
			}
			row.Value = v
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows, nil
}

func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
