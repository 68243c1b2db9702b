// Package ingest reads raw listing records out of delimited, spreadsheet and
// structured text sources. Readers are lazy and restartable: opening the same
// source again yields the same sequence from the top.
package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"property-intel/internal/models"
)

// Reader yields RawRecords one at a time. Next returns io.EOF when the
// source is exhausted.
type Reader interface {
	Next() (*models.RawRecord, error)
	Close() error
}

// Format identifies a supported source format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// IngestionError marks a source as unreadable or unsupported. It aborts only
// that source; the orchestrator records it and continues with the rest of the
// batch.
type IngestionError struct {
	Source string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Source, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// Open opens a source file for the declared format.
func Open(path string, format Format) (Reader, error) {
	switch format {
	case FormatCSV:
		return newCSVReader(path)
	case FormatJSON:
		return newJSONReader(path)
	case FormatXLSX:
		return newXLSXReader(path)
	default:
		return nil, &IngestionError{Source: path, Err: fmt.Errorf("unsupported format %q", format)}
	}
}

// DetectFormat guesses the format from the file extension.
func DetectFormat(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, true
	case ".json", ".jsonl":
		return FormatJSON, true
	case ".xlsx":
		return FormatXLSX, true
	}
	return "", false
}
