package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"property-intel/internal/models"
)

type csvReader struct {
	source string
	file   *os.File
	csv    *csv.Reader
	header []string
	row    int
}

func newCSVReader(path string) (Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &IngestionError{Source: path, Err: err}
	}

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		file.Close()
		return nil, &IngestionError{Source: path, Err: fmt.Errorf("read header: %w", err)}
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	return &csvReader{source: path, file: file, csv: r, header: header}, nil
}

func (r *csvReader) Next() (*models.RawRecord, error) {
	row, err := r.csv.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &IngestionError{Source: r.source, Err: fmt.Errorf("row %d: %w", r.row+1, err)}
	}
	r.row++

	record := &models.RawRecord{SourceID: r.source, Row: r.row}
	for i, value := range row {
		if i >= len(r.header) {
			break
		}
		record.Set(r.header[i], strings.TrimSpace(value))
	}
	return record, nil
}

func (r *csvReader) Close() error {
	return r.file.Close()
}
