package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"property-intel/internal/models"
)

type xlsxReader struct {
	source string
	file   *excelize.File
	rows   *excelize.Rows
	header []string
	row    int
}

// newXLSXReader reads the first sheet of a workbook; the first row is the
// header.
func newXLSXReader(path string) (Reader, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &IngestionError{Source: path, Err: err}
	}

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		file.Close()
		return nil, &IngestionError{Source: path, Err: fmt.Errorf("workbook has no sheets")}
	}

	rows, err := file.Rows(sheets[0])
	if err != nil {
		file.Close()
		return nil, &IngestionError{Source: path, Err: err}
	}

	if !rows.Next() {
		rows.Close()
		file.Close()
		return nil, &IngestionError{Source: path, Err: fmt.Errorf("sheet %s is empty", sheets[0])}
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		file.Close()
		return nil, &IngestionError{Source: path, Err: fmt.Errorf("read header: %w", err)}
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	return &xlsxReader{source: path, file: file, rows: rows, header: header}, nil
}

func (r *xlsxReader) Next() (*models.RawRecord, error) {
	if !r.rows.Next() {
		if err := r.rows.Error(); err != nil {
			return nil, &IngestionError{Source: r.source, Err: err}
		}
		return nil, io.EOF
	}

	cols, err := r.rows.Columns()
	if err != nil {
		return nil, &IngestionError{Source: r.source, Err: fmt.Errorf("row %d: %w", r.row+1, err)}
	}
	r.row++

	record := &models.RawRecord{SourceID: r.source, Row: r.row}
	for i, value := range cols {
		if i >= len(r.header) {
			break
		}
		record.Set(r.header[i], strings.TrimSpace(value))
	}
	return record, nil
}

func (r *xlsxReader) Close() error {
	r.rows.Close()
	return r.file.Close()
}
