package ingest

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-intel/internal/models"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readAll(t *testing.T, r Reader) []*models.RawRecord {
	t.Helper()
	var records []*models.RawRecord
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records
		}
		require.NoError(t, err)
		records = append(records, rec)
	}
}

func TestCSVReader(t *testing.T) {
	path := writeTempFile(t, "listings.csv",
		"Address,Area,Price,Beds\n"+
			"Marina Gate Tower 1,Dubai Marina,2500000,2\n"+
			"Villa 12,Palm Jumeirah,12000000,5\n")

	r, err := Open(path, FormatCSV)
	require.NoError(t, err)
	defer r.Close()

	records := readAll(t, r)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, 1, first.Row)
	assert.Equal(t, "Marina Gate Tower 1", first.Get("address"))
	assert.Equal(t, "Dubai Marina", first.Get("area"))
	assert.Equal(t, "2500000", first.Get("price"))
	assert.Equal(t, []string{"address", "area", "price", "beds"}, first.Keys)

	assert.Equal(t, 2, records[1].Row)
	assert.Equal(t, "Villa 12", records[1].Get("address"))
}

func TestCSVReaderRaggedRows(t *testing.T) {
	path := writeTempFile(t, "ragged.csv",
		"address,price\n"+
			"Marina Gate Tower 1,2500000,extra\n"+
			"Villa 12\n")

	r, err := Open(path, FormatCSV)
	require.NoError(t, err)
	defer r.Close()

	records := readAll(t, r)
	require.Len(t, records, 2)
	assert.Equal(t, "2500000", records[0].Get("price"))
	assert.Equal(t, "Villa 12", records[1].Get("address"))
	assert.Equal(t, "", records[1].Get("price"))
}

func TestJSONReaderArray(t *testing.T) {
	path := writeTempFile(t, "listings.json",
		`[{"address":"Marina Gate Tower 1","price":2500000,"beds":2},
		  {"address":"Villa 12","price":"AED 12,000,000","furnished":true}]`)

	r, err := Open(path, FormatJSON)
	require.NoError(t, err)
	defer r.Close()

	records := readAll(t, r)
	require.Len(t, records, 2)

	assert.Equal(t, "Marina Gate Tower 1", records[0].Get("address"))
	assert.Equal(t, "2500000", records[0].Get("price"))
	assert.Equal(t, "2", records[0].Get("beds"))

	assert.Equal(t, "AED 12,000,000", records[1].Get("price"))
	assert.Equal(t, "true", records[1].Get("furnished"))
}

func TestJSONReaderNDJSON(t *testing.T) {
	path := writeTempFile(t, "listings.jsonl",
		`{"address":"Marina Gate Tower 1","price":2500000}
{"address":"Villa 12","price":12000000}
`)

	r, err := Open(path, FormatJSON)
	require.NoError(t, err)
	defer r.Close()

	records := readAll(t, r)
	require.Len(t, records, 2)
	assert.Equal(t, "Villa 12", records[1].Get("address"))
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.csv"), FormatCSV)
	require.Error(t, err)

	var ingErr *IngestionError
	assert.ErrorAs(t, err, &ingErr)
}

func TestOpenUnsupportedFormat(t *testing.T) {
	path := writeTempFile(t, "data.csv", "a,b\n1,2\n")
	_, err := Open(path, Format("parquet"))
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want Format
		ok   bool
	}{
		{"listings.csv", FormatCSV, true},
		{"listings.CSV", FormatCSV, true},
		{"feed.json", FormatJSON, true},
		{"feed.jsonl", FormatJSON, true},
		{"sheet.xlsx", FormatXLSX, true},
		{"notes.txt", "", false},
	}
	for _, tt := range tests {
		got, ok := DetectFormat(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestReaderIsRestartable(t *testing.T) {
	path := writeTempFile(t, "listings.csv", "address\nA\nB\n")

	r1, err := Open(path, FormatCSV)
	require.NoError(t, err)
	first := readAll(t, r1)
	r1.Close()

	r2, err := Open(path, FormatCSV)
	require.NoError(t, err)
	second := readAll(t, r2)
	r2.Close()

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Get("address"), second[i].Get("address"))
	}
}
