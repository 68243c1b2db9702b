package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"property-intel/internal/models"
)

type jsonReader struct {
	source  string
	file    *os.File
	dec     *json.Decoder
	inArray bool
	row     int
}

// newJSONReader streams either a top-level array of flat objects or a
// sequence of newline-delimited objects.
func newJSONReader(path string) (Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &IngestionError{Source: path, Err: err}
	}

	dec := json.NewDecoder(file)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		file.Close()
		if err == io.EOF {
			// Empty file: valid, zero records.
			return &jsonReader{source: path, dec: nil}, nil
		}
		return nil, &IngestionError{Source: path, Err: fmt.Errorf("read token: %w", err)}
	}

	r := &jsonReader{source: path, file: file, dec: dec}
	switch d := tok.(type) {
	case json.Delim:
		if d == '[' {
			r.inArray = true
			return r, nil
		}
		if d == '{' {
			// Concatenated/NDJSON objects: re-open so Next sees whole objects.
			file.Close()
			file, err = os.Open(path)
			if err != nil {
				return nil, &IngestionError{Source: path, Err: err}
			}
			r.file = file
			r.dec = json.NewDecoder(file)
			r.dec.UseNumber()
			return r, nil
		}
	}
	file.Close()
	return nil, &IngestionError{Source: path, Err: fmt.Errorf("expected array or object, got %v", tok)}
}

func (r *jsonReader) Next() (*models.RawRecord, error) {
	if r.dec == nil {
		return nil, io.EOF
	}
	if r.inArray && !r.dec.More() {
		return nil, io.EOF
	}

	obj, err := r.decodeObject()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &IngestionError{Source: r.source, Err: fmt.Errorf("record %d: %w", r.row+1, err)}
	}
	r.row++

	record := &models.RawRecord{SourceID: r.source, Row: r.row}
	for _, kv := range obj {
		record.Set(strings.ToLower(strings.TrimSpace(kv.key)), kv.value)
	}
	return record, nil
}

type jsonField struct {
	key   string
	value string
}

// decodeObject walks one object with the token API so the source key order
// is preserved in the RawRecord.
func (r *jsonReader) decodeObject() ([]jsonField, error) {
	tok, err := r.dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var fields []jsonField
	for r.dec.More() {
		keyTok, err := r.dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected field name, got %v", keyTok)
		}

		var value interface{}
		if err := r.dec.Decode(&value); err != nil {
			return nil, err
		}
		fields = append(fields, jsonField{key: key, value: stringify(value)})
	}

	// Consume closing '}'
	if _, err := r.dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ",")
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

func (r *jsonReader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
