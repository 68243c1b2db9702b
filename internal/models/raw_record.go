package models

// RawRecord is one un-normalized source row. It keeps field order as read so
// error reports can point back at the original column layout. RawRecords are
// discarded after normalization.
type RawRecord struct {
	SourceID string
	Row      int
	Keys     []string
	Fields   map[string]string
}

// Get returns the raw value for a source field name, empty if absent.
func (r *RawRecord) Get(key string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[key]
}

// Set records a field value, tracking first-seen key order.
func (r *RawRecord) Set(key, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	if _, seen := r.Fields[key]; !seen {
		r.Keys = append(r.Keys, key)
	}
	r.Fields[key] = value
}
