// Package normalize maps heterogeneous source rows onto the canonical
// PropertyRecord schema. Normalization is pure: it never rejects a record,
// unmappable required fields stay nil for the validator to catch.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"property-intel/internal/config"
	"property-intel/internal/models"
)

// Normalizer resolves field aliases and coerces raw values.
type Normalizer struct {
	fields        map[string]string
	areas         map[string]string
	propertyTypes map[string]string
	developers    map[string]string
	knownAreas    map[string]string
}

// New creates a Normalizer from the configured alias tables.
func New(aliases config.AliasConfig) *Normalizer {
	n := &Normalizer{
		fields:        make(map[string]string, len(aliases.Fields)),
		areas:         make(map[string]string, len(aliases.Areas)),
		propertyTypes: make(map[string]string, len(aliases.PropertyTypes)),
		developers:    make(map[string]string, len(aliases.Developers)),
		knownAreas:    make(map[string]string, len(aliases.KnownAreas)),
	}
	for k, v := range aliases.Fields {
		n.fields[strings.ToLower(k)] = v
	}
	for k, v := range aliases.Areas {
		n.areas[strings.ToLower(k)] = v
	}
	for k, v := range aliases.PropertyTypes {
		n.propertyTypes[strings.ToLower(k)] = v
	}
	for k, v := range aliases.Developers {
		n.developers[strings.ToLower(k)] = v
	}
	for _, area := range aliases.KnownAreas {
		n.knownAreas[strings.ToLower(area)] = area
	}
	return n
}

// canonicalField resolves a source column name to a canonical field name.
func (n *Normalizer) canonicalField(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if canonical, ok := n.fields[key]; ok {
		return canonical
	}
	return key
}

// Normalize maps a RawRecord to a PropertyRecord candidate.
func (n *Normalizer) Normalize(raw *models.RawRecord) *models.PropertyRecord {
	record := &models.PropertyRecord{
		Area:       models.AreaUnknown,
		SourceFile: raw.SourceID,
	}

	for _, key := range raw.Keys {
		value := strings.TrimSpace(raw.Fields[key])
		if value == "" {
			continue
		}

		switch n.canonicalField(key) {
		case "address":
			record.Address = value
		case "area":
			record.Area = n.NormalizeArea(value)
		case "property_type":
			record.PropertyType = n.normalizePropertyType(value)
		case "price":
			if price, ok := ParsePrice(value); ok {
				record.Price = &price
			}
		case "bedrooms":
			if v, ok := parseIntField(value); ok {
				record.Bedrooms = &v
			}
		case "bathrooms":
			if v, ok := parseIntField(value); ok {
				record.Bathrooms = &v
			}
		case "square_feet":
			if v, ok := parseFloatField(value); ok {
				record.SquareFeet = &v
			}
		case "developer":
			record.Developer = n.NormalizeDeveloper(value)
		case "completion_date":
			if t, ok := ParseDate(value); ok {
				record.Completion = &t
			}
		case "listed_at":
			if t, ok := ParseDate(value); ok {
				record.ListedAt = &t
			}
		case "amenities":
			record.Amenities = parseAmenities(value)
		}
	}

	return record
}

// NormalizeArea maps an area synonym onto the recognized set, or AreaUnknown.
func (n *Normalizer) NormalizeArea(value string) string {
	key := strings.ToLower(strings.TrimSpace(value))
	if canonical, ok := n.areas[key]; ok {
		return canonical
	}
	if canonical, ok := n.knownAreas[key]; ok {
		return canonical
	}
	return models.AreaUnknown
}

// NormalizeDeveloper maps a developer synonym onto its canonical name.
func (n *Normalizer) NormalizeDeveloper(value string) string {
	key := strings.ToLower(strings.TrimSpace(value))
	if canonical, ok := n.developers[key]; ok {
		return canonical
	}
	return strings.TrimSpace(value)
}

func (n *Normalizer) normalizePropertyType(value string) string {
	key := strings.ToLower(strings.TrimSpace(value))
	if canonical, ok := n.propertyTypes[key]; ok {
		return canonical
	}
	return key
}

// ParsePrice coerces currency strings like "AED 2,500,000", "$1.2M" or
// "2500000" into a numeric price.
func ParsePrice(value string) (float64, bool) {
	s := strings.ToUpper(strings.TrimSpace(value))
	for _, prefix := range []string{"AED", "USD", "$", "د.إ"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "M"):
		multiplier = 1_000_000
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		multiplier = 1_000
		s = strings.TrimSuffix(s, "K")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v * multiplier, true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"02/01/2006",
	"01-2006",
	"Jan 2006",
	"January 2006",
	"2006",
}

// ParseDate tries the supported date layouts in order.
func ParseDate(value string) (time.Time, bool) {
	s := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseIntField(value string) (int, bool) {
	s := strings.TrimSpace(value)
	// "studio" listings report zero bedrooms
	if strings.EqualFold(s, "studio") {
		return 0, true
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, true
	}
	// Tolerate decimal exports like "2.0"
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		return int(f), true
	}
	return 0, false
}

func parseFloatField(value string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	s = strings.TrimSuffix(strings.ToLower(s), "sqft")
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseAmenities(value string) models.StringList {
	sep := ","
	if strings.Contains(value, ";") {
		sep = ";"
	}
	var out models.StringList
	seen := make(map[string]bool)
	for _, part := range strings.Split(value, sep) {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}
