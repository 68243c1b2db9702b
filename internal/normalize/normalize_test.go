package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-intel/internal/config"
	"property-intel/internal/models"
)

func newTestNormalizer() *Normalizer {
	return New(config.DefaultConfig().Aliases)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
		ok    bool
	}{
		{"plain number", "2500000", 2500000, true},
		{"with commas", "2,500,000", 2500000, true},
		{"aed prefix", "AED 2,500,000", 2500000, true},
		{"dollar prefix", "$1200000", 1200000, true},
		{"millions suffix", "2.5M", 2500000, true},
		{"thousands suffix", "950K", 950000, true},
		{"lowercase suffix", "1.2m", 1200000, true},
		{"decimal", "2500000.50", 2500000.50, true},
		{"not a number", "call for price", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePrice(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 0.001)
			}
		})
	}
}

// A parseable positive price must survive normalization unchanged.
func TestNormalizePricePassthrough(t *testing.T) {
	n := newTestNormalizer()

	for _, input := range []string{"2500000", "AED 2,500,000", "2.5M"} {
		raw := &models.RawRecord{SourceID: "listings.csv", Row: 1}
		raw.Set("address", "Marina Gate Tower 1")
		raw.Set("price", input)

		record := n.Normalize(raw)
		require.NotNil(t, record.Price, "price %q should parse", input)
		assert.InDelta(t, 2500000.0, *record.Price, 0.001)
	}
}

func TestNormalizeAliasesAndCoercions(t *testing.T) {
	n := newTestNormalizer()

	raw := &models.RawRecord{SourceID: "feed.json", Row: 3}
	raw.Set("building", "Marina Gate Tower 1")
	raw.Set("community", "marina")
	raw.Set("unit_type", "Apt")
	raw.Set("asking_price", "AED 2,400,000")
	raw.Set("beds", "2")
	raw.Set("baths", "2.0")
	raw.Set("size_sqft", "1,350 sqft")
	raw.Set("builder", "emaar properties")
	raw.Set("handover", "2026-06-01")
	raw.Set("features", "Pool; Gym; Pool; Parking")

	record := n.Normalize(raw)

	assert.Equal(t, "Marina Gate Tower 1", record.Address)
	assert.Equal(t, "Dubai Marina", record.Area)
	assert.Equal(t, "apartment", record.PropertyType)
	require.NotNil(t, record.Price)
	assert.InDelta(t, 2400000.0, *record.Price, 0.001)
	require.NotNil(t, record.Bedrooms)
	assert.Equal(t, 2, *record.Bedrooms)
	require.NotNil(t, record.Bathrooms)
	assert.Equal(t, 2, *record.Bathrooms)
	require.NotNil(t, record.SquareFeet)
	assert.InDelta(t, 1350.0, *record.SquareFeet, 0.001)
	assert.Equal(t, "Emaar", record.Developer)
	require.NotNil(t, record.Completion)
	assert.Equal(t, []string{"Pool", "Gym", "Parking"}, []string(record.Amenities))
}

func TestNormalizeUnknownAreaDefaults(t *testing.T) {
	n := newTestNormalizer()

	raw := &models.RawRecord{SourceID: "feed.csv", Row: 1}
	raw.Set("address", "Plot 7")
	raw.Set("area", "Unknown District")

	record := n.Normalize(raw)
	assert.Equal(t, models.AreaUnknown, record.Area)
}

func TestNormalizeStudioBedrooms(t *testing.T) {
	n := newTestNormalizer()

	raw := &models.RawRecord{SourceID: "feed.csv", Row: 1}
	raw.Set("address", "Studio One Tower")
	raw.Set("bedrooms", "Studio")

	record := n.Normalize(raw)
	require.NotNil(t, record.Bedrooms)
	assert.Equal(t, 0, *record.Bedrooms)
}

func TestNormalizeNeverRejects(t *testing.T) {
	n := newTestNormalizer()

	// Garbage in every field still yields a candidate record.
	raw := &models.RawRecord{SourceID: "feed.csv", Row: 9}
	raw.Set("price", "negotiable")
	raw.Set("bedrooms", "many")
	raw.Set("handover", "soon")

	record := n.Normalize(raw)
	require.NotNil(t, record)
	assert.Nil(t, record.Price)
	assert.Nil(t, record.Bedrooms)
	assert.Nil(t, record.Completion)
	assert.Empty(t, record.Address)
}

func TestParseDateLayouts(t *testing.T) {
	for _, input := range []string{"2026-06-01", "01/06/2026", "06-2026", "Jun 2026", "2026"} {
		_, ok := ParseDate(input)
		assert.True(t, ok, "should parse %q", input)
	}
	_, ok := ParseDate("next year")
	assert.False(t, ok)
}
