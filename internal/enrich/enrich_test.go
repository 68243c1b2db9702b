package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-intel/internal/config"
	"property-intel/internal/models"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func testProfiles() *ProfileSet {
	return NewProfileSet(config.DefaultConfig().Enrichment)
}

// A 2.5M two-bedroom in Dubai Marina against the default profile
// (avg 1800/sqft, yield 6.5, baseline A).
func TestEnrichDubaiMarinaScenario(t *testing.T) {
	profiles := testProfiles()

	record := &models.PropertyRecord{
		Address:    "Marina Gate Tower 1",
		Area:       "Dubai Marina",
		Price:      f64(2500000),
		Bedrooms:   intp(2),
		SquareFeet: f64(1350),
	}

	Enrich(record, profiles)

	// 2,500,000 / 1,350 sqft = ~1852/sqft, ratio ~1.03 vs the 1800 average:
	// inside the neutral band, grade stays at the A baseline.
	assert.Equal(t, "A", record.InvestmentGrade)
	assert.Empty(t, record.EnrichmentWarning)

	require.NotNil(t, record.PriceSqftPercentile)
	assert.InDelta(t, 51.4, *record.PriceSqftPercentile, 0.2)

	require.NotNil(t, record.EstimatedYield)
	// Slightly above-average price per sqft pulls the yield just under 6.5.
	assert.Less(t, *record.EstimatedYield, 6.5)
	assert.Greater(t, *record.EstimatedYield, 6.0)
}

func TestEnrichUnknownAreaGetsDefaultGradeAndWarning(t *testing.T) {
	profiles := testProfiles()

	record := &models.PropertyRecord{
		Address: "Plot 7",
		Area:    "Unknown District",
		Price:   f64(900000),
	}

	Enrich(record, profiles)

	assert.Equal(t, "C", record.InvestmentGrade)
	assert.Contains(t, record.EnrichmentWarning, "Unknown District")
	assert.Nil(t, record.EstimatedYield)
	assert.Nil(t, record.PriceSqftPercentile)
}

func TestEnrichCheapUnitUpgradesGrade(t *testing.T) {
	profiles := testProfiles()

	// 1,200,000 / 1,000 sqft = 1200/sqft, ratio 0.667 vs the 1800 average:
	// well below the 0.85 band, grade improves one step from A to A+.
	record := &models.PropertyRecord{
		Address:    "Marina Wharf",
		Area:       "Dubai Marina",
		Price:      f64(1200000),
		SquareFeet: f64(1000),
	}

	Enrich(record, profiles)
	assert.Equal(t, "A+", record.InvestmentGrade)

	require.NotNil(t, record.EstimatedYield)
	// Yield boost is clamped at 1.2x.
	assert.InDelta(t, 6.5*1.2, *record.EstimatedYield, 0.0001)
}

func TestEnrichExpensiveUnitDowngradesGrade(t *testing.T) {
	profiles := testProfiles()

	// 3000/sqft against the 1800 average is past the 1.25 band.
	record := &models.PropertyRecord{
		Address:    "Marina Sky Penthouse",
		Area:       "Dubai Marina",
		Price:      f64(3000000),
		SquareFeet: f64(1000),
	}

	Enrich(record, profiles)
	assert.Equal(t, "B+", record.InvestmentGrade)
}

func TestEnrichWithoutSquareFeetKeepsBaseline(t *testing.T) {
	profiles := testProfiles()

	record := &models.PropertyRecord{
		Address: "Marina Gate Tower 1",
		Area:    "Dubai Marina",
		Price:   f64(2500000),
	}

	Enrich(record, profiles)

	assert.Equal(t, "A", record.InvestmentGrade)
	require.NotNil(t, record.EstimatedYield)
	assert.InDelta(t, 6.5, *record.EstimatedYield, 0.0001)
	assert.Nil(t, record.PriceSqftPercentile)
}

func TestEnrichIsReproducible(t *testing.T) {
	profiles := testProfiles()

	a := &models.PropertyRecord{Address: "X", Area: "JBR", Price: f64(2000000), SquareFeet: f64(1100)}
	b := &models.PropertyRecord{Address: "X", Area: "JBR", Price: f64(2000000), SquareFeet: f64(1100)}

	Enrich(a, profiles)
	Enrich(b, profiles)

	assert.Equal(t, a.InvestmentGrade, b.InvestmentGrade)
	assert.Equal(t, *a.EstimatedYield, *b.EstimatedYield)
	assert.Equal(t, *a.PriceSqftPercentile, *b.PriceSqftPercentile)
}

func TestGradeLadderSaturates(t *testing.T) {
	assert.Equal(t, "A+", adjustGrade("A+", -1))
	assert.Equal(t, "D", adjustGrade("D", +1))
	assert.Equal(t, "B", adjustGrade("B+", +1))
	assert.Equal(t, "X", adjustGrade("X", +1), "unknown grades pass through")
}
