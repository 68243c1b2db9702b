// Package enrich joins records against the area market reference set and
// computes derived investment metrics. Enrichment is a pure function of
// (record, profile-or-default): identical inputs always yield identical
// derived fields.
package enrich

import (
	"property-intel/internal/config"
	"property-intel/internal/models"
)

// gradeLadder orders investment grades best to worst. Adjustments move one
// step along the ladder and saturate at the ends.
var gradeLadder = []string{"A+", "A", "B+", "B", "C", "D"}

// ProfileSet is the immutable, explicitly passed market reference context.
// It is loaded once per run and shared read-only across workers.
type ProfileSet struct {
	profiles     map[string]models.MarketAreaProfile
	defaultGrade string
}

// NewProfileSet builds the reference set from configuration.
func NewProfileSet(cfg config.EnrichmentConfig) *ProfileSet {
	profiles := make(map[string]models.MarketAreaProfile, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		profiles[p.Area] = models.MarketAreaProfile{
			Area:             p.Area,
			MarketTrend:      p.MarketTrend,
			AvgPricePerSqft:  p.AvgPricePerSqft,
			RentalYield:      p.RentalYield,
			DemandLevel:      p.DemandLevel,
			GradeBaseline:    p.GradeBaseline,
			AppreciationRate: p.AppreciationRate,
		}
	}
	defaultGrade := cfg.DefaultGrade
	if defaultGrade == "" {
		defaultGrade = gradeLadder[len(gradeLadder)-1]
	}
	return &ProfileSet{profiles: profiles, defaultGrade: defaultGrade}
}

// Lookup returns the profile for an area.
func (s *ProfileSet) Lookup(area string) (models.MarketAreaProfile, bool) {
	p, ok := s.profiles[area]
	return p, ok
}

// DefaultGrade is the grade applied when the area has no profile.
func (s *ProfileSet) DefaultGrade() string {
	return s.defaultGrade
}

// Len returns the number of loaded profiles.
func (s *ProfileSet) Len() int {
	return len(s.profiles)
}

// Enrich computes the derived fields in place. A missing area profile is
// never a hard failure: the record gets the default grade and an
// enrichment warning annotation.
func Enrich(record *models.PropertyRecord, profiles *ProfileSet) {
	profile, ok := profiles.Lookup(record.Area)
	if !ok {
		record.InvestmentGrade = profiles.DefaultGrade()
		record.EnrichmentWarning = "no market profile for area " + record.Area
		return
	}

	yield := profile.RentalYield
	grade := profile.GradeBaseline

	ppsf, hasPpsf := pricePerSqft(record)
	if hasPpsf && profile.AvgPricePerSqft > 0 {
		ratio := ppsf / profile.AvgPricePerSqft

		// Percentile relative to the area baseline: the average maps to 50,
		// clamped into (1, 99).
		percentile := clamp(ratio*50, 1, 99)
		record.PriceSqftPercentile = &percentile

		// Yield scales inversely with how expensive the unit is per sqft,
		// bounded so outliers cannot distort the estimate.
		yield = profile.RentalYield * clamp(1/ratio, 0.8, 1.2)

		switch {
		case ratio <= 0.85:
			grade = adjustGrade(grade, -1)
		case ratio >= 1.25:
			grade = adjustGrade(grade, +1)
		}
	}

	record.InvestmentGrade = grade
	record.EstimatedYield = &yield
}

func pricePerSqft(record *models.PropertyRecord) (float64, bool) {
	if record.Price == nil || record.SquareFeet == nil || *record.SquareFeet <= 0 {
		return 0, false
	}
	return *record.Price / *record.SquareFeet, true
}

// adjustGrade moves along the ladder; negative steps improve the grade.
func adjustGrade(grade string, steps int) string {
	for i, g := range gradeLadder {
		if g == grade {
			j := i + steps
			if j < 0 {
				j = 0
			}
			if j >= len(gradeLadder) {
				j = len(gradeLadder) - 1
			}
			return gradeLadder[j]
		}
	}
	return grade
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
