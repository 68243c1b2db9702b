package models

// MarketAreaProfile is read-only reference data describing an area's market
// characteristics. Profiles are loaded once per run and never mutated by the
// pipeline.
type MarketAreaProfile struct {
	Area             string
	MarketTrend      string
	AvgPricePerSqft  float64
	RentalYield      float64
	DemandLevel      string
	GradeBaseline    string
	AppreciationRate float64
}
