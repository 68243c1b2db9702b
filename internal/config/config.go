package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Vector     VectorConfig     `yaml:"vector"`
	Search     SearchConfig     `yaml:"search"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Validation ValidationConfig `yaml:"validation"`
	Aliases    AliasConfig      `yaml:"aliases"`
	Dedupe     DedupeConfig     `yaml:"dedupe"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Visibility VisibilityConfig `yaml:"visibility"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig contains structured store settings
type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// MySQLConfig contains MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// VectorConfig contains vector store and embedding settings
type VectorConfig struct {
	Addr           string `yaml:"addr"`
	Collection     string `yaml:"collection"`
	EmbeddingHost  string `yaml:"embedding_host"`
	EmbeddingModel string `yaml:"embedding_model"`
	Dimensions     int    `yaml:"dimensions"`
	QueueLimit     int    `yaml:"queue_limit"`
	MaxAttempts    int    `yaml:"max_attempts"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
}

// MeilisearchConfig contains Meilisearch connection settings
type MeilisearchConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
}

// PipelineConfig contains batch processing settings
type PipelineConfig struct {
	BatchSize           int `yaml:"batch_size"`
	Workers             int `yaml:"workers"`
	StoreMaxRetries     int `yaml:"store_max_retries"`
	StoreRetrySeconds   int `yaml:"store_retry_seconds"`
	StoreTimeoutSeconds int `yaml:"store_timeout_seconds"`
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
}

// FieldRule configures range and presence checks for a single field.
// Severity is "hard" (quarantine) or "soft" (quality score penalty).
type FieldRule struct {
	Required          bool     `yaml:"required"`
	MissingSeverity   string   `yaml:"missing_severity"`
	Min               *float64 `yaml:"min"`
	Max               *float64 `yaml:"max"`
	RangeSeverity     string   `yaml:"range_severity"`
	SoftPenaltyWeight float64  `yaml:"soft_penalty_weight"`
}

// ValidationConfig contains per-field validation rules
type ValidationConfig struct {
	Fields map[string]FieldRule `yaml:"fields"`
}

// AliasConfig maps source synonyms onto canonical vocabulary
type AliasConfig struct {
	Fields        map[string]string `yaml:"fields"`
	Areas         map[string]string `yaml:"areas"`
	PropertyTypes map[string]string `yaml:"property_types"`
	Developers    map[string]string `yaml:"developers"`
	KnownAreas    []string          `yaml:"known_areas"`
}

// DedupeConfig controls the field-level merge policy
type DedupeConfig struct {
	NonOverridableFields []string `yaml:"non_overridable_fields"`
}

// AreaProfileConfig is one MarketAreaProfile entry
type AreaProfileConfig struct {
	Area             string  `yaml:"area"`
	MarketTrend      string  `yaml:"market_trend"`
	AvgPricePerSqft  float64 `yaml:"avg_price_per_sqft"`
	RentalYield      float64 `yaml:"rental_yield"`
	DemandLevel      string  `yaml:"demand_level"`
	GradeBaseline    string  `yaml:"grade_baseline"`
	AppreciationRate float64 `yaml:"appreciation_rate"`
}

// EnrichmentConfig contains the area market reference set
type EnrichmentConfig struct {
	DefaultGrade string              `yaml:"default_grade"`
	Profiles     []AreaProfileConfig `yaml:"profiles"`
}

// VisibilityConfig declares the role x field visibility table.
// Values per field: "visible", "masked", "hidden".
type VisibilityConfig struct {
	Roles map[string]map[string]string `yaml:"roles"`
}

// SchedulerConfig contains scheduled ingestion settings
type SchedulerConfig struct {
	DailyRunEnabled bool     `yaml:"daily_run_enabled"`
	DailyRunTime    string   `yaml:"daily_run_time"`
	WatchDirectory  string   `yaml:"watch_directory"`
	WatchFormats    []string `yaml:"watch_formats"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogRecords bool   `yaml:"log_records"`
}

func f64(v float64) *float64 { return &v }

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type: "postgres",
		},
		Vector: VectorConfig{
			Collection:     "properties",
			EmbeddingModel: "nomic-embed-text",
			Dimensions:     768,
			QueueLimit:     5000,
			MaxAttempts:    5,
			TimeoutSeconds: 15,
		},
		Pipeline: PipelineConfig{
			BatchSize:           200,
			Workers:             4,
			StoreMaxRetries:     3,
			StoreRetrySeconds:   2,
			StoreTimeoutSeconds: 10,
			ReadTimeoutSeconds:  30,
		},
		Validation: ValidationConfig{
			Fields: map[string]FieldRule{
				"price": {
					Required:        true,
					MissingSeverity: "hard",
					Min:             f64(1),
					Max:             f64(500_000_000),
					RangeSeverity:   "hard",
				},
				"bedrooms": {
					MissingSeverity:   "soft",
					Min:               f64(0),
					Max:               f64(20),
					RangeSeverity:     "hard",
					SoftPenaltyWeight: 0.1,
				},
				"bathrooms": {
					MissingSeverity:   "soft",
					Min:               f64(0),
					Max:               f64(20),
					RangeSeverity:     "hard",
					SoftPenaltyWeight: 0.1,
				},
				"square_feet": {
					MissingSeverity:   "soft",
					Min:               f64(100),
					Max:               f64(100_000),
					RangeSeverity:     "hard",
					SoftPenaltyWeight: 0.1,
				},
				"address": {
					Required:        true,
					MissingSeverity: "hard",
				},
				"developer": {
					MissingSeverity:   "soft",
					SoftPenaltyWeight: 0.05,
				},
				"completion_date": {
					MissingSeverity:   "soft",
					SoftPenaltyWeight: 0.05,
				},
			},
		},
		Aliases: AliasConfig{
			Fields: map[string]string{
				"property_name": "address",
				"building":      "address",
				"location":      "area",
				"district":      "area",
				"community":     "area",
				"type":          "property_type",
				"unit_type":     "property_type",
				"beds":          "bedrooms",
				"baths":         "bathrooms",
				"size":          "square_feet",
				"size_sqft":     "square_feet",
				"area_sqft":     "square_feet",
				"asking_price":  "price",
				"price_aed":     "price",
				"builder":       "developer",
				"handover":      "completion_date",
				"handover_date": "completion_date",
				"features":      "amenities",
				"facilities":    "amenities",
				"listed":        "listed_at",
				"listing_date":  "listed_at",
			},
			Areas: map[string]string{
				"marina":                   "Dubai Marina",
				"dubai marina":             "Dubai Marina",
				"downtown":                 "Downtown Dubai",
				"downtown dubai":           "Downtown Dubai",
				"jbr":                      "JBR",
				"jumeirah beach residence": "JBR",
				"business bay":             "Business Bay",
				"palm":                     "Palm Jumeirah",
				"palm jumeirah":            "Palm Jumeirah",
				"jvc":                      "JVC",
				"jumeirah village circle":  "JVC",
			},
			PropertyTypes: map[string]string{
				"apt":       "apartment",
				"apartment": "apartment",
				"flat":      "apartment",
				"villa":     "villa",
				"townhouse": "townhouse",
				"th":        "townhouse",
				"penthouse": "penthouse",
				"studio":    "studio",
				"plot":      "plot",
				"land":      "plot",
			},
			Developers: map[string]string{
				"emaar":            "Emaar",
				"emaar properties": "Emaar",
				"damac":            "DAMAC",
				"nakheel":          "Nakheel",
				"sobha":            "Sobha Realty",
				"sobha realty":     "Sobha Realty",
				"meraas":           "Meraas",
			},
			KnownAreas: []string{
				"Dubai Marina",
				"Downtown Dubai",
				"JBR",
				"Business Bay",
				"Palm Jumeirah",
				"JVC",
			},
		},
		Dedupe: DedupeConfig{
			NonOverridableFields: []string{"listed_at"},
		},
		Enrichment: EnrichmentConfig{
			DefaultGrade: "C",
			Profiles: []AreaProfileConfig{
				{Area: "Dubai Marina", MarketTrend: "rising", AvgPricePerSqft: 1800, RentalYield: 6.5, DemandLevel: "high", GradeBaseline: "A", AppreciationRate: 8.2},
				{Area: "Downtown Dubai", MarketTrend: "stable", AvgPricePerSqft: 2400, RentalYield: 5.8, DemandLevel: "high", GradeBaseline: "A", AppreciationRate: 6.5},
				{Area: "JBR", MarketTrend: "rising", AvgPricePerSqft: 1900, RentalYield: 6.2, DemandLevel: "high", GradeBaseline: "A", AppreciationRate: 7.1},
				{Area: "Business Bay", MarketTrend: "stable", AvgPricePerSqft: 1500, RentalYield: 6.8, DemandLevel: "medium", GradeBaseline: "B", AppreciationRate: 5.9},
				{Area: "Palm Jumeirah", MarketTrend: "rising", AvgPricePerSqft: 2800, RentalYield: 5.2, DemandLevel: "high", GradeBaseline: "A", AppreciationRate: 9.0},
				{Area: "JVC", MarketTrend: "stable", AvgPricePerSqft: 1000, RentalYield: 7.5, DemandLevel: "medium", GradeBaseline: "B", AppreciationRate: 5.0},
			},
		},
		Visibility: VisibilityConfig{
			Roles: map[string]map[string]string{
				"client": {
					"address": "hidden",
					"area":    "visible",
				},
				"agent": {
					"address": "masked",
					"area":    "visible",
				},
				"listing_agent": {
					"address": "visible",
					"area":    "visible",
				},
				"manager": {
					"address": "visible",
					"area":    "visible",
				},
			},
		},
		Scheduler: SchedulerConfig{
			DailyRunEnabled: false,
			DailyRunTime:    "02:00",
			WatchFormats:    []string{"csv", "json", "xlsx"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			LogRecords: false,
		},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(filepath); os.IsNotExist(err) {
		return config, nil
	}

	// Read file
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// GetStoreTimeout returns the structured-store write timeout as a duration
func (c *PipelineConfig) GetStoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

// GetStoreRetryDelay returns the delay between structured-store retries
func (c *PipelineConfig) GetStoreRetryDelay() time.Duration {
	return time.Duration(c.StoreRetrySeconds) * time.Second
}

// GetReadTimeout returns the source read timeout as a duration
func (c *PipelineConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// GetTimeout returns the vector store call timeout as a duration
func (c *VectorConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
