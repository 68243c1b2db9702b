package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PropertyRecord is the canonical listing entity. The ID is the identity key
// derived from normalized address, area and developer; a given key maps to at
// most one row (upsert semantics, never duplicate rows).
type PropertyRecord struct {
	ID      string `gorm:"type:varchar(32);primaryKey" json:"id"`
	Address string `gorm:"type:text;not null" json:"address"`
	Area    string `gorm:"type:varchar(100);not null;index" json:"area"`

	PropertyType string     `gorm:"type:varchar(30);index" json:"property_type,omitempty"`
	Price        *float64   `gorm:"type:decimal(14,2);index" json:"price,omitempty"`
	Bedrooms     *int       `gorm:"type:int;index" json:"bedrooms,omitempty"`
	Bathrooms    *int       `gorm:"type:int" json:"bathrooms,omitempty"`
	SquareFeet   *float64   `gorm:"type:decimal(10,2)" json:"square_feet,omitempty"`
	Developer    string     `gorm:"type:varchar(100)" json:"developer,omitempty"`
	Completion   *time.Time `gorm:"type:datetime" json:"completion_date,omitempty"`
	Amenities    StringList `gorm:"type:text" json:"amenities,omitempty"`

	// ListedAt is the original listing date; merges never override it.
	ListedAt *time.Time `gorm:"type:datetime" json:"listed_at,omitempty"`

	QualityScore      float64 `gorm:"type:decimal(4,3);not null" json:"quality_score"`
	DuplicateResolved bool    `gorm:"not null;default:false" json:"duplicate_resolved"`

	// Derived market intelligence
	InvestmentGrade     string   `gorm:"type:varchar(5)" json:"investment_grade,omitempty"`
	EstimatedYield      *float64 `gorm:"type:decimal(5,2)" json:"estimated_yield,omitempty"`
	PriceSqftPercentile *float64 `gorm:"type:decimal(5,2)" json:"price_sqft_percentile,omitempty"`
	EnrichmentWarning   string   `gorm:"type:text" json:"enrichment_warning,omitempty"`

	// VectorIndexPending is set when the vector-index write has not caught up
	// with the committed row yet.
	VectorIndexPending bool `gorm:"not null;default:false" json:"vector_index_pending"`

	SourceFile string    `gorm:"type:varchar(255)" json:"source_file,omitempty"`
	ObservedAt time.Time `gorm:"type:datetime;not null" json:"observed_at"`
	CreatedAt  time.Time `gorm:"type:datetime;not null;autoCreateTime;index:idx_created_at,sort:desc" json:"created_at"`
	UpdatedAt  time.Time `gorm:"type:datetime;not null;autoUpdateTime" json:"updated_at"`
}

// AreaUnknown marks records whose area is not in the recognized set.
const AreaUnknown = "unknown"

// TableName specifies the table name for GORM
func (PropertyRecord) TableName() string {
	return "properties"
}

// DescriptiveText builds the text that gets embedded for the vector index.
func (p *PropertyRecord) DescriptiveText() string {
	text := fmt.Sprintf("%s %s in %s", p.PropertyType, p.Address, p.Area)
	if p.Bedrooms != nil {
		text += fmt.Sprintf(", %d bedrooms", *p.Bedrooms)
	}
	if p.Bathrooms != nil {
		text += fmt.Sprintf(", %d bathrooms", *p.Bathrooms)
	}
	if p.SquareFeet != nil {
		text += fmt.Sprintf(", %.0f sqft", *p.SquareFeet)
	}
	if p.Price != nil {
		text += fmt.Sprintf(", priced at %.0f", *p.Price)
	}
	if p.Developer != "" {
		text += fmt.Sprintf(", developed by %s", p.Developer)
	}
	if len(p.Amenities) > 0 {
		text += ". Amenities: "
		for i, a := range p.Amenities {
			if i > 0 {
				text += ", "
			}
			text += a
		}
	}
	if p.InvestmentGrade != "" {
		text += fmt.Sprintf(". Investment grade %s", p.InvestmentGrade)
	}
	return text
}

// StringList stores a set of strings as a JSON text column.
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
}
