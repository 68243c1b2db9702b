// Package project derives role-specific views of stored property records.
// Visibility is a declarative role x field table, not per-role branching,
// so the permission matrix stays auditable in one place.
package project

import (
	"fmt"
	"sort"
	"time"

	"property-intel/internal/config"
	"property-intel/internal/models"
)

const (
	VisibilityVisible = "visible"
	VisibilityMasked  = "masked"
	VisibilityHidden  = "hidden"
)

// Known caller roles. Unknown roles fall back to the most restrictive view.
const (
	RoleClient       = "client"
	RoleAgent        = "agent"
	RoleListingAgent = "listing_agent"
	RoleManager      = "manager"
)

// ProjectedView is the role-filtered representation of a PropertyRecord.
// Pointer fields stay nil when the role may not see them.
type ProjectedView struct {
	ID                  string     `json:"id"`
	Address             string     `json:"address,omitempty"`
	Area                string     `json:"area"`
	PropertyType        string     `json:"property_type,omitempty"`
	Price               *float64   `json:"price,omitempty"`
	Bedrooms            *int       `json:"bedrooms,omitempty"`
	Bathrooms           *int       `json:"bathrooms,omitempty"`
	SquareFeet          *float64   `json:"square_feet,omitempty"`
	Developer           string     `json:"developer,omitempty"`
	CompletionDate      *time.Time `json:"completion_date,omitempty"`
	ListedAt            *time.Time `json:"listed_at,omitempty"`
	Amenities           []string   `json:"amenities,omitempty"`
	QualityScore        *float64   `json:"quality_score,omitempty"`
	InvestmentGrade     string     `json:"investment_grade,omitempty"`
	EstimatedYield      *float64   `json:"estimated_yield,omitempty"`
	PriceSqftPercentile *float64   `json:"price_sqft_percentile,omitempty"`
	DuplicateResolved   bool       `json:"duplicate_resolved,omitempty"`
}

// Projector applies the visibility table to records. It performs no I/O.
type Projector struct {
	roles map[string]map[string]string
}

// NewProjector builds a Projector from the configured visibility table.
// Missing roles get an empty rule set, which resolves every field through
// the per-role defaults below.
func NewProjector(cfg config.VisibilityConfig) *Projector {
	roles := make(map[string]map[string]string, len(cfg.Roles))
	for role, fields := range cfg.Roles {
		rules := make(map[string]string, len(fields))
		for field, vis := range fields {
			rules[field] = vis
		}
		roles[role] = rules
	}
	return &Projector{roles: roles}
}

// Roles returns the configured role names, sorted.
func (p *Projector) Roles() []string {
	names := make([]string, 0, len(p.roles))
	for role := range p.roles {
		names = append(names, role)
	}
	sort.Strings(names)
	return names
}

// visibility resolves one role x field cell. Fields absent from the table
// default to visible for every known role; address defaults to hidden so a
// misconfigured table can never leak it to clients.
func (p *Projector) visibility(role, field string) string {
	rules, ok := p.roles[role]
	if !ok {
		// Unknown role: treat as client.
		rules = p.roles[RoleClient]
	}
	if vis, ok := rules[field]; ok {
		return vis
	}
	if field == "address" {
		return VisibilityHidden
	}
	return VisibilityVisible
}

// Project derives the role view of a record. Pure function: the input record
// is never modified.
func (p *Projector) Project(record *models.PropertyRecord, role string) ProjectedView {
	view := ProjectedView{
		ID:   record.ID,
		Area: record.Area,
	}

	switch p.visibility(role, "address") {
	case VisibilityVisible:
		view.Address = record.Address
	case VisibilityMasked:
		view.Address = maskAddress(record.Area)
	}

	if p.visibility(role, "property_type") == VisibilityVisible {
		view.PropertyType = record.PropertyType
	}
	if p.visibility(role, "price") == VisibilityVisible {
		view.Price = record.Price
	}
	if p.visibility(role, "bedrooms") == VisibilityVisible {
		view.Bedrooms = record.Bedrooms
	}
	if p.visibility(role, "bathrooms") == VisibilityVisible {
		view.Bathrooms = record.Bathrooms
	}
	if p.visibility(role, "square_feet") == VisibilityVisible {
		view.SquareFeet = record.SquareFeet
	}
	if p.visibility(role, "developer") == VisibilityVisible {
		view.Developer = record.Developer
	}
	if p.visibility(role, "completion_date") == VisibilityVisible {
		view.CompletionDate = record.Completion
	}
	if p.visibility(role, "listed_at") == VisibilityVisible {
		view.ListedAt = record.ListedAt
	}
	if p.visibility(role, "amenities") == VisibilityVisible {
		view.Amenities = append([]string(nil), record.Amenities...)
	}
	if p.visibility(role, "quality_score") == VisibilityVisible {
		qs := record.QualityScore
		view.QualityScore = &qs
	}
	if p.visibility(role, "investment_grade") == VisibilityVisible {
		view.InvestmentGrade = record.InvestmentGrade
	}
	if p.visibility(role, "estimated_yield") == VisibilityVisible {
		view.EstimatedYield = record.EstimatedYield
	}
	if p.visibility(role, "price_sqft_percentile") == VisibilityVisible {
		view.PriceSqftPercentile = record.PriceSqftPercentile
	}
	if p.visibility(role, "duplicate_resolved") == VisibilityVisible {
		view.DuplicateResolved = record.DuplicateResolved
	}

	return view
}

// ProjectAll projects a slice of records for one role.
func (p *Projector) ProjectAll(records []models.PropertyRecord, role string) []ProjectedView {
	views := make([]ProjectedView, len(records))
	for i := range records {
		views[i] = p.Project(&records[i], role)
	}
	return views
}

// maskAddress replaces the street address with an area-level placeholder.
func maskAddress(area string) string {
	if area == "" || area == models.AreaUnknown {
		return "(address withheld)"
	}
	return fmt.Sprintf("%s (exact address withheld)", area)
}
