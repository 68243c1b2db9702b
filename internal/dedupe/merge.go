package dedupe

import (
	"fmt"
	"time"

	"property-intel/internal/models"
)

// Policy configures which fields a merge may never override.
type Policy struct {
	nonOverridable map[string]bool
}

// NewPolicy creates a merge policy from the configured field list.
func NewPolicy(nonOverridableFields []string) *Policy {
	m := make(map[string]bool, len(nonOverridableFields))
	for _, f := range nonOverridableFields {
		m[f] = true
	}
	return &Policy{nonOverridable: m}
}

// Overridable reports whether a merge may replace the existing value of a
// field.
func (p *Policy) Overridable(field string) bool {
	return !p.nonOverridable[field]
}

// FieldChange records a superseded value for the merge log.
type FieldChange struct {
	Field    string
	OldValue string
	NewValue string
}

// Merge applies the field-level policy: non-null values from the more
// recently observed record win, except non-overridable fields which keep
// their first value. The survivor gets duplicate_resolved=true.
//
// This is the reference implementation of the policy the structured store
// executes atomically; the pipeline uses it to predict the merged state for
// downstream indexing and to log superseded values.
func (p *Policy) Merge(existing, incoming *models.PropertyRecord) (*models.PropertyRecord, []FieldChange) {
	merged := *existing
	var changes []FieldChange

	record := func(field, oldV, newV string) {
		if oldV != "" && oldV != newV {
			changes = append(changes, FieldChange{Field: field, OldValue: oldV, NewValue: newV})
		}
	}

	if incoming.Price != nil && p.Overridable("price") {
		if existing.Price != nil && *existing.Price != *incoming.Price {
			record("price", fmt.Sprintf("%v", *existing.Price), fmt.Sprintf("%v", *incoming.Price))
		}
		merged.Price = incoming.Price
	}
	if incoming.Bedrooms != nil && p.Overridable("bedrooms") {
		if existing.Bedrooms != nil && *existing.Bedrooms != *incoming.Bedrooms {
			record("bedrooms", fmt.Sprintf("%d", *existing.Bedrooms), fmt.Sprintf("%d", *incoming.Bedrooms))
		}
		merged.Bedrooms = incoming.Bedrooms
	}
	if incoming.Bathrooms != nil && p.Overridable("bathrooms") {
		if existing.Bathrooms != nil && *existing.Bathrooms != *incoming.Bathrooms {
			record("bathrooms", fmt.Sprintf("%d", *existing.Bathrooms), fmt.Sprintf("%d", *incoming.Bathrooms))
		}
		merged.Bathrooms = incoming.Bathrooms
	}
	if incoming.SquareFeet != nil && p.Overridable("square_feet") {
		if existing.SquareFeet != nil && *existing.SquareFeet != *incoming.SquareFeet {
			record("square_feet", fmt.Sprintf("%v", *existing.SquareFeet), fmt.Sprintf("%v", *incoming.SquareFeet))
		}
		merged.SquareFeet = incoming.SquareFeet
	}
	if incoming.PropertyType != "" && p.Overridable("property_type") {
		record("property_type", existing.PropertyType, incoming.PropertyType)
		merged.PropertyType = incoming.PropertyType
	}
	if incoming.Developer != "" && p.Overridable("developer") {
		record("developer", existing.Developer, incoming.Developer)
		merged.Developer = incoming.Developer
	}
	if incoming.Address != "" && p.Overridable("address") {
		record("address", existing.Address, incoming.Address)
		merged.Address = incoming.Address
	}
	if incoming.Area != "" && incoming.Area != models.AreaUnknown && p.Overridable("area") {
		record("area", existing.Area, incoming.Area)
		merged.Area = incoming.Area
	}
	if incoming.Completion != nil && p.Overridable("completion_date") {
		if existing.Completion != nil && !existing.Completion.Equal(*incoming.Completion) {
			record("completion_date", existing.Completion.Format(time.RFC3339), incoming.Completion.Format(time.RFC3339))
		}
		merged.Completion = incoming.Completion
	}
	if len(incoming.Amenities) > 0 && p.Overridable("amenities") {
		merged.Amenities = unionAmenities(existing.Amenities, incoming.Amenities)
	}
	if incoming.ListedAt != nil && merged.ListedAt == nil {
		// Non-overridable by default: fill only when previously unknown.
		merged.ListedAt = incoming.ListedAt
	}
	if incoming.ListedAt != nil && p.Overridable("listed_at") {
		merged.ListedAt = incoming.ListedAt
	}

	merged.QualityScore = incoming.QualityScore
	merged.SourceFile = incoming.SourceFile
	merged.ObservedAt = incoming.ObservedAt
	merged.DuplicateResolved = true
	return &merged, changes
}

// unionAmenities keeps the incoming order and appends anything only the
// existing record knew about.
func unionAmenities(existing, incoming models.StringList) models.StringList {
	out := make(models.StringList, 0, len(incoming)+len(existing))
	seen := make(map[string]bool, len(incoming))
	for _, a := range incoming {
		seen[a] = true
		out = append(out, a)
	}
	for _, a := range existing {
		if !seen[a] {
			out = append(out, a)
		}
	}
	return out
}
