// Package validate applies configurable field-level checks to normalized
// records, classifying each as accepted, soft-flagged or quarantined.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"property-intel/internal/config"
	"property-intel/internal/models"
)

// Severity classifies a violation. Hard violations quarantine the record;
// soft violations reduce its quality score and let it proceed.
type Severity string

const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

// Violation is one failed check on a field.
type Violation struct {
	Field    string
	Reason   string
	Severity Severity
	Weight   float64
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Field, v.Reason, v.Severity)
}

// Result is the per-record validation outcome.
type Result struct {
	Violations   []Violation
	QualityScore float64
}

// Quarantined reports whether any hard violation occurred.
func (r *Result) Quarantined() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityHard {
			return true
		}
	}
	return false
}

// Reasons joins the violations into a single report string.
func (r *Result) Reasons() string {
	parts := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

// Validator checks records against the configured per-field rules.
type Validator struct {
	fields []fieldCheck
}

type fieldCheck struct {
	name string
	rule config.FieldRule
}

// New creates a Validator. Rules run in a stable field order so reports are
// deterministic.
func New(cfg config.ValidationConfig) *Validator {
	names := make([]string, 0, len(cfg.Fields))
	for name := range cfg.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make([]fieldCheck, 0, len(names))
	for _, name := range names {
		checks = append(checks, fieldCheck{name: name, rule: cfg.Fields[name]})
	}
	return &Validator{fields: checks}
}

// Validate runs all configured checks against a record. The quality score
// starts at 1.0 and each soft violation subtracts its configured weight,
// floored at 0.
func (v *Validator) Validate(record *models.PropertyRecord) *Result {
	result := &Result{QualityScore: 1.0}

	for _, check := range v.fields {
		value, present := fieldValue(record, check.name)
		rule := check.rule

		if !present {
			if !rule.Required && rule.MissingSeverity == "" {
				continue
			}
			severity := Severity(rule.MissingSeverity)
			if severity == "" {
				severity = SeveritySoft
			}
			result.add(Violation{
				Field:    check.name,
				Reason:   "missing",
				Severity: severity,
				Weight:   rule.SoftPenaltyWeight,
			})
			continue
		}

		if rule.Min != nil && value < *rule.Min {
			result.add(rangeViolation(check, fmt.Sprintf("below minimum %v", *rule.Min)))
		}
		if rule.Max != nil && value > *rule.Max {
			result.add(rangeViolation(check, fmt.Sprintf("above maximum %v", *rule.Max)))
		}
	}

	return result
}

func rangeViolation(check fieldCheck, reason string) Violation {
	severity := Severity(check.rule.RangeSeverity)
	if severity == "" {
		severity = SeverityHard
	}
	return Violation{
		Field:    check.name,
		Reason:   reason,
		Severity: severity,
		Weight:   check.rule.SoftPenaltyWeight,
	}
}

func (r *Result) add(v Violation) {
	r.Violations = append(r.Violations, v)
	if v.Severity == SeveritySoft {
		r.QualityScore -= v.Weight
		if r.QualityScore < 0 {
			r.QualityScore = 0
		}
	}
}

// fieldValue extracts the numeric value of a configured field, or reports
// absence. Text fields return 0 with presence only.
func fieldValue(record *models.PropertyRecord, field string) (float64, bool) {
	switch field {
	case "price":
		if record.Price == nil {
			return 0, false
		}
		return *record.Price, true
	case "bedrooms":
		if record.Bedrooms == nil {
			return 0, false
		}
		return float64(*record.Bedrooms), true
	case "bathrooms":
		if record.Bathrooms == nil {
			return 0, false
		}
		return float64(*record.Bathrooms), true
	case "square_feet":
		if record.SquareFeet == nil {
			return 0, false
		}
		return *record.SquareFeet, true
	case "address":
		return 0, record.Address != ""
	case "developer":
		return 0, record.Developer != ""
	case "completion_date":
		return 0, record.Completion != nil
	case "listed_at":
		return 0, record.ListedAt != nil
	default:
		// Unknown configured field: treat as present so a config typo never
		// quarantines records.
		return 0, true
	}
}
