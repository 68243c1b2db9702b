package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-intel/internal/models"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func TestIdentityKeyDeterministic(t *testing.T) {
	a := IdentityKey("Marina Gate Tower 1", "Dubai Marina", "Emaar")
	b := IdentityKey("Marina Gate Tower 1", "Dubai Marina", "Emaar")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestIdentityKeyNormalizesComponents(t *testing.T) {
	base := IdentityKey("Marina Gate Tower 1", "Dubai Marina", "Emaar")

	assert.Equal(t, base, IdentityKey("MARINA GATE TOWER 1", "dubai marina", "EMAAR"))
	assert.Equal(t, base, IdentityKey("  Marina  Gate   Tower 1 ", "Dubai Marina", "Emaar"))
	assert.Equal(t, base, IdentityKey("Marina Gate, Tower 1.", "Dubai Marina", "Emaar"))

	assert.NotEqual(t, base, IdentityKey("Marina Gate Tower 2", "Dubai Marina", "Emaar"))
	assert.NotEqual(t, base, IdentityKey("Marina Gate Tower 1", "JBR", "Emaar"))
	assert.NotEqual(t, base, IdentityKey("Marina Gate Tower 1", "Dubai Marina", "DAMAC"))
}

// Two observations of the same listing with different prices merge into one
// record carrying the later price, with duplicate_resolved set.
func TestMergeLaterPriceWins(t *testing.T) {
	policy := NewPolicy([]string{"listed_at"})

	existing := &models.PropertyRecord{
		ID:       "abc",
		Address:  "Marina Gate Tower 1",
		Area:     "Dubai Marina",
		Price:    f64(2400000),
		Bedrooms: intp(2),
	}
	incoming := &models.PropertyRecord{
		ID:      "abc",
		Address: "Marina Gate Tower 1",
		Area:    "Dubai Marina",
		Price:   f64(2500000),
	}

	merged, changes := policy.Merge(existing, incoming)

	require.NotNil(t, merged.Price)
	assert.InDelta(t, 2500000.0, *merged.Price, 0.001)
	assert.True(t, merged.DuplicateResolved)

	// Missing incoming fields keep the existing value.
	require.NotNil(t, merged.Bedrooms)
	assert.Equal(t, 2, *merged.Bedrooms)

	require.Len(t, changes, 1)
	assert.Equal(t, "price", changes[0].Field)
	assert.Equal(t, "2.4e+06", changes[0].OldValue)
}

func TestMergeIdempotent(t *testing.T) {
	policy := NewPolicy([]string{"listed_at"})

	existing := &models.PropertyRecord{ID: "abc", Address: "Marina Gate Tower 1", Price: f64(2500000)}
	incoming := &models.PropertyRecord{ID: "abc", Address: "Marina Gate Tower 1", Price: f64(2500000)}

	once, changesOnce := policy.Merge(existing, incoming)
	twice, changesTwice := policy.Merge(once, incoming)

	assert.Equal(t, once.Price, twice.Price)
	assert.Equal(t, once.Address, twice.Address)
	assert.Empty(t, changesOnce)
	assert.Empty(t, changesTwice)
}

func TestMergeListedAtNotOverridden(t *testing.T) {
	policy := NewPolicy([]string{"listed_at"})

	first := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	later := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	existing := &models.PropertyRecord{ID: "abc", Address: "X", ListedAt: &first}
	incoming := &models.PropertyRecord{ID: "abc", Address: "X", ListedAt: &later}

	merged, _ := policy.Merge(existing, incoming)
	require.NotNil(t, merged.ListedAt)
	assert.True(t, merged.ListedAt.Equal(first), "original listing date must survive merges")
}

func TestMergeListedAtFillsWhenUnknown(t *testing.T) {
	policy := NewPolicy([]string{"listed_at"})

	listed := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	existing := &models.PropertyRecord{ID: "abc", Address: "X"}
	incoming := &models.PropertyRecord{ID: "abc", Address: "X", ListedAt: &listed}

	merged, _ := policy.Merge(existing, incoming)
	require.NotNil(t, merged.ListedAt)
	assert.True(t, merged.ListedAt.Equal(listed))
}

func TestMergeAmenitiesUnion(t *testing.T) {
	policy := NewPolicy(nil)

	existing := &models.PropertyRecord{ID: "abc", Address: "X", Amenities: models.StringList{"Pool", "Gym"}}
	incoming := &models.PropertyRecord{ID: "abc", Address: "X", Amenities: models.StringList{"Gym", "Parking"}}

	merged, _ := policy.Merge(existing, incoming)
	assert.ElementsMatch(t, []string{"Pool", "Gym", "Parking"}, []string(merged.Amenities))
}

func TestMergeUnknownAreaDoesNotClobber(t *testing.T) {
	policy := NewPolicy(nil)

	existing := &models.PropertyRecord{ID: "abc", Address: "X", Area: "Dubai Marina"}
	incoming := &models.PropertyRecord{ID: "abc", Address: "X", Area: models.AreaUnknown}

	merged, _ := policy.Merge(existing, incoming)
	assert.Equal(t, "Dubai Marina", merged.Area)
}
