package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-intel/internal/config"
	"property-intel/internal/models"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func sampleRecords() []models.PropertyRecord {
	return []models.PropertyRecord{
		{
			ID:              "a1",
			Address:         "Marina Gate Tower 1, Unit 2304",
			Area:            "Dubai Marina",
			PropertyType:    "apartment",
			Price:           f64(2500000),
			Bedrooms:        intp(2),
			QualityScore:    1.0,
			InvestmentGrade: "A",
		},
		{
			ID:      "b2",
			Address: "Villa 12, Frond K",
			Area:    "Palm Jumeirah",
			Price:   f64(12000000),
		},
		{
			ID:      "c3",
			Address: "Plot 7",
			Area:    models.AreaUnknown,
		},
		{
			ID:   "d4",
			Area: "JVC",
			// address empty: even then client must not see a populated field
		},
	}
}

func newTestProjector() *Projector {
	return NewProjector(config.DefaultConfig().Visibility)
}

// The client role must never receive a populated street address, for any
// record.
func TestClientNeverSeesStreetAddress(t *testing.T) {
	p := newTestProjector()

	for _, record := range sampleRecords() {
		view := p.Project(&record, RoleClient)
		assert.Empty(t, view.Address, "record %s leaked its address to a client", record.ID)
		assert.Equal(t, record.Area, view.Area, "area stays visible to clients")
	}
}

func TestAgentGetsMaskedAddress(t *testing.T) {
	p := newTestProjector()

	record := sampleRecords()[0]
	view := p.Project(&record, RoleAgent)

	assert.NotContains(t, view.Address, "Marina Gate Tower 1")
	assert.NotContains(t, view.Address, "Unit 2304")
	assert.Contains(t, view.Address, "Dubai Marina")
}

func TestListingAgentAndManagerSeeFullAddress(t *testing.T) {
	p := newTestProjector()
	record := sampleRecords()[0]

	for _, role := range []string{RoleListingAgent, RoleManager} {
		view := p.Project(&record, role)
		assert.Equal(t, record.Address, view.Address, "role %s", role)
	}
}

func TestUnknownRoleTreatedAsClient(t *testing.T) {
	p := newTestProjector()
	record := sampleRecords()[0]

	view := p.Project(&record, "intruder")
	assert.Empty(t, view.Address)
}

func TestProjectionIsPure(t *testing.T) {
	p := newTestProjector()
	record := sampleRecords()[0]
	original := record.Address

	_ = p.Project(&record, RoleClient)
	_ = p.Project(&record, RoleAgent)

	assert.Equal(t, original, record.Address, "projection must not mutate the record")
}

func TestProjectionCarriesDerivedFields(t *testing.T) {
	p := newTestProjector()
	record := sampleRecords()[0]

	view := p.Project(&record, RoleClient)
	require.NotNil(t, view.Price)
	assert.InDelta(t, 2500000.0, *view.Price, 0.001)
	assert.Equal(t, "A", view.InvestmentGrade)
	require.NotNil(t, view.QualityScore)
	assert.Equal(t, 1.0, *view.QualityScore)
}

// Address defaults to hidden for roles whose table omits it, so a partial
// config cannot leak addresses.
func TestAddressHiddenWhenUnconfigured(t *testing.T) {
	p := NewProjector(config.VisibilityConfig{
		Roles: map[string]map[string]string{
			"client":  {},
			"auditor": {"price": "hidden"},
		},
	})
	record := sampleRecords()[0]

	view := p.Project(&record, "auditor")
	assert.Empty(t, view.Address)
	assert.Nil(t, view.Price)
}
