package factory

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amg/studio-ledger/studio"
)

func TestDefaultPlans_MatchStudioCatalogue(t *testing.T) {
	plans, err := NewPlanFactory().DefaultPlans()
	require.NoError(t, err)

	assert.Len(t, plans.Plans(), 22)

	fees := plans.ByType(studio.PlanRegistration)
	require.Len(t, fees, 1)
	assert.True(t, fees[0].IsAnnualFee())
	assert.Equal(t, "35.00 EUR", fees[0].Price.String())

	p, ok := plans.Plan("trio-3")
	require.True(t, ok)
	assert.Equal(t, 15, p.Credits)
	assert.Equal(t, 3, p.PerWeek)
	assert.Equal(t, "670.00 EUR", p.Price.String())
	assert.Equal(t, 5, p.ValidityWeeks)

	combo, ok := plans.Plan("combo-3")
	require.True(t, ok)
	assert.Equal(t, 8, combo.Credits)
	assert.Equal(t, studio.PlanCombo, combo.Type)
}

func TestParsePlans_DefaultsValidity(t *testing.T) {
	f := &PlanFactory{DefaultValidityWeeks: 6}

	plans, err := f.ParsePlans([]byte(`{"plans":[{"id":"x","type":"group","credits":3,"price":"20"}]}`))

	require.NoError(t, err)
	p, _ := plans.Plan("x")
	assert.Equal(t, 6, p.ValidityWeeks)
	assert.Equal(t, "20.00 EUR", p.Price.String())
}

func TestParsePlans_Rejects(t *testing.T) {
	f := NewPlanFactory()

	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"plans":[`},
		{"bad price", `{"plans":[{"id":"x","type":"group","credits":3,"price":"ten"}]}`},
		{"unknown type", `{"plans":[{"id":"x","type":"vip","credits":3,"price":"10"}]}`},
		{"no credits", `{"plans":[{"id":"x","type":"group","price":"10"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePlans([]byte(tt.json))
			assert.Error(t, err)
		})
	}
}

func TestDefaultSchedule_GeneratesWeekdayTimetable(t *testing.T) {
	tpl, err := NewPlanFactory().DefaultSchedule()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Madrid", tpl.TimeZone.String())
	assert.Len(t, tpl.Slots[time.Monday], 8)
	assert.Len(t, tpl.Slots[time.Thursday], 6)
	assert.Empty(t, tpl.Slots[time.Saturday])

	// one full week starting Monday 2026-03-02
	sessions, err := tpl.Generate(time.Date(2026, time.March, 2, 0, 0, 0, 0, tpl.TimeZone), 7)
	require.NoError(t, err)
	assert.Len(t, sessions, 8+7+8+6+8)

	first := sessions[0]
	assert.Equal(t, "2026-03-02-1-0", string(first.ID))
	assert.Equal(t, 9, first.StartsAt.Hour())
	assert.Equal(t, 30, first.StartsAt.Minute())
	assert.Equal(t, "AMG Pilates Studio", first.Location)
}

func TestParseSchedule_UnknownWeekday(t *testing.T) {
	_, err := NewPlanFactory().ParseSchedule([]byte(`{"days":{"funday":[]}}`))
	assert.Error(t, err)
}
