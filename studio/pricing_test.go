package studio_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/store/memory"
	"github.com/amg/studio-ledger/studio"
)

func TestPriceForPlan_FirstPurchaseCarriesFee(t *testing.T) {
	f := newFixture(t)

	q, err := f.svc.Quote(f.ctx, "personal-1", "ana")

	require.NoError(t, err)
	assert.True(t, q.RequiresAnnualFee)
	assert.Equal(t, "110.00 EUR", q.BasePrice.String())
	assert.Equal(t, "35.00 EUR", q.AnnualFee.String())
	assert.Equal(t, "145.00 EUR", q.FinalPrice.String())
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), q.FeeWindow.Start)
}

func TestPriceForPlan_FeeChargedOncePerYear(t *testing.T) {
	f := newFixture(t)

	// GIVEN: the first purchase of 2026 paid the fee
	p1, err := f.svc.PurchasePlan(f.ctx, "ana", "personal-1")
	require.NoError(t, err)
	require.NotNil(t, p1.AnnualFee)
	assert.Equal(t, "145.00 EUR", p1.Quote.FinalPrice.String())
	assert.True(t, p1.Subscription.HasMatrix)

	// WHEN: buying again later in the same year
	f.clock.Set(time.Date(2026, time.November, 20, 10, 0, 0, 0, time.UTC))
	p2, err := f.svc.PurchasePlan(f.ctx, "ana", "group-4")

	// THEN: no second fee
	require.NoError(t, err)
	assert.Nil(t, p2.AnnualFee)
	assert.False(t, p2.Quote.RequiresAnnualFee)
	assert.Equal(t, "35.00 EUR", p2.Quote.FinalPrice.String())
	assert.False(t, p2.Subscription.HasMatrix, "only the fee-paying subscription carries the matrix")
	assert.Nil(t, p2.Subscription.MatrixExpiry)

	// AND: the next calendar year charges it again
	f.clock.Set(time.Date(2027, time.January, 4, 10, 0, 0, 0, time.UTC))
	q, err := f.svc.Quote(f.ctx, "group-4", "ana")
	require.NoError(t, err)
	assert.True(t, q.RequiresAnnualFee)
	assert.Equal(t, "70.00 EUR", q.FinalPrice.String())
}

func TestPurchasePlan_FeePlanTwiceRejected(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.PurchasePlan(f.ctx, "ana", "registration")
	require.NoError(t, err)
	assert.Nil(t, p.Subscription)
	require.NotNil(t, p.AnnualFee)
	assert.Equal(t, 2026, p.AnnualFee.Year)

	_, err = f.svc.PurchasePlan(f.ctx, "ana", "registration")
	assert.ErrorIs(t, err, studio.ErrAnnualFeeAlreadyPaid)

	fees, err := f.store.Fees().ListFees(f.ctx, "ana")
	require.NoError(t, err)
	assert.Len(t, fees, 1, "exactly one fee record per year")

	// a plan bought after paying the fee on its own is not charged again
	q, err := f.svc.Quote(f.ctx, "group-single", "ana")
	require.NoError(t, err)
	assert.False(t, q.RequiresAnnualFee)
	assert.True(t, q.AnnualFeePaid)
}

func TestPriceForPlan_NoFeeBeforeSeasonStart(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2025, time.December, 15, 10, 0, 0, 0, time.UTC))

	q, err := f.svc.Quote(f.ctx, "personal-1", "ana")

	require.NoError(t, err)
	assert.False(t, q.RequiresAnnualFee)
	assert.Equal(t, "110.00 EUR", q.FinalPrice.String())
}

func TestPriceForPlan_RollingWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Fee.Window = generic.PeriodConfig{Type: generic.PeriodRolling}
	f := newFixtureWith(t, cfg)
	f.clock.Set(time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC))

	p, err := f.svc.PurchasePlan(f.ctx, "ana", "group-4")
	require.NoError(t, err)
	require.NotNil(t, p.AnnualFee)
	assert.Equal(t, time.Date(2027, time.June, 1, 10, 0, 0, 0, time.UTC), p.AnnualFee.ValidTo)

	// still covered in the next calendar year
	f.clock.Set(time.Date(2027, time.March, 1, 10, 0, 0, 0, time.UTC))
	q, err := f.svc.Quote(f.ctx, "group-4", "ana")
	require.NoError(t, err)
	assert.False(t, q.RequiresAnnualFee)
}

func TestPriceForPlan_UnknownPlan(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Quote(f.ctx, "platinum", "ana")

	assert.ErrorIs(t, err, studio.ErrNotFound)
}

func TestPurchasePlan_RequiresUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PurchasePlan(f.ctx, "", "group-4")

	assert.ErrorIs(t, err, studio.ErrInvalidArgument)
}

func TestPlanSet_RejectsDuplicatesAndSortsByPrice(t *testing.T) {
	_, err := studio.NewPlanSet(
		studio.Plan{ID: "a", Type: studio.PlanSingle, Credits: 1, Price: eur(10)},
		studio.Plan{ID: "a", Type: studio.PlanSingle, Credits: 1, Price: eur(10)},
	)
	assert.ErrorIs(t, err, studio.ErrInvalidArgument)

	ps := testPlans(t)
	groups := ps.ByType(studio.PlanGroup)
	require.Len(t, groups, 2)
	assert.Equal(t, "group-4", groups[0].ID)
	assert.Equal(t, "group-8", groups[1].ID)

	fees := ps.ByType(studio.PlanRegistration)
	require.Len(t, fees, 1)
	assert.Equal(t, "registration", fees[0].ID)
}

func TestFeePolicy_CheckCatalogRejectsForeignCurrency(t *testing.T) {
	policy := testConfig().Fee
	require.NoError(t, policy.CheckCatalog(testPlans(t)))

	// GIVEN: a catalogue with one plan priced in dollars
	ps, err := studio.NewPlanSet(
		studio.Plan{ID: "group-4", Type: studio.PlanGroup, Credits: 4, Price: eur(35)},
		studio.Plan{ID: "drop-in", Type: studio.PlanSingle, Credits: 1, Price: generic.NewMoneyFromInt(12, "USD")},
	)
	require.NoError(t, err)

	// THEN: the catalogue is refused up front
	err = policy.CheckCatalog(ps)
	assert.ErrorIs(t, err, studio.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "drop-in")

	// AND: a quote that would add the fee to it fails instead of mixing currencies
	st := memory.New()
	svc := studio.NewService(st, ps, testConfig(), studio.WithClock(generic.NewFixedClock(monday08)), studio.WithLogger(quietLogger()))
	_, err = svc.Quote(context.Background(), "drop-in", "ana")
	assert.ErrorIs(t, err, studio.ErrInvalidArgument)
	assert.ErrorIs(t, err, generic.ErrCurrencyMismatch)

	q, err := svc.Quote(context.Background(), "group-4", "ana")
	require.NoError(t, err)
	assert.Equal(t, "70.00 EUR", q.FinalPrice.String())
}
