/*
pricing.go - Plan prices and the annual matrix fee

PURPOSE:
  Resolves what a member pays for a plan right now. The first purchase in
  a fee window carries the annual registration ("matrix") fee on top of the
  plan price; later purchases in the same window do not.

FEE WINDOW:
  calendar  Jan 1 to Jan 1 of the year the fee is paid (default)
  rolling   12 months from the payment

  No fee is charged before SeasonStart.

EXAMPLE:
  Member buys personal-1 (110.00) on 2026-03-02, no fee paid yet:
    base 110.00 + fee 35.00 = 145.00, fee record 2026-01-01..2027-01-01
  Same member buys duet-1 (180.00) on 2026-05-10:
    base 180.00 + fee 0.00 = 180.00
*/
package studio

import (
	"context"
	"fmt"
	"time"

	"github.com/amg/studio-ledger/generic"
)

type FeePolicy struct {
	Amount      generic.Money
	Window      generic.PeriodConfig
	SeasonStart time.Time
}

// CheckCatalog rejects a catalogue with a plan priced in another currency
// than the fee, since the two are added on a member's first purchase.
func (p FeePolicy) CheckCatalog(plans PlanCatalog) error {
	for _, plan := range plans.Plans() {
		if plan.Price.Currency != p.Amount.Currency {
			return newError(CodeInvalidArgument, "plan %s is priced in %s but the annual fee is charged in %s",
				plan.ID, plan.Price.Currency, p.Amount.Currency)
		}
	}
	return nil
}

// Applies reports whether the fee is charged at all at now.
func (p FeePolicy) Applies(now time.Time) bool {
	return p.SeasonStart.IsZero() || !now.Before(p.SeasonStart)
}

// Quote is the price breakdown for one plan and member.
type Quote struct {
	Plan              Plan
	BasePrice         generic.Money
	AnnualFee         generic.Money
	FinalPrice        generic.Money
	RequiresAnnualFee bool
	AnnualFeePaid     bool
	FeeWindow         generic.Period
}

type PricingResolver struct {
	plans  PlanCatalog
	fees   AnnualFeeRepository
	policy FeePolicy
}

func NewPricingResolver(plans PlanCatalog, fees AnnualFeeRepository, policy FeePolicy) *PricingResolver {
	return &PricingResolver{plans: plans, fees: fees, policy: policy}
}

func (p *PricingResolver) Policy() FeePolicy { return p.policy }

// PaidFee returns the fee record covering now, or nil.
func (p *PricingResolver) PaidFee(ctx context.Context, userID generic.UserID, now time.Time) (*AnnualFeeRecord, error) {
	records, err := p.fees.ListFees(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Covers(now) {
			return &records[i], nil
		}
	}
	return nil, nil
}

// PriceForPlan quotes planID for userID at now.
func (p *PricingResolver) PriceForPlan(ctx context.Context, planID string, userID generic.UserID, now time.Time) (*Quote, error) {
	plan, ok := p.plans.Plan(planID)
	if !ok {
		return nil, notFound("plan", planID, generic.ErrNotFound)
	}
	paid, err := p.PaidFee(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	zero := generic.NewMoneyFromInt(0, plan.Price.Currency)
	q := &Quote{
		Plan:          plan,
		BasePrice:     plan.Price,
		AnnualFee:     zero,
		FinalPrice:    plan.Price,
		AnnualFeePaid: paid != nil,
		FeeWindow:     p.policy.Window.PeriodFor(now),
	}
	if paid != nil {
		q.FeeWindow = paid.Period()
	}
	if plan.IsAnnualFee() || paid != nil || !p.policy.Applies(now) {
		return q, nil
	}

	final, err := plan.Price.Add(p.policy.Amount)
	if err != nil {
		return nil, &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf("plan %s cannot carry the annual fee", plan.ID), Err: err}
	}
	q.RequiresAnnualFee = true
	q.AnnualFee = p.policy.Amount
	q.FinalPrice = final
	return q, nil
}

// RecordFee stores a fee payment for the window containing now.
func (p *PricingResolver) RecordFee(ctx context.Context, userID generic.UserID, now time.Time) (*AnnualFeeRecord, error) {
	window := p.policy.Window.PeriodFor(now)
	rec := AnnualFeeRecord{
		ID:        generic.FeeRecordID(generic.NewID("fee")),
		UserID:    userID,
		Year:      window.Start.Year(),
		ValidFrom: window.Start,
		ValidTo:   window.End,
		Amount:    p.policy.Amount,
		PaidAt:    now,
	}
	if err := p.fees.CreateFee(ctx, rec); err != nil {
		if generic.IsDuplicate(err) {
			return nil, newError(CodeAnnualFeeAlreadyPaid, "user %s already paid the %d fee", userID, rec.Year)
		}
		return nil, err
	}
	return &rec, nil
}
