package studio

import (
	"sort"

	"github.com/amg/studio-ledger/generic"
)

// PlanType groups plans by how they are sold.
type PlanType string

const (
	PlanRegistration PlanType = "registration" // the annual matrix fee
	PlanSingle       PlanType = "single"
	PlanMembership   PlanType = "membership"
	PlanGroup        PlanType = "group"
	PlanCombo        PlanType = "combo"
	PlanSpecial      PlanType = "special"
)

// Plan is a purchasable offering. Credits is the number of classes it grants.
type Plan struct {
	ID            string
	Type          PlanType
	Category      string
	Name          string
	Description   string
	Credits       int
	ValidityWeeks int
	Price         generic.Money
	PerWeek       int // sessions per week the plan is sized for, 0 if not applicable
}

// IsAnnualFee reports whether purchasing this plan pays the matrix fee
// instead of granting credits.
func (p Plan) IsAnnualFee() bool { return p.Type == PlanRegistration }

func (t PlanType) Valid() bool {
	switch t {
	case PlanRegistration, PlanSingle, PlanMembership, PlanGroup, PlanCombo, PlanSpecial:
		return true
	}
	return false
}

func (p Plan) Validate() error {
	switch {
	case p.ID == "":
		return newError(CodeInvalidArgument, "plan id is required")
	case !p.Type.Valid():
		return newError(CodeInvalidArgument, "plan %s: unknown type %q", p.ID, p.Type)
	case !p.Price.IsPositive():
		return newError(CodeInvalidArgument, "plan %s: price must be positive", p.ID)
	case !p.IsAnnualFee() && p.Credits <= 0:
		return newError(CodeInvalidArgument, "plan %s: credits must be positive", p.ID)
	}
	return nil
}

// PlanCatalog resolves plans by id.
type PlanCatalog interface {
	Plan(id string) (Plan, bool)
	Plans() []Plan
	ByType(t PlanType) []Plan
}

// PlanSet is an immutable in-memory PlanCatalog.
type PlanSet struct {
	byID  map[string]Plan
	order []string
}

func NewPlanSet(plans ...Plan) (*PlanSet, error) {
	ps := &PlanSet{byID: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := ps.byID[p.ID]; dup {
			return nil, newError(CodeInvalidArgument, "duplicate plan id %q", p.ID)
		}
		ps.byID[p.ID] = p
		ps.order = append(ps.order, p.ID)
	}
	return ps, nil
}

func (ps *PlanSet) Plan(id string) (Plan, bool) {
	p, ok := ps.byID[id]
	return p, ok
}

// Plans returns all plans in declaration order.
func (ps *PlanSet) Plans() []Plan {
	out := make([]Plan, 0, len(ps.order))
	for _, id := range ps.order {
		out = append(out, ps.byID[id])
	}
	return out
}

// ByType returns the plans of one type, cheapest first.
func (ps *PlanSet) ByType(t PlanType) []Plan {
	var out []Plan
	for _, p := range ps.Plans() {
		if p.Type == t {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Price.Amount.LessThan(out[j].Price.Amount)
	})
	return out
}
