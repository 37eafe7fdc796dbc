package studio

import (
	"time"

	"github.com/amg/studio-ledger/generic"
)

// =============================================================================
// SUBSCRIPTION STATUS - Closed enum with transition table
// =============================================================================

type SubscriptionStatus string

const (
	SubscriptionPending SubscriptionStatus = "pending"
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionUsed    SubscriptionStatus = "used"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// subscriptionTransitions lists every legal move. Expired is terminal.
// used -> active happens when a cancellation hands a credit back.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionPending: {SubscriptionActive, SubscriptionExpired},
	SubscriptionActive:  {SubscriptionUsed, SubscriptionExpired},
	SubscriptionUsed:    {SubscriptionActive, SubscriptionExpired},
	SubscriptionExpired: nil,
}

func (s SubscriptionStatus) Valid() bool {
	_, ok := subscriptionTransitions[s]
	return ok
}

func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	for _, allowed := range subscriptionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

// Subscription is a purchased bundle of class credits.
//
// INVARIANT: 0 <= Remaining <= Duration.
type Subscription struct {
	ID            generic.SubscriptionID
	UserID        generic.UserID
	PlanID        string
	PlanType      PlanType
	Category      string
	Duration      int // credits granted
	Remaining     int
	ValidityWeeks int
	Price         generic.Money
	Status        SubscriptionStatus
	PurchaseDate  time.Time
	StartDate     *time.Time
	EndDate       *time.Time
	HasMatrix     bool
	MatrixExpiry  *time.Time
	Version       int64
}

// IsOverdue reports an activated subscription whose end date has passed.
func (s Subscription) IsOverdue(now time.Time) bool {
	return s.EndDate != nil && s.EndDate.Before(now)
}

// CanBackBooking reports whether the subscription can fund a booking at now.
func (s Subscription) CanBackBooking(now time.Time) bool {
	if s.Status != SubscriptionActive && s.Status != SubscriptionPending {
		return false
	}
	return s.Remaining > 0 && !s.IsOverdue(now)
}

// IsLive is CanBackBooking without the balance requirement.
func (s Subscription) IsLive(now time.Time) bool {
	switch s.Status {
	case SubscriptionActive, SubscriptionPending, SubscriptionUsed:
		return !s.IsOverdue(now)
	}
	return false
}

func (s *Subscription) transition(next SubscriptionStatus) error {
	if s.Status == next {
		return nil
	}
	if !s.Status.CanTransitionTo(next) {
		return newError(CodeInvalidTransition, "subscription %s: %s -> %s", s.ID, s.Status, next)
	}
	s.Status = next
	return nil
}
