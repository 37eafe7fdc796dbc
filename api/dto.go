/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the studio domain model from the external API contract:
  - Money is rendered as a decimal string plus currency
  - Optional dates are omitted instead of sent as zero times
  - Field names are snake_case

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the studio package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/plan.go: PlanJSON, the catalogue file format
*/
package api

import (
	"time"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/studio"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// BookingRequest is the body of POST /api/bookings and POST /api/waitlist.
type BookingRequest struct {
	UserID  string `json:"user_id"`
	ClassID string `json:"class_id"`
}

type AttendanceRequest struct {
	Outcome string `json:"outcome"` // "attended" or "no-show"
}

type PurchaseRequest struct {
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id"`
}

// ScheduleSessionRequest is the body of POST /api/admin/classes.
type ScheduleSessionRequest struct {
	ID          string    `json:"id"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Category    string    `json:"category"`
	Subtype     string    `json:"subtype"`
	Instructor  string    `json:"instructor"`
	Location    string    `json:"location"`
	Address     string    `json:"address"`
	Description string    `json:"description"`
	MaxCapacity int       `json:"max_capacity"`
	Price       string    `json:"price"`
	Currency    string    `json:"currency,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type MoneyDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toMoneyDTO(m generic.Money) MoneyDTO {
	return MoneyDTO{Amount: m.Amount.StringFixed(2), Currency: string(m.Currency)}
}

type SessionDTO struct {
	ID              string    `json:"id"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	Category        string    `json:"category"`
	Subtype         string    `json:"subtype"`
	Instructor      string    `json:"instructor"`
	Location        string    `json:"location"`
	Address         string    `json:"address,omitempty"`
	Description     string    `json:"description,omitempty"`
	MaxCapacity     int       `json:"max_capacity"`
	CurrentBookings int       `json:"current_bookings"`
	FreeSpots       int       `json:"free_spots"`
	Price           MoneyDTO  `json:"price"`
	Cancelled       bool      `json:"cancelled"`
}

func toSessionDTO(s studio.ClassSession) SessionDTO {
	return SessionDTO{
		ID:              string(s.ID),
		StartsAt:        s.StartsAt,
		EndsAt:          s.EndsAt,
		Category:        string(s.Category),
		Subtype:         s.Subtype,
		Instructor:      s.Instructor,
		Location:        s.Location,
		Address:         s.Address,
		Description:     s.Description,
		MaxCapacity:     s.MaxCapacity,
		CurrentBookings: s.CurrentBookings,
		FreeSpots:       s.FreeSpots(),
		Price:           toMoneyDTO(s.Price),
		Cancelled:       s.Cancelled,
	}
}

type BookingDTO struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	ClassID              string    `json:"class_id"`
	SubscriptionID       string    `json:"subscription_id,omitempty"`
	Status               string    `json:"status"`
	BookingDate          time.Time `json:"booking_date"`
	CancellationDeadline time.Time `json:"cancellation_deadline"`
	UpdatedAt            time.Time `json:"updated_at"`
	Notes                string    `json:"notes,omitempty"`
}

func toBookingDTO(b studio.Booking) BookingDTO {
	return BookingDTO{
		ID:                   string(b.ID),
		UserID:               string(b.UserID),
		ClassID:              string(b.ClassID),
		SubscriptionID:       string(b.SubscriptionID),
		Status:               string(b.Status),
		BookingDate:          b.BookingDate,
		CancellationDeadline: b.CancellationDeadline,
		UpdatedAt:            b.UpdatedAt,
		Notes:                b.Notes,
	}
}

func toBookingDTOs(bs []studio.Booking) []BookingDTO {
	out := make([]BookingDTO, len(bs))
	for i, b := range bs {
		out[i] = toBookingDTO(b)
	}
	return out
}

type SubscriptionDTO struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	PlanID        string     `json:"plan_id"`
	PlanType      string     `json:"plan_type"`
	Category      string     `json:"category,omitempty"`
	Duration      int        `json:"duration"`
	Remaining     int        `json:"remaining"`
	ValidityWeeks int        `json:"validity_weeks"`
	Price         MoneyDTO   `json:"price"`
	Status        string     `json:"status"`
	PurchaseDate  time.Time  `json:"purchase_date"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	HasMatrix     bool       `json:"has_matrix"`
	MatrixExpiry  *time.Time `json:"matrix_expiry,omitempty"`
}

func toSubscriptionDTO(s *studio.Subscription) *SubscriptionDTO {
	if s == nil {
		return nil
	}
	return &SubscriptionDTO{
		ID:            string(s.ID),
		UserID:        string(s.UserID),
		PlanID:        s.PlanID,
		PlanType:      string(s.PlanType),
		Category:      s.Category,
		Duration:      s.Duration,
		Remaining:     s.Remaining,
		ValidityWeeks: s.ValidityWeeks,
		Price:         toMoneyDTO(s.Price),
		Status:        string(s.Status),
		PurchaseDate:  s.PurchaseDate,
		StartDate:     s.StartDate,
		EndDate:       s.EndDate,
		HasMatrix:     s.HasMatrix,
		MatrixExpiry:  s.MatrixExpiry,
	}
}

type PlanDTO struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Category      string   `json:"category,omitempty"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Credits       int      `json:"credits"`
	PerWeek       int      `json:"per_week,omitempty"`
	ValidityWeeks int      `json:"validity_weeks,omitempty"`
	Price         MoneyDTO `json:"price"`
}

func toPlanDTO(p studio.Plan) PlanDTO {
	return PlanDTO{
		ID:            p.ID,
		Type:          string(p.Type),
		Category:      p.Category,
		Name:          p.Name,
		Description:   p.Description,
		Credits:       p.Credits,
		PerWeek:       p.PerWeek,
		ValidityWeeks: p.ValidityWeeks,
		Price:         toMoneyDTO(p.Price),
	}
}

type QuoteDTO struct {
	PlanID            string    `json:"plan_id"`
	BasePrice         MoneyDTO  `json:"base_price"`
	AnnualFee         MoneyDTO  `json:"annual_fee"`
	FinalPrice        MoneyDTO  `json:"final_price"`
	RequiresAnnualFee bool      `json:"requires_annual_fee"`
	AnnualFeePaid     bool      `json:"annual_fee_paid"`
	FeeWindowStart    time.Time `json:"fee_window_start"`
	FeeWindowEnd      time.Time `json:"fee_window_end"`
}

func toQuoteDTO(q studio.Quote) QuoteDTO {
	return QuoteDTO{
		PlanID:            q.Plan.ID,
		BasePrice:         toMoneyDTO(q.BasePrice),
		AnnualFee:         toMoneyDTO(q.AnnualFee),
		FinalPrice:        toMoneyDTO(q.FinalPrice),
		RequiresAnnualFee: q.RequiresAnnualFee,
		AnnualFeePaid:     q.AnnualFeePaid,
		FeeWindowStart:    q.FeeWindow.Start,
		FeeWindowEnd:      q.FeeWindow.End,
	}
}

type AnnualFeeDTO struct {
	ID        string    `json:"id"`
	Year      int       `json:"year"`
	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`
	Amount    MoneyDTO  `json:"amount"`
	PaidAt    time.Time `json:"paid_at"`
}

type PurchaseDTO struct {
	Quote        QuoteDTO         `json:"quote"`
	Subscription *SubscriptionDTO `json:"subscription,omitempty"`
	AnnualFee    *AnnualFeeDTO    `json:"annual_fee,omitempty"`
}

func toPurchaseDTO(p *studio.Purchase) PurchaseDTO {
	dto := PurchaseDTO{
		Quote:        toQuoteDTO(p.Quote),
		Subscription: toSubscriptionDTO(p.Subscription),
	}
	if f := p.AnnualFee; f != nil {
		dto.AnnualFee = &AnnualFeeDTO{
			ID:        string(f.ID),
			Year:      f.Year,
			ValidFrom: f.ValidFrom,
			ValidTo:   f.ValidTo,
			Amount:    toMoneyDTO(f.Amount),
			PaidAt:    f.PaidAt,
		}
	}
	return dto
}

type MemberSummaryDTO struct {
	UserID              string       `json:"user_id"`
	RemainingClasses    int          `json:"remaining_classes"`
	JournalRemaining    int          `json:"journal_remaining"`
	ActiveSubscriptions int          `json:"active_subscriptions"`
	NextExpiry          *time.Time   `json:"next_expiry,omitempty"`
	AnnualFeePaidUntil  *time.Time   `json:"annual_fee_paid_until,omitempty"`
	Bookings            []BookingDTO `json:"bookings"`
}

func toMemberSummaryDTO(s *studio.MemberSummary) MemberSummaryDTO {
	return MemberSummaryDTO{
		UserID:              string(s.UserID),
		RemainingClasses:    s.RemainingClasses,
		JournalRemaining:    s.JournalRemaining,
		ActiveSubscriptions: s.ActiveSubscriptions,
		NextExpiry:          s.NextExpiry,
		AnnualFeePaidUntil:  s.AnnualFeePaidUntil,
		Bookings:            toBookingDTOs(s.Bookings),
	}
}

type DriftDTO struct {
	SubscriptionID string `json:"subscription_id"`
	Stored         int    `json:"stored"`
	Journal        int    `json:"journal"`
	OK             bool   `json:"ok"`
}

type SweepResultDTO struct {
	Expired int `json:"expired"`
}

type SeedResultDTO struct {
	Added int `json:"added"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// JournalLineDTO is one append-only journal entry.
type JournalLineDTO struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Delta       int       `json:"delta"`
	EffectiveAt time.Time `json:"effective_at"`
	ReferenceID string    `json:"reference_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Key         string    `json:"idempotency_key,omitempty"`
}

func toJournalLineDTO(tx generic.Transaction) JournalLineDTO {
	return JournalLineDTO{
		ID:          string(tx.ID),
		Type:        string(tx.Type),
		Delta:       tx.Delta,
		EffectiveAt: tx.EffectiveAt,
		ReferenceID: tx.ReferenceID,
		Reason:      tx.Reason,
		Key:         tx.IdempotencyKey,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}
