package studio

import (
	"time"

	"github.com/amg/studio-ledger/generic"
)

type BookingStatus string

const (
	BookingBooked    BookingStatus = "booked"
	BookingAttended  BookingStatus = "attended"
	BookingNoShow    BookingStatus = "no-show"
	BookingCancelled BookingStatus = "cancelled"
	BookingWaiting   BookingStatus = "waiting"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingWaiting:   {BookingBooked, BookingCancelled},
	BookingBooked:    {BookingAttended, BookingNoShow, BookingCancelled},
	BookingAttended:  nil,
	BookingNoShow:    nil,
	BookingCancelled: nil,
}

func (s BookingStatus) Valid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

func (s BookingStatus) IsTerminal() bool {
	return s.Valid() && len(bookingTransitions[s]) == 0
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Booking is a member's reservation against one session. A booked entry is
// funded by exactly one credit of SubscriptionID; a waiting entry by none.
type Booking struct {
	ID                   generic.BookingID
	UserID               generic.UserID
	ClassID              generic.ClassID
	SubscriptionID       generic.SubscriptionID
	Status               BookingStatus
	BookingDate          time.Time
	CancellationDeadline time.Time
	UpdatedAt            time.Time
	Notes                string
	Version              int64
}

// IsLive reports a booking that still holds (or waits for) a place.
func (b Booking) IsLive() bool {
	return b.Status == BookingBooked || b.Status == BookingWaiting
}

func (b *Booking) transition(next BookingStatus, at time.Time) error {
	if !b.Status.CanTransitionTo(next) {
		if b.Status.IsTerminal() {
			return newError(CodeAlreadyTerminal, "booking %s is %s", b.ID, b.Status)
		}
		return newError(CodeInvalidTransition, "booking %s: %s -> %s", b.ID, b.Status, next)
	}
	b.Status = next
	b.UpdatedAt = at
	return nil
}

// BookingFilter narrows ListBookings. Zero fields match everything.
type BookingFilter struct {
	UserID   generic.UserID
	ClassID  generic.ClassID
	Statuses []BookingStatus
}

func (f BookingFilter) Matches(b Booking) bool {
	if f.UserID != "" && b.UserID != f.UserID {
		return false
	}
	if f.ClassID != "" && b.ClassID != f.ClassID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if b.Status == s {
			return true
		}
	}
	return false
}
