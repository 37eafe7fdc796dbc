package studio

import (
	"context"
	"log/slog"
	"time"

	"github.com/amg/studio-ledger/generic"
)

// AttendanceRecorder closes booked entries as attended or no-show. The
// credit was consumed at booking time, so no balance moves here.
type AttendanceRecorder struct {
	committer
	selection SelectionPolicy
}

func NewAttendanceRecorder(store Store, cfg EngineConfig, log *slog.Logger) *AttendanceRecorder {
	return &AttendanceRecorder{committer: newCommitter(store, cfg, log), selection: cfg.Selection}
}

// MarkAttendance records the outcome of a booked entry. Only booked entries
// can be marked; anything else is an InvalidTransition.
func (a *AttendanceRecorder) MarkAttendance(ctx context.Context, id generic.BookingID, outcome BookingStatus, now time.Time) (*Booking, error) {
	if outcome != BookingAttended && outcome != BookingNoShow {
		return nil, newError(CodeInvalidArgument, "outcome must be %q or %q, got %q", BookingAttended, BookingNoShow, outcome)
	}

	var (
		booking *Booking
		drift   Drift
	)
	err := a.commit(ctx, "mark attendance", func(r Repositories) error {
		booking = nil
		b, err := getBooking(ctx, r.Bookings(), id)
		if err != nil {
			return err
		}
		if b.Status != BookingBooked {
			return newError(CodeInvalidTransition, "booking %s is %s, only booked entries can be marked", id, b.Status)
		}
		if err := b.transition(outcome, now); err != nil {
			return err
		}
		if err := r.Bookings().UpdateBooking(ctx, b); err != nil {
			return err
		}

		led := NewSubscriptionLedger(r.Subscriptions(), r.Journal(), a.selection)
		if err := led.RecordAttendance(ctx, *b, now); err != nil {
			return err
		}
		drift, err = led.Reconcile(ctx, b.SubscriptionID, now)
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !drift.OK() {
		a.log.Warn("subscription drift detected",
			"subscription_id", drift.SubscriptionID, "stored", drift.Stored, "journal", drift.Journal)
	}
	a.log.Info("attendance marked", "booking_id", id, "status", outcome)
	return booking, nil
}
