package studio

import (
	"context"
	"time"

	"github.com/amg/studio-ledger/generic"
)

// Catalog owns session capacity. It is bound to one Repositories view, so
// inside Store.WithTx every change it makes commits or rolls back together
// with the rest of the operation.
type Catalog struct {
	classes ClassRepository
}

func NewCatalog(classes ClassRepository) *Catalog {
	return &Catalog{classes: classes}
}

// GetSession returns the session or a NotFound error.
func (c *Catalog) GetSession(ctx context.Context, id generic.ClassID) (*ClassSession, error) {
	s, err := c.classes.GetSession(ctx, id)
	if err != nil {
		if generic.IsNotFound(err) {
			return nil, notFound("class", id, err)
		}
		return nil, err
	}
	return s, nil
}

// bookable returns the session if it can still take bookings at now.
func (c *Catalog) bookable(ctx context.Context, id generic.ClassID, now time.Time) (*ClassSession, error) {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Cancelled {
		return nil, newError(CodeNotFound, "class %s was cancelled", id)
	}
	if s.HasStarted(now) {
		return nil, newError(CodeClassStarted, "class %s started at %s", id, s.StartsAt.Format(time.RFC3339))
	}
	return s, nil
}

// ReserveSlot takes one place in the session.
func (c *Catalog) ReserveSlot(ctx context.Context, id generic.ClassID) error {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s.Cancelled {
		return newError(CodeNotFound, "class %s was cancelled", id)
	}
	if s.IsFull() {
		return newError(CodeClassFull, "class %s has %d/%d places taken", id, s.CurrentBookings, s.MaxCapacity)
	}
	s.CurrentBookings++
	return c.classes.UpdateSession(ctx, s)
}

// ReleaseSlot gives one place back. The counter never drops below zero.
func (c *Catalog) ReleaseSlot(ctx context.Context, id generic.ClassID) error {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s.CurrentBookings == 0 {
		return nil
	}
	s.CurrentBookings--
	return c.classes.UpdateSession(ctx, s)
}

// ListSessions returns non-cancelled sessions starting in [from, to).
func (c *Catalog) ListSessions(ctx context.Context, from, to time.Time) ([]ClassSession, error) {
	if !to.After(from) {
		return nil, newError(CodeInvalidArgument, "range end must be after start")
	}
	all, err := c.classes.ListSessions(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if !s.Cancelled {
			out = append(out, s)
		}
	}
	return out, nil
}

// Schedule adds a new session with no bookings.
func (c *Catalog) Schedule(ctx context.Context, s ClassSession) error {
	s.CurrentBookings = 0
	s.Cancelled = false
	s.Version = 0
	if err := s.Validate(); err != nil {
		return err
	}
	if err := c.classes.CreateSession(ctx, s); err != nil {
		if generic.IsDuplicate(err) {
			return newError(CodeInvalidArgument, "class %s already scheduled", s.ID)
		}
		return err
	}
	return nil
}

// markCancelled soft-cancels the session. Booked places are released by
// the caller as each booking is cancelled.
func (c *Catalog) markCancelled(ctx context.Context, id generic.ClassID) (*ClassSession, error) {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Cancelled {
		return nil, newError(CodeAlreadyTerminal, "class %s already cancelled", id)
	}
	s.Cancelled = true
	if err := c.classes.UpdateSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
