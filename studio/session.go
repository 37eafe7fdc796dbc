package studio

import (
	"strings"
	"time"

	"github.com/amg/studio-ledger/generic"
)

// Category is the kind of class held in a session.
type Category string

const (
	CategoryGroup       Category = "group"
	CategoryPrivate     Category = "private"
	CategorySemiPrivate Category = "semiprivate"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryGroup, CategoryPrivate, CategorySemiPrivate:
		return true
	}
	return false
}

// ClassSession is one scheduled class occurrence.
//
// INVARIANT: 0 <= CurrentBookings <= MaxCapacity.
// Sessions are never deleted once booked; Cancelled marks a soft-cancel.
type ClassSession struct {
	ID              generic.ClassID
	StartsAt        time.Time
	EndsAt          time.Time
	Category        Category
	Subtype         string
	Instructor      string
	Location        string
	Address         string
	Description     string
	MaxCapacity     int
	CurrentBookings int
	Price           generic.Money
	Cancelled       bool
	Version         int64
}

// Validate checks the fields a new session must carry.
func (s ClassSession) Validate() error {
	switch {
	case strings.TrimSpace(string(s.ID)) == "":
		return newError(CodeInvalidArgument, "session id is required")
	case s.StartsAt.IsZero():
		return newError(CodeInvalidArgument, "session %s: start time is required", s.ID)
	case !s.EndsAt.After(s.StartsAt):
		return newError(CodeInvalidArgument, "session %s: end must be after start", s.ID)
	case !s.Category.Valid():
		return newError(CodeInvalidArgument, "session %s: unknown category %q", s.ID, s.Category)
	case s.MaxCapacity <= 0:
		return newError(CodeInvalidArgument, "session %s: capacity must be positive", s.ID)
	case s.CurrentBookings < 0 || s.CurrentBookings > s.MaxCapacity:
		return newError(CodeInvalidArgument, "session %s: bookings out of range", s.ID)
	}
	return nil
}

func (s ClassSession) IsFull() bool { return s.CurrentBookings >= s.MaxCapacity }

func (s ClassSession) FreeSpots() int { return s.MaxCapacity - s.CurrentBookings }

// HasStarted reports whether the session start is at or before now.
func (s ClassSession) HasStarted(now time.Time) bool { return !now.Before(s.StartsAt) }

// CancellationDeadline is the last instant a booking can still be cancelled.
func (s ClassSession) CancellationDeadline(window time.Duration) time.Time {
	return s.StartsAt.Add(-window)
}
