package generic

import "time"

// =============================================================================
// PERIOD - Validity window
// =============================================================================

// Period is the half-open interval [Start, End).
//
// Examples:
//   - Calendar year 2026: 2026-01-01 00:00 up to 2027-01-01 00:00
//   - Rolling year from a purchase on 2026-03-15: up to 2027-03-15
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Validate rejects empty or inverted periods.
func (p Period) Validate() error {
	if !p.End.After(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// LastInstant is the last representable instant inside the period, used for
// "valid until" displays (Dec 31 23:59:59 for a calendar year).
func (p Period) LastInstant() time.Time {
	return p.End.Add(-time.Second)
}

func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + ")"
}

// PeriodType defines how periods are calculated
type PeriodType string

const (
	PeriodCalendarYear PeriodType = "calendar" // Jan 1 - Dec 31
	PeriodRolling      PeriodType = "rolling"  // 12 months from the anchor
)

// PeriodConfig defines how to calculate a yearly window.
type PeriodConfig struct {
	Type     PeriodType
	Location *time.Location
}

// =============================================================================
// PERIOD CALCULATOR
// =============================================================================

// PeriodFor returns the window that a record created at anchor covers.
func (pc PeriodConfig) PeriodFor(anchor time.Time) Period {
	loc := pc.Location
	if loc == nil {
		loc = time.UTC
	}
	anchor = anchor.In(loc)

	switch pc.Type {
	case PeriodRolling:
		return Period{Start: anchor, End: anchor.AddDate(1, 0, 0)}
	default:
		start := StartOfYear(anchor.Year(), loc)
		return Period{Start: start, End: start.AddDate(1, 0, 0)}
	}
}
