package studio

import (
	"time"

	"github.com/amg/studio-ledger/generic"
)

// AnnualFeeRecord proves a member paid the matrix fee for one window.
// At most one record per (UserID, Year).
type AnnualFeeRecord struct {
	ID        generic.FeeRecordID
	UserID    generic.UserID
	Year      int
	ValidFrom time.Time
	ValidTo   time.Time // exclusive
	Amount    generic.Money
	PaidAt    time.Time
}

func (r AnnualFeeRecord) Period() generic.Period {
	return generic.Period{Start: r.ValidFrom, End: r.ValidTo}
}

// Covers reports whether the record's window includes t.
func (r AnnualFeeRecord) Covers(t time.Time) bool {
	return r.Period().Contains(t)
}
