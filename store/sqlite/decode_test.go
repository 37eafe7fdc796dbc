package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodTime = "2026-03-02T08:00:00.000000000Z"

func openRaw(t *testing.T) *Store {
	t.Helper()
	st, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestScanTransaction_CorruptColumns(t *testing.T) {
	tests := []struct {
		name        string
		effectiveAt string
		metadata    string
		want        string
	}{
		{"bad effective_at", "last tuesday", "{}", "effective_at"},
		{"bad metadata", goodTime, `{"note":`, "metadata_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := openRaw(t)

			// GIVEN: a journal row written outside the store
			_, err := st.db.ExecContext(ctx, `
				INSERT INTO transactions (id, owner_id, account_id, effective_at, delta, tx_type, metadata_json, created_at)
				VALUES ('tx-1', 'ana', 'sub-1', ?, 1, 'grant', ?, ?)`, tt.effectiveAt, tt.metadata, goodTime)
			require.NoError(t, err)

			// WHEN: loading it
			txs, err := st.Journal().Load(ctx, "sub-1")

			// THEN: the row is reported instead of read as zero values
			assert.ErrorIs(t, err, ErrCorruptRow)
			assert.ErrorContains(t, err, tt.want)
			assert.Nil(t, txs)
		})
	}
}

func TestScanSubscription_CorruptPrice(t *testing.T) {
	ctx := context.Background()
	st := openRaw(t)

	_, err := st.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, plan_id, plan_type, duration, remaining, validity_weeks,
			price_amount, price_currency, status, purchase_date)
		VALUES ('sub-1', 'ana', 'group-4', 'group', 4, 4, 5, 'thirty five', 'EUR', 'pending', ?)`, goodTime)
	require.NoError(t, err)

	_, err = st.Subscriptions().GetSubscription(ctx, "sub-1")
	assert.ErrorIs(t, err, ErrCorruptRow)
	assert.ErrorContains(t, err, "subscription sub-1")

	_, err = st.Subscriptions().ListByUser(ctx, "ana")
	assert.ErrorIs(t, err, ErrCorruptRow)
}

func TestScanBooking_CorruptDeadline(t *testing.T) {
	ctx := context.Background()
	st := openRaw(t)

	_, err := st.db.ExecContext(ctx, `
		INSERT INTO bookings (id, user_id, class_id, status, booking_date, cancellation_deadline, updated_at)
		VALUES ('bk-1', 'ana', 'c1', 'booked', ?, '', ?)`, goodTime, goodTime)
	require.NoError(t, err)

	_, err = st.Bookings().GetBooking(ctx, "bk-1")
	assert.ErrorIs(t, err, ErrCorruptRow)
	assert.ErrorContains(t, err, "cancellation_deadline")
}

func TestListFees_CorruptValidTo(t *testing.T) {
	ctx := context.Background()
	st := openRaw(t)

	_, err := st.db.ExecContext(ctx, `
		INSERT INTO annual_fees (id, user_id, year, valid_from, valid_to, amount, currency, paid_at)
		VALUES ('fee-1', 'ana', 2026, ?, '2027', '35.00', 'EUR', ?)`, goodTime, goodTime)
	require.NoError(t, err)

	fees, err := st.Fees().ListFees(ctx, "ana")
	assert.ErrorIs(t, err, ErrCorruptRow)
	assert.Nil(t, fees)
}
