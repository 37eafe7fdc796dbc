// Package memory provides an in-memory studio.Store for tests and local
// development. A single mutex serializes every call; WithTx holds it for
// the whole callback and restores a snapshot if the callback fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amg/studio-ledger/generic"
	gstore "github.com/amg/studio-ledger/generic/store"
	"github.com/amg/studio-ledger/studio"
)

type state struct {
	classes  map[generic.ClassID]studio.ClassSession
	subs     map[generic.SubscriptionID]studio.Subscription
	bookings map[generic.BookingID]studio.Booking
	fees     map[generic.FeeRecordID]studio.AnnualFeeRecord
	seq      map[string]int64 // insertion order, breaks timestamp ties
	next     int64
	journal  *gstore.Memory
}

type snapshot struct {
	classes  map[generic.ClassID]studio.ClassSession
	subs     map[generic.SubscriptionID]studio.Subscription
	bookings map[generic.BookingID]studio.Booking
	fees     map[generic.FeeRecordID]studio.AnnualFeeRecord
	seq      map[string]int64
	next     int64
	journal  gstore.Snapshot
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (st *state) snapshot() snapshot {
	return snapshot{
		classes:  copyMap(st.classes),
		subs:     copyMap(st.subs),
		bookings: copyMap(st.bookings),
		fees:     copyMap(st.fees),
		seq:      copyMap(st.seq),
		next:     st.next,
		journal:  st.journal.SnapshotLocked(),
	}
}

func (st *state) restore(s snapshot) {
	st.classes = s.classes
	st.subs = s.subs
	st.bookings = s.bookings
	st.fees = s.fees
	st.seq = s.seq
	st.next = s.next
	st.journal.RestoreLocked(s.journal)
}

func (st *state) order(key string) {
	st.next++
	st.seq[key] = st.next
}

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	mu sync.Mutex
	st *state
}

var _ studio.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: &state{
		classes:  make(map[generic.ClassID]studio.ClassSession),
		subs:     make(map[generic.SubscriptionID]studio.Subscription),
		bookings: make(map[generic.BookingID]studio.Booking),
		fees:     make(map[generic.FeeRecordID]studio.AnnualFeeRecord),
		seq:      make(map[string]int64),
		journal:  gstore.NewMemory(),
	}}
}

// Reset drops every row. Used by the demo scenario loader.
func (s *Store) Reset(_ context.Context) error {
	defer s.lock()()
	fresh := New()
	s.st = fresh.st
	return nil
}

func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

func noLock() func() { return func() {} }

func (s *Store) auto() *repos { return &repos{st: s.st, enter: s.lock} }

func (s *Store) Classes() studio.ClassRepository              { return s.auto() }
func (s *Store) Subscriptions() studio.SubscriptionRepository { return s.auto() }
func (s *Store) Bookings() studio.BookingRepository           { return s.auto() }
func (s *Store) Fees() studio.AnnualFeeRepository             { return s.auto() }
func (s *Store) Journal() generic.Store                       { return &journal{st: s.st, enter: s.lock} }

func (s *Store) WithTx(ctx context.Context, fn func(studio.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	snap := s.st.snapshot()
	r := &repos{st: s.st, enter: noLock}
	if err := fn(r); err != nil {
		s.st.restore(snap)
		return err
	}
	return nil
}

// =============================================================================
// REPOSITORIES
// =============================================================================

// repos implements every studio repository on the shared state. enter
// acquires the store lock outside a transaction and is a no-op inside one.
type repos struct {
	st    *state
	enter func() func()
}

func (r *repos) Classes() studio.ClassRepository              { return r }
func (r *repos) Subscriptions() studio.SubscriptionRepository { return r }
func (r *repos) Bookings() studio.BookingRepository           { return r }
func (r *repos) Fees() studio.AnnualFeeRepository             { return r }
func (r *repos) Journal() generic.Store                       { return &journal{st: r.st, enter: r.enter} }

// ----- classes -----

func (r *repos) GetSession(_ context.Context, id generic.ClassID) (*studio.ClassSession, error) {
	defer r.enter()()
	s, ok := r.st.classes[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "class", ID: string(id)}
	}
	return &s, nil
}

func (r *repos) ListSessions(_ context.Context, from, to time.Time) ([]studio.ClassSession, error) {
	defer r.enter()()
	var out []studio.ClassSession
	for _, s := range r.st.classes {
		if !s.StartsAt.Before(from) && s.StartsAt.Before(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

func (r *repos) CreateSession(_ context.Context, s studio.ClassSession) error {
	defer r.enter()()
	if _, ok := r.st.classes[s.ID]; ok {
		return generic.ErrAlreadyExists
	}
	r.st.classes[s.ID] = s
	return nil
}

func (r *repos) UpdateSession(_ context.Context, s *studio.ClassSession) error {
	defer r.enter()()
	stored, ok := r.st.classes[s.ID]
	if !ok {
		return &generic.NotFoundError{Kind: "class", ID: string(s.ID)}
	}
	if stored.Version != s.Version {
		return &generic.VersionConflictError{Kind: "class", ID: string(s.ID), Expected: s.Version}
	}
	s.Version++
	r.st.classes[s.ID] = *s
	return nil
}

// ----- subscriptions -----

func (r *repos) GetSubscription(_ context.Context, id generic.SubscriptionID) (*studio.Subscription, error) {
	defer r.enter()()
	s, ok := r.st.subs[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "subscription", ID: string(id)}
	}
	return &s, nil
}

func (r *repos) ListByUser(_ context.Context, userID generic.UserID) ([]studio.Subscription, error) {
	defer r.enter()()
	var out []studio.Subscription
	for _, s := range r.st.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return r.st.seq[string(out[i].ID)] < r.st.seq[string(out[j].ID)]
		}
		return out[i].PurchaseDate.Before(out[j].PurchaseDate)
	})
	return out, nil
}

func (r *repos) ListOverdue(_ context.Context, now time.Time) ([]studio.Subscription, error) {
	defer r.enter()()
	var out []studio.Subscription
	for _, s := range r.st.subs {
		if (s.Status == studio.SubscriptionActive || s.Status == studio.SubscriptionUsed) && s.IsOverdue(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *repos) CreateSubscription(_ context.Context, s studio.Subscription) error {
	defer r.enter()()
	if _, ok := r.st.subs[s.ID]; ok {
		return generic.ErrAlreadyExists
	}
	r.st.subs[s.ID] = s
	r.st.order(string(s.ID))
	return nil
}

func (r *repos) UpdateSubscription(_ context.Context, s *studio.Subscription) error {
	defer r.enter()()
	stored, ok := r.st.subs[s.ID]
	if !ok {
		return &generic.NotFoundError{Kind: "subscription", ID: string(s.ID)}
	}
	if stored.Version != s.Version {
		return &generic.VersionConflictError{Kind: "subscription", ID: string(s.ID), Expected: s.Version}
	}
	s.Version++
	r.st.subs[s.ID] = *s
	return nil
}

// ----- bookings -----

func (r *repos) GetBooking(_ context.Context, id generic.BookingID) (*studio.Booking, error) {
	defer r.enter()()
	b, ok := r.st.bookings[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "booking", ID: string(id)}
	}
	return &b, nil
}

func (r *repos) ListBookings(_ context.Context, f studio.BookingFilter) ([]studio.Booking, error) {
	defer r.enter()()
	var out []studio.Booking
	for _, b := range r.st.bookings {
		if f.Matches(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BookingDate.Equal(out[j].BookingDate) {
			return r.st.seq[string(out[i].ID)] < r.st.seq[string(out[j].ID)]
		}
		return out[i].BookingDate.Before(out[j].BookingDate)
	})
	return out, nil
}

func (r *repos) CreateBooking(_ context.Context, b studio.Booking) error {
	defer r.enter()()
	if _, ok := r.st.bookings[b.ID]; ok {
		return generic.ErrAlreadyExists
	}
	r.st.bookings[b.ID] = b
	r.st.order(string(b.ID))
	return nil
}

func (r *repos) UpdateBooking(_ context.Context, b *studio.Booking) error {
	defer r.enter()()
	stored, ok := r.st.bookings[b.ID]
	if !ok {
		return &generic.NotFoundError{Kind: "booking", ID: string(b.ID)}
	}
	if stored.Version != b.Version {
		return &generic.VersionConflictError{Kind: "booking", ID: string(b.ID), Expected: b.Version}
	}
	b.Version++
	r.st.bookings[b.ID] = *b
	return nil
}

// ----- annual fees -----

func (r *repos) ListFees(_ context.Context, userID generic.UserID) ([]studio.AnnualFeeRecord, error) {
	defer r.enter()()
	var out []studio.AnnualFeeRecord
	for _, f := range r.st.fees {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}

func (r *repos) CreateFee(_ context.Context, rec studio.AnnualFeeRecord) error {
	defer r.enter()()
	for _, f := range r.st.fees {
		if f.UserID == rec.UserID && f.Year == rec.Year {
			return generic.ErrAlreadyExists
		}
	}
	r.st.fees[rec.ID] = rec
	return nil
}

// =============================================================================
// JOURNAL
// =============================================================================

// journal adapts the generic journal memory to the store lock.
type journal struct {
	st    *state
	enter func() func()
}

func (j *journal) view() *gstore.LockedView { return &gstore.LockedView{M: j.st.journal} }

func (j *journal) Append(ctx context.Context, tx generic.Transaction) error {
	defer j.enter()()
	return j.view().Append(ctx, tx)
}

func (j *journal) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	defer j.enter()()
	return j.view().AppendBatch(ctx, txs)
}

func (j *journal) Load(ctx context.Context, accountID generic.SubscriptionID) ([]generic.Transaction, error) {
	defer j.enter()()
	return j.view().Load(ctx, accountID)
}

func (j *journal) LoadByOwner(ctx context.Context, ownerID generic.UserID) ([]generic.Transaction, error) {
	defer j.enter()()
	return j.view().LoadByOwner(ctx, ownerID)
}

func (j *journal) LoadRange(ctx context.Context, accountID generic.SubscriptionID, from, to time.Time) ([]generic.Transaction, error) {
	defer j.enter()()
	return j.view().LoadRange(ctx, accountID, from, to)
}

func (j *journal) Exists(ctx context.Context, key string) (bool, error) {
	defer j.enter()()
	return j.view().Exists(ctx, key)
}
