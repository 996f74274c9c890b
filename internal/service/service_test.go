package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashpool/internal/domain"
	"github.com/alanyoungcy/flashpool/internal/engine"
)

const (
	schedAdmin   = "sched-admin"
	settlerAdmin = "settler-admin"
	opsAdmin     = "ops-admin"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeLimiter struct {
	allow bool
	keys  []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string]int
}

func (b *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = make(map[string]int)
	}
	b.published[channel]++
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error      { return nil }
func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
}

func (s *fakeAccountStore) Upsert(_ context.Context, acct domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accounts == nil {
		s.accounts = make(map[string]domain.Account)
	}
	s.accounts[acct.Identity] = acct
	return nil
}

func (s *fakeAccountStore) GetByIdentity(_ context.Context, identity string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[identity]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return acct, nil
}

func (s *fakeAccountStore) Count(context.Context) (int64, error) {
	return int64(len(s.accounts)), nil
}

type fakeEventStore struct {
	mu       sync.Mutex
	inserted []domain.Event
	statuses map[string]domain.EventStatus
}

func (s *fakeEventStore) Insert(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, ev)
	return nil
}

func (s *fakeEventStore) UpdateStatus(_ context.Context, id string, status domain.EventStatus, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses == nil {
		s.statuses = make(map[string]domain.EventStatus)
	}
	s.statuses[id] = status
	return nil
}

func (s *fakeEventStore) GetByID(context.Context, string) (domain.Event, error) {
	return domain.Event{}, domain.ErrEventNotFound
}

func (s *fakeEventStore) ListByStatus(context.Context, domain.EventStatus, domain.ListOpts) ([]domain.Event, error) {
	return nil, nil
}

func (s *fakeEventStore) ListSettledBefore(context.Context, time.Time) ([]domain.Event, error) {
	return nil, nil
}

type fakeWagerStore struct {
	mu       sync.Mutex
	inserted []domain.Wager
	settled  map[string]int64
}

func (s *fakeWagerStore) Insert(_ context.Context, w domain.Wager) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, w)
	return nil
}

func (s *fakeWagerStore) MarkSettled(_ context.Context, identity, eventID string, payout int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled == nil {
		s.settled = make(map[string]int64)
	}
	s.settled[identity+"/"+eventID] = payout
	return nil
}

func (s *fakeWagerStore) GetByPair(context.Context, string, string) (domain.Wager, error) {
	return domain.Wager{}, domain.ErrNoWager
}

func (s *fakeWagerStore) ListByEvent(context.Context, string, domain.ListOpts) ([]domain.Wager, error) {
	return nil, nil
}

func (s *fakeWagerStore) ListByIdentity(context.Context, string, domain.ListOpts) ([]domain.Wager, error) {
	return nil, nil
}

func (s *fakeWagerStore) ListSettledBefore(context.Context, time.Time) ([]domain.Wager, error) {
	return nil, nil
}

func (s *fakeWagerStore) DeleteSettledBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeSettlementStore struct {
	mu      sync.Mutex
	records map[string]domain.SettlementRecord
	batches []domain.BatchResult
	fees    map[string]int64
}

func (s *fakeSettlementStore) InsertRecord(_ context.Context, rec domain.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]domain.SettlementRecord)
	}
	s.records[rec.EventID] = rec
	return nil
}

func (s *fakeSettlementStore) InsertBatch(_ context.Context, res domain.BatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, res)
	return nil
}

func (s *fakeSettlementStore) GetRecord(_ context.Context, eventID string) (domain.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[eventID]
	if !ok {
		return domain.SettlementRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *fakeSettlementStore) ListRecent(context.Context, int) ([]domain.SettlementRecord, error) {
	return nil, nil
}

func (s *fakeSettlementStore) AddFees(_ context.Context, eventID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fees == nil {
		s.fees = make(map[string]int64)
	}
	s.fees[eventID] += amount
	return nil
}

func (s *fakeSettlementStore) GetFees(_ context.Context, eventID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fees[eventID], nil
}

// testDeps bundles the fakes a service test wires against one engine.
type testDeps struct {
	clock       *fakeClock
	eng         *engine.Engine
	limiter     *fakeLimiter
	bus         *fakeBus
	audit       *fakeAudit
	accounts    *fakeAccountStore
	events      *fakeEventStore
	wagers      *fakeWagerStore
	settlements *fakeSettlementStore
	logger      *slog.Logger
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	clock := newFakeClock()
	eng := engine.New(engine.Config{
		Admins: map[engine.Role]string{
			engine.RoleScheduler: schedAdmin,
			engine.RoleSettler:   settlerAdmin,
			engine.RoleEngineOps: opsAdmin,
		},
		Clock: clock.Now,
	})
	return &testDeps{
		clock:       clock,
		eng:         eng,
		limiter:     &fakeLimiter{allow: true},
		bus:         &fakeBus{},
		audit:       &fakeAudit{},
		accounts:    &fakeAccountStore{},
		events:      &fakeEventStore{},
		wagers:      &fakeWagerStore{},
		settlements: &fakeSettlementStore{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (d *testDeps) accountService() *AccountService {
	return NewAccountService(d.eng, d.accounts, d.limiter, d.bus, d.audit, d.logger)
}

func (d *testDeps) eventService() *EventService {
	return NewEventService(d.eng, d.events, d.limiter, d.bus, d.audit, d.logger).WithClock(d.clock.Now)
}

func (d *testDeps) stakeService() *StakeService {
	return NewStakeService(d.eng, d.wagers, d.limiter, d.bus, d.audit, d.logger)
}

func (d *testDeps) settlementService() *SettlementService {
	return NewSettlementService(d.eng, d.events, d.settlements, d.bus, d.audit, nil, d.logger)
}

func units(n int64) int64 { return n * domain.AmountScale }

// openEvent creates a 45 second event starting at the fake clock's now.
func openEvent(t *testing.T, d *testDeps, outcomes int) domain.Event {
	t.Helper()
	now := d.clock.Now()
	ev, err := d.eventService().Create(t.Context(), schedAdmin, "feed/btc-usd", now, now.Add(45*time.Second), outcomes, "")
	require.NoError(t, err)
	return ev
}

func TestDepositJournalsBalance(t *testing.T) {
	d := newTestDeps(t)
	svc := d.accountService()

	acct, err := svc.Deposit(t.Context(), "alice", units(10))
	require.NoError(t, err)
	assert.Equal(t, units(10), acct.Available)

	stored, err := d.accounts.GetByIdentity(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, units(10), stored.Available)
	assert.Equal(t, 1, d.bus.published["accounts"])
	assert.Contains(t, d.audit.events, "escrow.deposit")
}

func TestWithdrawMoreThanAvailable(t *testing.T) {
	d := newTestDeps(t)
	svc := d.accountService()

	_, err := svc.Deposit(t.Context(), "alice", units(5))
	require.NoError(t, err)

	_, err = svc.Withdraw(t.Context(), "alice", units(6))
	assert.ErrorIs(t, err, domain.ErrInsufficientAvailable)
}

func TestDepositRateLimited(t *testing.T) {
	d := newTestDeps(t)
	d.limiter.allow = false

	_, err := d.accountService().Deposit(t.Context(), "alice", units(10))
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Empty(t, d.accounts.accounts)
}

func TestCreateEventPersistsAndAnnounces(t *testing.T) {
	d := newTestDeps(t)

	ev := openEvent(t, d, 2)

	require.Len(t, d.events.inserted, 1)
	assert.Equal(t, ev.ID, d.events.inserted[0].ID)
	assert.Equal(t, 1, d.bus.published["events"])
	assert.Contains(t, d.audit.events, "event.created")
}

func TestLockExpiredSweepsOnlyDueEvents(t *testing.T) {
	d := newTestDeps(t)
	svc := d.eventService()

	short := openEvent(t, d, 2)

	now := d.clock.Now()
	long, err := svc.Create(t.Context(), schedAdmin, "feed/eth-usd", now, now.Add(60*time.Second), 2, "")
	require.NoError(t, err)

	d.clock.Advance(46 * time.Second)

	locked, err := svc.LockExpired(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{short.ID}, locked)
	assert.Equal(t, domain.EventStatusLocked, d.events.statuses[short.ID])

	stillOpen, err := svc.Get(t.Context(), long.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusOpen, stillOpen.Status)
}

func TestPlaceStakeJournalsWager(t *testing.T) {
	d := newTestDeps(t)
	ev := openEvent(t, d, 2)

	_, err := d.accountService().Deposit(t.Context(), "alice", units(10))
	require.NoError(t, err)

	w, err := d.stakeService().Place(t.Context(), "alice", ev.ID, 0, units(5))
	require.NoError(t, err)
	assert.Equal(t, units(5), w.Amount)

	require.Len(t, d.wagers.inserted, 1)
	assert.Equal(t, "alice", d.wagers.inserted[0].Identity)
	assert.GreaterOrEqual(t, d.bus.published["stakes"], 1)
	assert.Contains(t, d.audit.events, "stake.placed")

	acct := d.eng.Escrow.Balance("alice")
	assert.Equal(t, units(5), acct.Available)
	assert.Equal(t, units(5), acct.Locked)
}

func TestPlaceStakeRateLimited(t *testing.T) {
	d := newTestDeps(t)
	ev := openEvent(t, d, 2)

	_, err := d.accountService().Deposit(t.Context(), "alice", units(10))
	require.NoError(t, err)

	d.limiter.allow = false
	_, err = d.stakeService().Place(t.Context(), "alice", ev.ID, 0, units(5))
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Empty(t, d.wagers.inserted)
}

func TestSettleBatchJournalsRecordAndStatus(t *testing.T) {
	d := newTestDeps(t)
	ev := openEvent(t, d, 2)

	accounts := d.accountService()
	stakes := d.stakeService()
	for identity, outcome := range map[string]int{"alice": 0, "bob": 1} {
		_, err := accounts.Deposit(t.Context(), identity, units(10))
		require.NoError(t, err)
		_, err = stakes.Place(t.Context(), identity, ev.ID, outcome, units(5))
		require.NoError(t, err)
	}

	d.clock.Advance(46 * time.Second)
	_, err := d.eventService().LockExpired(t.Context())
	require.NoError(t, err)

	res, err := d.settlementService().SettleBatch(t.Context(), settlerAdmin, []string{ev.ID}, []int{0}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{ev.ID}, res.Settled)
	assert.Empty(t, res.Failures)

	rec, err := d.settlements.GetRecord(t.Context(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.WinningOutcome)
	assert.Equal(t, units(10), rec.TotalPool)
	assert.Equal(t, units(5), rec.WinningTotal)
	assert.False(t, rec.Voided)

	assert.Equal(t, domain.EventStatusSettled, d.events.statuses[ev.ID])
	require.Len(t, d.settlements.batches, 1)
	assert.Contains(t, d.audit.events, "settlement.batch")
}

func TestSettleBatchRecordsFailures(t *testing.T) {
	d := newTestDeps(t)
	ev := openEvent(t, d, 2) // left open, cannot settle

	res, err := d.settlementService().SettleBatch(t.Context(), settlerAdmin, []string{ev.ID}, []int{0}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Settled)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ev.ID, res.Failures[0].EventID)
}

func TestVoidBatchJournalsVoidedRecord(t *testing.T) {
	d := newTestDeps(t)
	ev := openEvent(t, d, 2)

	res, err := d.settlementService().VoidBatch(t.Context(), settlerAdmin, []string{ev.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{ev.ID}, res.Settled)

	rec, err := d.settlements.GetRecord(t.Context(), ev.ID)
	require.NoError(t, err)
	assert.True(t, rec.Voided)
	assert.Equal(t, -1, rec.WinningOutcome)
	assert.Equal(t, domain.EventStatusVoided, d.events.statuses[ev.ID])
}

func TestClaimJournalsPayout(t *testing.T) {
	d := newTestDeps(t)
	ev := openEvent(t, d, 2)

	accounts := d.accountService()
	stakes := d.stakeService()
	for identity, outcome := range map[string]int{"alice": 0, "bob": 1} {
		_, err := accounts.Deposit(t.Context(), identity, units(10))
		require.NoError(t, err)
		_, err = stakes.Place(t.Context(), identity, ev.ID, outcome, units(5))
		require.NoError(t, err)
	}

	d.clock.Advance(46 * time.Second)
	_, err := d.eventService().LockExpired(t.Context())
	require.NoError(t, err)
	_, err = d.settlementService().SettleBatch(t.Context(), settlerAdmin, []string{ev.ID}, []int{0}, nil)
	require.NoError(t, err)

	res, err := stakes.Claim(t.Context(), "alice", ev.ID)
	require.NoError(t, err)
	assert.True(t, res.Won)
	assert.Equal(t, int64(9_800_000), res.Payout)
	assert.Equal(t, int64(9_800_000), d.wagers.settled["alice/"+ev.ID])
	assert.Contains(t, d.audit.events, "wager.claimed")
}

func TestCollectFeesJournalsLedger(t *testing.T) {
	d := newTestDeps(t)
	ev := openEvent(t, d, 2)

	accounts := d.accountService()
	stakes := d.stakeService()
	for identity, outcome := range map[string]int{"alice": 0, "bob": 1} {
		_, err := accounts.Deposit(t.Context(), identity, units(10))
		require.NoError(t, err)
		_, err = stakes.Place(t.Context(), identity, ev.ID, outcome, units(5))
		require.NoError(t, err)
	}

	d.clock.Advance(46 * time.Second)
	_, err := d.eventService().LockExpired(t.Context())
	require.NoError(t, err)
	_, err = d.settlementService().SettleBatch(t.Context(), settlerAdmin, []string{ev.ID}, []int{0}, nil)
	require.NoError(t, err)
	_, err = stakes.Claim(t.Context(), "alice", ev.ID)
	require.NoError(t, err)

	svc := d.settlementService()
	amount, err := svc.CollectFees(t.Context(), opsAdmin, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), amount)

	fees, err := d.settlements.GetFees(t.Context(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), fees)

	again, err := svc.CollectFees(t.Context(), opsAdmin, ev.ID)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestTotalsLiveThenFrozen(t *testing.T) {
	d := newTestDeps(t)
	ev := openEvent(t, d, 2)

	accounts := d.accountService()
	stakes := d.stakeService()
	_, err := accounts.Deposit(t.Context(), "alice", units(10))
	require.NoError(t, err)
	_, err = stakes.Place(t.Context(), "alice", ev.ID, 0, units(4))
	require.NoError(t, err)

	svc := d.eventService()
	live, err := svc.Totals(t.Context(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, units(4), live.TotalPool)

	d.clock.Advance(46 * time.Second)
	_, err = svc.LockExpired(t.Context())
	require.NoError(t, err)
	_, err = d.settlementService().SettleBatch(t.Context(), settlerAdmin, []string{ev.ID}, []int{0}, nil)
	require.NoError(t, err)

	frozen, err := svc.Totals(t.Context(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, units(4), frozen.TotalPool)
	assert.Equal(t, 0, frozen.WinningOutcome)
}
