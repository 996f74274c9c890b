package engine

import (
	"encoding/binary"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// eventRecord guards one event's lifecycle behind its own lock so status
// transitions on different events never contend.
type eventRecord struct {
	mu sync.RWMutex
	ev domain.Event
}

// Registry is the per-event lifecycle state machine. Events move forward
// through Open -> Locked -> Settled|Voided and never reverse; identifiers
// are never reused once terminal.
type Registry struct {
	authz  *Authz
	now    func() time.Time
	events sync.Map // eventID -> *eventRecord
	seqs   sync.Map // creator -> *atomic.Uint64 (monotonic, never reset)
}

// NewRegistry creates an empty event registry.
func NewRegistry(authz *Authz, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{authz: authz, now: now}
}

// eventID derives the identifier from the creation tuple plus a per-creator
// sequence number, keeping creation independent across creators. Any
// collision-resistant content hash would do; keccak256 is what the rest of
// the stack already links.
func eventID(creator, feedRef string, openAt, closeAt time.Time, seq uint64) string {
	buf := make([]byte, 0, len(creator)+len(feedRef)+24)
	buf = append(buf, creator...)
	buf = append(buf, feedRef...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(openAt.UnixNano()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(closeAt.UnixNano()))
	buf = binary.BigEndian.AppendUint64(buf, seq)
	return hex.EncodeToString(ethcrypto.Keccak256(buf))
}

func (r *Registry) nextSeq(creator string) uint64 {
	if c, ok := r.seqs.Load(creator); ok {
		return c.(*atomic.Uint64).Add(1)
	}
	c, _ := r.seqs.LoadOrStore(creator, new(atomic.Uint64))
	return c.(*atomic.Uint64).Add(1)
}

// Create registers a new event. The creator must hold the scheduler
// capability; the betting window and outcome count must be within bounds and
// the window must start in the future.
func (r *Registry) Create(creator, feedRef string, openAt, closeAt time.Time, outcomeCount int, attestationRef string) (domain.Event, error) {
	if err := r.authz.require(RoleScheduler, creator); err != nil {
		return domain.Event{}, err
	}
	window := closeAt.Sub(openAt)
	if window < domain.MinEventWindow || window > domain.MaxEventWindow {
		return domain.Event{}, domain.ErrBadWindow
	}
	if outcomeCount < domain.MinOutcomeCount || outcomeCount > domain.MaxOutcomeCount {
		return domain.Event{}, domain.ErrBadOutcomeCount
	}
	now := r.now()
	if openAt.Before(now) {
		return domain.Event{}, domain.ErrOpenInPast
	}

	id := eventID(creator, feedRef, openAt, closeAt, r.nextSeq(creator))
	rec := &eventRecord{ev: domain.Event{
		ID:             id,
		FeedRef:        feedRef,
		Creator:        creator,
		OpenAt:         openAt,
		CloseAt:        closeAt,
		Status:         domain.EventStatusOpen,
		OutcomeCount:   outcomeCount,
		WinningOutcome: -1,
		AttestationRef: attestationRef,
		CreatedAt:      now,
	}}
	if _, loaded := r.events.LoadOrStore(id, rec); loaded {
		return domain.Event{}, domain.ErrEventExists
	}
	return rec.ev, nil
}

// Lock transitions an Open event to Locked once its window has closed.
// Callable by anyone; repeat invocation fails cleanly with ErrEventNotOpen.
func (r *Registry) Lock(eventID string) error {
	rec, err := r.record(eventID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.ev.Status != domain.EventStatusOpen {
		return domain.ErrEventNotOpen
	}
	if r.now().Before(rec.ev.CloseAt) {
		return domain.ErrWindowStillOpen
	}
	rec.ev.Status = domain.EventStatusLocked
	return nil
}

// settle finalizes a Locked event with the winning outcome. Settler
// capability required. Unexported: settlement must run through the
// orchestrator, which freezes the aggregate totals before this transition;
// an event marked Settled without totals would strand every claim.
func (r *Registry) settle(caller, eventID string, winningOutcome int) error {
	if err := r.authz.require(RoleSettler, caller); err != nil {
		return err
	}
	rec, err := r.record(eventID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.ev.Status != domain.EventStatusLocked {
		return domain.ErrEventNotLocked
	}
	if winningOutcome < 0 || winningOutcome >= rec.ev.OutcomeCount {
		return domain.ErrInvalidOutcome
	}
	settledAt := r.now()
	rec.ev.Status = domain.EventStatusSettled
	rec.ev.WinningOutcome = winningOutcome
	rec.ev.SettledAt = &settledAt
	return nil
}

// Void cancels an event from Open or Locked. Settler capability required;
// not reversible.
func (r *Registry) Void(caller, eventID string) error {
	if err := r.authz.require(RoleSettler, caller); err != nil {
		return err
	}
	rec, err := r.record(eventID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.ev.Status.Terminal() {
		return domain.ErrEventTerminal
	}
	voidedAt := r.now()
	rec.ev.Status = domain.EventStatusVoided
	rec.ev.SettledAt = &voidedAt
	return nil
}

// Get returns a snapshot of the event.
func (r *Registry) Get(eventID string) (domain.Event, error) {
	rec, err := r.record(eventID)
	if err != nil {
		return domain.Event{}, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.ev, nil
}

// IsAcceptingStakes reports whether the event is Open and inside its window.
func (r *Registry) IsAcceptingStakes(eventID string) bool {
	ev, err := r.Get(eventID)
	if err != nil {
		return false
	}
	return ev.Accepting(r.now())
}

// beginStake admits a stake placement for an event that is Open and inside
// its window. The event's read lock stays held until the returned release
// function is called, so the Open->Locked transition waits out any placement
// already admitted: a stake the ledger accepted always lands its shard write
// before the event can lock, and aggregation only runs on locked events.
func (r *Registry) beginStake(eventID string) (domain.Event, func(), error) {
	rec, err := r.record(eventID)
	if err != nil {
		return domain.Event{}, nil, err
	}
	rec.mu.RLock()
	if !rec.ev.Accepting(r.now()) {
		rec.mu.RUnlock()
		return domain.Event{}, nil, domain.ErrNotAcceptingStakes
	}
	return rec.ev, rec.mu.RUnlock, nil
}

// ListByStatus returns snapshots of all events currently in the given status.
func (r *Registry) ListByStatus(status domain.EventStatus) []domain.Event {
	var out []domain.Event
	r.events.Range(func(_, v any) bool {
		rec := v.(*eventRecord)
		rec.mu.RLock()
		if rec.ev.Status == status {
			out = append(out, rec.ev)
		}
		rec.mu.RUnlock()
		return true
	})
	return out
}

func (r *Registry) record(eventID string) (*eventRecord, error) {
	v, ok := r.events.Load(eventID)
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return v.(*eventRecord), nil
}
