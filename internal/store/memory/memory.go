// Package memory is the in-process reference implementation of the account,
// pass and audit stores. One mutex spans all three, which makes "entity
// change + audit event commit together" trivially true.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gatepass.org/internal/audit"
	"gatepass.org/internal/directory"
	"gatepass.org/internal/passes"
)

// Store keeps everything in maps. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	accounts   map[string]directory.Account
	byIdentity map[string]string // externalIdentity -> account id

	passes map[string]passes.Pass

	events      []audit.Event
	nextEventID int64

	now func() time.Time
}

var (
	_ directory.Store = (*Store)(nil)
	_ passes.Store    = (*Store)(nil)
	_ audit.Trail     = (*Store)(nil)
)

// Option configures the store.
type Option func(*Store)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		accounts:    make(map[string]directory.Account),
		byIdentity:  make(map[string]string),
		passes:      make(map[string]passes.Pass),
		nextEventID: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// append assigns the next monotonic id and stores the event. Callers hold mu.
func (s *Store) append(evt audit.Event) int64 {
	evt.ID = s.nextEventID
	s.nextEventID++
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = s.now().UTC()
	}
	s.events = append(s.events, evt)
	return evt.ID
}

// --- directory.Store ---

func (s *Store) CreateAccount(ctx context.Context, acc directory.Account, evt audit.Event) (directory.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byIdentity[acc.ExternalIdentity]; ok {
		return directory.Account{}, directory.ErrDuplicateIdentity
	}
	s.accounts[acc.ID] = acc
	s.byIdentity[acc.ExternalIdentity] = acc.ID
	s.append(evt)
	return acc, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (directory.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return directory.Account{}, directory.ErrNotFound
	}
	return acc, nil
}

func (s *Store) GetAccountByIdentity(ctx context.Context, externalIdentity string) (directory.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byIdentity[externalIdentity]
	if !ok {
		return directory.Account{}, directory.ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) ListAccountsByStatus(ctx context.Context, status directory.Status) ([]directory.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []directory.Account
	for _, acc := range s.accounts {
		if acc.Status == status {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TransitionAccountStatus(ctx context.Context, id string, expect directory.Status, change directory.StatusChange, evt audit.Event) (directory.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return directory.Account{}, directory.ErrNotFound
	}
	if acc.Status != expect {
		return directory.Account{}, directory.ErrConflict
	}

	acc.Status = change.Status
	acc.BlockedUntil = change.BlockedUntil
	acc.BlockReason = change.BlockReason
	acc.UpdatedAt = s.now().UTC()
	s.accounts[id] = acc
	s.append(evt)
	return acc, nil
}

func (s *Store) ReassignAccountRole(ctx context.Context, id string, expect, next directory.Role, evt audit.Event) (directory.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return directory.Account{}, directory.ErrNotFound
	}
	if acc.Role != expect {
		return directory.Account{}, directory.ErrConflict
	}

	acc.Role = next
	acc.UpdatedAt = s.now().UTC()
	s.accounts[id] = acc
	s.append(evt)
	return acc, nil
}

// --- passes.Store ---

func (s *Store) CreatePass(ctx context.Context, p passes.Pass, evt audit.Event) (passes.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.passes[p.ID] = p
	s.append(evt)
	return p, nil
}

func (s *Store) GetPass(ctx context.Context, id string) (passes.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.passes[id]
	if !ok {
		return passes.Pass{}, passes.ErrNotFound
	}
	return p, nil
}

func (s *Store) TransitionPassStatus(ctx context.Context, id string, expect passes.Status, change passes.StatusChange, evt audit.Event) (passes.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.passes[id]
	if !ok {
		return passes.Pass{}, passes.ErrNotFound
	}
	if p.Status != expect {
		return passes.Pass{}, passes.ErrConflict
	}

	p.Status = change.Status
	p.UsedAt = change.UsedAt
	p.UsedByAccountID = change.UsedBy
	s.passes[id] = p
	s.append(evt)
	return p, nil
}

func (s *Store) FindPassesByPlate(ctx context.Context, normalizedFragment string, limit int) ([]passes.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []passes.Pass
	for _, p := range s.passes {
		if strings.Contains(p.CarNumberNormalized, normalizedFragment) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit && limit > 0 {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListActivePassesForOwner(ctx context.Context, ownerAccountID string) ([]passes.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []passes.Pass
	for _, p := range s.passes {
		if p.OwnerAccountID == ownerAccountID && p.Status == passes.StatusActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountActivePassesForOwner(ctx context.Context, ownerAccountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.passes {
		if p.OwnerAccountID == ownerAccountID && p.Status == passes.StatusActive {
			n++
		}
	}
	return n, nil
}

func (s *Store) HasActivePlateForOwner(ctx context.Context, ownerAccountID, normalized string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.passes {
		if p.OwnerAccountID == ownerAccountID && p.Status == passes.StatusActive && p.CarNumberNormalized == normalized {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ArchivePassesBefore(ctx context.Context, cutoff time.Time, evt audit.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, p := range s.passes {
		if !p.Archived && p.Status.Terminal() && p.CreatedAt.Before(cutoff) {
			p.Archived = true
			s.passes[id] = p
			n++
		}
	}
	s.append(evt)
	return n, nil
}

// --- audit.Trail ---

func (s *Store) Record(ctx context.Context, evt audit.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(evt), nil
}

func (s *Store) ByTarget(ctx context.Context, targetType, targetID string, afterID int64, limit int) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []audit.Event
	for _, evt := range s.events {
		if evt.ID <= afterID || evt.TargetType != targetType || evt.TargetID != targetID {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ByActor(ctx context.Context, actorAccountID string, since time.Time, afterID int64, limit int) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []audit.Event
	for _, evt := range s.events {
		if evt.ID <= afterID || evt.ActorAccountID != actorAccountID {
			continue
		}
		if !since.IsZero() && evt.OccurredAt.Before(since) {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
