package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gatepass.org/internal/audit"
	"gatepass.org/internal/directory"
	"gatepass.org/internal/govern"
	"gatepass.org/internal/lifecycle"
	"gatepass.org/internal/passes"
	"gatepass.org/internal/store/memory"
	"gatepass.org/internal/stream"
)

type harness struct {
	facade *lifecycle.Facade
	st     *memory.Store
	hub    *stream.Hub

	admin    directory.Account
	security directory.Account
}

func looseQuotas() map[string]govern.Quota {
	quotas := make(map[string]govern.Quota)
	for _, c := range []string{
		lifecycle.ClassRegister, lifecycle.ClassModerate, lifecycle.ClassPassIssue,
		lifecycle.ClassPassUse, lifecycle.ClassPassCancel, lifecycle.ClassSearch,
	} {
		quotas[c] = govern.Quota{MaxRequests: 1000, Window: time.Hour}
	}
	return quotas
}

func newHarness(t *testing.T, quotas map[string]govern.Quota) *harness {
	t.Helper()
	if quotas == nil {
		quotas = looseQuotas()
	}
	st := memory.New()
	dir := directory.NewService(st)
	reg := passes.NewRegistry(st, dir)
	hub := stream.New()
	f := lifecycle.New(dir, reg, st, govern.New(quotas), hub)

	h := &harness{facade: f, st: st, hub: hub}
	h.admin = h.seed(t, dir, "ext-admin", directory.RoleAdmin)
	h.security = h.seed(t, dir, "ext-security", directory.RoleSecurity)
	return h
}

func (h *harness) seed(t *testing.T, dir *directory.Service, identity string, role directory.Role) directory.Account {
	t.Helper()
	acc, err := dir.Register(context.Background(), identity, "Seed "+identity, "+79001234567", "")
	if err != nil {
		t.Fatalf("seed register: %v", err)
	}
	if acc, err = dir.Decide(context.Background(), acc.ID, directory.DecisionApprove, "bootstrap"); err != nil {
		t.Fatalf("seed approve: %v", err)
	}
	if role != directory.RoleResident {
		if acc, err = dir.ReassignRole(context.Background(), acc.ID, role, "bootstrap"); err != nil {
			t.Fatalf("seed role: %v", err)
		}
	}
	return acc
}

func (h *harness) approvedResident(t *testing.T, identity string) directory.Account {
	t.Helper()
	acc, err := h.facade.RegisterAccount(context.Background(), identity, "Resident "+identity, "+79001234567", "5")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	acc, err = h.facade.DecideAccount(context.Background(), h.admin.ID, acc.ID, directory.DecisionApprove)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return acc
}

func TestFullLifecycleLeavesCompleteTrail(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	resident := h.approvedResident(t, "ext-res")

	p, err := h.facade.IssuePass(ctx, resident.ID, "K555KK55")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := h.facade.MarkPassUsed(ctx, h.security.ID, p.ID); err != nil {
		t.Fatalf("use: %v", err)
	}
	if _, err := h.facade.CancelPass(ctx, resident.ID, p.ID); !errors.Is(err, passes.ErrAlreadyTerminal) {
		t.Fatalf("cancel after use: expected ErrAlreadyTerminal, got %v", err)
	}

	accEvents, err := h.facade.AuditByTarget(ctx, h.admin.ID, audit.TargetAccount, resident.ID, 0, 10)
	if err != nil {
		t.Fatalf("account trail: %v", err)
	}
	if len(accEvents) != 2 {
		t.Fatalf("expected registered+approved, got %d events", len(accEvents))
	}

	passEvents, err := h.facade.AuditByTarget(ctx, h.admin.ID, audit.TargetPass, p.ID, 0, 10)
	if err != nil {
		t.Fatalf("pass trail: %v", err)
	}
	if len(passEvents) != 2 {
		t.Fatalf("expected created+used, got %d events", len(passEvents))
	}
	for i := 1; i < len(passEvents); i++ {
		if passEvents[i].ID <= passEvents[i-1].ID {
			t.Fatalf("trail ids must increase: %d then %d", passEvents[i-1].ID, passEvents[i].ID)
		}
	}
}

func TestModerationForbiddenForNonAdmins(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	resident := h.approvedResident(t, "ext-res")

	_, err := h.facade.DecideAccount(ctx, h.security.ID, resident.ID, directory.DecisionApprove)
	if !errors.Is(err, directory.ErrForbidden) {
		t.Fatalf("security moderating: expected ErrForbidden, got %v", err)
	}
	_, err = h.facade.PendingAccounts(ctx, resident.ID)
	if !errors.Is(err, directory.ErrForbidden) {
		t.Fatalf("resident reading queue: expected ErrForbidden, got %v", err)
	}
	_, err = h.facade.SearchPasses(ctx, resident.ID, "A1", 0)
	if !errors.Is(err, directory.ErrForbidden) {
		t.Fatalf("resident searching: expected ErrForbidden, got %v", err)
	}
}

func TestRegisterQuotaExhaustion(t *testing.T) {
	quotas := looseQuotas()
	quotas[lifecycle.ClassRegister] = govern.Quota{MaxRequests: 2, Window: time.Minute}
	h := newHarness(t, quotas)
	ctx := context.Background()

	// same identity keeps hitting the same rate key even though
	// registration itself fails with a duplicate
	if _, err := h.facade.RegisterAccount(ctx, "ext-flood", "Flood", "+79001234567", ""); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := h.facade.RegisterAccount(ctx, "ext-flood", "Flood", "+79001234567", ""); !errors.Is(err, directory.ErrDuplicateIdentity) {
		t.Fatalf("second register: expected duplicate, got %v", err)
	}

	_, err := h.facade.RegisterAccount(ctx, "ext-flood", "Flood", "+79001234567", "")
	if !errors.Is(err, lifecycle.ErrRateLimited) {
		t.Fatalf("third register: expected ErrRateLimited, got %v", err)
	}
	var rl *lifecycle.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %T", err)
	}
	if rl.RetryAfter <= 0 || rl.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry after: %s", rl.RetryAfter)
	}

	// a different identity is not affected
	if _, err := h.facade.RegisterAccount(ctx, "ext-other", "Other", "+79007654321", ""); err != nil {
		t.Fatalf("other identity: %v", err)
	}
}

func TestConcurrentMarkUsedSingleWinner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	resident := h.approvedResident(t, "ext-conc")

	p, err := h.facade.IssuePass(ctx, resident.ID, "T909TT90")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.facade.MarkPassUsed(ctx, h.security.ID, p.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, passes.ErrConflict), errors.Is(err, passes.ErrAlreadyTerminal):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if losses != attempts-1 {
		t.Fatalf("expected %d losers, got %d", attempts-1, losses)
	}
}

func TestPassEventsReachSubscribers(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resident := h.approvedResident(t, "ext-stream")

	ch := h.hub.Subscribe(ctx)

	p, err := h.facade.IssuePass(context.Background(), resident.ID, "P303PP33")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != stream.PassIssued || evt.PassID != p.ID {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pass event")
	}
}

// stallStore wedges account reads until the caller's deadline expires.
type stallStore struct {
	directory.Store
}

func (s stallStore) GetAccount(ctx context.Context, id string) (directory.Account, error) {
	<-ctx.Done()
	return directory.Account{}, ctx.Err()
}

func TestStoreTimeoutMapsToStorageUnavailable(t *testing.T) {
	st := memory.New()
	dir := directory.NewService(stallStore{Store: st})
	reg := passes.NewRegistry(st, dir)
	f := lifecycle.New(dir, reg, st, govern.New(looseQuotas()), stream.New(),
		lifecycle.WithStoreTimeout(20*time.Millisecond))

	_, err := f.Account(context.Background(), "any-id")
	if !errors.Is(err, lifecycle.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}
