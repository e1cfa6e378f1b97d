package passes_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatepass.org/internal/directory"
	"gatepass.org/internal/passes"
	"gatepass.org/internal/store/memory"
)

type fixture struct {
	svc *directory.Service
	reg *passes.Registry
	st  *memory.Store

	owner    directory.Account
	security directory.Account
	admin    directory.Account
}

func newFixture(t *testing.T, opts ...passes.Option) *fixture {
	t.Helper()
	st := memory.New()
	svc := directory.NewService(st)
	reg := passes.NewRegistry(st, svc, opts...)

	f := &fixture{svc: svc, reg: reg, st: st}
	f.owner = f.approvedAccount(t, "ext-owner")
	f.security = f.approvedAccount(t, "ext-security")
	f.admin = f.approvedAccount(t, "ext-admin")

	var err error
	if f.security, err = svc.ReassignRole(context.Background(), f.security.ID, directory.RoleSecurity, f.admin.ID); err != nil {
		t.Fatalf("make security: %v", err)
	}
	if f.admin, err = svc.ReassignRole(context.Background(), f.admin.ID, directory.RoleAdmin, f.admin.ID); err != nil {
		t.Fatalf("make admin: %v", err)
	}
	return f
}

func (f *fixture) approvedAccount(t *testing.T, identity string) directory.Account {
	t.Helper()
	acc, err := f.svc.Register(context.Background(), identity, "Resident "+identity, "+79001234567", "1")
	if err != nil {
		t.Fatalf("register %s: %v", identity, err)
	}
	acc, err = f.svc.Decide(context.Background(), acc.ID, directory.DecisionApprove, "bootstrap")
	if err != nil {
		t.Fatalf("approve %s: %v", identity, err)
	}
	return acc
}

func TestIssueNormalizesPlate(t *testing.T) {
	f := newFixture(t)

	p, err := f.reg.Issue(context.Background(), f.owner.ID, "а 123 вс-77")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if p.Status != passes.StatusActive {
		t.Fatalf("expected active, got %s", p.Status)
	}
	if p.CarNumberNormalized != "A123BC77" {
		t.Fatalf("unexpected normalization: %q", p.CarNumberNormalized)
	}
	if p.CarNumber != "а 123 вс-77" {
		t.Fatalf("original spelling must be preserved: %q", p.CarNumber)
	}
}

func TestIssueRejectsIneligibleOwner(t *testing.T) {
	f := newFixture(t)

	pending, err := f.svc.Register(context.Background(), "ext-pending", "Pending User", "+79005556677", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.reg.Issue(context.Background(), pending.ID, "B777OP99"); !errors.Is(err, passes.ErrOwnerNotEligible) {
		t.Fatalf("pending owner: expected ErrOwnerNotEligible, got %v", err)
	}

	if _, err := f.svc.Block(context.Background(), f.owner.ID, "debt", time.Now().Add(time.Hour), f.admin.ID); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := f.reg.Issue(context.Background(), f.owner.ID, "B777OP99"); !errors.Is(err, passes.ErrOwnerNotEligible) {
		t.Fatalf("blocked owner: expected ErrOwnerNotEligible, got %v", err)
	}
}

func TestIssueRejectsDuplicateActivePlate(t *testing.T) {
	f := newFixture(t)

	if _, err := f.reg.Issue(context.Background(), f.owner.ID, "A123BC77"); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	// same plate in Cyrillic spelling is the same plate
	_, err := f.reg.Issue(context.Background(), f.owner.ID, "а123вс77")
	if !errors.Is(err, passes.ErrDuplicatePass) {
		t.Fatalf("expected ErrDuplicatePass, got %v", err)
	}
}

func TestIssueEnforcesActiveLimit(t *testing.T) {
	f := newFixture(t, passes.WithMaxActive(2))

	plates := []string{"A111AA11", "B222BB22"}
	for _, plate := range plates {
		if _, err := f.reg.Issue(context.Background(), f.owner.ID, plate); err != nil {
			t.Fatalf("issue %s: %v", plate, err)
		}
	}
	_, err := f.reg.Issue(context.Background(), f.owner.ID, "C333CC33")
	if !errors.Is(err, passes.ErrPassLimit) {
		t.Fatalf("expected ErrPassLimit, got %v", err)
	}

	// cancelling frees a slot
	list, err := f.reg.ListActiveForOwner(context.Background(), f.owner.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := f.reg.Cancel(context.Background(), list[0].ID, f.owner.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.reg.Issue(context.Background(), f.owner.ID, "C333CC33"); err != nil {
		t.Fatalf("issue after cancel: %v", err)
	}
}

func TestMarkUsedRequiresGateRole(t *testing.T) {
	f := newFixture(t)
	p, err := f.reg.Issue(context.Background(), f.owner.ID, "E555KX199")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := f.reg.MarkUsed(context.Background(), p.ID, f.owner.ID); !errors.Is(err, directory.ErrForbidden) {
		t.Fatalf("resident at the gate: expected ErrForbidden, got %v", err)
	}

	used, err := f.reg.MarkUsed(context.Background(), p.ID, f.security.ID)
	if err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if used.Status != passes.StatusUsed || used.UsedAt == nil || used.UsedByAccountID != f.security.ID {
		t.Fatalf("unexpected used pass: %+v", used)
	}
}

func TestTerminalPassesStayTerminal(t *testing.T) {
	f := newFixture(t)
	p, err := f.reg.Issue(context.Background(), f.owner.ID, "M404MM44")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.reg.MarkUsed(context.Background(), p.ID, f.security.ID); err != nil {
		t.Fatalf("mark used: %v", err)
	}

	if _, err := f.reg.MarkUsed(context.Background(), p.ID, f.security.ID); !errors.Is(err, passes.ErrAlreadyTerminal) {
		t.Fatalf("second use: expected ErrAlreadyTerminal, got %v", err)
	}
	if _, err := f.reg.Cancel(context.Background(), p.ID, f.owner.ID); !errors.Is(err, passes.ErrAlreadyTerminal) {
		t.Fatalf("cancel after use: expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestCancelOwnerOrAdminOnly(t *testing.T) {
	f := newFixture(t)
	p, err := f.reg.Issue(context.Background(), f.owner.ID, "H808HH88")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := f.reg.Cancel(context.Background(), p.ID, f.security.ID); !errors.Is(err, directory.ErrForbidden) {
		t.Fatalf("security cancel: expected ErrForbidden, got %v", err)
	}

	cancelled, err := f.reg.Cancel(context.Background(), p.ID, f.admin.ID)
	if err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if cancelled.Status != passes.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestFindByCarNumberMatchesHomoglyphs(t *testing.T) {
	f := newFixture(t)
	p, err := f.reg.Issue(context.Background(), f.owner.ID, "о777оо177")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	found, err := f.reg.FindByCarNumber(context.Background(), "O777", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].ID != p.ID {
		t.Fatalf("expected the issued pass, got %+v", found)
	}

	if _, err := f.reg.FindByCarNumber(context.Background(), "  ", 0); !errors.Is(err, passes.ErrInvalidInput) {
		t.Fatalf("blank fragment: expected ErrInvalidInput, got %v", err)
	}
}

func TestArchiveOlderThanSweepsTerminalPasses(t *testing.T) {
	current := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	st := memory.New()
	svc := directory.NewService(st)
	reg := passes.NewRegistry(st, svc, passes.WithClock(func() time.Time { return current }))

	acc, err := svc.Register(context.Background(), "ext-arch", "Archive Owner", "+79001234567", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Decide(context.Background(), acc.ID, directory.DecisionApprove, "bootstrap"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	old, err := reg.Issue(context.Background(), acc.ID, "A100AA10")
	if err != nil {
		t.Fatalf("issue old: %v", err)
	}
	if _, err := reg.Cancel(context.Background(), old.ID, acc.ID); err != nil {
		t.Fatalf("cancel old: %v", err)
	}

	// a fresh active pass must never be swept
	current = current.Add(45 * 24 * time.Hour)
	fresh, err := reg.Issue(context.Background(), acc.ID, "B200BB20")
	if err != nil {
		t.Fatalf("issue fresh: %v", err)
	}

	n, err := reg.ArchiveOlderThan(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 archived, got %d", n)
	}

	swept, err := reg.Get(context.Background(), old.ID)
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if !swept.Archived {
		t.Fatal("expected old pass archived")
	}
	kept, err := reg.Get(context.Background(), fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if kept.Archived {
		t.Fatal("fresh pass must not be archived")
	}

	if _, err := reg.ArchiveOlderThan(context.Background(), 0); !errors.Is(err, passes.ErrInvalidInput) {
		t.Fatalf("zero retention: expected ErrInvalidInput, got %v", err)
	}
}
