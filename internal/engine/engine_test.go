package engine_test

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"testing"
	"time"

	"cogniledger/internal/config"
	"cogniledger/internal/db"
	"cogniledger/internal/domain"
	"cogniledger/internal/engine"
	"cogniledger/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("scope-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitScope(ctx, "scope-1", "test", "tester"); err != nil {
		t.Fatalf("init scope: %v", err)
	}
	for _, role := range []string{domain.RoleAuthor, domain.RoleReviewer} {
		if _, err := eng.GrantRole(ctx, "scope-1", "tester", role, "tester"); err != nil {
			t.Fatalf("grant %s: %v", role, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func openEpoch(t *testing.T, env testEnv) domain.Epoch {
	t.Helper()
	ep, err := env.Engine.OpenEpoch(env.Ctx, engine.OpenEpochOptions{
		ScopeID:     "scope-1",
		PeriodStart: "2024-01-01T00:00:00Z",
		PeriodEnd:   "2024-02-01T00:00:00Z",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("open epoch: %v", err)
	}
	return ep
}

func submit(t *testing.T, env testEnv, epochID int64, userID, workItemID, units string) domain.ActivityEvent {
	t.Helper()
	ev, err := env.Engine.SubmitReceipt(env.Ctx, engine.SubmitReceiptOptions{
		EpochID:    epochID,
		UserID:     userID,
		WorkItemID: workItemID,
		Role:       domain.RoleAuthor,
		Units:      units,
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("submit receipt: %v", err)
	}
	return ev
}

func fundPool(t *testing.T, env testEnv, epochID int64, total string) {
	t.Helper()
	if _, err := env.Engine.AddPoolComponent(env.Ctx, epochID, "subscription.revenue", total, "tester"); err != nil {
		t.Fatalf("add component: %v", err)
	}
	if _, err := env.Engine.AddPoolComponent(env.Ctx, epochID, "treasury.allocation", "0", "tester"); err != nil {
		t.Fatalf("add component: %v", err)
	}
}

func TestEpochLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ep := openEpoch(t, env)
	submit(t, env, ep.ID, "alice", "w1", "700")
	submit(t, env, ep.ID, "bob", "w2", "300")
	fundPool(t, env, ep.ID, "1000")

	st, err := env.Engine.CloseEpoch(env.Ctx, ep.ID, "tester")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if st.PoolTotalCredits != "1000" {
		t.Fatalf("pool total = %s, want 1000", st.PoolTotalCredits)
	}
	if len(st.Payouts) != 2 {
		t.Fatalf("payouts = %d, want 2", len(st.Payouts))
	}
	if st.Payouts[0].UserID != "alice" || st.Payouts[0].AmountCredits != "700" {
		t.Errorf("alice = %+v", st.Payouts[0])
	}
	if st.Payouts[1].UserID != "bob" || st.Payouts[1].AmountCredits != "300" {
		t.Errorf("bob = %+v", st.Payouts[1])
	}
	if st.Payouts[0].Share != "0.700000" {
		t.Errorf("alice share = %s", st.Payouts[0].Share)
	}
	if st.AllocationSetHash == "" || st.SupersedesStatementID != nil {
		t.Errorf("statement head = %+v", st)
	}

	got, err := env.Engine.Repo.GetEpoch(env.Ctx, ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.EpochClosed || got.PoolTotalCredits == nil || *got.PoolTotalCredits != "1000" {
		t.Fatalf("epoch after close = %+v", got)
	}
}

func TestCloseTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	ep := openEpoch(t, env)
	submit(t, env, ep.ID, "alice", "w1", "10")
	fundPool(t, env, ep.ID, "100")
	if _, err := env.Engine.CloseEpoch(env.Ctx, ep.ID, "tester"); err != nil {
		t.Fatalf("first close: %v", err)
	}
	_, err := env.Engine.CloseEpoch(env.Ctx, ep.ID, "tester")
	var closed *domain.EpochAlreadyClosedError
	if !errors.As(err, &closed) || closed.EpochID != ep.ID {
		t.Fatalf("second close err = %v", err)
	}
}

func TestMissingPoolComponent(t *testing.T) {
	env := newTestEnv(t)
	ep := openEpoch(t, env)
	submit(t, env, ep.ID, "alice", "w1", "10")
	if _, err := env.Engine.AddPoolComponent(env.Ctx, ep.ID, "subscription.revenue", "500", "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.CloseEpoch(env.Ctx, ep.ID, "tester")
	var missing *domain.PoolComponentMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("close err = %v", err)
	}
	if missing.ComponentID != "treasury.allocation" {
		t.Fatalf("missing component = %s", missing.ComponentID)
	}
}

func TestSubmitToClosedEpoch(t *testing.T) {
	env := newTestEnv(t)
	ep := openEpoch(t, env)
	submit(t, env, ep.ID, "alice", "w1", "10")
	fundPool(t, env, ep.ID, "100")
	if _, err := env.Engine.CloseEpoch(env.Ctx, ep.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SubmitReceipt(env.Ctx, engine.SubmitReceiptOptions{
		EpochID: ep.ID, UserID: "alice", WorkItemID: "w2", Role: domain.RoleAuthor, Units: "5", ActorID: "tester",
	})
	var notOpen *domain.EpochNotOpenError
	if !errors.As(err, &notOpen) || notOpen.EpochID != ep.ID {
		t.Fatalf("submit err = %v", err)
	}
}

func TestUnauthorizedIssuer(t *testing.T) {
	env := newTestEnv(t)
	ep := openEpoch(t, env)
	_, err := env.Engine.SubmitReceipt(env.Ctx, engine.SubmitReceiptOptions{
		EpochID: ep.ID, UserID: "alice", WorkItemID: "w1", Role: domain.RoleAuthor, Units: "10", ActorID: "mallory",
	})
	var denied *domain.IssuerNotAuthorizedError
	if !errors.As(err, &denied) {
		t.Fatalf("submit err = %v", err)
	}
	if denied.Address != "mallory" || denied.RequiredRole != domain.RoleAuthor {
		t.Fatalf("denied = %+v", denied)
	}

	_, err = env.Engine.CloseEpoch(env.Ctx, ep.ID, "mallory")
	if !errors.As(err, &denied) {
		t.Fatalf("close err = %v", err)
	}
}

func TestCurationExclusionAndOverride(t *testing.T) {
	env := newTestEnv(t)
	ep := openEpoch(t, env)
	first := submit(t, env, ep.ID, "alice", "w1", "100")
	second := submit(t, env, ep.ID, "alice", "w2", "41")

	if _, err := env.Engine.SetCuration(env.Ctx, engine.SetCurationOptions{
		EpochID: ep.ID, ActivityEventID: first.ID, Included: false, Note: "duplicate", ActorID: "tester",
	}); err != nil {
		t.Fatalf("exclude: %v", err)
	}
	a, err := env.Engine.Repo.GetAllocation(env.Ctx, ep.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if a.ProposedUnits != "41" || a.ActivityCount != 1 {
		t.Fatalf("after exclude = %+v", a)
	}

	// half weight, floored
	half := int64(500)
	if _, err := env.Engine.SetCuration(env.Ctx, engine.SetCurationOptions{
		EpochID: ep.ID, ActivityEventID: second.ID, Included: true, WeightOverrideMilli: &half, ActorID: "tester",
	}); err != nil {
		t.Fatalf("override: %v", err)
	}
	a, err = env.Engine.Repo.GetAllocation(env.Ctx, ep.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if a.ProposedUnits != "20" {
		t.Fatalf("after override = %+v", a)
	}
}

func TestOverrideAndSupersede(t *testing.T) {
	env := newTestEnv(t)
	ep := openEpoch(t, env)
	submit(t, env, ep.ID, "alice", "w1", "700")
	submit(t, env, ep.ID, "bob", "w2", "300")
	fundPool(t, env, ep.ID, "1000")
	first, err := env.Engine.CloseEpoch(env.Ctx, ep.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.OverrideAllocation(env.Ctx, ep.ID, "bob", "700", "reviewed undercount", "tester"); err != nil {
		t.Fatalf("override: %v", err)
	}
	next, err := env.Engine.SupersedeStatement(env.Ctx, ep.ID, "bob undercounted", "tester")
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if next.SupersedesStatementID == nil || *next.SupersedesStatementID != first.ID {
		t.Fatalf("supersedes = %v", next.SupersedesStatementID)
	}
	if len(next.Payouts) != 2 || next.Payouts[0].AmountCredits != "500" || next.Payouts[1].AmountCredits != "500" {
		t.Fatalf("recomputed payouts = %+v", next.Payouts)
	}

	head, err := env.Engine.Repo.LatestStatementForEpoch(env.Ctx, ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if head.ID != next.ID {
		t.Fatalf("head = %s, want %s", head.ID, next.ID)
	}
	prior, err := env.Engine.Repo.GetStatement(env.Ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if prior.Payouts[0].AmountCredits != "700" {
		t.Fatalf("prior statement mutated: %+v", prior.Payouts)
	}
}

func TestSignatureRecording(t *testing.T) {
	env := newTestEnv(t)
	ep := openEpoch(t, env)
	ev := submit(t, env, ep.ID, "alice", "w1", "100")

	msg, hash, err := env.Engine.ReceiptMessage(env.Ctx, ev.ID)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	lines := strings.Split(msg, "\n")
	if len(lines) != 6 {
		t.Fatalf("message lines:\n%s", msg)
	}
	if want := "epoch:" + strconv.FormatInt(ep.ID, 10); lines[1] != want {
		t.Fatalf("epoch line = %q, want %q", lines[1], want)
	}
	if want := "receipt:alice:w1:" + domain.RoleAuthor; lines[2] != want {
		t.Fatalf("receipt line = %q, want %q", lines[2], want)
	}

	sig, err := env.Engine.RecordSignature(env.Ctx, engine.RecordSignatureOptions{
		ActivityEventID: ev.ID, SignerAddress: "0xabc", Signature: "0xdeadbeef", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if sig.MessageHash != hash {
		t.Fatalf("message hash = %s, want %s", sig.MessageHash, hash)
	}

	_, err = env.Engine.RecordSignature(env.Ctx, engine.RecordSignatureOptions{
		ActivityEventID: ev.ID, SignerAddress: "0xabc", Signature: "", ActorID: "tester",
	})
	var invalid *domain.ReceiptSignatureInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("empty signature err = %v", err)
	}
}

func TestConservationOnStatement(t *testing.T) {
	env := newTestEnv(t)
	ep := openEpoch(t, env)
	submit(t, env, ep.ID, "alice", "w1", "3")
	submit(t, env, ep.ID, "bob", "w2", "3")
	submit(t, env, ep.ID, "carol", "w3", "3")
	fundPool(t, env, ep.ID, "1000000007")

	st, err := env.Engine.CloseEpoch(env.Ctx, ep.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	sum := new(big.Int)
	for _, p := range st.Payouts {
		amount, ok := new(big.Int).SetString(p.AmountCredits, 10)
		if !ok {
			t.Fatalf("bad amount %s", p.AmountCredits)
		}
		sum.Add(sum, amount)
	}
	if sum.String() != st.PoolTotalCredits {
		t.Fatalf("sum %s != pool %s", sum, st.PoolTotalCredits)
	}
}

func TestVerifyStatement(t *testing.T) {
	env := newTestEnv(t)
	ep := openEpoch(t, env)
	submit(t, env, ep.ID, "alice", "w1", "700")
	submit(t, env, ep.ID, "bob", "w2", "300")
	fundPool(t, env, ep.ID, "1000")

	st, err := env.Engine.CloseEpoch(env.Ctx, ep.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	v, err := env.Engine.VerifyStatement(env.Ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !v.HashMatches {
		t.Errorf("recomputed hash %s != stored %s", v.RecomputedHash, v.StoredHash)
	}
	if !v.Conserved {
		t.Errorf("payout sum %s != pool %s", v.PayoutSum, v.PoolTotal)
	}
}

func TestOpenEpochPeriodValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.OpenEpoch(env.Ctx, engine.OpenEpochOptions{
		ScopeID: "scope-1", PeriodStart: "not-a-time", PeriodEnd: "2024-02-01T00:00:00Z", ActorID: "tester",
	})
	if err == nil {
		t.Fatal("malformed start accepted")
	}
	_, err = env.Engine.OpenEpoch(env.Ctx, engine.OpenEpochOptions{
		ScopeID: "scope-1", PeriodStart: "2024-01-01T00:00:00Z", PeriodEnd: "2024-01-01", ActorID: "tester",
	})
	if err == nil {
		t.Fatal("malformed end accepted")
	}
	_, err = env.Engine.OpenEpoch(env.Ctx, engine.OpenEpochOptions{
		ScopeID: "scope-1", PeriodStart: "2024-01-01T00:00:00Z", PeriodEnd: "2024-01-01T00:00:00Z", ActorID: "tester",
	})
	if err == nil {
		t.Fatal("zero-length window accepted")
	}

	// 12:00+02:00 is 10:00Z, so this window is valid even though the end
	// string sorts before the start string byte-wise.
	ep, err := env.Engine.OpenEpoch(env.Ctx, engine.OpenEpochOptions{
		ScopeID:     "scope-1",
		PeriodStart: "2024-01-01T12:00:00+02:00",
		PeriodEnd:   "2024-01-01T11:30:00Z",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("mixed-offset window rejected: %v", err)
	}
	if ep.Status != domain.EpochOpen {
		t.Fatalf("status = %s", ep.Status)
	}
}
