package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"cogniledger/internal/config"
	"cogniledger/internal/domain"
	"cogniledger/internal/events"
	"cogniledger/internal/payout"
	"cogniledger/internal/repo"
	"cogniledger/internal/signing"
	"cogniledger/internal/store"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func parseUnits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("units %q is not a decimal integer", s)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("units must be positive, got %s", s)
	}
	return v, nil
}

func parseCredits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative, got %s", s)
	}
	return v, nil
}

func validRole(role string) bool {
	switch role {
	case domain.RoleAuthor, domain.RoleReviewer, domain.RoleApprover:
		return true
	}
	return false
}

func (e Engine) requireRoleTx(ctx context.Context, tx *sql.Tx, scopeID, address, role string) error {
	ok, err := e.Repo.HasRoleTx(ctx, tx, scopeID, address, role)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.IssuerNotAuthorizedError{Address: address, RequiredRole: role}
	}
	return nil
}

// InitScope creates a scope, stores its default config and grants the acting
// issuer the approver role so later grants have an authorized issuer.
func (e Engine) InitScope(ctx context.Context, scopeID, description, actorID string) (domain.Scope, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Scope{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Scope{
		ID:          scopeID,
		Status:      "active",
		Description: description,
		CreatedAt:   now,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO scopes(id,status,description,created_at) VALUES (?,?,?,?)`,
		s.ID, s.Status, nullable(s.Description), s.CreatedAt); err != nil {
		return domain.Scope{}, fmt.Errorf("insert scope: %w", err)
	}
	if err := e.Repo.UpsertScopeConfigTx(ctx, tx, s.ID, config.Default(s.ID)); err != nil {
		return domain.Scope{}, fmt.Errorf("insert scope config: %w", err)
	}
	if err := e.Repo.GrantRoleTx(ctx, tx, s.ID, actorID, domain.RoleApprover, now); err != nil {
		return domain.Scope{}, err
	}
	if err := e.Events.Append(ctx, tx, "scope.init", s.ID, "scope", s.ID, actorID, events.EventPayload{"status": s.Status}); err != nil {
		return domain.Scope{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Scope{}, err
	}
	return s, nil
}

// OpenEpochOptions are parameters for opening a payout round.
type OpenEpochOptions struct {
	ScopeID     string
	PeriodStart string
	PeriodEnd   string
	ActorID     string
}

// OpenEpoch starts a new round and snapshots the scope's weight table onto it
// so later config edits cannot retroactively change a round's accounting.
func (e Engine) OpenEpoch(ctx context.Context, opts OpenEpochOptions) (domain.Epoch, error) {
	if e.Config == nil {
		return domain.Epoch{}, errors.New("config not loaded")
	}
	if opts.ScopeID == "" {
		return domain.Epoch{}, errors.New("scope is required")
	}
	if opts.PeriodStart == "" || opts.PeriodEnd == "" {
		return domain.Epoch{}, errors.New("period start and end are required")
	}
	start, err := time.Parse(time.RFC3339, opts.PeriodStart)
	if err != nil {
		return domain.Epoch{}, fmt.Errorf("invalid period start %s: %w", opts.PeriodStart, err)
	}
	end, err := time.Parse(time.RFC3339, opts.PeriodEnd)
	if err != nil {
		return domain.Epoch{}, fmt.Errorf("invalid period end %s: %w", opts.PeriodEnd, err)
	}
	// Compare as instants so offset notation does not affect ordering.
	if !end.After(start) {
		return domain.Epoch{}, fmt.Errorf("period end %s must be after start %s", opts.PeriodEnd, opts.PeriodStart)
	}
	if _, err := e.Repo.GetScope(ctx, opts.ScopeID); err != nil {
		return domain.Epoch{}, err
	}

	weights, err := json.Marshal(e.Config.Weights)
	if err != nil {
		return domain.Epoch{}, err
	}
	weightJSON := string(weights)
	now := e.now().UTC().Format(time.RFC3339)
	ep := domain.Epoch{
		ScopeID:          opts.ScopeID,
		Status:           domain.EpochOpen,
		PeriodStart:      opts.PeriodStart,
		PeriodEnd:        opts.PeriodEnd,
		WeightConfigJSON: &weightJSON,
		OpenedAt:         now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Epoch{}, err
	}
	defer tx.Rollback()

	if err := e.requireRoleTx(ctx, tx, opts.ScopeID, opts.ActorID, domain.RoleApprover); err != nil {
		return domain.Epoch{}, err
	}
	id, err := e.Repo.InsertEpochTx(ctx, tx, ep)
	if err != nil {
		return domain.Epoch{}, err
	}
	ep.ID = id
	if err := e.Events.Append(ctx, tx, "epoch.opened", ep.ScopeID, "epoch", fmt.Sprint(ep.ID), opts.ActorID, events.EventPayload{
		"period_start": ep.PeriodStart,
		"period_end":   ep.PeriodEnd,
	}); err != nil {
		return domain.Epoch{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Epoch{}, err
	}
	return ep, nil
}

// SubmitReceiptOptions are parameters for recording one unit of attributed work.
type SubmitReceiptOptions struct {
	EpochID      int64
	UserID       string
	WorkItemID   string
	Role         string
	Units        string
	ArtifactRef  string
	RationaleRef string
	OccurredAt   string
	ActorID      string
}

// SubmitReceipt appends an activity event and folds it into the submitting
// user's allocation for the epoch.
func (e Engine) SubmitReceipt(ctx context.Context, opts SubmitReceiptOptions) (domain.ActivityEvent, error) {
	if opts.UserID == "" {
		return domain.ActivityEvent{}, errors.New("user is required")
	}
	if opts.WorkItemID == "" {
		return domain.ActivityEvent{}, errors.New("work item is required")
	}
	if !validRole(opts.Role) {
		return domain.ActivityEvent{}, fmt.Errorf("unknown role %q", opts.Role)
	}
	if _, err := parseUnits(opts.Units); err != nil {
		return domain.ActivityEvent{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if opts.OccurredAt == "" {
		opts.OccurredAt = now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActivityEvent{}, err
	}
	defer tx.Rollback()

	ep, err := e.Repo.GetEpochTx(ctx, tx, opts.EpochID)
	if err != nil {
		return domain.ActivityEvent{}, err
	}
	if ep.Status != domain.EpochOpen {
		return domain.ActivityEvent{}, &domain.EpochNotOpenError{EpochID: ep.ID}
	}
	if err := e.requireRoleTx(ctx, tx, ep.ScopeID, opts.ActorID, opts.Role); err != nil {
		return domain.ActivityEvent{}, err
	}

	ev := domain.ActivityEvent{
		ID:           uuid.NewString(),
		ScopeID:      ep.ScopeID,
		EpochID:      ep.ID,
		UserID:       opts.UserID,
		WorkItemID:   opts.WorkItemID,
		Role:         opts.Role,
		Units:        opts.Units,
		ArtifactRef:  opts.ArtifactRef,
		RationaleRef: opts.RationaleRef,
		OccurredAt:   opts.OccurredAt,
		CreatedAt:    now,
	}
	if err := e.Repo.InsertActivityEventTx(ctx, tx, store.InsertActivityEventParams{
		ID:           ev.ID,
		ScopeID:      ev.ScopeID,
		EpochID:      ev.EpochID,
		UserID:       ev.UserID,
		WorkItemID:   ev.WorkItemID,
		Role:         ev.Role,
		Units:        ev.Units,
		ArtifactRef:  ev.ArtifactRef,
		RationaleRef: ev.RationaleRef,
		OccurredAt:   ev.OccurredAt,
		CreatedAt:    ev.CreatedAt,
	}); err != nil {
		return domain.ActivityEvent{}, err
	}
	if err := e.recomputeAllocationTx(ctx, tx, ep.ID, ev.UserID, now); err != nil {
		return domain.ActivityEvent{}, err
	}
	if err := e.Events.Append(ctx, tx, "receipt.submitted", ev.ScopeID, "receipt", ev.ID, opts.ActorID, events.EventPayload{
		"user_id":      ev.UserID,
		"work_item_id": ev.WorkItemID,
		"role":         ev.Role,
		"units":        ev.Units,
	}); err != nil {
		return domain.ActivityEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ActivityEvent{}, err
	}
	return ev, nil
}

// recomputeAllocationTx rebuilds one user's allocation from their epoch events
// and the epoch's curation decisions. Excluded events contribute nothing; an
// override scales an event's units in milli-units with floor division.
func (e Engine) recomputeAllocationTx(ctx context.Context, tx *sql.Tx, epochID int64, userID, now string) error {
	activity, err := e.Repo.ListActivityForEpochTx(ctx, tx, epochID)
	if err != nil {
		return err
	}
	curations, err := e.Repo.GetCurationForEpochTx(ctx, tx, epochID)
	if err != nil {
		return err
	}
	curated := make(map[string]domain.Curation, len(curations))
	for _, c := range curations {
		curated[c.ActivityEventID] = c
	}

	total := new(big.Int)
	count := 0
	milli := big.NewInt(1000)
	for _, ev := range activity {
		if ev.UserID != userID {
			continue
		}
		units, err := parseUnits(ev.Units)
		if err != nil {
			return err
		}
		if c, ok := curated[ev.ID]; ok {
			if !c.Included {
				continue
			}
			if c.WeightOverrideMilli != nil {
				units.Mul(units, big.NewInt(*c.WeightOverrideMilli))
				units.Quo(units, milli)
			}
		}
		total.Add(total, units)
		count++
	}
	return e.Repo.UpsertAllocationTx(ctx, tx, epochID, userID, total.String(), count, now)
}

// RecordSignatureOptions are parameters for attaching a signature to a receipt.
type RecordSignatureOptions struct {
	ActivityEventID string
	SignerAddress   string
	Signature       string
	ActorID         string
}

// RecordSignature stores an externally produced signature over the receipt's
// canonical message. The ledger binds the message hash it computed; verifying
// the signature cryptographically is the caller's concern.
func (e Engine) RecordSignature(ctx context.Context, opts RecordSignatureOptions) (domain.ReceiptSignature, error) {
	if e.Config == nil {
		return domain.ReceiptSignature{}, errors.New("config not loaded")
	}
	if opts.SignerAddress == "" {
		return domain.ReceiptSignature{}, errors.New("signer address is required")
	}
	if opts.Signature == "" {
		return domain.ReceiptSignature{}, &domain.ReceiptSignatureInvalidError{ReceiptID: opts.ActivityEventID, Reason: "empty signature"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReceiptSignature{}, err
	}
	defer tx.Rollback()

	ev, err := e.Repo.GetActivityEventTx(ctx, tx, opts.ActivityEventID)
	if err != nil {
		return domain.ReceiptSignature{}, err
	}
	msg := signing.BuildReceiptMessage(e.Config.SigningContext(), signing.MessageFields{
		EpochID:        strconv.FormatInt(ev.EpochID, 10),
		UserID:         ev.UserID,
		WorkItemID:     ev.WorkItemID,
		Role:           ev.Role,
		ValuationUnits: ev.Units,
		ArtifactRef:    ev.ArtifactRef,
		RationaleRef:   ev.RationaleRef,
	})
	sig := domain.ReceiptSignature{
		ID:              uuid.NewString(),
		ActivityEventID: ev.ID,
		SignerAddress:   opts.SignerAddress,
		MessageHash:     signing.HashReceiptMessage(msg),
		Signature:       opts.Signature,
		CreatedAt:       e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertSignatureTx(ctx, tx, store.InsertSignatureParams{
		ID:              sig.ID,
		ActivityEventID: sig.ActivityEventID,
		SignerAddress:   sig.SignerAddress,
		MessageHash:     sig.MessageHash,
		Signature:       sig.Signature,
		CreatedAt:       sig.CreatedAt,
	}); err != nil {
		return domain.ReceiptSignature{}, err
	}
	if err := e.Events.Append(ctx, tx, "receipt.signed", ev.ScopeID, "receipt", ev.ID, opts.ActorID, events.EventPayload{
		"signer_address": sig.SignerAddress,
		"message_hash":   sig.MessageHash,
	}); err != nil {
		return domain.ReceiptSignature{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReceiptSignature{}, err
	}
	return sig, nil
}

// ReceiptMessage returns the canonical signing message and its hash for a
// stored receipt.
func (e Engine) ReceiptMessage(ctx context.Context, activityEventID string) (string, string, error) {
	if e.Config == nil {
		return "", "", errors.New("config not loaded")
	}
	ev, err := e.Repo.GetActivityEvent(ctx, activityEventID)
	if err != nil {
		return "", "", err
	}
	msg := signing.BuildReceiptMessage(e.Config.SigningContext(), signing.MessageFields{
		EpochID:        strconv.FormatInt(ev.EpochID, 10),
		UserID:         ev.UserID,
		WorkItemID:     ev.WorkItemID,
		Role:           ev.Role,
		ValuationUnits: ev.Units,
		ArtifactRef:    ev.ArtifactRef,
		RationaleRef:   ev.RationaleRef,
	})
	return msg, signing.HashReceiptMessage(msg), nil
}

// SetCurationOptions are parameters for one inclusion decision.
type SetCurationOptions struct {
	EpochID             int64
	ActivityEventID     string
	Included            bool
	WeightOverrideMilli *int64
	Note                string
	ActorID             string
}

// SetCuration records an approver's inclusion decision for one receipt and
// rebuilds the affected user's allocation.
func (e Engine) SetCuration(ctx context.Context, opts SetCurationOptions) (domain.Curation, error) {
	if opts.WeightOverrideMilli != nil && *opts.WeightOverrideMilli < 0 {
		return domain.Curation{}, fmt.Errorf("weight override must not be negative")
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Curation{}, err
	}
	defer tx.Rollback()

	ep, err := e.Repo.GetEpochTx(ctx, tx, opts.EpochID)
	if err != nil {
		return domain.Curation{}, err
	}
	if ep.Status != domain.EpochOpen {
		return domain.Curation{}, &domain.EpochNotOpenError{EpochID: ep.ID}
	}
	if err := e.requireRoleTx(ctx, tx, ep.ScopeID, opts.ActorID, domain.RoleApprover); err != nil {
		return domain.Curation{}, err
	}
	ev, err := e.Repo.GetActivityEventTx(ctx, tx, opts.ActivityEventID)
	if err != nil {
		return domain.Curation{}, err
	}
	if ev.EpochID != ep.ID {
		return domain.Curation{}, fmt.Errorf("receipt %s not in epoch %d", ev.ID, ep.ID)
	}

	c := domain.Curation{
		EpochID:             ep.ID,
		ActivityEventID:     ev.ID,
		CuratorID:           opts.ActorID,
		Included:            opts.Included,
		WeightOverrideMilli: opts.WeightOverrideMilli,
		Note:                opts.Note,
		UpdatedAt:           now,
	}
	if err := e.Repo.UpsertCurationTx(ctx, tx, store.UpsertCurationParams{
		EpochID:             c.EpochID,
		ActivityEventID:     c.ActivityEventID,
		CuratorID:           c.CuratorID,
		Included:            c.Included,
		WeightOverrideMilli: c.WeightOverrideMilli,
		Note:                c.Note,
		UpdatedAt:           c.UpdatedAt,
	}); err != nil {
		return domain.Curation{}, err
	}
	if err := e.recomputeAllocationTx(ctx, tx, ep.ID, ev.UserID, now); err != nil {
		return domain.Curation{}, err
	}
	payload := events.EventPayload{"included": c.Included, "user_id": ev.UserID}
	if c.WeightOverrideMilli != nil {
		payload["weight_override_milli"] = *c.WeightOverrideMilli
	}
	if err := e.Events.Append(ctx, tx, "curation.set", ep.ScopeID, "receipt", ev.ID, opts.ActorID, payload); err != nil {
		return domain.Curation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Curation{}, err
	}
	return c, nil
}

// OverrideAllocation pins a user's final units for the epoch, replacing the
// proposed aggregate at close time. Allowed while the epoch is open, or on a
// closed epoch as the input to a superseding statement.
func (e Engine) OverrideAllocation(ctx context.Context, epochID int64, userID, finalUnits, reason, actorID string) (domain.Allocation, error) {
	if _, err := parseCredits(finalUnits); err != nil {
		return domain.Allocation{}, err
	}
	if reason == "" {
		return domain.Allocation{}, errors.New("override reason is required")
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Allocation{}, err
	}
	defer tx.Rollback()

	ep, err := e.Repo.GetEpochTx(ctx, tx, epochID)
	if err != nil {
		return domain.Allocation{}, err
	}
	if err := e.requireRoleTx(ctx, tx, ep.ScopeID, actorID, domain.RoleApprover); err != nil {
		return domain.Allocation{}, err
	}
	if err := e.Repo.SetFinalUnitsTx(ctx, tx, epochID, userID, finalUnits, reason, now); err != nil {
		return domain.Allocation{}, err
	}
	a, err := e.Repo.GetAllocationTx(ctx, tx, epochID, userID)
	if err != nil {
		return domain.Allocation{}, err
	}
	if err := e.Events.Append(ctx, tx, "allocation.overridden", ep.ScopeID, "allocation", userID, actorID, events.EventPayload{
		"epoch_id":    epochID,
		"final_units": finalUnits,
		"reason":      reason,
	}); err != nil {
		return domain.Allocation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Allocation{}, err
	}
	return a, nil
}

// AddPoolComponent records one named contribution to an epoch's pool.
// Re-recording a component id replaces its amount while the epoch is open.
func (e Engine) AddPoolComponent(ctx context.Context, epochID int64, componentID, amountCredits, actorID string) (domain.PoolComponent, error) {
	if componentID == "" {
		return domain.PoolComponent{}, errors.New("component id is required")
	}
	if _, err := parseCredits(amountCredits); err != nil {
		return domain.PoolComponent{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PoolComponent{}, err
	}
	defer tx.Rollback()

	ep, err := e.Repo.GetEpochTx(ctx, tx, epochID)
	if err != nil {
		return domain.PoolComponent{}, err
	}
	if ep.Status != domain.EpochOpen {
		return domain.PoolComponent{}, &domain.EpochNotOpenError{EpochID: ep.ID}
	}
	if err := e.requireRoleTx(ctx, tx, ep.ScopeID, actorID, domain.RoleApprover); err != nil {
		return domain.PoolComponent{}, err
	}
	c := domain.PoolComponent{
		EpochID:       ep.ID,
		ComponentID:   componentID,
		AmountCredits: amountCredits,
		ComputedAt:    now,
	}
	if err := e.Repo.InsertPoolComponentTx(ctx, tx, store.InsertPoolComponentParams{
		EpochID:       c.EpochID,
		ComponentID:   c.ComponentID,
		AmountCredits: c.AmountCredits,
		ComputedAt:    c.ComputedAt,
	}); err != nil {
		return domain.PoolComponent{}, err
	}
	if err := e.Events.Append(ctx, tx, "pool.component.recorded", ep.ScopeID, "epoch", fmt.Sprint(ep.ID), actorID, events.EventPayload{
		"component_id":   c.ComponentID,
		"amount_credits": c.AmountCredits,
	}); err != nil {
		return domain.PoolComponent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PoolComponent{}, err
	}
	return c, nil
}

// CloseEpoch finalizes a round: it totals the pool, computes the payout table
// from effective allocations and issues the epoch's first statement, all in
// one transaction so a concurrent close observes the closed status.
func (e Engine) CloseEpoch(ctx context.Context, epochID int64, actorID string) (domain.PayoutStatement, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PayoutStatement{}, err
	}
	defer tx.Rollback()

	ep, err := e.Repo.GetEpochTx(ctx, tx, epochID)
	if err != nil {
		return domain.PayoutStatement{}, err
	}
	if ep.Status == domain.EpochClosed {
		return domain.PayoutStatement{}, &domain.EpochAlreadyClosedError{EpochID: ep.ID}
	}
	if err := e.requireRoleTx(ctx, tx, ep.ScopeID, actorID, domain.RoleApprover); err != nil {
		return domain.PayoutStatement{}, err
	}

	poolTotal, err := e.poolTotalTx(ctx, tx, ep.ID)
	if err != nil {
		return domain.PayoutStatement{}, err
	}
	st, err := e.issueStatementTx(ctx, tx, ep, poolTotal, nil, actorID)
	if err != nil {
		return domain.PayoutStatement{}, err
	}

	closedAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.MarkEpochClosedTx(ctx, tx, ep.ID, poolTotal.String(), closedAt); err != nil {
		return domain.PayoutStatement{}, err
	}
	if err := e.Events.Append(ctx, tx, "epoch.closed", ep.ScopeID, "epoch", fmt.Sprint(ep.ID), actorID, events.EventPayload{
		"pool_total_credits":  poolTotal.String(),
		"statement_id":        st.ID,
		"allocation_set_hash": st.AllocationSetHash,
	}); err != nil {
		return domain.PayoutStatement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PayoutStatement{}, err
	}
	return st, nil
}

// SupersedeStatement appends a corrected statement for a closed epoch,
// recomputed from the current allocations and pool components. The prior
// head of the chain stays in place untouched.
func (e Engine) SupersedeStatement(ctx context.Context, epochID int64, reason, actorID string) (domain.PayoutStatement, error) {
	if reason == "" {
		return domain.PayoutStatement{}, errors.New("supersede reason is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PayoutStatement{}, err
	}
	defer tx.Rollback()

	ep, err := e.Repo.GetEpochTx(ctx, tx, epochID)
	if err != nil {
		return domain.PayoutStatement{}, err
	}
	if ep.Status != domain.EpochClosed {
		return domain.PayoutStatement{}, &domain.EpochNotOpenError{EpochID: ep.ID}
	}
	if err := e.requireRoleTx(ctx, tx, ep.ScopeID, actorID, domain.RoleApprover); err != nil {
		return domain.PayoutStatement{}, err
	}
	prev, err := e.Repo.LatestStatementForEpochTx(ctx, tx, ep.ID)
	if err != nil {
		return domain.PayoutStatement{}, err
	}

	poolTotal, err := e.poolTotalTx(ctx, tx, ep.ID)
	if err != nil {
		return domain.PayoutStatement{}, err
	}
	st, err := e.issueStatementTx(ctx, tx, ep, poolTotal, &prev.ID, actorID)
	if err != nil {
		return domain.PayoutStatement{}, err
	}
	if err := e.Events.Append(ctx, tx, "statement.superseded", ep.ScopeID, "statement", prev.ID, actorID, events.EventPayload{
		"superseded_by": st.ID,
		"reason":        reason,
	}); err != nil {
		return domain.PayoutStatement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PayoutStatement{}, err
	}
	return st, nil
}

// poolTotalTx sums the epoch's recorded components after checking that every
// component the scope's config requires is present.
func (e Engine) poolTotalTx(ctx context.Context, tx *sql.Tx, epochID int64) (*big.Int, error) {
	components, err := e.Repo.ListPoolComponentsTx(ctx, tx, epochID)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(components))
	for _, c := range components {
		present[c.ComponentID] = true
	}
	if e.Config != nil {
		for _, required := range e.Config.Pool.RequiredComponents {
			if !present[required] {
				return nil, &domain.PoolComponentMissingError{EpochID: epochID, ComponentID: required}
			}
		}
	}
	total := new(big.Int)
	for _, c := range components {
		amount, err := parseCredits(c.AmountCredits)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", c.ComponentID, err)
		}
		total.Add(total, amount)
	}
	return total, nil
}

// issueStatementTx computes the payout table from effective allocation units
// and appends a statement row. Final units win over proposed ones; users with
// zero effective units are omitted from the split.
func (e Engine) issueStatementTx(ctx context.Context, tx *sql.Tx, ep domain.Epoch, poolTotal *big.Int, supersedes *string, actorID string) (domain.PayoutStatement, error) {
	allocations, err := e.Repo.ListAllocationsForEpochTx(ctx, tx, ep.ID)
	if err != nil {
		return domain.PayoutStatement{}, err
	}
	var receipts []payout.Receipt
	for _, a := range allocations {
		unitsStr := a.ProposedUnits
		if a.FinalUnits != nil {
			unitsStr = *a.FinalUnits
		}
		units, err := parseCredits(unitsStr)
		if err != nil {
			return domain.PayoutStatement{}, fmt.Errorf("allocation %s: %w", a.UserID, err)
		}
		if units.Sign() == 0 {
			continue
		}
		receipts = append(receipts, payout.Receipt{UserID: a.UserID, Units: units})
	}

	lines := payout.ComputePayouts(receipts, poolTotal)
	items := make([]domain.PayoutLineItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, domain.PayoutLineItem{
			UserID:        l.UserID,
			TotalUnits:    l.TotalUnits.String(),
			Share:         l.Share,
			AmountCredits: l.AmountCredits.String(),
		})
	}

	st := domain.PayoutStatement{
		ID:                    uuid.NewString(),
		EpochID:               ep.ID,
		AllocationSetHash:     payout.AllocationSetHash(receipts),
		PoolTotalCredits:      poolTotal.String(),
		Payouts:               items,
		SupersedesStatementID: supersedes,
		CreatedAt:             e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertPayoutStatementTx(ctx, tx, store.InsertPayoutStatementParams{
		ID:                    st.ID,
		EpochID:               st.EpochID,
		AllocationSetHash:     st.AllocationSetHash,
		PoolTotalCredits:      st.PoolTotalCredits,
		Payouts:               st.Payouts,
		SupersedesStatementID: st.SupersedesStatementID,
		CreatedAt:             st.CreatedAt,
	}); err != nil {
		return domain.PayoutStatement{}, err
	}
	if err := e.Events.Append(ctx, tx, "statement.issued", ep.ScopeID, "statement", st.ID, actorID, events.EventPayload{
		"epoch_id":            st.EpochID,
		"pool_total_credits":  st.PoolTotalCredits,
		"allocation_set_hash": st.AllocationSetHash,
	}); err != nil {
		return domain.PayoutStatement{}, err
	}
	return st, nil
}

type StatementVerification struct {
	StatementID    string `json:"statement_id"`
	HashMatches    bool   `json:"hash_matches"`
	Conserved      bool   `json:"conserved"`
	RecomputedHash string `json:"recomputed_hash"`
	StoredHash     string `json:"stored_hash"`
	PayoutSum      string `json:"payout_sum"`
	PoolTotal      string `json:"pool_total_credits"`
}

// VerifyStatement recomputes a stored statement's allocation set hash and
// checks that its payouts sum back to the recorded pool total.
func (e Engine) VerifyStatement(ctx context.Context, statementID string) (StatementVerification, error) {
	st, err := e.Repo.GetStatement(ctx, statementID)
	if err != nil {
		return StatementVerification{}, err
	}
	var receipts []payout.Receipt
	sum := new(big.Int)
	for _, p := range st.Payouts {
		units, ok := new(big.Int).SetString(p.TotalUnits, 10)
		if !ok {
			return StatementVerification{}, fmt.Errorf("statement %s: bad total_units %q for %s", st.ID, p.TotalUnits, p.UserID)
		}
		amount, ok := new(big.Int).SetString(p.AmountCredits, 10)
		if !ok {
			return StatementVerification{}, fmt.Errorf("statement %s: bad amount_credits %q for %s", st.ID, p.AmountCredits, p.UserID)
		}
		sum.Add(sum, amount)
		receipts = append(receipts, payout.Receipt{UserID: p.UserID, Units: units})
	}
	hash := payout.AllocationSetHash(receipts)
	return StatementVerification{
		StatementID:    st.ID,
		HashMatches:    hash == st.AllocationSetHash,
		Conserved:      sum.String() == st.PoolTotalCredits,
		RecomputedHash: hash,
		StoredHash:     st.AllocationSetHash,
		PayoutSum:      sum.String(),
		PoolTotal:      st.PoolTotalCredits,
	}, nil
}

// GrantRole authorizes an address for a role within a scope.
func (e Engine) GrantRole(ctx context.Context, scopeID, address, role, actorID string) (domain.IssuerRole, error) {
	if !validRole(role) {
		return domain.IssuerRole{}, fmt.Errorf("unknown role %q", role)
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.IssuerRole{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetScope(ctx, scopeID); err != nil {
		return domain.IssuerRole{}, err
	}
	if err := e.requireRoleTx(ctx, tx, scopeID, actorID, domain.RoleApprover); err != nil {
		return domain.IssuerRole{}, err
	}
	if err := e.Repo.GrantRoleTx(ctx, tx, scopeID, address, role, now); err != nil {
		return domain.IssuerRole{}, err
	}
	if err := e.Events.Append(ctx, tx, "role.granted", scopeID, "issuer", address, actorID, events.EventPayload{"role": role}); err != nil {
		return domain.IssuerRole{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.IssuerRole{}, err
	}
	return domain.IssuerRole{ScopeID: scopeID, Address: address, Role: role, CreatedAt: now}, nil
}

// RevokeRole removes a role grant.
func (e Engine) RevokeRole(ctx context.Context, scopeID, address, role, actorID string) error {
	if !validRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.requireRoleTx(ctx, tx, scopeID, actorID, domain.RoleApprover); err != nil {
		return err
	}
	if err := e.Repo.RevokeRoleTx(ctx, tx, scopeID, address, role); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "role.revoked", scopeID, "issuer", address, actorID, events.EventPayload{"role": role}); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
