// Package store defines the narrow persistence port the orchestrator talks
// through. The ledger core never performs I/O itself; everything durable goes
// via this interface.
package store

import (
	"context"

	"cogniledger/internal/domain"
)

type InsertActivityEventParams struct {
	ID           string
	ScopeID      string
	EpochID      int64
	UserID       string
	WorkItemID   string
	Role         string
	Units        string
	ArtifactRef  string
	RationaleRef string
	OccurredAt   string
	CreatedAt    string
}

type InsertAllocationParams struct {
	EpochID       int64
	UserID        string
	ProposedUnits string
	ActivityCount int
	CreatedAt     string
	UpdatedAt     string
}

type InsertPoolComponentParams struct {
	EpochID       int64
	ComponentID   string
	AmountCredits string
	ComputedAt    string
}

type InsertPayoutStatementParams struct {
	ID                    string
	EpochID               int64
	AllocationSetHash     string
	PoolTotalCredits      string
	Payouts               []domain.PayoutLineItem
	SupersedesStatementID *string
	CreatedAt             string
}

type InsertSignatureParams struct {
	ID              string
	ActivityEventID string
	SignerAddress   string
	MessageHash     string
	Signature       string
	CreatedAt       string
}

type UpsertCurationParams struct {
	EpochID             int64
	ActivityEventID     string
	CuratorID           string
	Included            bool
	WeightOverrideMilli *int64
	Note                string
	UpdatedAt           string
}

// Store is the ledger's only I/O boundary. Implementations must return
// repo.ErrNotFound-compatible errors for missing rows so callers can match
// with errors.Is.
type Store interface {
	GetScope(ctx context.Context, id string) (domain.Scope, error)
	GetEpoch(ctx context.Context, epochID int64) (domain.Epoch, error)
	ListEpochs(ctx context.Context, scopeID string) ([]domain.Epoch, error)
	GetActivityForWindow(ctx context.Context, scopeID, from, to string) ([]domain.ActivityEvent, error)
	GetCurationForEpoch(ctx context.Context, epochID int64) ([]domain.Curation, error)
	ListAllocationsForEpoch(ctx context.Context, epochID int64) ([]domain.Allocation, error)
	ListPoolComponents(ctx context.Context, epochID int64) ([]domain.PoolComponent, error)
	GetStatement(ctx context.Context, id string) (domain.PayoutStatement, error)
	ListStatementsForEpoch(ctx context.Context, epochID int64) ([]domain.PayoutStatement, error)
	LatestStatementForEpoch(ctx context.Context, epochID int64) (domain.PayoutStatement, error)

	InsertActivityEvent(ctx context.Context, p InsertActivityEventParams) error
	InsertAllocation(ctx context.Context, p InsertAllocationParams) error
	InsertPoolComponent(ctx context.Context, p InsertPoolComponentParams) error
	InsertPayoutStatement(ctx context.Context, p InsertPayoutStatementParams) error
	InsertSignature(ctx context.Context, p InsertSignatureParams) error
	UpsertCuration(ctx context.Context, p UpsertCurationParams) error
}
