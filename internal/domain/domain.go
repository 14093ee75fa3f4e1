package domain

// Issuer roles recognised by the ledger.
const (
	RoleAuthor   = "author"
	RoleReviewer = "reviewer"
	RoleApprover = "approver"
)

// Epoch statuses.
const (
	EpochOpen   = "open"
	EpochClosed = "closed"
)

// Scope is one contribution program owning epochs and receipts.
type Scope struct {
	ID          string `json:"id"`
	Status      string `json:"status" enum:"active,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Epoch is a bounded payout round. All credit quantities are decimal strings
// so arbitrary-precision values survive JSON transports unchanged.
type Epoch struct {
	ID               int64   `json:"id"`
	ScopeID          string  `json:"scope_id"`
	Status           string  `json:"status" enum:"open,closed"`
	PeriodStart      string  `json:"period_start" format:"date-time"`
	PeriodEnd        string  `json:"period_end" format:"date-time"`
	WeightConfigJSON *string `json:"weight_config_json,omitempty"`
	PoolTotalCredits *string `json:"pool_total_credits,omitempty"`
	OpenedAt         string  `json:"opened_at" format:"date-time"`
	ClosedAt         *string `json:"closed_at,omitempty" format:"date-time"`
}

// ActivityEvent is an append-only record of attributable work.
type ActivityEvent struct {
	ID           string `json:"id"`
	ScopeID      string `json:"scope_id"`
	EpochID      int64  `json:"epoch_id"`
	UserID       string `json:"user_id"`
	WorkItemID   string `json:"work_item_id"`
	Role         string `json:"role" enum:"author,reviewer,approver"`
	Units        string `json:"units"`
	ArtifactRef  string `json:"artifact_ref,omitempty"`
	RationaleRef string `json:"rationale_ref,omitempty"`
	OccurredAt   string `json:"occurred_at" format:"date-time"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Curation is a per-event inclusion decision with an optional fixed-point
// weight override in milli-units. A nil override means default weighting.
type Curation struct {
	EpochID             int64  `json:"epoch_id"`
	ActivityEventID     string `json:"activity_event_id"`
	CuratorID           string `json:"curator_id"`
	Included            bool   `json:"included"`
	WeightOverrideMilli *int64 `json:"weight_override_milli,omitempty"`
	Note                string `json:"note,omitempty"`
	UpdatedAt           string `json:"updated_at" format:"date-time"`
}

// Allocation is the per-(epoch, user) unit aggregate the payout engine
// consumes. FinalUnits, when set by an approver, takes precedence over
// ProposedUnits at close.
type Allocation struct {
	EpochID        int64   `json:"epoch_id"`
	UserID         string  `json:"user_id"`
	ProposedUnits  string  `json:"proposed_units"`
	FinalUnits     *string `json:"final_units,omitempty"`
	OverrideReason *string `json:"override_reason,omitempty"`
	ActivityCount  int     `json:"activity_count"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

// PayoutLineItem is one user's computed share of a closed epoch's pool.
type PayoutLineItem struct {
	UserID        string `json:"user_id"`
	TotalUnits    string `json:"total_units"`
	Share         string `json:"share"`
	AmountCredits string `json:"amount_credits"`
}

// PoolComponent is a named contribution to an epoch's pool total.
type PoolComponent struct {
	EpochID       int64  `json:"epoch_id"`
	ComponentID   string `json:"component_id"`
	AmountCredits string `json:"amount_credits"`
	ComputedAt    string `json:"computed_at" format:"date-time"`
}

// PayoutStatement is the immutable record of one payout computation.
// Statements form a singly linked supersession chain per epoch; a correction
// appends a new statement and never mutates a prior one.
type PayoutStatement struct {
	ID                    string           `json:"id"`
	EpochID               int64            `json:"epoch_id"`
	AllocationSetHash     string           `json:"allocation_set_hash"`
	PoolTotalCredits      string           `json:"pool_total_credits"`
	Payouts               []PayoutLineItem `json:"payouts"`
	SupersedesStatementID *string          `json:"supersedes_statement_id,omitempty"`
	CreatedAt             string           `json:"created_at" format:"date-time"`
}

// ReceiptSignature stores an externally produced signature over a receipt's
// canonical message. The ledger records it; verification happens elsewhere.
type ReceiptSignature struct {
	ID              string `json:"id"`
	ActivityEventID string `json:"activity_event_id"`
	SignerAddress   string `json:"signer_address"`
	MessageHash     string `json:"message_hash"`
	Signature       string `json:"signature"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// IssuerRole grants an address a role within a scope.
type IssuerRole struct {
	ScopeID   string `json:"scope_id"`
	Address   string `json:"address"`
	Role      string `json:"role" enum:"author,reviewer,approver"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one row of the append-only ledger audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ScopeID    string `json:"scope_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates an issuer address on the HTTP API.
type APIKey struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
