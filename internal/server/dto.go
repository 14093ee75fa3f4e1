package server

import (
	"cogniledger/internal/config"
	"cogniledger/internal/domain"
)

// Request payloads

type CreateScopeRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type OpenEpochRequest struct {
	PeriodStart string `json:"period_start" format:"date-time"`
	PeriodEnd   string `json:"period_end" format:"date-time"`
}

type SubmitReceiptRequest struct {
	UserID       string  `json:"user_id"`
	WorkItemID   string  `json:"work_item_id"`
	Role         string  `json:"role" enum:"author,reviewer,approver"`
	Units        string  `json:"units"`
	ArtifactRef  *string `json:"artifact_ref,omitempty"`
	RationaleRef *string `json:"rationale_ref,omitempty"`
	OccurredAt   *string `json:"occurred_at,omitempty" format:"date-time"`
}

type RecordSignatureRequest struct {
	SignerAddress string `json:"signer_address"`
	Signature     string `json:"signature"`
}

type SetCurationRequest struct {
	ActivityEventID     string  `json:"activity_event_id"`
	Included            bool    `json:"included"`
	WeightOverrideMilli *int64  `json:"weight_override_milli,omitempty"`
	Note                *string `json:"note,omitempty"`
}

type OverrideAllocationRequest struct {
	FinalUnits string `json:"final_units"`
	Reason     string `json:"reason"`
}

type AddPoolComponentRequest struct {
	ComponentID   string `json:"component_id"`
	AmountCredits string `json:"amount_credits"`
}

type SupersedeStatementRequest struct {
	Reason string `json:"reason"`
}

type GrantRoleRequest struct {
	Address string `json:"address"`
	Role    string `json:"role" enum:"author,reviewer,approver"`
}

// Response payloads

type ScopeResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type EpochResponse struct {
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

type ReceiptResponse struct {
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

type ReceiptMessageResponse struct {
	ActivityEventID string `json:"activity_event_id"`
	Message         string `json:"message"`
	MessageHash     string `json:"message_hash"`
}

type SignatureResponse struct {
	ID              string `json:"id"`
	ActivityEventID string `json:"activity_event_id"`
	SignerAddress   string `json:"signer_address"`
	MessageHash     string `json:"message_hash"`
	Signature       string `json:"signature"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type CurationResponse struct {
	EpochID             int64  `json:"epoch_id"`
	ActivityEventID     string `json:"activity_event_id"`
	CuratorID           string `json:"curator_id"`
	Included            bool   `json:"included"`
	WeightOverrideMilli *int64 `json:"weight_override_milli,omitempty"`
	Note                string `json:"note,omitempty"`
	UpdatedAt           string `json:"updated_at" format:"date-time"`
}

type AllocationResponse struct {
	EpochID        int64   `json:"epoch_id"`
	UserID         string  `json:"user_id"`
	ProposedUnits  string  `json:"proposed_units"`
	FinalUnits     *string `json:"final_units,omitempty"`
	OverrideReason *string `json:"override_reason,omitempty"`
	ActivityCount  int     `json:"activity_count"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type PoolComponentResponse struct {
	EpochID       int64  `json:"epoch_id"`
	ComponentID   string `json:"component_id"`
	AmountCredits string `json:"amount_credits"`
	ComputedAt    string `json:"computed_at" format:"date-time"`
}

type PayoutLineItemResponse struct {
	UserID        string `json:"user_id"`
	TotalUnits    string `json:"total_units"`
	Share         string `json:"share"`
	AmountCredits string `json:"amount_credits"`
}

type StatementResponse struct {
	ID                    string                   `json:"id"`
	EpochID               int64                    `json:"epoch_id"`
	AllocationSetHash     string                   `json:"allocation_set_hash"`
	PoolTotalCredits      string                   `json:"pool_total_credits"`
	Payouts               []PayoutLineItemResponse `json:"payouts"`
	SupersedesStatementID *string                  `json:"supersedes_statement_id,omitempty"`
	CreatedAt             string                   `json:"created_at" format:"date-time"`
}

type IssuerRoleResponse struct {
	ScopeID   string `json:"scope_id"`
	Address   string `json:"address"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ScopeID    string `json:"scope_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type ScopeConfigResponse struct {
	Config *config.Config `json:"config"`
}

// Mappers

func scopeResponse(s domain.Scope) ScopeResponse {
	return ScopeResponse{ID: s.ID, Status: s.Status, Description: s.Description, CreatedAt: s.CreatedAt}
}

func mapScopes(items []domain.Scope) []ScopeResponse {
	res := make([]ScopeResponse, 0, len(items))
	for _, s := range items {
		res = append(res, scopeResponse(s))
	}
	return res
}

func epochResponse(e domain.Epoch) EpochResponse {
	return EpochResponse{
		ID:               e.ID,
		ScopeID:          e.ScopeID,
		Status:           e.Status,
		PeriodStart:      e.PeriodStart,
		PeriodEnd:        e.PeriodEnd,
		WeightConfigJSON: e.WeightConfigJSON,
		PoolTotalCredits: e.PoolTotalCredits,
		OpenedAt:         e.OpenedAt,
		ClosedAt:         e.ClosedAt,
	}
}

func mapEpochs(items []domain.Epoch) []EpochResponse {
	res := make([]EpochResponse, 0, len(items))
	for _, e := range items {
		res = append(res, epochResponse(e))
	}
	return res
}

func receiptResponse(a domain.ActivityEvent) ReceiptResponse {
	return ReceiptResponse{
		ID:           a.ID,
		ScopeID:      a.ScopeID,
		EpochID:      a.EpochID,
		UserID:       a.UserID,
		WorkItemID:   a.WorkItemID,
		Role:         a.Role,
		Units:        a.Units,
		ArtifactRef:  a.ArtifactRef,
		RationaleRef: a.RationaleRef,
		OccurredAt:   a.OccurredAt,
		CreatedAt:    a.CreatedAt,
	}
}

func mapReceipts(items []domain.ActivityEvent) []ReceiptResponse {
	res := make([]ReceiptResponse, 0, len(items))
	for _, a := range items {
		res = append(res, receiptResponse(a))
	}
	return res
}

func signatureResponse(s domain.ReceiptSignature) SignatureResponse {
	return SignatureResponse{
		ID:              s.ID,
		ActivityEventID: s.ActivityEventID,
		SignerAddress:   s.SignerAddress,
		MessageHash:     s.MessageHash,
		Signature:       s.Signature,
		CreatedAt:       s.CreatedAt,
	}
}

func curationResponse(c domain.Curation) CurationResponse {
	return CurationResponse{
		EpochID:             c.EpochID,
		ActivityEventID:     c.ActivityEventID,
		CuratorID:           c.CuratorID,
		Included:            c.Included,
		WeightOverrideMilli: c.WeightOverrideMilli,
		Note:                c.Note,
		UpdatedAt:           c.UpdatedAt,
	}
}

func mapCurations(items []domain.Curation) []CurationResponse {
	res := make([]CurationResponse, 0, len(items))
	for _, c := range items {
		res = append(res, curationResponse(c))
	}
	return res
}

func allocationResponse(a domain.Allocation) AllocationResponse {
	return AllocationResponse{
		EpochID:        a.EpochID,
		UserID:         a.UserID,
		ProposedUnits:  a.ProposedUnits,
		FinalUnits:     a.FinalUnits,
		OverrideReason: a.OverrideReason,
		ActivityCount:  a.ActivityCount,
		UpdatedAt:      a.UpdatedAt,
	}
}

func mapAllocations(items []domain.Allocation) []AllocationResponse {
	res := make([]AllocationResponse, 0, len(items))
	for _, a := range items {
		res = append(res, allocationResponse(a))
	}
	return res
}

func poolComponentResponse(c domain.PoolComponent) PoolComponentResponse {
	return PoolComponentResponse{
		EpochID:       c.EpochID,
		ComponentID:   c.ComponentID,
		AmountCredits: c.AmountCredits,
		ComputedAt:    c.ComputedAt,
	}
}

func mapPoolComponents(items []domain.PoolComponent) []PoolComponentResponse {
	res := make([]PoolComponentResponse, 0, len(items))
	for _, c := range items {
		res = append(res, poolComponentResponse(c))
	}
	return res
}

func statementResponse(s domain.PayoutStatement) StatementResponse {
	payouts := make([]PayoutLineItemResponse, 0, len(s.Payouts))
	for _, p := range s.Payouts {
		payouts = append(payouts, PayoutLineItemResponse{
			UserID:        p.UserID,
			TotalUnits:    p.TotalUnits,
			Share:         p.Share,
			AmountCredits: p.AmountCredits,
		})
	}
	return StatementResponse{
		ID:                    s.ID,
		EpochID:               s.EpochID,
		AllocationSetHash:     s.AllocationSetHash,
		PoolTotalCredits:      s.PoolTotalCredits,
		Payouts:               payouts,
		SupersedesStatementID: s.SupersedesStatementID,
		CreatedAt:             s.CreatedAt,
	}
}

func mapStatements(items []domain.PayoutStatement) []StatementResponse {
	res := make([]StatementResponse, 0, len(items))
	for _, s := range items {
		res = append(res, statementResponse(s))
	}
	return res
}

func issuerRoleResponse(r domain.IssuerRole) IssuerRoleResponse {
	return IssuerRoleResponse{ScopeID: r.ScopeID, Address: r.Address, Role: r.Role, CreatedAt: r.CreatedAt}
}

func mapIssuerRoles(items []domain.IssuerRole) []IssuerRoleResponse {
	res := make([]IssuerRoleResponse, 0, len(items))
	for _, r := range items {
		res = append(res, issuerRoleResponse(r))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ScopeID:    e.ScopeID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
