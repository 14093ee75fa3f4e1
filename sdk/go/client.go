package cognisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Cogniledger HTTP API client.
type Client struct {
	BaseURL     string
	ScopeID     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, scopeID string) *Client {
	return &Client{
		BaseURL: baseURL,
		ScopeID: scopeID,
		Timeout: 10 * time.Second,
	}
}

// Epoch represents a payout round.
type Epoch struct {
	ID               int64   `json:"id"`
	ScopeID          string  `json:"scope_id"`
	Status           string  `json:"status"`
	PeriodStart      string  `json:"period_start"`
	PeriodEnd        string  `json:"period_end"`
	PoolTotalCredits *string `json:"pool_total_credits,omitempty"`
	OpenedAt         string  `json:"opened_at"`
	ClosedAt         *string `json:"closed_at,omitempty"`
}

// Receipt represents an attributed activity event.
type Receipt struct {
	ID           string `json:"id"`
	ScopeID      string `json:"scope_id"`
	EpochID      int64  `json:"epoch_id"`
	UserID       string `json:"user_id"`
	WorkItemID   string `json:"work_item_id"`
	Role         string `json:"role"`
	Units        string `json:"units"`
	ArtifactRef  string `json:"artifact_ref,omitempty"`
	RationaleRef string `json:"rationale_ref,omitempty"`
	OccurredAt   string `json:"occurred_at"`
	CreatedAt    string `json:"created_at"`
}

// ReceiptMessage holds the canonical signing text for a receipt.
type ReceiptMessage struct {
	ActivityEventID string `json:"activity_event_id"`
	Message         string `json:"message"`
	MessageHash     string `json:"message_hash"`
}

// Signature is a recorded receipt signature.
type Signature struct {
	ID              string `json:"id"`
	ActivityEventID string `json:"activity_event_id"`
	SignerAddress   string `json:"signer_address"`
	MessageHash     string `json:"message_hash"`
	Signature       string `json:"signature"`
	CreatedAt       string `json:"created_at"`
}

// Allocation is the per-user unit total inside an epoch.
type Allocation struct {
	EpochID       int64   `json:"epoch_id"`
	UserID        string  `json:"user_id"`
	ProposedUnits string  `json:"proposed_units"`
	FinalUnits    *string `json:"final_units,omitempty"`
	ActivityCount int     `json:"activity_count"`
}

// PoolComponent is a named slice of the epoch's credit pool.
type PoolComponent struct {
	EpochID       int64  `json:"epoch_id"`
	ComponentID   string `json:"component_id"`
	AmountCredits string `json:"amount_credits"`
	ComputedAt    string `json:"computed_at"`
}

// PayoutLineItem is one row of a payout statement.
type PayoutLineItem struct {
	UserID        string `json:"user_id"`
	TotalUnits    string `json:"total_units"`
	Share         string `json:"share"`
	AmountCredits string `json:"amount_credits"`
}

// Statement is an issued payout statement.
type Statement struct {
	ID                    string           `json:"id"`
	EpochID               int64            `json:"epoch_id"`
	AllocationSetHash     string           `json:"allocation_set_hash"`
	PoolTotalCredits      string           `json:"pool_total_credits"`
	Payouts               []PayoutLineItem `json:"payouts"`
	SupersedesStatementID *string          `json:"supersedes_statement_id,omitempty"`
	CreatedAt             string           `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ScopeID    string `json:"scope_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// OpenEpoch opens a new payout epoch in the client's scope.
func (c *Client) OpenEpoch(ctx context.Context, periodStart, periodEnd string) (Epoch, error) {
	body := map[string]any{
		"period_start": periodStart,
		"period_end":   periodEnd,
	}
	var resp Epoch
	err := c.do(ctx, http.MethodPost, c.scopePath("epochs"), body, &resp)
	return resp, err
}

// ListEpochs returns the scope's epochs, newest first.
func (c *Client) ListEpochs(ctx context.Context) ([]Epoch, error) {
	var resp struct {
		Items []Epoch `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.scopePath("epochs"), nil, &resp)
	return resp.Items, err
}

// GetEpoch fetches an epoch by id.
func (c *Client) GetEpoch(ctx context.Context, epochID int64) (Epoch, error) {
	var resp Epoch
	err := c.do(ctx, http.MethodGet, epochPath(epochID, ""), nil, &resp)
	return resp, err
}

// CloseEpoch closes an epoch and returns the issued statement.
func (c *Client) CloseEpoch(ctx context.Context, epochID int64) (Statement, error) {
	var resp Statement
	err := c.do(ctx, http.MethodPost, epochPath(epochID, "close"), nil, &resp)
	return resp, err
}

// SubmitReceiptOptions carries the optional receipt fields.
type SubmitReceiptOptions struct {
	ArtifactRef  string
	RationaleRef string
	OccurredAt   string
}

// SubmitReceipt records an activity receipt against an open epoch.
func (c *Client) SubmitReceipt(ctx context.Context, epochID int64, userID, workItemID, role, units string, opts *SubmitReceiptOptions) (Receipt, error) {
	body := map[string]any{
		"user_id":      userID,
		"work_item_id": workItemID,
		"role":         role,
		"units":        units,
	}
	if opts != nil {
		if opts.ArtifactRef != "" {
			body["artifact_ref"] = opts.ArtifactRef
		}
		if opts.RationaleRef != "" {
			body["rationale_ref"] = opts.RationaleRef
		}
		if opts.OccurredAt != "" {
			body["occurred_at"] = opts.OccurredAt
		}
	}
	var resp Receipt
	err := c.do(ctx, http.MethodPost, epochPath(epochID, "receipts"), body, &resp)
	return resp, err
}

// ListReceipts returns an epoch's receipts.
func (c *Client) ListReceipts(ctx context.Context, epochID int64) ([]Receipt, error) {
	var resp struct {
		Items []Receipt `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, epochPath(epochID, "receipts"), nil, &resp)
	return resp.Items, err
}

// GetReceiptMessage returns the canonical signing message for a receipt.
func (c *Client) GetReceiptMessage(ctx context.Context, receiptID string) (ReceiptMessage, error) {
	var resp ReceiptMessage
	endpoint := fmt.Sprintf("v0/receipts/%s/message", url.PathEscape(receiptID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RecordSignature attaches an externally produced signature to a receipt.
func (c *Client) RecordSignature(ctx context.Context, receiptID, signerAddress, signature string) (Signature, error) {
	body := map[string]any{
		"signer_address": signerAddress,
		"signature":      signature,
	}
	var resp Signature
	endpoint := fmt.Sprintf("v0/receipts/%s/signatures", url.PathEscape(receiptID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SetCuration records an include/exclude or weight decision for a receipt.
func (c *Client) SetCuration(ctx context.Context, epochID int64, receiptID string, included bool, weightOverrideMilli *int64, note string) error {
	body := map[string]any{
		"activity_event_id": receiptID,
		"included":          included,
	}
	if weightOverrideMilli != nil {
		body["weight_override_milli"] = *weightOverrideMilli
	}
	if note != "" {
		body["note"] = note
	}
	return c.do(ctx, http.MethodPut, epochPath(epochID, "curations"), body, nil)
}

// ListAllocations returns the per-user totals for an epoch.
func (c *Client) ListAllocations(ctx context.Context, epochID int64) ([]Allocation, error) {
	var resp struct {
		Items []Allocation `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, epochPath(epochID, "allocations"), nil, &resp)
	return resp.Items, err
}

// OverrideAllocation pins a user's final units for an epoch.
func (c *Client) OverrideAllocation(ctx context.Context, epochID int64, userID, finalUnits, reason string) (Allocation, error) {
	body := map[string]any{
		"final_units": finalUnits,
		"reason":      reason,
	}
	var resp Allocation
	endpoint := epochPath(epochID, "allocations/"+url.PathEscape(userID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// AddPoolComponent records one pool component for an epoch.
func (c *Client) AddPoolComponent(ctx context.Context, epochID int64, componentID, amountCredits string) (PoolComponent, error) {
	body := map[string]any{
		"component_id":   componentID,
		"amount_credits": amountCredits,
	}
	var resp PoolComponent
	err := c.do(ctx, http.MethodPost, epochPath(epochID, "pool"), body, &resp)
	return resp, err
}

// LatestStatement returns the head of an epoch's supersession chain.
func (c *Client) LatestStatement(ctx context.Context, epochID int64) (Statement, error) {
	var resp Statement
	err := c.do(ctx, http.MethodGet, epochPath(epochID, "statements/latest"), nil, &resp)
	return resp, err
}

// GetStatement fetches a statement by id.
func (c *Client) GetStatement(ctx context.Context, statementID string) (Statement, error) {
	var resp Statement
	endpoint := fmt.Sprintf("v0/statements/%s", url.PathEscape(statementID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SupersedeStatement issues a corrected statement for a closed epoch.
func (c *Client) SupersedeStatement(ctx context.Context, epochID int64, reason string) (Statement, error) {
	body := map[string]any{"reason": reason}
	var resp Statement
	err := c.do(ctx, http.MethodPost, epochPath(epochID, "statements/supersede"), body, &resp)
	return resp, err
}

// GrantRole grants an issuer role in the client's scope.
func (c *Client) GrantRole(ctx context.Context, address, role string) error {
	body := map[string]any{
		"address": address,
		"role":    role,
	}
	return c.do(ctx, http.MethodPost, c.scopePath("roles"), body, nil)
}

// Events returns recent events for the scope.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.scopePath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) scopePath(p string) string {
	scope := url.PathEscape(c.ScopeID)
	return fmt.Sprintf("v0/scopes/%s/%s", scope, strings.TrimLeft(p, "/"))
}

func epochPath(epochID int64, p string) string {
	if p == "" {
		return fmt.Sprintf("v0/epochs/%d", epochID)
	}
	return fmt.Sprintf("v0/epochs/%d/%s", epochID, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
