package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cogniledger/internal/config"
	"cogniledger/internal/domain"
	"cogniledger/internal/store"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

var _ store.Store = Repo{}

func (r Repo) InsertScope(ctx context.Context, s domain.Scope) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO scopes(id,status,description,created_at) VALUES (?,?,?,?)`,
		s.ID, s.Status, nullable(s.Description), s.CreatedAt)
	return err
}

func (r Repo) GetScope(ctx context.Context, id string) (domain.Scope, error) {
	var s domain.Scope
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,status,description,created_at FROM scopes WHERE id=?`, id).
		Scan(&s.ID, &s.Status, &desc, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if desc.Valid {
		s.Description = desc.String
	}
	return s, err
}

func (r Repo) SingleScope(ctx context.Context) (domain.Scope, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,status,COALESCE(description,''),created_at FROM scopes`)
	if err != nil {
		return domain.Scope{}, err
	}
	defer rows.Close()
	var scopes []domain.Scope
	for rows.Next() {
		var s domain.Scope
		if err := rows.Scan(&s.ID, &s.Status, &s.Description, &s.CreatedAt); err != nil {
			return domain.Scope{}, err
		}
		scopes = append(scopes, s)
	}
	if len(scopes) == 0 {
		return domain.Scope{}, ErrNotFound
	}
	if len(scopes) > 1 {
		return domain.Scope{}, fmt.Errorf("multiple scopes exist; specify --scope")
	}
	return scopes[0], nil
}

func (r Repo) ListScopes(ctx context.Context) ([]domain.Scope, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,status,COALESCE(description,''),created_at FROM scopes ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Scope
	for rows.Next() {
		var s domain.Scope
		if err := rows.Scan(&s.ID, &s.Status, &s.Description, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

func (r Repo) UpsertScopeConfig(ctx context.Context, scopeID string, cfg *config.Config) error {
	return upsertScopeConfig(ctx, r.DB, nil, scopeID, cfg)
}

func (r Repo) UpsertScopeConfigTx(ctx context.Context, tx *sql.Tx, scopeID string, cfg *config.Config) error {
	return upsertScopeConfig(ctx, nil, tx, scopeID, cfg)
}

func upsertScopeConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, scopeID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Scope.ID = scopeID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO scope_configs(scope_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(scope_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, scopeID, string(payload), now, now)
	return err
}

func (r Repo) GetScopeConfig(ctx context.Context, scopeID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM scope_configs WHERE scope_id=?`, scopeID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Scope.ID == "" {
		cfg.Scope.ID = scopeID
	}
	return &cfg, cfg.Validate()
}

const epochCols = `id,scope_id,status,period_start,period_end,weight_config_json,pool_total_credits,opened_at,closed_at`

func scanEpoch(scan func(dest ...any) error) (domain.Epoch, error) {
	var e domain.Epoch
	var weightCfg, poolTotal, closedAt sql.NullString
	err := scan(&e.ID, &e.ScopeID, &e.Status, &e.PeriodStart, &e.PeriodEnd, &weightCfg, &poolTotal, &e.OpenedAt, &closedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if weightCfg.Valid {
		e.WeightConfigJSON = &weightCfg.String
	}
	if poolTotal.Valid {
		e.PoolTotalCredits = &poolTotal.String
	}
	if closedAt.Valid {
		e.ClosedAt = &closedAt.String
	}
	return e, nil
}

func (r Repo) InsertEpochTx(ctx context.Context, tx *sql.Tx, e domain.Epoch) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO epochs(scope_id,status,period_start,period_end,weight_config_json,opened_at) VALUES (?,?,?,?,?,?)`,
		e.ScopeID, e.Status, e.PeriodStart, e.PeriodEnd, nullableStringPtr(e.WeightConfigJSON), e.OpenedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetEpoch(ctx context.Context, epochID int64) (domain.Epoch, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+epochCols+` FROM epochs WHERE id=?`, epochID)
	return scanEpoch(row.Scan)
}

func (r Repo) GetEpochTx(ctx context.Context, tx *sql.Tx, epochID int64) (domain.Epoch, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+epochCols+` FROM epochs WHERE id=?`, epochID)
	return scanEpoch(row.Scan)
}

func (r Repo) ListEpochs(ctx context.Context, scopeID string) ([]domain.Epoch, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+epochCols+` FROM epochs WHERE scope_id=? ORDER BY id DESC`, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Epoch
	for rows.Next() {
		e, err := scanEpoch(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) OpenEpochForScope(ctx context.Context, scopeID string) (domain.Epoch, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+epochCols+` FROM epochs WHERE scope_id=? AND status='open' ORDER BY id DESC LIMIT 1`, scopeID)
	return scanEpoch(row.Scan)
}

func (r Repo) MarkEpochClosedTx(ctx context.Context, tx *sql.Tx, epochID int64, poolTotalCredits, closedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE epochs SET status='closed', pool_total_credits=?, closed_at=? WHERE id=? AND status='open'`,
		poolTotalCredits, closedAt, epochID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const activityCols = `id,scope_id,epoch_id,user_id,work_item_id,role,units,artifact_ref,rationale_ref,occurred_at,created_at`

func scanActivityEvent(scan func(dest ...any) error) (domain.ActivityEvent, error) {
	var a domain.ActivityEvent
	var artifact, rationale sql.NullString
	err := scan(&a.ID, &a.ScopeID, &a.EpochID, &a.UserID, &a.WorkItemID, &a.Role, &a.Units, &artifact, &rationale, &a.OccurredAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if artifact.Valid {
		a.ArtifactRef = artifact.String
	}
	if rationale.Valid {
		a.RationaleRef = rationale.String
	}
	return a, nil
}

func (r Repo) InsertActivityEvent(ctx context.Context, p store.InsertActivityEventParams) error {
	return insertActivityEvent(ctx, r.DB.ExecContext, p)
}

func (r Repo) InsertActivityEventTx(ctx context.Context, tx *sql.Tx, p store.InsertActivityEventParams) error {
	return insertActivityEvent(ctx, tx.ExecContext, p)
}

func insertActivityEvent(ctx context.Context, exec func(ctx context.Context, query string, args ...any) (sql.Result, error), p store.InsertActivityEventParams) error {
	_, err := exec(ctx, `INSERT INTO activity_events(id,scope_id,epoch_id,user_id,work_item_id,role,units,artifact_ref,rationale_ref,occurred_at,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ScopeID, p.EpochID, p.UserID, p.WorkItemID, p.Role, p.Units, nullable(p.ArtifactRef), nullable(p.RationaleRef), p.OccurredAt, p.CreatedAt)
	return err
}

func (r Repo) GetActivityEvent(ctx context.Context, id string) (domain.ActivityEvent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+activityCols+` FROM activity_events WHERE id=?`, id)
	return scanActivityEvent(row.Scan)
}

func (r Repo) GetActivityEventTx(ctx context.Context, tx *sql.Tx, id string) (domain.ActivityEvent, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+activityCols+` FROM activity_events WHERE id=?`, id)
	return scanActivityEvent(row.Scan)
}

func (r Repo) ListActivityForEpoch(ctx context.Context, epochID int64) ([]domain.ActivityEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+activityCols+` FROM activity_events WHERE epoch_id=? ORDER BY created_at ASC, id ASC`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActivity(rows)
}

func (r Repo) ListActivityForEpochTx(ctx context.Context, tx *sql.Tx, epochID int64) ([]domain.ActivityEvent, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+activityCols+` FROM activity_events WHERE epoch_id=? ORDER BY created_at ASC, id ASC`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActivity(rows)
}

func (r Repo) GetActivityForWindow(ctx context.Context, scopeID, from, to string) ([]domain.ActivityEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+activityCols+` FROM activity_events WHERE scope_id=? AND occurred_at>=? AND occurred_at<? ORDER BY occurred_at ASC, id ASC`,
		scopeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActivity(rows)
}

func collectActivity(rows *sql.Rows) ([]domain.ActivityEvent, error) {
	var res []domain.ActivityEvent
	for rows.Next() {
		a, err := scanActivityEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpsertCuration(ctx context.Context, p store.UpsertCurationParams) error {
	return upsertCuration(ctx, r.DB.ExecContext, p)
}

func (r Repo) UpsertCurationTx(ctx context.Context, tx *sql.Tx, p store.UpsertCurationParams) error {
	return upsertCuration(ctx, tx.ExecContext, p)
}

func upsertCuration(ctx context.Context, exec func(ctx context.Context, query string, args ...any) (sql.Result, error), p store.UpsertCurationParams) error {
	_, err := exec(ctx, `INSERT INTO curations(epoch_id,activity_event_id,curator_id,included,weight_override_milli,note,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(epoch_id,activity_event_id) DO UPDATE SET curator_id=excluded.curator_id, included=excluded.included, weight_override_milli=excluded.weight_override_milli, note=excluded.note, updated_at=excluded.updated_at`,
		p.EpochID, p.ActivityEventID, p.CuratorID, boolToInt(p.Included), nullableInt64Ptr(p.WeightOverrideMilli), nullable(p.Note), p.UpdatedAt)
	return err
}

func (r Repo) GetCurationForEpoch(ctx context.Context, epochID int64) ([]domain.Curation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT epoch_id,activity_event_id,curator_id,included,weight_override_milli,note,updated_at FROM curations WHERE epoch_id=? ORDER BY activity_event_id ASC`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCurations(rows)
}

func (r Repo) GetCurationForEpochTx(ctx context.Context, tx *sql.Tx, epochID int64) ([]domain.Curation, error) {
	rows, err := tx.QueryContext(ctx, `SELECT epoch_id,activity_event_id,curator_id,included,weight_override_milli,note,updated_at FROM curations WHERE epoch_id=? ORDER BY activity_event_id ASC`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCurations(rows)
}

func collectCurations(rows *sql.Rows) ([]domain.Curation, error) {
	var res []domain.Curation
	for rows.Next() {
		var c domain.Curation
		var included int
		var override sql.NullInt64
		var note sql.NullString
		if err := rows.Scan(&c.EpochID, &c.ActivityEventID, &c.CuratorID, &included, &override, &note, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Included = included != 0
		if override.Valid {
			v := override.Int64
			c.WeightOverrideMilli = &v
		}
		if note.Valid {
			c.Note = note.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertAllocation(ctx context.Context, p store.InsertAllocationParams) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO allocations(epoch_id,user_id,proposed_units,activity_count,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		p.EpochID, p.UserID, p.ProposedUnits, p.ActivityCount, p.CreatedAt, p.UpdatedAt)
	return err
}

// UpsertAllocationTx sets the proposed units for a user, creating the row on
// first sight of the user within the epoch.
func (r Repo) UpsertAllocationTx(ctx context.Context, tx *sql.Tx, epochID int64, userID, proposedUnits string, activityCount int, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO allocations(epoch_id,user_id,proposed_units,activity_count,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(epoch_id,user_id) DO UPDATE SET proposed_units=excluded.proposed_units, activity_count=excluded.activity_count, updated_at=excluded.updated_at`,
		epochID, userID, proposedUnits, activityCount, now, now)
	return err
}

func (r Repo) SetFinalUnitsTx(ctx context.Context, tx *sql.Tx, epochID int64, userID, finalUnits, reason, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE allocations SET final_units=?, override_reason=?, updated_at=? WHERE epoch_id=? AND user_id=?`,
		finalUnits, nullable(reason), now, epochID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAllocation(ctx context.Context, epochID int64, userID string) (domain.Allocation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT epoch_id,user_id,proposed_units,final_units,override_reason,activity_count,created_at,updated_at FROM allocations WHERE epoch_id=? AND user_id=?`, epochID, userID)
	return scanAllocation(row.Scan)
}

func (r Repo) GetAllocationTx(ctx context.Context, tx *sql.Tx, epochID int64, userID string) (domain.Allocation, error) {
	row := tx.QueryRowContext(ctx, `SELECT epoch_id,user_id,proposed_units,final_units,override_reason,activity_count,created_at,updated_at FROM allocations WHERE epoch_id=? AND user_id=?`, epochID, userID)
	return scanAllocation(row.Scan)
}

func scanAllocation(scan func(dest ...any) error) (domain.Allocation, error) {
	var a domain.Allocation
	var finalUnits, reason sql.NullString
	err := scan(&a.EpochID, &a.UserID, &a.ProposedUnits, &finalUnits, &reason, &a.ActivityCount, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if finalUnits.Valid {
		a.FinalUnits = &finalUnits.String
	}
	if reason.Valid {
		a.OverrideReason = &reason.String
	}
	return a, nil
}

func (r Repo) ListAllocationsForEpoch(ctx context.Context, epochID int64) ([]domain.Allocation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT epoch_id,user_id,proposed_units,final_units,override_reason,activity_count,created_at,updated_at FROM allocations WHERE epoch_id=? ORDER BY user_id ASC`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAllocations(rows)
}

func (r Repo) ListAllocationsForEpochTx(ctx context.Context, tx *sql.Tx, epochID int64) ([]domain.Allocation, error) {
	rows, err := tx.QueryContext(ctx, `SELECT epoch_id,user_id,proposed_units,final_units,override_reason,activity_count,created_at,updated_at FROM allocations WHERE epoch_id=? ORDER BY user_id ASC`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAllocations(rows)
}

func collectAllocations(rows *sql.Rows) ([]domain.Allocation, error) {
	var res []domain.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertPoolComponent(ctx context.Context, p store.InsertPoolComponentParams) error {
	return insertPoolComponent(ctx, r.DB.ExecContext, p)
}

func (r Repo) InsertPoolComponentTx(ctx context.Context, tx *sql.Tx, p store.InsertPoolComponentParams) error {
	return insertPoolComponent(ctx, tx.ExecContext, p)
}

func insertPoolComponent(ctx context.Context, exec func(ctx context.Context, query string, args ...any) (sql.Result, error), p store.InsertPoolComponentParams) error {
	_, err := exec(ctx, `INSERT INTO pool_components(epoch_id,component_id,amount_credits,computed_at) VALUES (?,?,?,?)
ON CONFLICT(epoch_id,component_id) DO UPDATE SET amount_credits=excluded.amount_credits, computed_at=excluded.computed_at`,
		p.EpochID, p.ComponentID, p.AmountCredits, p.ComputedAt)
	return err
}

func (r Repo) ListPoolComponents(ctx context.Context, epochID int64) ([]domain.PoolComponent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT epoch_id,component_id,amount_credits,computed_at FROM pool_components WHERE epoch_id=? ORDER BY component_id ASC`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPoolComponents(rows)
}

func (r Repo) ListPoolComponentsTx(ctx context.Context, tx *sql.Tx, epochID int64) ([]domain.PoolComponent, error) {
	rows, err := tx.QueryContext(ctx, `SELECT epoch_id,component_id,amount_credits,computed_at FROM pool_components WHERE epoch_id=? ORDER BY component_id ASC`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPoolComponents(rows)
}

func collectPoolComponents(rows *sql.Rows) ([]domain.PoolComponent, error) {
	var res []domain.PoolComponent
	for rows.Next() {
		var c domain.PoolComponent
		if err := rows.Scan(&c.EpochID, &c.ComponentID, &c.AmountCredits, &c.ComputedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertPayoutStatement(ctx context.Context, p store.InsertPayoutStatementParams) error {
	return insertPayoutStatement(ctx, r.DB.ExecContext, p)
}

func (r Repo) InsertPayoutStatementTx(ctx context.Context, tx *sql.Tx, p store.InsertPayoutStatementParams) error {
	return insertPayoutStatement(ctx, tx.ExecContext, p)
}

func insertPayoutStatement(ctx context.Context, exec func(ctx context.Context, query string, args ...any) (sql.Result, error), p store.InsertPayoutStatementParams) error {
	payouts, err := json.Marshal(p.Payouts)
	if err != nil {
		return fmt.Errorf("marshal payouts: %w", err)
	}
	_, err = exec(ctx, `INSERT INTO payout_statements(id,epoch_id,allocation_set_hash,pool_total_credits,payouts_json,supersedes_statement_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.EpochID, p.AllocationSetHash, p.PoolTotalCredits, string(payouts), nullableStringPtr(p.SupersedesStatementID), p.CreatedAt)
	return err
}

const statementCols = `id,epoch_id,allocation_set_hash,pool_total_credits,payouts_json,supersedes_statement_id,created_at`

func scanStatement(scan func(dest ...any) error) (domain.PayoutStatement, error) {
	var s domain.PayoutStatement
	var payouts string
	var supersedes sql.NullString
	err := scan(&s.ID, &s.EpochID, &s.AllocationSetHash, &s.PoolTotalCredits, &payouts, &supersedes, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(payouts), &s.Payouts); err != nil {
		return s, fmt.Errorf("unmarshal payouts: %w", err)
	}
	if supersedes.Valid {
		s.SupersedesStatementID = &supersedes.String
	}
	return s, nil
}

func (r Repo) GetStatement(ctx context.Context, id string) (domain.PayoutStatement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+statementCols+` FROM payout_statements WHERE id=?`, id)
	return scanStatement(row.Scan)
}

func (r Repo) GetStatementTx(ctx context.Context, tx *sql.Tx, id string) (domain.PayoutStatement, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+statementCols+` FROM payout_statements WHERE id=?`, id)
	return scanStatement(row.Scan)
}

func (r Repo) ListStatementsForEpoch(ctx context.Context, epochID int64) ([]domain.PayoutStatement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+statementCols+` FROM payout_statements WHERE epoch_id=? ORDER BY created_at ASC, id ASC`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PayoutStatement
	for rows.Next() {
		s, err := scanStatement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// LatestStatementForEpoch returns the statement no other statement supersedes,
// i.e. the head of the epoch's supersession chain.
func (r Repo) LatestStatementForEpoch(ctx context.Context, epochID int64) (domain.PayoutStatement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+statementCols+` FROM payout_statements s WHERE epoch_id=?
AND NOT EXISTS (SELECT 1 FROM payout_statements n WHERE n.supersedes_statement_id=s.id)
ORDER BY created_at DESC, id DESC LIMIT 1`, epochID)
	return scanStatement(row.Scan)
}

func (r Repo) LatestStatementForEpochTx(ctx context.Context, tx *sql.Tx, epochID int64) (domain.PayoutStatement, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+statementCols+` FROM payout_statements s WHERE epoch_id=?
AND NOT EXISTS (SELECT 1 FROM payout_statements n WHERE n.supersedes_statement_id=s.id)
ORDER BY created_at DESC, id DESC LIMIT 1`, epochID)
	return scanStatement(row.Scan)
}

func (r Repo) InsertSignature(ctx context.Context, p store.InsertSignatureParams) error {
	return insertSignature(ctx, r.DB.ExecContext, p)
}

func (r Repo) InsertSignatureTx(ctx context.Context, tx *sql.Tx, p store.InsertSignatureParams) error {
	return insertSignature(ctx, tx.ExecContext, p)
}

func insertSignature(ctx context.Context, exec func(ctx context.Context, query string, args ...any) (sql.Result, error), p store.InsertSignatureParams) error {
	_, err := exec(ctx, `INSERT INTO receipt_signatures(id,activity_event_id,signer_address,message_hash,signature,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.ActivityEventID, p.SignerAddress, p.MessageHash, p.Signature, p.CreatedAt)
	return err
}

func (r Repo) ListSignaturesForEvent(ctx context.Context, activityEventID string) ([]domain.ReceiptSignature, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,activity_event_id,signer_address,message_hash,signature,created_at FROM receipt_signatures WHERE activity_event_id=? ORDER BY created_at ASC`, activityEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReceiptSignature
	for rows.Next() {
		var s domain.ReceiptSignature
		if err := rows.Scan(&s.ID, &s.ActivityEventID, &s.SignerAddress, &s.MessageHash, &s.Signature, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, scopeID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, scopeID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, scopeID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if scopeID != "" {
		clauses = append(clauses, "scope_id=?")
		args = append(args, scopeID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(scope_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ScopeID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, scopeID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if scopeID != "" {
		clauses = append(clauses, "scope_id=?")
		args = append(args, scopeID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(scope_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ScopeID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a scope.
func (r Repo) LatestEventID(ctx context.Context, scopeID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE scope_id=?`, scopeID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
