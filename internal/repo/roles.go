package repo

import (
	"context"
	"database/sql"

	"cogniledger/internal/domain"
)

func (r Repo) GrantRoleTx(ctx context.Context, tx *sql.Tx, scopeID, address, role, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO issuer_roles(scope_id,address,role,created_at) VALUES (?,?,?,?)`,
		scopeID, address, role, now)
	return err
}

func (r Repo) RevokeRoleTx(ctx context.Context, tx *sql.Tx, scopeID, address, role string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM issuer_roles WHERE scope_id=? AND address=? AND role=?`, scopeID, address, role)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) HasRole(ctx context.Context, scopeID, address, role string) (bool, error) {
	return hasRole(ctx, r.DB.QueryRowContext, scopeID, address, role)
}

func (r Repo) HasRoleTx(ctx context.Context, tx *sql.Tx, scopeID, address, role string) (bool, error) {
	return hasRole(ctx, tx.QueryRowContext, scopeID, address, role)
}

func hasRole(ctx context.Context, queryRow func(ctx context.Context, query string, args ...any) *sql.Row, scopeID, address, role string) (bool, error) {
	var n int
	err := queryRow(ctx, `SELECT count(*) FROM issuer_roles WHERE scope_id=? AND address=? AND role=?`, scopeID, address, role).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) ListRoles(ctx context.Context, scopeID, address string) ([]domain.IssuerRole, error) {
	query := `SELECT scope_id,address,role,created_at FROM issuer_roles WHERE scope_id=?`
	args := []any{scopeID}
	if address != "" {
		query += ` AND address=?`
		args = append(args, address)
	}
	query += ` ORDER BY address ASC, role ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IssuerRole
	for rows.Next() {
		var ir domain.IssuerRole
		if err := rows.Scan(&ir.ScopeID, &ir.Address, &ir.Role, &ir.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ir)
	}
	return res, rows.Err()
}
