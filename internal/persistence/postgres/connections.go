package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"example.com/integrations/internal/domain"
)

const connectionColumns = `connection_id, tenant_id, user_id, provider, access_token, refresh_token, token_expires_at, provider_account_id, active, last_synced_at, created_at, updated_at`

// FindActive returns the active connection for the pair, or nil.
func (r *Repository) FindActive(ctx context.Context, tenantID, userID string, p domain.Provider) (*domain.Connection, error) {
	const query = `SELECT ` + connectionColumns + `
        FROM integration_connections
        WHERE tenant_id=$1 AND user_id=$2 AND provider=$3 AND active`

	var conn *domain.Connection
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, query, tenantID, userID, string(p))
		scanned, err := scanConnection(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		conn = scanned
		return nil
	})
	return conn, err
}

// Upsert inserts or replaces the connection keyed by (tenant, user,
// provider). A re-authorization supersedes the prior row in place, so the
// one-active-row invariant holds without a delete.
func (r *Repository) Upsert(ctx context.Context, conn domain.Connection) (*domain.Connection, error) {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	const stmt = `INSERT INTO integration_connections
            (connection_id, tenant_id, user_id, provider, access_token, refresh_token, token_expires_at, provider_account_id, active, last_synced_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (tenant_id, user_id, provider) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            token_expires_at = EXCLUDED.token_expires_at,
            provider_account_id = EXCLUDED.provider_account_id,
            active = EXCLUDED.active,
            updated_at = EXCLUDED.updated_at
        RETURNING ` + connectionColumns

	var out *domain.Connection
	err := r.withTenantTx(ctx, conn.TenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, stmt,
			conn.ID,
			conn.TenantID,
			conn.UserID,
			string(conn.Provider),
			conn.AccessToken,
			nullIfEmpty(conn.RefreshToken),
			conn.TokenExpiresAt,
			nullIfEmpty(conn.ProviderAccountID),
			conn.Active,
			conn.LastSyncedAt,
			conn.CreatedAt,
			conn.UpdatedAt,
		)
		scanned, err := scanConnection(row)
		if err != nil {
			return err
		}
		out = scanned
		return nil
	})
	return out, err
}

// UpdateTokens persists refreshed token material.
func (r *Repository) UpdateTokens(ctx context.Context, connectionID string, accessToken, refreshToken string, expiresAt time.Time) error {
	const stmt = `UPDATE integration_connections
        SET access_token=$2, refresh_token=$3, token_expires_at=$4, updated_at=NOW()
        WHERE connection_id=$1`

	_, err := r.pool.Exec(ctx, stmt, connectionID, accessToken, nullIfEmpty(refreshToken), expiresAt)
	return err
}

// Deactivate clears the active flag for the pair; idempotent.
func (r *Repository) Deactivate(ctx context.Context, tenantID, userID string, p domain.Provider) error {
	const stmt = `UPDATE integration_connections
        SET active=false, updated_at=NOW()
        WHERE tenant_id=$1 AND user_id=$2 AND provider=$3 AND active`

	return r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt, tenantID, userID, string(p))
		return err
	})
}

// TouchLastSynced records a successful sync completion time.
func (r *Repository) TouchLastSynced(ctx context.Context, connectionID string, at time.Time) error {
	const stmt = `UPDATE integration_connections
        SET last_synced_at=$2, updated_at=NOW()
        WHERE connection_id=$1`

	_, err := r.pool.Exec(ctx, stmt, connectionID, at)
	return err
}

// ListActive returns every active connection across tenants, for the
// scheduler sweep.
func (r *Repository) ListActive(ctx context.Context) ([]domain.Connection, error) {
	const query = `SELECT ` + connectionColumns + `
        FROM integration_connections
        WHERE active
        ORDER BY tenant_id, user_id, provider`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectConnections(rows)
}

// ListForUser returns every connection for one user, active or not.
func (r *Repository) ListForUser(ctx context.Context, tenantID, userID string) ([]domain.Connection, error) {
	const query = `SELECT ` + connectionColumns + `
        FROM integration_connections
        WHERE tenant_id=$1 AND user_id=$2
        ORDER BY provider`

	var conns []domain.Connection
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		conns, err = collectConnections(rows)
		return err
	})
	return conns, err
}

func collectConnections(rows pgx.Rows) ([]domain.Connection, error) {
	var out []domain.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *conn)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*domain.Connection, error) {
	var (
		conn         domain.Connection
		providerName string
		refreshToken *string
		accountID    *string
	)
	if err := row.Scan(
		&conn.ID,
		&conn.TenantID,
		&conn.UserID,
		&providerName,
		&conn.AccessToken,
		&refreshToken,
		&conn.TokenExpiresAt,
		&accountID,
		&conn.Active,
		&conn.LastSyncedAt,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	); err != nil {
		return nil, err
	}
	conn.Provider = domain.Provider(providerName)
	if refreshToken != nil {
		conn.RefreshToken = *refreshToken
	}
	if accountID != nil {
		conn.ProviderAccountID = *accountID
	}
	return &conn, nil
}
