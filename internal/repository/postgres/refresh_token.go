package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nimbusworks/auth-service/internal/domain"
	"github.com/nimbusworks/auth-service/internal/repository"
	"github.com/nimbusworks/auth-service/pkg/database"
	apperrors "github.com/nimbusworks/auth-service/pkg/errors"
)

const tokenColumns = `id, user_id, family, token_hash, used, revoked, issued_at, expires_at, used_at, replaced_by`

// RefreshTokenRepository implements repository.RefreshTokenRepository using
// PostgreSQL.
type RefreshTokenRepository struct {
	db repository.DB
}

// NewRefreshTokenRepository creates a PostgreSQL-backed refresh token
// repository.
func NewRefreshTokenRepository(db repository.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const insertTokenQuery = `
	INSERT INTO refresh_tokens (id, user_id, family, token_hash, used, revoked, issued_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Insert stores a new refresh token record.
func (r *RefreshTokenRepository) Insert(ctx context.Context, rec *domain.RefreshTokenRecord) error {
	ctx, end := database.TraceQuery(ctx, "InsertRefreshToken", insertTokenQuery)
	_, err := r.db.Exec(ctx, insertTokenQuery,
		rec.ID,
		rec.UserID,
		rec.Family,
		rec.TokenHash,
		rec.Used,
		rec.Revoked,
		rec.IssuedAt,
		rec.ExpiresAt,
	)
	end(err)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// GetByID retrieves a refresh token record by its jti.
func (r *RefreshTokenRepository) GetByID(ctx context.Context, id string) (*domain.RefreshTokenRecord, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE id = $1`

	var rec domain.RefreshTokenRecord
	ctx, end := database.TraceQuery(ctx, "GetRefreshTokenByID", query)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Family,
		&rec.TokenHash,
		&rec.Used,
		&rec.Revoked,
		&rec.IssuedAt,
		&rec.ExpiresAt,
		&rec.UsedAt,
		&rec.ReplacedBy,
	)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	return &rec, nil
}

const markUsedQuery = `
	UPDATE refresh_tokens
	SET used = TRUE, used_at = $1, replaced_by = $2
	WHERE id = $3 AND used = FALSE`

// MarkUsed consumes the token. The WHERE used = FALSE clause makes this the
// point where concurrent refreshes are decided: whichever update matches the
// row wins, every other caller gets ErrTokenAlreadyUsed.
func (r *RefreshTokenRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	ctx, end := database.TraceQuery(ctx, "MarkRefreshTokenUsed", markUsedQuery)
	ct, err := r.db.Exec(ctx, markUsedQuery, usedAt, nil, id)
	end(err)
	if err != nil {
		return fmt.Errorf("mark refresh token used: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrTokenAlreadyUsed
	}
	return nil
}

// Rotate consumes the old token and inserts its successor in one
// transaction. If the old token was already used the transaction rolls back
// and ErrTokenAlreadyUsed is returned without the successor being stored.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID string, usedAt time.Time, next *domain.RefreshTokenRecord) (err error) {
	ctx, end := database.TraceQuery(ctx, "RotateRefreshToken", markUsedQuery)
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, markUsedQuery, usedAt, next.ID, oldID)
	if err != nil {
		return fmt.Errorf("mark refresh token used: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrTokenAlreadyUsed
	}

	_, err = tx.Exec(ctx, insertTokenQuery,
		next.ID,
		next.UserID,
		next.Family,
		next.TokenHash,
		next.Used,
		next.Revoked,
		next.IssuedAt,
		next.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert rotated refresh token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotate tx: %w", err)
	}
	return nil
}

// RevokeFamily revokes every token descending from one initial grant and
// returns the affected IDs so their jtis can be pushed to the revocation
// index.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, family string) ([]string, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE family = $1 AND revoked = FALSE
		RETURNING id`

	return r.collectIDs(ctx, "RevokeTokenFamily", query, family)
}

// RevokeByUserID revokes all of a user's tokens and returns the affected IDs.
func (r *RefreshTokenRepository) RevokeByUserID(ctx context.Context, userID string) ([]string, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE user_id = $1 AND revoked = FALSE
		RETURNING id`

	return r.collectIDs(ctx, "RevokeTokensByUserID", query, userID)
}

func (r *RefreshTokenRepository) collectIDs(ctx context.Context, op, query string, args ...any) (ids []string, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan revoked token id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revoked token ids: %w", err)
	}

	return ids, nil
}
