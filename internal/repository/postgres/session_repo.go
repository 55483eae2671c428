package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/teatribe/tribes/internal/errs"
	"github.com/teatribe/tribes/internal/model"
)

const insertToken = `
INSERT INTO refresh_tokens (account_id, token_hash, expires, created, created_by_ip)
VALUES ($1, $2, $3, $4, $5)`

// pruneTokens drops the account's active and expired tokens. Revoked tokens are kept
// until they expire so a replayed rotated token is still recognized.
const pruneTokens = `
DELETE FROM refresh_tokens
WHERE account_id=$1 AND id<>$2 AND (revoked IS NULL OR expires<=$3)`

// SessionRepo implements SessionRepository using PostgreSQL.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

// Start stores the public key, replaces the account's active tokens with tok and
// regenerates the TimestampId of the account's tribes.
func (r *SessionRepo) Start(
	ctx context.Context, accountID uuid.UUID, publicKey string, tok model.RefreshToken,
) (tribes []model.TribeChange, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		// the row lock serializes concurrent sign-ins of the same account
		tag, err := tx.Exec(ctx, `UPDATE accounts SET public_key=$2, updated=$3 WHERE id=$1`,
			accountID, publicKey, tok.Created)
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("set public key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrAccountNotFound
		}

		if _, err := tx.Exec(ctx, pruneTokens, accountID, int64(0), tok.Created); err != nil {
			return fmt.Errorf("prune tokens: %w", err)
		}
		if _, err := tx.Exec(ctx, insertToken, accountID, tok.TokenHash, tok.Expires, tok.Created, tok.CreatedByIP); err != nil {
			return fmt.Errorf("insert token: %w", err)
		}

		tribes, err = regenerateForAccount(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tribes, nil
}

func regenerateForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) ([]model.TribeChange, error) {
	const q = `
UPDATE tribes SET timestamp_id=gen_random_uuid()
WHERE id IN (SELECT tribe_id FROM tribe_members WHERE account_id=$1)
RETURNING id, timestamp_id`
	rows, err := tx.Query(ctx, q, accountID)
	if err != nil {
		return nil, fmt.Errorf("regenerate timestamps: %w", err)
	}
	changes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TribeChange, error) {
		var c model.TribeChange
		err := row.Scan(&c.TribeID, &c.TimestampID)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("regenerate timestamps: %w", err)
	}
	return changes, nil
}

// Rotate revokes the active token identified by oldHash, marking next as its
// replacement, and stores next.
func (r *SessionRepo) Rotate(ctx context.Context, oldHash string, next model.RefreshToken) (acc *model.Account, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		var accountID uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT account_id FROM refresh_tokens WHERE token_hash=$1`, oldHash).
			Scan(&accountID); err != nil {
			return noRows(err, errs.ErrInvalidToken, "find token")
		}

		// account first, then token: same lock order as Start
		a, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts a WHERE a.id=$1 FOR UPDATE`, accountID))
		if err != nil {
			return noRows(err, errs.ErrInvalidToken, "lock account")
		}

		var cur model.RefreshToken
		if err := tx.QueryRow(ctx, `SELECT id, expires, revoked FROM refresh_tokens WHERE token_hash=$1 FOR UPDATE`, oldHash).
			Scan(&cur.ID, &cur.Expires, &cur.Revoked); err != nil {
			return noRows(err, errs.ErrInvalidToken, "lock token")
		}
		if !cur.IsActive(next.Created) {
			return errs.ErrInvalidToken
		}

		const revoke = `UPDATE refresh_tokens SET revoked=$2, revoked_by_ip=$3, replaced_by_token=$4 WHERE id=$1`
		if _, err := tx.Exec(ctx, revoke, cur.ID, next.Created, next.CreatedByIP, next.TokenHash); err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}
		if _, err := tx.Exec(ctx, pruneTokens, accountID, cur.ID, next.Created); err != nil {
			return fmt.Errorf("prune tokens: %w", err)
		}
		if _, err := tx.Exec(ctx, insertToken, accountID, next.TokenHash, next.Expires, next.Created, next.CreatedByIP); err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		acc = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Revoke marks an active token revoked.
func (r *SessionRepo) Revoke(ctx context.Context, hash, ip string, now time.Time) error {
	const q = `
UPDATE refresh_tokens SET revoked=$2, revoked_by_ip=$3
WHERE token_hash=$1 AND revoked IS NULL AND expires>$2`
	tag, err := r.db.Pool.Exec(ctx, q, hash, now, ip)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrInvalidToken
	}
	return nil
}
