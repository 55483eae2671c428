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

// accountsLockKey serializes account inserts so only one "first account" can exist.
const accountsLockKey int64 = 0x7472696265730001

// accountCols selects an account aliased as a; pair with scanAccount.
const accountCols = `a.id, a.wallet_address, COALESCE(a.public_key, ''), a.full_name, a.profile_photo, a.role,
COALESCE(a.device_type, ''), COALESCE(a.device_token, ''), a.accept_terms, a.verified, a.created, a.updated, a.deleted`

// scanAccount scans accountCols; lead receives any columns selected before them.
func scanAccount(row pgx.Row, lead ...any) (*model.Account, error) {
	var (
		a          model.Account
		role, kind string
	)
	dest := append(lead, &a.ID, &a.WalletAddress, &a.PublicKey, &a.FullName, &a.ProfilePhoto, &role,
		&kind, &a.DeviceToken, &a.AcceptTerms, &a.Verified, &a.Created, &a.Updated, &a.Deleted)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	a.Role = model.Role(role)
	a.DeviceType = model.DeviceType(kind)
	return &a, nil
}

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// Create inserts a new account row and writes the assigned role back to a.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, accountsLockKey); err != nil {
			return fmt.Errorf("lock accounts: %w", err)
		}
		const q = `
INSERT INTO accounts (id, wallet_address, full_name, profile_photo, role, accept_terms, created)
SELECT $1, $2, $3, $4, CASE WHEN EXISTS (SELECT 1 FROM accounts) THEN 'user' ELSE 'admin' END, $5, $6
RETURNING role`
		var role string
		err := tx.QueryRow(ctx, q, a.ID, a.WalletAddress, a.FullName, a.ProfilePhoto, a.AcceptTerms, a.Created).Scan(&role)
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		a.Role = model.Role(role)
		return nil
	})
}

// GetByID selects an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	a, err := scanAccount(r.db.Pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts a WHERE a.id=$1`, id))
	if err != nil {
		return nil, noRows(err, errs.ErrInvalidUser, "get account")
	}
	return a, nil
}

// GetByWallet selects an account by wallet address.
func (r *AccountRepo) GetByWallet(ctx context.Context, wallet string) (*model.Account, error) {
	a, err := scanAccount(r.db.Pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts a WHERE a.wallet_address=$1`, wallet))
	if err != nil {
		return nil, noRows(err, errs.ErrAccountNotFound, "get account by wallet")
	}
	return a, nil
}

// ExistsByWallet reports whether the wallet address is registered.
func (r *AccountRepo) ExistsByWallet(ctx context.Context, wallet string) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE wallet_address=$1)`, wallet).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("account exists: %w", err)
	}
	return ok, nil
}

// UpdateName sets the display name.
func (r *AccountRepo) UpdateName(ctx context.Context, id uuid.UUID, name string, now time.Time) error {
	return r.update(ctx, `UPDATE accounts SET full_name=$2, updated=$3 WHERE id=$1`, id, name, now)
}

// UpdateProfilePhoto sets the profile photo URL.
func (r *AccountRepo) UpdateProfilePhoto(ctx context.Context, id uuid.UUID, photo string, now time.Time) error {
	return r.update(ctx, `UPDATE accounts SET profile_photo=$2, updated=$3 WHERE id=$1`, id, photo, now)
}

// UpdateDeviceToken replaces the push binding.
func (r *AccountRepo) UpdateDeviceToken(
	ctx context.Context, id uuid.UUID, dt model.DeviceType, token string, now time.Time,
) error {
	return r.update(ctx, `UPDATE accounts SET device_type=NULLIF($2, ''), device_token=NULLIF($3, ''), updated=$4 WHERE id=$1`,
		id, string(dt), token, now)
}

func (r *AccountRepo) update(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrInvalidUser
	}
	return nil
}

// Delete removes the account's invite codes, detaches and deletes its messages,
// drops its sessions and finally the account row, in that order.
func (r *AccountRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		steps := []struct{ op, q string }{
			{"delete invites", `DELETE FROM tribe_invite_codes WHERE account_id=$1`},
			{"detach contexts", `UPDATE messages SET context_id=NULL WHERE context_id IN (SELECT id FROM messages WHERE sender_id=$1)`},
			{"delete messages", `DELETE FROM messages WHERE sender_id=$1`},
			{"delete sessions", `DELETE FROM refresh_tokens WHERE account_id=$1`},
		}
		for _, s := range steps {
			if _, err := tx.Exec(ctx, s.q, id); err != nil {
				return fmt.Errorf("%s: %w", s.op, err)
			}
		}
		tag, err := tx.Exec(ctx, `DELETE FROM accounts WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrInvalidUser
		}
		return nil
	})
}
