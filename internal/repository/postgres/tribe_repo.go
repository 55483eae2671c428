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

// TribeRepo implements TribeRepository using PostgreSQL.
//
// Lock order is account row before tribe row everywhere, MessageRepo.Post included.
type TribeRepo struct{ db *DB }

// NewTribeRepo constructs a tribe repository.
func NewTribeRepo(db *DB) *TribeRepo { return &TribeRepo{db: db} }

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func countMemberships(ctx context.Context, q querier, accountID uuid.UUID) (int, error) {
	var n int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM tribe_members WHERE account_id=$1`, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memberships: %w", err)
	}
	return n, nil
}

func isMember(ctx context.Context, q querier, tribeID, accountID uuid.UUID) (bool, error) {
	const sel = `SELECT EXISTS (SELECT 1 FROM tribe_members WHERE tribe_id=$1 AND account_id=$2)`
	var ok bool
	if err := q.QueryRow(ctx, sel, tribeID, accountID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

func regenerateTimestamp(ctx context.Context, q querier, tribeID uuid.UUID) (uuid.UUID, error) {
	var ts uuid.UUID
	err := q.QueryRow(ctx, `UPDATE tribes SET timestamp_id=gen_random_uuid() WHERE id=$1 RETURNING timestamp_id`, tribeID).
		Scan(&ts)
	if err != nil {
		return uuid.Nil, noRows(err, errs.ErrInvalidTribeID, "regenerate timestamp")
	}
	return ts, nil
}

func lockTribe(ctx context.Context, tx pgx.Tx, tribeID uuid.UUID) (*model.Tribe, error) {
	t := model.Tribe{ID: tribeID}
	err := tx.QueryRow(ctx, `SELECT name, created, timestamp_id FROM tribes WHERE id=$1 FOR UPDATE`, tribeID).
		Scan(&t.Name, &t.Created, &t.TimestampID)
	if err != nil {
		return nil, noRows(err, errs.ErrInvalidTribeID, "lock tribe")
	}
	return &t, nil
}

// loadMembers returns the members of each tribe in ids, oldest first.
func loadMembers(ctx context.Context, q querier, ids []uuid.UUID) (map[uuid.UUID][]model.TribeMember, error) {
	out := make(map[uuid.UUID][]model.TribeMember, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const sel = `
SELECT m.tribe_id, m.joined, ` + accountCols + `
FROM tribe_members m JOIN accounts a ON a.id=m.account_id
WHERE m.tribe_id = ANY($1::uuid[])
ORDER BY m.joined, a.wallet_address`
	rows, err := q.Query(ctx, sel, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m model.TribeMember
		a, err := scanAccount(rows, &m.TribeID, &m.Joined)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Account = *a
		out[m.TribeID] = append(out[m.TribeID], m)
	}
	return out, rows.Err()
}

// Create inserts the tribe and its creator's membership.
func (r *TribeRepo) Create(ctx context.Context, t *model.Tribe, creatorID uuid.UUID, maxTribes int) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		creator, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts a WHERE a.id=$1 FOR UPDATE`, creatorID))
		if err != nil {
			return noRows(err, errs.ErrInvalidUser, "lock account")
		}
		n, err := countMemberships(ctx, tx, creatorID)
		if err != nil {
			return err
		}
		if n >= maxTribes {
			return errs.ErrTooManyTribes
		}

		const ins = `INSERT INTO tribes (id, name, created, timestamp_id) VALUES ($1, $2, $3, $4)`
		if _, err := tx.Exec(ctx, ins, t.ID, t.Name, t.Created, t.TimestampID); err != nil {
			return fmt.Errorf("insert tribe: %w", err)
		}
		const mem = `INSERT INTO tribe_members (tribe_id, account_id, joined) VALUES ($1, $2, $3)`
		if _, err := tx.Exec(ctx, mem, t.ID, creatorID, t.Created); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		t.Members = []model.TribeMember{{TribeID: t.ID, Account: *creator, Joined: t.Created}}
		return nil
	})
}

// Get loads a tribe with its members.
func (r *TribeRepo) Get(ctx context.Context, id uuid.UUID) (*model.Tribe, error) {
	t := model.Tribe{ID: id}
	err := r.db.Pool.QueryRow(ctx, `SELECT name, created, timestamp_id FROM tribes WHERE id=$1`, id).
		Scan(&t.Name, &t.Created, &t.TimestampID)
	if err != nil {
		return nil, noRows(err, errs.ErrInvalidTribeID, "get tribe")
	}
	members, err := loadMembers(ctx, r.db.Pool, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	t.Members = members[id]
	return &t, nil
}

// ListForAccount returns the account's tribes in creation order.
func (r *TribeRepo) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]model.Tribe, error) {
	const q = `
SELECT t.id, t.name, t.created, t.timestamp_id
FROM tribes t JOIN tribe_members m ON m.tribe_id=t.id
WHERE m.account_id=$1
ORDER BY t.created, t.id`
	rows, err := r.db.Pool.Query(ctx, q, accountID)
	if err != nil {
		return nil, fmt.Errorf("list tribes: %w", err)
	}
	defer rows.Close()

	var (
		out []model.Tribe
		ids []uuid.UUID
	)
	for rows.Next() {
		var t model.Tribe
		if err := rows.Scan(&t.ID, &t.Name, &t.Created, &t.TimestampID); err != nil {
			return nil, fmt.Errorf("scan tribe: %w", err)
		}
		out = append(out, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	members, err := loadMembers(ctx, r.db.Pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Members = members[out[i].ID]
	}
	return out, nil
}

// TribeIDs returns the ids of the account's tribes.
func (r *TribeRepo) TribeIDs(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT tribe_id FROM tribe_members WHERE account_id=$1 ORDER BY joined`, accountID)
	if err != nil {
		return nil, fmt.Errorf("tribe ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("tribe ids: %w", err)
	}
	return ids, nil
}

// IsMember reports whether the account belongs to the tribe.
func (r *TribeRepo) IsMember(ctx context.Context, tribeID, accountID uuid.UUID) (bool, error) {
	return isMember(ctx, r.db.Pool, tribeID, accountID)
}

// CreateInvite purges expired codes and stores inv. A hash that collides with a live
// code is rejected.
func (r *TribeRepo) CreateInvite(ctx context.Context, inv model.InviteCode) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		ok, err := isMember(ctx, tx, inv.TribeID, inv.AccountID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotMember
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tribe_invite_codes WHERE expires<=$1`, inv.Created); err != nil {
			return fmt.Errorf("purge invites: %w", err)
		}
		const ins = `
INSERT INTO tribe_invite_codes (code_hash, account_id, tribe_id, created, expires)
VALUES ($1, $2, $3, $4, $5)`
		_, err = tx.Exec(ctx, ins, inv.CodeHash, inv.AccountID, inv.TribeID, inv.Created, inv.Expires)
		if isUniqueViolation(err) {
			return errs.ErrInvalidInviteCode
		}
		if err != nil {
			return fmt.Errorf("insert invite: %w", err)
		}
		return nil
	})
}

// PurgeExpiredInvites deletes expired invite codes.
func (r *TribeRepo) PurgeExpiredInvites(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM tribe_invite_codes WHERE expires<=$1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge invites: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Join consumes the invite and adds the account to its tribe. The joining account
// and the tribe rows stay locked until commit, so concurrent joins cannot exceed
// either cap and a code is redeemed at most once.
func (r *TribeRepo) Join(
	ctx context.Context, codeHash string, accountID uuid.UUID, lim model.TribeLimits, now time.Time,
) (res *model.JoinResult, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		var inv model.InviteCode
		const selInv = `SELECT id, account_id, tribe_id, expires FROM tribe_invite_codes WHERE code_hash=$1 FOR UPDATE`
		if err := tx.QueryRow(ctx, selInv, codeHash).Scan(&inv.ID, &inv.AccountID, &inv.TribeID, &inv.Expires); err != nil {
			return noRows(err, errs.ErrInvalidInviteCode, "find invite")
		}

		joiner, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts a WHERE a.id=$1 FOR UPDATE`, accountID))
		if err != nil {
			return noRows(err, errs.ErrInvalidUser, "lock account")
		}
		n, err := countMemberships(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if n >= lim.MaxTribesPerAccount {
			return errs.ErrTooManyTribes
		}
		if !now.Before(inv.Expires) {
			return errs.ErrExpiredInviteCode
		}

		t, err := lockTribe(ctx, tx, inv.TribeID)
		if err != nil {
			return err
		}
		var (
			members int
			already bool
		)
		const cnt = `SELECT COUNT(*), COALESCE(bool_or(account_id=$2), false) FROM tribe_members WHERE tribe_id=$1`
		if err := tx.QueryRow(ctx, cnt, t.ID, accountID).Scan(&members, &already); err != nil {
			return fmt.Errorf("count members: %w", err)
		}
		if members >= lim.MaxMembers {
			return errs.ErrTribeFull
		}
		if already {
			return errs.ErrAlreadyMember
		}

		const mem = `INSERT INTO tribe_members (tribe_id, account_id, joined) VALUES ($1, $2, $3)`
		if _, err := tx.Exec(ctx, mem, t.ID, accountID, now); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		if t.TimestampID, err = regenerateTimestamp(ctx, tx, t.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tribe_invite_codes WHERE id=$1`, inv.ID); err != nil {
			return fmt.Errorf("consume invite: %w", err)
		}

		inviter, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts a WHERE a.id=$1`, inv.AccountID))
		if err != nil {
			return noRows(err, errs.ErrInvalidInviteCode, "load inviter")
		}
		all, err := loadMembers(ctx, tx, []uuid.UUID{t.ID})
		if err != nil {
			return err
		}
		t.Members = all[t.ID]
		res = &model.JoinResult{Tribe: *t, Joiner: *joiner, Inviter: *inviter}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Leave removes the account from the tribe and deletes the tribe when it was the
// last member. Messages, members and invites go with the tribe.
func (r *TribeRepo) Leave(ctx context.Context, tribeID, accountID uuid.UUID) (ch *model.TribeChange, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockTribe(ctx, tx, tribeID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM tribe_members WHERE tribe_id=$1 AND account_id=$2`, tribeID, accountID)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotMember
		}

		var left int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM tribe_members WHERE tribe_id=$1`, tribeID).Scan(&left); err != nil {
			return fmt.Errorf("count members: %w", err)
		}
		if left > 0 {
			ts, err := regenerateTimestamp(ctx, tx, tribeID)
			if err != nil {
				return err
			}
			ch = &model.TribeChange{TribeID: tribeID, TimestampID: ts}
			return nil
		}

		const detach = `
UPDATE messages SET context_id=NULL
WHERE context_id IN (SELECT id FROM messages WHERE tribe_id=$1)`
		if _, err := tx.Exec(ctx, detach, tribeID); err != nil {
			return fmt.Errorf("detach contexts: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tribes WHERE id=$1`, tribeID); err != nil {
			return fmt.Errorf("delete tribe: %w", err)
		}
		ch = &model.TribeChange{TribeID: tribeID, Deleted: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// RemoveMember removes the member identified by targetWallet. The actor must be a
// member and may not remove itself.
func (r *TribeRepo) RemoveMember(
	ctx context.Context, tribeID, actorID uuid.UUID, targetWallet string,
) (res *model.RemoveResult, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockTribe(ctx, tx, tribeID); err != nil {
			return err
		}
		ok, err := isMember(ctx, tx, tribeID, actorID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotMember
		}
		target, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts a WHERE a.wallet_address=$1`, targetWallet))
		if err != nil {
			return noRows(err, errs.ErrInvalidUser, "find target")
		}
		if target.ID == actorID {
			return errs.ErrSelfRemoval
		}
		tag, err := tx.Exec(ctx, `DELETE FROM tribe_members WHERE tribe_id=$1 AND account_id=$2`, tribeID, target.ID)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrInvalidUser
		}
		ts, err := regenerateTimestamp(ctx, tx, tribeID)
		if err != nil {
			return err
		}
		res = &model.RemoveResult{Change: model.TribeChange{TribeID: tribeID, TimestampID: ts}, Target: *target}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Rename updates the tribe name if accountID is a member.
func (r *TribeRepo) Rename(ctx context.Context, tribeID, accountID uuid.UUID, name string) (*model.TribeChange, error) {
	const q = `
UPDATE tribes SET name=$3, timestamp_id=gen_random_uuid()
WHERE id=$1 AND EXISTS (SELECT 1 FROM tribe_members WHERE tribe_id=$1 AND account_id=$2)
RETURNING timestamp_id`
	var ts uuid.UUID
	if err := r.db.Pool.QueryRow(ctx, q, tribeID, accountID, name).Scan(&ts); err != nil {
		return nil, noRows(err, errs.ErrNotMember, "rename tribe")
	}
	return &model.TribeChange{TribeID: tribeID, TimestampID: ts}, nil
}
