package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/teatribe/tribes/internal/errs"
	"github.com/teatribe/tribes/internal/model"
)

const messageCols = `msg.id, msg.tribe_id, msg.sender_id, msg.context_id, msg.body, msg.caption,
msg.type, msg.tag, msg.deleted, msg.expires, msg.time_stamp`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		m             model.Message
		sender, ctxID uuid.NullUUID
		typ, tag      string
	)
	if err := row.Scan(&m.ID, &m.TribeID, &sender, &ctxID, &m.Body, &m.Caption,
		&typ, &tag, &m.Deleted, &m.Expires, &m.TimeStamp); err != nil {
		return nil, err
	}
	if sender.Valid {
		m.Sender = &model.Account{ID: sender.UUID}
	}
	if ctxID.Valid {
		id := ctxID.UUID
		m.ContextID = &id
	}
	m.Type = model.MessageType(typ)
	m.Tag = model.MessageTag(tag)
	return &m, nil
}

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Post stores a member's message. The tribe row is locked for the duration of the
// transaction so the TimestampId check and the tea count cannot interleave with a
// concurrent membership change or tea post. The sender row is key-share locked first,
// keeping the account before tribe order TribeRepo uses.
func (r *MessageRepo) Post(
	ctx context.Context, m model.NewMessage, timestampID uuid.UUID, quota *model.TeaQuota, horizonStart time.Time,
) (msg *model.Message, err error) {
	if m.SenderID == nil {
		return nil, errs.ErrInvalidUser
	}
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		sender, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts a WHERE a.id=$1 FOR KEY SHARE`, *m.SenderID))
		if err != nil {
			return noRows(err, errs.ErrInvalidUser, "lock sender")
		}

		const lock = `
SELECT t.timestamp_id FROM tribes t
WHERE t.id=$1 AND EXISTS (SELECT 1 FROM tribe_members WHERE tribe_id=$1 AND account_id=$2)
FOR UPDATE`
		var current uuid.UUID
		if err := tx.QueryRow(ctx, lock, m.TribeID, *m.SenderID).Scan(&current); err != nil {
			return noRows(err, errs.ErrInvalidTribeID, "lock tribe")
		}
		if current != timestampID {
			return errs.ErrInvalidTribeTimestamp
		}

		if m.ContextID != nil {
			const sel = `SELECT EXISTS (SELECT 1 FROM messages WHERE id=$1 AND tribe_id=$2 AND time_stamp>$3)`
			var ok bool
			if err := tx.QueryRow(ctx, sel, *m.ContextID, m.TribeID, horizonStart).Scan(&ok); err != nil {
				return fmt.Errorf("resolve context: %w", err)
			}
			if !ok {
				m.ContextID = nil
			}
		}

		if quota != nil {
			const cnt = `
SELECT COUNT(*) FROM messages
WHERE tribe_id=$1 AND tag='tea' AND NOT deleted AND time_stamp>$2`
			var n int
			if err := tx.QueryRow(ctx, cnt, m.TribeID, quota.Since).Scan(&n); err != nil {
				return fmt.Errorf("count tea: %w", err)
			}
			if n >= quota.Cap {
				return errs.ErrTeaLimit
			}
		}

		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
		msg = fromNew(m)
		msg.Sender = sender
		if m.ContextID != nil {
			// every member's key, so the fan-out copy can be personalized per connection
			ctxs, err := hydrate(ctx, tx, []uuid.UUID{*m.ContextID}, allKeys)
			if err != nil {
				return err
			}
			if len(ctxs) == 1 {
				msg.Context = &ctxs[0]
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// AddEvent stores a system message without sender, keys or membership checks.
func (r *MessageRepo) AddEvent(ctx context.Context, m model.NewMessage) (*model.Message, error) {
	if err := insertMessage(ctx, r.db.Pool, m); err != nil {
		return nil, err
	}
	return fromNew(m), nil
}

func fromNew(m model.NewMessage) *model.Message {
	msg := &model.Message{
		ID:        m.ID,
		TribeID:   m.TribeID,
		ContextID: m.ContextID,
		Body:      m.Body,
		Caption:   m.Caption,
		Type:      m.Type,
		Tag:       m.Tag,
		Expires:   m.Expires,
		TimeStamp: m.TimeStamp,
		Keys:      m.Keys,
	}
	if m.SenderID != nil {
		msg.Sender = &model.Account{ID: *m.SenderID}
	}
	return msg
}

func insertMessage(ctx context.Context, q querier, m model.NewMessage) error {
	const ins = `
INSERT INTO messages (id, tribe_id, sender_id, context_id, body, caption, type, tag, deleted, expires, time_stamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9, $10)`
	_, err := q.Exec(ctx, ins, m.ID, m.TribeID, nullUUID(m.SenderID), nullUUID(m.ContextID),
		m.Body, m.Caption, string(m.Type), string(m.Tag), m.Expires, m.TimeStamp)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if len(m.Keys) == 0 {
		return nil
	}

	pubs := make([]string, len(m.Keys))
	keys := make([]string, len(m.Keys))
	for i, k := range m.Keys {
		pubs[i], keys[i] = k.PublicKey, k.EncryptionKey
	}
	const insKeys = `
INSERT INTO message_keys (message_id, public_key, encryption_key)
SELECT $1, pk, ek FROM unnest($2::text[], $3::text[]) AS k(pk, ek)
ON CONFLICT (message_id, public_key) DO NOTHING`
	if _, err := q.Exec(ctx, insKeys, m.ID, pubs, keys); err != nil {
		return fmt.Errorf("insert keys: %w", err)
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// keyScope selects the wrapped keys loaded with messages. The zero value loads none.
type keyScope struct {
	all       bool
	publicKey string
}

func keysFor(publicKey string) keyScope { return keyScope{publicKey: publicKey} }

var allKeys = keyScope{all: true}

// hydrate loads the reply contexts in ids with senders, reactions and the keys in
// scope, in the order of ids. Deleted contexts keep their id but lose body, caption
// and keys.
func hydrate(ctx context.Context, q querier, ids []uuid.UUID, keys keyScope) ([]model.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, `SELECT `+messageCols+` FROM messages msg WHERE msg.id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	byID := make(map[uuid.UUID]*model.Message, len(ids))
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		byID[m.ID] = m
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	if err := attachDetails(ctx, q, out, keys); err != nil {
		return nil, err
	}
	res := make([]model.Message, len(out))
	for i, m := range out {
		if m.Deleted {
			m.Body, m.Caption, m.Keys = "", "", nil
		}
		res[i] = *m
	}
	return res, nil
}

// attachDetails fills Sender, Keys and Reactions of msgs.
func attachDetails(ctx context.Context, q querier, msgs []*model.Message, keys keyScope) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(msgs))
	byID := make(map[uuid.UUID]*model.Message, len(msgs))
	senderSet := make(map[uuid.UUID]struct{})
	for _, m := range msgs {
		ids = append(ids, m.ID)
		byID[m.ID] = m
		if m.Sender != nil {
			senderSet[m.Sender.ID] = struct{}{}
		}
	}

	if len(senderSet) > 0 {
		senderIDs := make([]uuid.UUID, 0, len(senderSet))
		for id := range senderSet {
			senderIDs = append(senderIDs, id)
		}
		rows, err := q.Query(ctx, `SELECT `+accountCols+` FROM accounts a WHERE a.id = ANY($1::uuid[])`, uuidStrings(senderIDs))
		if err != nil {
			return fmt.Errorf("load senders: %w", err)
		}
		senders := make(map[uuid.UUID]*model.Account, len(senderIDs))
		for rows.Next() {
			a, err := scanAccount(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan sender: %w", err)
			}
			senders[a.ID] = a
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, m := range msgs {
			if m.Sender == nil {
				continue
			}
			if a, ok := senders[m.Sender.ID]; ok {
				m.Sender = a
			}
		}
	}

	if keys.all || keys.publicKey != "" {
		const selKeys = `
SELECT message_id, public_key, encryption_key FROM message_keys
WHERE message_id = ANY($1::uuid[])`
		var (
			rows pgx.Rows
			err  error
		)
		if keys.all {
			rows, err = q.Query(ctx, selKeys+` ORDER BY message_id, public_key`, uuidStrings(ids))
		} else {
			rows, err = q.Query(ctx, selKeys+` AND public_key=$2`, uuidStrings(ids), keys.publicKey)
		}
		if err != nil {
			return fmt.Errorf("load keys: %w", err)
		}
		for rows.Next() {
			var (
				id uuid.UUID
				k  model.MessageKey
			)
			if err := rows.Scan(&id, &k.PublicKey, &k.EncryptionKey); err != nil {
				rows.Close()
				return fmt.Errorf("scan key: %w", err)
			}
			byID[id].Keys = append(byID[id].Keys, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}

	const selReactions = `
SELECT r.message_id, COALESCE(a.wallet_address, ''), r.content
FROM message_reactions r LEFT JOIN accounts a ON a.id=r.sender_id
WHERE r.message_id = ANY($1::uuid[])
ORDER BY r.id`
	rows, err := q.Query(ctx, selReactions, uuidStrings(ids))
	if err != nil {
		return fmt.Errorf("load reactions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id uuid.UUID
			re model.MessageReaction
		)
		if err := rows.Scan(&id, &re.SenderWalletAddress, &re.Content); err != nil {
			return fmt.Errorf("scan reaction: %w", err)
		}
		byID[id].Reactions = append(byID[id].Reactions, re)
	}
	return rows.Err()
}

// List returns the tribe's live messages oldest first, each with its reply context
// resolved one level deep.
func (r *MessageRepo) List(ctx context.Context, tribeID, accountID uuid.UUID, since time.Time) ([]model.Message, error) {
	const member = `
SELECT COALESCE(a.public_key, '') FROM accounts a
JOIN tribe_members m ON m.account_id=a.id AND m.tribe_id=$1
WHERE a.id=$2`
	var publicKey string
	if err := r.db.Pool.QueryRow(ctx, member, tribeID, accountID).Scan(&publicKey); err != nil {
		return nil, noRows(err, errs.ErrInvalidTribeID, "check membership")
	}

	const sel = `
SELECT ` + messageCols + ` FROM messages msg
WHERE msg.tribe_id=$1 AND NOT msg.deleted AND msg.time_stamp>$2
ORDER BY msg.time_stamp, msg.id`
	rows, err := r.db.Pool.Query(ctx, sel, tribeID, since)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var (
		msgs   []*model.Message
		ctxIDs []uuid.UUID
	)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
		if m.ContextID != nil {
			ctxIDs = append(ctxIDs, *m.ContextID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := attachDetails(ctx, r.db.Pool, msgs, keysFor(publicKey)); err != nil {
		return nil, err
	}
	contexts, err := hydrate(ctx, r.db.Pool, ctxIDs, keysFor(publicKey))
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*model.Message, len(contexts))
	for i := range contexts {
		byID[contexts[i].ID] = &contexts[i]
	}

	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		if m.ContextID != nil {
			if c, ok := byID[*m.ContextID]; ok {
				cc := *c
				m.Context = &cc
			}
		}
		out[i] = *m
	}
	return out, nil
}

// SoftDelete flags the message deleted. Only the sender may do so.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, senderID uuid.UUID) (uuid.UUID, error) {
	var tribeID uuid.UUID
	err := r.db.Pool.QueryRow(ctx, `UPDATE messages SET deleted=true WHERE id=$1 AND sender_id=$2 RETURNING tribe_id`,
		messageID, senderID).Scan(&tribeID)
	if err == nil {
		return tribeID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("delete message: %w", err)
	}

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id=$1)`, messageID).Scan(&exists); err != nil {
		return uuid.Nil, fmt.Errorf("find message: %w", err)
	}
	if exists {
		return uuid.Nil, errs.ErrNotSender
	}
	return uuid.Nil, errs.ErrMessageNotFound
}

// visibleTribe returns the tribe of the message if accountID is one of its members.
func visibleTribe(ctx context.Context, q querier, messageID, accountID uuid.UUID) (uuid.UUID, error) {
	const sel = `
SELECT msg.tribe_id FROM messages msg
JOIN tribe_members m ON m.tribe_id=msg.tribe_id AND m.account_id=$2
WHERE msg.id=$1`
	var tribeID uuid.UUID
	if err := q.QueryRow(ctx, sel, messageID, accountID).Scan(&tribeID); err != nil {
		return uuid.Nil, noRows(err, errs.ErrMessageNotFound, "find message")
	}
	return tribeID, nil
}

// AddViewer records a view. Duplicates are ignored.
func (r *MessageRepo) AddViewer(ctx context.Context, messageID, accountID uuid.UUID) error {
	if _, err := visibleTribe(ctx, r.db.Pool, messageID, accountID); err != nil {
		return err
	}
	const ins = `
INSERT INTO message_viewers (message_id, account_id) VALUES ($1, $2)
ON CONFLICT (message_id, account_id) DO NOTHING`
	if _, err := r.db.Pool.Exec(ctx, ins, messageID, accountID); err != nil {
		return fmt.Errorf("add viewer: %w", err)
	}
	return nil
}

// Viewers returns the wallet addresses that viewed the message.
func (r *MessageRepo) Viewers(ctx context.Context, messageID, accountID uuid.UUID) ([]string, error) {
	if _, err := visibleTribe(ctx, r.db.Pool, messageID, accountID); err != nil {
		return nil, err
	}
	const sel = `
SELECT a.wallet_address FROM message_viewers v JOIN accounts a ON a.id=v.account_id
WHERE v.message_id=$1
ORDER BY a.wallet_address`
	rows, err := r.db.Pool.Query(ctx, sel, messageID)
	if err != nil {
		return nil, fmt.Errorf("viewers: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("viewers: %w", err)
	}
	return out, nil
}

// AddReaction stores a reaction from a member of the message's tribe.
func (r *MessageRepo) AddReaction(
	ctx context.Context, messageID, accountID uuid.UUID, content string, now time.Time,
) (uuid.UUID, error) {
	tribeID, err := visibleTribe(ctx, r.db.Pool, messageID, accountID)
	if err != nil {
		return uuid.Nil, err
	}
	const ins = `INSERT INTO message_reactions (message_id, sender_id, content, created) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.Pool.Exec(ctx, ins, messageID, accountID, content, now); err != nil {
		return uuid.Nil, fmt.Errorf("add reaction: %w", err)
	}
	return tribeID, nil
}

// AllowedTeaTribes returns the account's tribes whose live tea count since quota.Since
// is below quota.Cap.
func (r *MessageRepo) AllowedTeaTribes(ctx context.Context, accountID uuid.UUID, quota model.TeaQuota) ([]uuid.UUID, error) {
	const q = `
SELECT m.tribe_id
FROM tribe_members m
LEFT JOIN messages msg
  ON msg.tribe_id=m.tribe_id AND msg.tag='tea' AND NOT msg.deleted AND msg.time_stamp>$2
WHERE m.account_id=$1
GROUP BY m.tribe_id, m.joined
HAVING COUNT(msg.id) < $3
ORDER BY m.joined`
	rows, err := r.db.Pool.Query(ctx, q, accountID, quota.Since, quota.Cap)
	if err != nil {
		return nil, fmt.Errorf("allowed tea tribes: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("allowed tea tribes: %w", err)
	}
	return ids, nil
}

// DeleteExpired removes messages created before cutoff. Only the expired rows are
// locked; replies pointing at them are detached before the delete. Safe to re-run.
func (r *MessageRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (n int64, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id FROM messages WHERE time_stamp<$1 FOR UPDATE`, cutoff)
		if err != nil {
			return fmt.Errorf("select expired: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("select expired: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		strs := uuidStrings(ids)
		if _, err := tx.Exec(ctx, `UPDATE messages SET context_id=NULL WHERE context_id = ANY($1::uuid[])`, strs); err != nil {
			return fmt.Errorf("detach contexts: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = ANY($1::uuid[])`, strs)
		if err != nil {
			return fmt.Errorf("delete expired: %w", err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}
