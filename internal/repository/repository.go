// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/teatribe/tribes/internal/model"
)

// AccountRepository provides access to accounts and their owned rows.
type AccountRepository interface {
	// Create inserts a new account. The first account ever created is given the admin role,
	// which is written back to a.Role.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByWallet loads an account by its checksummed wallet address.
	GetByWallet(ctx context.Context, wallet string) (*model.Account, error)
	// ExistsByWallet reports whether a wallet address is registered.
	ExistsByWallet(ctx context.Context, wallet string) (bool, error)
	UpdateName(ctx context.Context, id uuid.UUID, name string, now time.Time) error
	UpdateProfilePhoto(ctx context.Context, id uuid.UUID, photo string, now time.Time) error
	UpdateDeviceToken(ctx context.Context, id uuid.UUID, dt model.DeviceType, token string, now time.Time) error
	// Delete removes the account after its invite codes, sent messages and sessions.
	// Memberships must already have been left.
	Delete(ctx context.Context, id uuid.UUID) error
}

// SessionRepository manages refresh tokens.
type SessionRepository interface {
	// Start records a successful sign-in: stores the signer's public key, prunes the
	// account's active tokens, saves tok and regenerates the TimestampId of every tribe
	// the account belongs to. It returns the new TimestampId of each of those tribes.
	Start(ctx context.Context, accountID uuid.UUID, publicKey string, tok model.RefreshToken) ([]model.TribeChange, error)
	// Rotate exchanges the active token identified by oldHash for next.
	Rotate(ctx context.Context, oldHash string, next model.RefreshToken) (*model.Account, error)
	// Revoke marks the active token identified by hash as revoked.
	Revoke(ctx context.Context, hash, ip string, now time.Time) error
}

// TribeRepository provides tribes, memberships and invite codes.
type TribeRepository interface {
	// Create inserts t with creatorID as its only member.
	Create(ctx context.Context, t *model.Tribe, creatorID uuid.UUID, maxTribes int) error
	// Get loads a tribe with its members.
	Get(ctx context.Context, id uuid.UUID) (*model.Tribe, error)
	// ListForAccount returns every tribe the account belongs to, with members.
	ListForAccount(ctx context.Context, accountID uuid.UUID) ([]model.Tribe, error)
	// TribeIDs returns the ids of the account's tribes.
	TribeIDs(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error)
	IsMember(ctx context.Context, tribeID, accountID uuid.UUID) (bool, error)

	// CreateInvite stores inv after purging expired codes. inv.Created is used as "now".
	CreateInvite(ctx context.Context, inv model.InviteCode) error
	// PurgeExpiredInvites deletes every invite code that expired at or before now.
	PurgeExpiredInvites(ctx context.Context, now time.Time) (int64, error)
	// Join redeems the invite identified by codeHash for accountID.
	Join(ctx context.Context, codeHash string, accountID uuid.UUID, lim model.TribeLimits, now time.Time) (*model.JoinResult, error)

	// Leave removes the account; the tribe is deleted with its last member.
	Leave(ctx context.Context, tribeID, accountID uuid.UUID) (*model.TribeChange, error)
	// RemoveMember removes the member with targetWallet on behalf of actorID.
	RemoveMember(ctx context.Context, tribeID, actorID uuid.UUID, targetWallet string) (*model.RemoveResult, error)
	// Rename changes the tribe name on behalf of a member.
	Rename(ctx context.Context, tribeID, accountID uuid.UUID, name string) (*model.TribeChange, error)
}

// MessageRepository provides tribe messages.
type MessageRepository interface {
	// Post stores m after checking membership of the sender, the caller's view of the
	// tribe TimestampId and, when quota is set, the tea admission window. Context ids that
	// do not resolve to a message of the same tribe newer than horizonStart are dropped.
	Post(ctx context.Context, m model.NewMessage, timestampID uuid.UUID, quota *model.TeaQuota, horizonStart time.Time) (*model.Message, error)
	// AddEvent stores a sender-less system message.
	AddEvent(ctx context.Context, m model.NewMessage) (*model.Message, error)
	// List returns non-deleted messages of the tribe newer than since, with keys
	// filtered to the requesting account's public key.
	List(ctx context.Context, tribeID, accountID uuid.UUID, since time.Time) ([]model.Message, error)
	// SoftDelete flags the message deleted if senderID sent it and returns its tribe.
	SoftDelete(ctx context.Context, messageID, senderID uuid.UUID) (uuid.UUID, error)
	// AddViewer records that accountID viewed the message. Repeated calls are no-ops.
	AddViewer(ctx context.Context, messageID, accountID uuid.UUID) error
	// Viewers returns the wallet addresses that viewed the message.
	Viewers(ctx context.Context, messageID, accountID uuid.UUID) ([]string, error)
	// AddReaction stores a reaction and returns the message's tribe.
	AddReaction(ctx context.Context, messageID, accountID uuid.UUID, content string, now time.Time) (uuid.UUID, error)
	// AllowedTeaTribes returns the account's tribes that are still below the tea quota.
	AllowedTeaTribes(ctx context.Context, accountID uuid.UUID, quota model.TeaQuota) ([]uuid.UUID, error)
	// DeleteExpired purges messages created before cutoff, detaching them as reply
	// contexts first.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
