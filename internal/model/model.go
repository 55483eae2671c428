// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is the account's authorization role.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// DeviceType identifies the push platform of a device binding.
type DeviceType string

const (
	DeviceApple   DeviceType = "apple"
	DeviceAndroid DeviceType = "android"
)

// Valid reports whether d is a known platform.
func (d DeviceType) Valid() bool { return d == DeviceApple || d == DeviceAndroid }

// Tokens collects issued access/refresh tokens.
type Tokens struct {
	AccessToken  string
	RefreshToken string    // raw value, returned to the client once and never stored
	ExpiresAt    time.Time // access token expiry (for diagnostics)
}

// Account is a registered wallet identity.
type Account struct {
	ID            uuid.UUID
	WalletAddress string // unique, EIP-55 checksummed
	PublicKey     string // unique when set; latest key used to authenticate
	FullName      string
	ProfilePhoto  string
	Role          Role
	DeviceType    DeviceType // empty when no push binding
	DeviceToken   string
	AcceptTerms   bool
	Verified      *time.Time
	Created       time.Time
	Updated       *time.Time
	Deleted       *time.Time
}

// HasPushBinding reports whether the account can receive platform pushes.
func (a Account) HasPushBinding() bool { return a.DeviceType.Valid() && a.DeviceToken != "" }

// RefreshToken stores only the hash of the issued token.
type RefreshToken struct {
	ID              int64
	AccountID       uuid.UUID
	TokenHash       string
	Expires         time.Time
	Created         time.Time
	CreatedByIP     string
	Revoked         *time.Time
	RevokedByIP     string
	ReplacedByToken string // hash of the successor
}

// IsExpired reports whether the token has passed its expiry at now.
func (t RefreshToken) IsExpired(now time.Time) bool { return !now.Before(t.Expires) }

// IsActive reports whether the token is neither revoked nor expired at now.
func (t RefreshToken) IsActive(now time.Time) bool { return t.Revoked == nil && !t.IsExpired(now) }

// Tribe is a capacity-limited group of accounts.
type Tribe struct {
	ID          uuid.UUID
	Name        string
	Created     time.Time
	TimestampID uuid.UUID // regenerated on every membership or metadata change
	Members     []TribeMember
}

// TribeMember is one account's membership in a tribe.
type TribeMember struct {
	TribeID uuid.UUID
	Account Account
	Joined  time.Time
}

// InviteCode is a short-lived, single-use invitation. Only the hash of "{pin}:{code}" is stored.
type InviteCode struct {
	ID        int64
	CodeHash  string
	AccountID uuid.UUID // issuer
	TribeID   uuid.UUID
	Created   time.Time
	Expires   time.Time
}

// MessageType is the content type of a message.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeImage       MessageType = "image"
	TypeVideo       MessageType = "video"
	TypeSystemEvent MessageType = "systemEvent"
)

// Valid reports whether t is a known type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeSystemEvent:
		return true
	}
	return false
}

// MessageTag distinguishes rate-limited tea posts from regular chat.
type MessageTag string

const (
	TagTea  MessageTag = "tea"
	TagChat MessageTag = "chat"
)

// Valid reports whether t is a known tag.
func (t MessageTag) Valid() bool { return t == TagTea || t == TagChat }

// Message is a tribe post. Context is a weak reference to the message being replied to.
type Message struct {
	ID        uuid.UUID // v7, ordered by creation
	TribeID   uuid.UUID
	Sender    *Account // nil for system events
	ContextID *uuid.UUID
	Context   *Message // resolved one level deep on reads
	Body      string
	Caption   string
	Type      MessageType
	Tag       MessageTag
	Deleted   bool
	Expires   *time.Time
	TimeStamp time.Time
	Keys      []MessageKey
	Viewers   []uuid.UUID
	Reactions []MessageReaction
}

// MessageKey is a symmetric key wrapped for one recipient public key.
type MessageKey struct {
	PublicKey     string
	EncryptionKey string
}

// MessageReaction is a member's reaction to a message.
type MessageReaction struct {
	SenderWalletAddress string
	Content             string
}

// NewMessage is the write-side input for persisting a message.
type NewMessage struct {
	ID        uuid.UUID
	TribeID   uuid.UUID
	SenderID  *uuid.UUID
	ContextID *uuid.UUID
	Body      string
	Caption   string
	Type      MessageType
	Tag       MessageTag
	Expires   *time.Time
	TimeStamp time.Time
	Keys      []MessageKey
}

// TeaQuota bounds tea posts per tribe inside a trailing window.
type TeaQuota struct {
	Cap   int
	Since time.Time
}

// TribeLimits are the capacity rules enforced when adding members.
type TribeLimits struct {
	MaxMembers          int
	MaxTribesPerAccount int
}

// TribeChange describes a committed membership or metadata change.
type TribeChange struct {
	TribeID     uuid.UUID
	TimestampID uuid.UUID // new value; zero when Deleted
	Deleted     bool      // the last member left and the tribe was removed
}

// JoinResult is returned by a successful invite redemption.
type JoinResult struct {
	Tribe   Tribe
	Joiner  Account
	Inviter Account
}

// RemoveResult is returned when a member removes another member.
type RemoveResult struct {
	Change TribeChange
	Target Account
}
