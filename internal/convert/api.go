// Package convert maps domain models to the tribes.v1 wire messages and back.
package convert

import (
	"time"

	u "github.com/gofrs/uuid/v5"

	tribesv1 "github.com/teatribe/tribes/api/tribes/v1"
	model "github.com/teatribe/tribes/internal/model"
)

// --- helpers ---

// ParseID parses an id supplied by a client. Any malformed value yields invalid.
func ParseID(s string, invalid error) (u.UUID, error) {
	id, err := u.FromString(s)
	if err != nil || id == u.Nil {
		return u.Nil, invalid
	}
	return id, nil
}

// ParseOptionalID is ParseID for optional references; an empty string yields nil.
func ParseOptionalID(s string, invalid error) (*u.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := ParseID(s, invalid)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// IDStrings renders ids in canonical form.
func IDStrings(ids []u.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// --- Accounts ---

// ToAuthenticateResponse combines the signed-in account with its new tokens.
func ToAuthenticateResponse(tok model.Tokens, a model.Account) *tribesv1.AuthenticateResponse {
	return &tribesv1.AuthenticateResponse{
		AccountID:     a.ID.String(),
		WalletAddress: a.WalletAddress,
		FullName:      a.FullName,
		ProfilePhoto:  a.ProfilePhoto,
		Role:          string(a.Role),
		AcceptTerms:   a.AcceptTerms,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		ExpiresAt:     tok.ExpiresAt.UTC(),
	}
}

// --- Tribes ---

// ToMember exposes only the public profile of a member.
func ToMember(m model.TribeMember) tribesv1.Member {
	return tribesv1.Member{
		FullName:      m.Account.FullName,
		ProfilePhoto:  m.Account.ProfilePhoto,
		PublicKey:     m.Account.PublicKey,
		WalletAddress: m.Account.WalletAddress,
		Joined:        m.Joined.UTC(),
	}
}

// ToTribe converts a tribe with its members.
func ToTribe(t model.Tribe) tribesv1.Tribe {
	members := make([]tribesv1.Member, 0, len(t.Members))
	for _, m := range t.Members {
		members = append(members, ToMember(m))
	}
	return tribesv1.Tribe{
		ID:          t.ID.String(),
		Name:        t.Name,
		TimestampID: t.TimestampID.String(),
		Members:     members,
	}
}

// ToTribes converts a slice of tribes.
func ToTribes(ts []model.Tribe) []tribesv1.Tribe {
	out := make([]tribesv1.Tribe, 0, len(ts))
	for _, t := range ts {
		out = append(out, ToTribe(t))
	}
	return out
}

// --- Messages ---

// FromMessageKeys converts the caller-supplied key bundle.
func FromMessageKeys(in []tribesv1.MessageKey) []model.MessageKey {
	out := make([]model.MessageKey, 0, len(in))
	for _, k := range in {
		out = append(out, model.MessageKey{PublicKey: k.PublicKey, EncryptionKey: k.EncryptionKey})
	}
	return out
}

// ToMessage converts a message and its resolved context. The context is rendered one
// level deep.
func ToMessage(m model.Message) tribesv1.Message {
	out := toMessage(m)
	if m.Context != nil {
		c := toMessage(*m.Context)
		out.Context = &c
	}
	return out
}

func toMessage(m model.Message) tribesv1.Message {
	keys := make([]tribesv1.MessageKey, 0, len(m.Keys))
	for _, k := range m.Keys {
		keys = append(keys, tribesv1.MessageKey{PublicKey: k.PublicKey, EncryptionKey: k.EncryptionKey})
	}
	var reactions []tribesv1.Reaction
	for _, r := range m.Reactions {
		reactions = append(reactions, tribesv1.Reaction{SenderWalletAddress: r.SenderWalletAddress, Content: r.Content})
	}
	out := tribesv1.Message{
		ID:        m.ID.String(),
		TribeID:   m.TribeID.String(),
		Body:      m.Body,
		Caption:   m.Caption,
		Deleted:   m.Deleted,
		Type:      string(m.Type),
		Tag:       string(m.Tag),
		Keys:      keys,
		Reactions: reactions,
		Expires:   utc(m.Expires),
		TimeStamp: m.TimeStamp.UTC(),
	}
	if m.Sender != nil {
		out.SenderWalletAddress = m.Sender.WalletAddress
	}
	return out
}

// ToMessages converts a slice of messages.
func ToMessages(ms []model.Message) []tribesv1.Message {
	out := make([]tribesv1.Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, ToMessage(m))
	}
	return out
}
