package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/teatribe/tribes/internal/crypto"
	"github.com/teatribe/tribes/internal/errs"
	"github.com/teatribe/tribes/internal/model"
	"github.com/teatribe/tribes/internal/repository"
)

const maxTribeNameLen = 24

// TribeService defines tribe membership and invite operations.
type TribeService interface {
	// CreateTribe creates a tribe with the account as its first member.
	CreateTribe(ctx context.Context, accountID uuid.UUID, name string) (*model.Tribe, error)
	// GetTribes returns every tribe the account belongs to, with members.
	GetTribes(ctx context.Context, accountID uuid.UUID) ([]model.Tribe, error)
	GetTribeIDs(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error)
	IsMember(ctx context.Context, tribeID, accountID uuid.UUID) (bool, error)
	// InviteToTribe stores codeHash, the hash of "{pin}:{code}", as a short-lived invite.
	InviteToTribe(ctx context.Context, accountID, tribeID uuid.UUID, codeHash string) error
	// JoinTribe redeems the invite identified by pin and code.
	JoinTribe(ctx context.Context, accountID uuid.UUID, pin, code string) (*model.Tribe, error)
	LeaveTribe(ctx context.Context, accountID, tribeID uuid.UUID) error
	// RemoveFromTribe removes another member identified by wallet address.
	RemoveFromTribe(ctx context.Context, actorID, tribeID uuid.UUID, targetWallet string) error
	UpdateTribeName(ctx context.Context, accountID, tribeID uuid.UUID, name string) (string, error)
}

// EventPoster appends system events to a tribe's timeline.
type EventPoster interface {
	AddEventMessage(ctx context.Context, actorID, tribeID uuid.UUID, text string) (*model.Message, error)
}

type TribeServiceImpl struct {
	tribes    repository.TribeRepository
	accounts  repository.AccountRepository
	events    EventPoster
	notifier  Notifier
	limits    model.TribeLimits
	inviteTTL time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// NewTribeService constructs TribeService. events may be set later with SetEventPoster.
func NewTribeService(
	tribes repository.TribeRepository,
	accounts repository.AccountRepository,
	notifier Notifier,
	limits model.TribeLimits,
	inviteTTL time.Duration,
	log *zap.Logger,
) *TribeServiceImpl {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &TribeServiceImpl{
		tribes:    tribes,
		accounts:  accounts,
		notifier:  notifier,
		limits:    limits,
		inviteTTL: inviteTTL,
		log:       log,
		now:       time.Now,
	}
}

// SetEventPoster wires the message service that records membership events.
func (s *TribeServiceImpl) SetEventPoster(p EventPoster) { s.events = p }

func (s *TribeServiceImpl) CreateTribe(ctx context.Context, accountID uuid.UUID, name string) (*model.Tribe, error) {
	name, err := validTribeName(name)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	ts, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	t := &model.Tribe{ID: id, Name: name, Created: s.now().UTC(), TimestampID: ts}
	if err := s.tribes.Create(ctx, t, accountID, s.limits.MaxTribesPerAccount); err != nil {
		return nil, err
	}
	s.log.Info("tribe created", zap.Stringer("tribe", t.ID), zap.Stringer("account", accountID))
	return t, nil
}

func (s *TribeServiceImpl) GetTribes(ctx context.Context, accountID uuid.UUID) ([]model.Tribe, error) {
	return s.tribes.ListForAccount(ctx, accountID)
}

func (s *TribeServiceImpl) GetTribeIDs(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	return s.tribes.TribeIDs(ctx, accountID)
}

func (s *TribeServiceImpl) IsMember(ctx context.Context, tribeID, accountID uuid.UUID) (bool, error) {
	return s.tribes.IsMember(ctx, tribeID, accountID)
}

func (s *TribeServiceImpl) InviteToTribe(ctx context.Context, accountID, tribeID uuid.UUID, codeHash string) error {
	codeHash = strings.ToLower(strings.TrimSpace(codeHash))
	if b, err := hex.DecodeString(codeHash); err != nil || len(b) != 32 {
		return errs.ErrInvalidInviteCode
	}
	now := s.now().UTC()
	return s.tribes.CreateInvite(ctx, model.InviteCode{
		CodeHash:  codeHash,
		AccountID: accountID,
		TribeID:   tribeID,
		Created:   now,
		Expires:   now.Add(s.inviteTTL),
	})
}

// JoinTribe hashes "{pin}:{code}" and redeems the matching invite. A failed redemption
// purges expired invites.
func (s *TribeServiceImpl) JoinTribe(ctx context.Context, accountID uuid.UUID, pin, code string) (*model.Tribe, error) {
	pin, code = strings.TrimSpace(pin), strings.TrimSpace(code)
	if pin == "" || code == "" {
		return nil, errs.ErrInvalidInviteCode
	}
	now := s.now().UTC()
	res, err := s.tribes.Join(ctx, crypto.HashMessage(pin+":"+code), accountID, s.limits, now)
	if err != nil {
		if errors.Is(err, errs.ErrExpiredInviteCode) {
			if n, perr := s.tribes.PurgeExpiredInvites(ctx, now); perr != nil {
				s.log.Warn("purge expired invites", zap.Error(perr))
			} else {
				s.log.Debug("purged expired invites", zap.Int64("count", n))
			}
		}
		return nil, err
	}

	t := res.Tribe
	s.changed(model.TribeChange{TribeID: t.ID, TimestampID: t.TimestampID})
	s.event(ctx, accountID, t.ID, fmt.Sprintf("%s joined the tribe, invited by %s", res.Joiner.FullName, res.Inviter.FullName))
	return &t, nil
}

// LeaveTribe removes the account. The tribe is deleted with its last member.
func (s *TribeServiceImpl) LeaveTribe(ctx context.Context, accountID, tribeID uuid.UUID) error {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	ch, err := s.tribes.Leave(ctx, tribeID, accountID)
	if err != nil {
		return err
	}
	s.changed(*ch)
	if !ch.Deleted {
		s.event(ctx, accountID, tribeID, fmt.Sprintf("%s left the tribe", acc.FullName))
	}
	return nil
}

func (s *TribeServiceImpl) RemoveFromTribe(ctx context.Context, actorID, tribeID uuid.UUID, targetWallet string) error {
	if !crypto.IsAddressValid(targetWallet) {
		return errs.ErrInvalidAddress
	}
	actor, err := s.accounts.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	res, err := s.tribes.RemoveMember(ctx, tribeID, actorID, targetWallet)
	if err != nil {
		return err
	}
	s.changed(res.Change)
	s.event(ctx, actorID, tribeID, fmt.Sprintf("%s removed %s from the tribe", actor.FullName, res.Target.FullName))
	return nil
}

func (s *TribeServiceImpl) UpdateTribeName(ctx context.Context, accountID, tribeID uuid.UUID, name string) (string, error) {
	name, err := validTribeName(name)
	if err != nil {
		return "", err
	}
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	ch, err := s.tribes.Rename(ctx, tribeID, accountID, name)
	if err != nil {
		return "", err
	}
	s.changed(*ch)
	s.event(ctx, accountID, tribeID, fmt.Sprintf("%s renamed the tribe to %s", acc.FullName, name))
	return name, nil
}

func (s *TribeServiceImpl) changed(c model.TribeChange) {
	event, payload := tribeUpdate(c)
	s.notifier.BroadcastToTribe(c.TribeID, event, payload)
}

// event records a system message after the membership change has committed, so a
// failure here is logged and not returned.
func (s *TribeServiceImpl) event(ctx context.Context, actorID, tribeID uuid.UUID, text string) {
	if s.events == nil {
		return
	}
	if _, err := s.events.AddEventMessage(ctx, actorID, tribeID, text); err != nil {
		s.log.Warn("add event message", zap.Stringer("tribe", tribeID), zap.Error(err))
	}
}

func validTribeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxTribeNameLen {
		return "", errs.ErrInvalidTribeName
	}
	return name, nil
}
