package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/teatribe/tribes/internal/convert"
	"github.com/teatribe/tribes/internal/errs"
	"github.com/teatribe/tribes/internal/model"
	"github.com/teatribe/tribes/internal/repository"
)

const maxReactionLen = 16

// PostInput is a client's request to post into a tribe.
type PostInput struct {
	TribeID     uuid.UUID
	TimestampID uuid.UUID // the caller's view of the tribe TimestampId
	Body        string
	Caption     string
	Type        model.MessageType
	Tag         model.MessageTag
	ContextID   *uuid.UUID
	Keys        []model.MessageKey
}

// MessageService defines posting, reading and housekeeping of tribe messages.
type MessageService interface {
	// PostMessage stores a message from a member whose view of the tribe is current.
	PostMessage(ctx context.Context, accountID uuid.UUID, in PostInput) (*model.Message, error)
	// GetMessages returns the live messages of the tribe, keys limited to the caller's.
	GetMessages(ctx context.Context, accountID, tribeID uuid.UUID) ([]model.Message, error)
	// DeleteMessage soft-deletes a message sent by the account.
	DeleteMessage(ctx context.Context, accountID, messageID uuid.UUID) error
	MarkAsViewed(ctx context.Context, accountID, messageID uuid.UUID) error
	GetViewers(ctx context.Context, accountID, messageID uuid.UUID) ([]string, error)
	// GetAllowedTeaRecipients returns the account's tribes that still accept tea today.
	GetAllowedTeaRecipients(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error)
	AddReaction(ctx context.Context, accountID, messageID uuid.UUID, content string) error
	// DeleteExpiredMessages purges messages older than the horizon.
	DeleteExpiredMessages(ctx context.Context) (int64, error)
}

type MessageServiceImpl struct {
	messages repository.MessageRepository
	notifier Notifier
	teaCap   int
	horizon  time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewMessageService constructs MessageService. horizon bounds both message lifetime
// and the tea window.
func NewMessageService(
	messages repository.MessageRepository,
	notifier Notifier,
	teaCap int,
	horizon time.Duration,
	log *zap.Logger,
) *MessageServiceImpl {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &MessageServiceImpl{
		messages: messages,
		notifier: notifier,
		teaCap:   teaCap,
		horizon:  horizon,
		log:      log,
		now:      time.Now,
	}
}

// PostMessage validates input, stores the message and fans it out. Tea posts are
// admitted against the quota inside the storing transaction.
func (s *MessageServiceImpl) PostMessage(ctx context.Context, accountID uuid.UUID, in PostInput) (*model.Message, error) {
	if in.Tag == "" {
		in.Tag = model.TagChat
	}
	if !in.Type.Valid() || in.Type == model.TypeSystemEvent || !in.Tag.Valid() {
		return nil, errs.ErrInvalidMessage
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, errs.ErrInvalidMessage
	}
	for _, k := range in.Keys {
		if k.PublicKey == "" || k.EncryptionKey == "" {
			return nil, errs.ErrInvalidMessage
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expires := now.Add(s.horizon)
	since := now.Add(-s.horizon)
	var quota *model.TeaQuota
	if in.Tag == model.TagTea {
		quota = &model.TeaQuota{Cap: s.teaCap, Since: since}
	}
	sender := accountID

	m, err := s.messages.Post(ctx, model.NewMessage{
		ID:        id,
		TribeID:   in.TribeID,
		SenderID:  &sender,
		ContextID: in.ContextID,
		Body:      in.Body,
		Caption:   in.Caption,
		Type:      in.Type,
		Tag:       in.Tag,
		Expires:   &expires,
		TimeStamp: now,
		Keys:      in.Keys,
	}, in.TimestampID, quota, since)
	if err != nil {
		return nil, err
	}

	s.notifier.BroadcastToTribe(m.TribeID, EventMessage, convert.ToMessage(*m))
	s.notifier.PushToTribe(m.TribeID, accountID, m.Tag, "", pushBody(*m))
	return m, nil
}

func (s *MessageServiceImpl) GetMessages(ctx context.Context, accountID, tribeID uuid.UUID) ([]model.Message, error) {
	return s.messages.List(ctx, tribeID, accountID, s.now().UTC().Add(-s.horizon))
}

func (s *MessageServiceImpl) DeleteMessage(ctx context.Context, accountID, messageID uuid.UUID) error {
	tribeID, err := s.messages.SoftDelete(ctx, messageID, accountID)
	if err != nil {
		return err
	}
	s.notifier.BroadcastToTribe(tribeID, EventMessageDeleted, MessageDeleted{ID: messageID.String(), TribeID: tribeID.String()})
	return nil
}

func (s *MessageServiceImpl) MarkAsViewed(ctx context.Context, accountID, messageID uuid.UUID) error {
	return s.messages.AddViewer(ctx, messageID, accountID)
}

func (s *MessageServiceImpl) GetViewers(ctx context.Context, accountID, messageID uuid.UUID) ([]string, error) {
	return s.messages.Viewers(ctx, messageID, accountID)
}

func (s *MessageServiceImpl) GetAllowedTeaRecipients(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	return s.messages.AllowedTeaTribes(ctx, accountID, model.TeaQuota{Cap: s.teaCap, Since: s.now().UTC().Add(-s.horizon)})
}

func (s *MessageServiceImpl) AddReaction(ctx context.Context, accountID, messageID uuid.UUID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxReactionLen {
		return errs.Invalid("Invalid reaction")
	}
	_, err := s.messages.AddReaction(ctx, messageID, accountID, content, s.now().UTC())
	return err
}

// AddEventMessage stores a sender-less system event and fans it out. actorID is
// excluded from the push.
func (s *MessageServiceImpl) AddEventMessage(ctx context.Context, actorID, tribeID uuid.UUID, text string) (*model.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expires := now.Add(s.horizon)
	m, err := s.messages.AddEvent(ctx, model.NewMessage{
		ID:        id,
		TribeID:   tribeID,
		Body:      text,
		Type:      model.TypeSystemEvent,
		Tag:       model.TagChat,
		Expires:   &expires,
		TimeStamp: now,
	})
	if err != nil {
		return nil, err
	}
	s.notifier.BroadcastToTribe(tribeID, EventMessage, convert.ToMessage(*m))
	s.notifier.PushToTribe(tribeID, actorID, m.Tag, "", text)
	return m, nil
}

func (s *MessageServiceImpl) DeleteExpiredMessages(ctx context.Context) (int64, error) {
	return s.messages.DeleteExpired(ctx, s.now().UTC().Add(-s.horizon))
}

// RunSweeper deletes expired messages every interval until ctx is done.
func (s *MessageServiceImpl) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.DeleteExpiredMessages(ctx)
			if err != nil {
				s.log.Error("sweep expired messages", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("swept expired messages", zap.Int64("count", n))
			}
		}
	}
}

// pushBody never echoes message content, which is end-to-end encrypted.
func pushBody(m model.Message) string {
	name := "Someone"
	if m.Sender != nil && m.Sender.FullName != "" {
		name = m.Sender.FullName
	}
	if m.Tag == model.TagTea {
		return fmt.Sprintf("%s spilled some tea", name)
	}
	switch m.Type {
	case model.TypeImage:
		return fmt.Sprintf("%s shared a photo", name)
	case model.TypeVideo:
		return fmt.Sprintf("%s shared a video", name)
	}
	return fmt.Sprintf("%s sent a message", name)
}
