package service

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	tribesv1 "github.com/teatribe/tribes/api/tribes/v1"
	"github.com/teatribe/tribes/internal/errs"
	"github.com/teatribe/tribes/internal/model"
)

type messageFixture struct {
	svc      *MessageServiceImpl
	messages *fakeMessages
	notifier *recordingNotifier
	me       uuid.UUID
	tribe    uuid.UUID
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	f := &messageFixture{
		messages: &fakeMessages{sender: model.Account{FullName: "Wren", WalletAddress: "0xW"}},
		notifier: &recordingNotifier{},
		me:       uuid.Must(uuid.NewV4()),
		tribe:    uuid.Must(uuid.NewV4()),
	}
	f.svc = NewMessageService(f.messages, f.notifier, 39, 24*time.Hour, zaptest.NewLogger(t))
	f.svc.now = fixedNow
	return f
}

func (f *messageFixture) input(typ model.MessageType, tag model.MessageTag) PostInput {
	return PostInput{
		TribeID:     f.tribe,
		TimestampID: uuid.Must(uuid.NewV4()),
		Body:        "ciphertext",
		Type:        typ,
		Tag:         tag,
		Keys:        []model.MessageKey{{PublicKey: "pk-w", EncryptionKey: "k1"}},
	}
}

func TestMessages_PostChat(t *testing.T) {
	f := newMessageFixture(t)
	in := f.input(model.TypeText, "")
	ctxID := uuid.Must(uuid.NewV7())
	in.ContextID = &ctxID

	m, err := f.svc.PostMessage(context.Background(), f.me, in)
	require.NoError(t, err)
	require.Equal(t, model.TagChat, m.Tag)

	require.Len(t, f.messages.posts, 1)
	call := f.messages.posts[0]
	require.Nil(t, call.quota, "chat posts are not metered")
	require.Equal(t, in.TimestampID, call.timestamp)
	require.Equal(t, testNow.Add(-24*time.Hour), call.horizon)
	require.Equal(t, testNow.Add(24*time.Hour), *call.msg.Expires)
	require.Equal(t, f.me, *call.msg.SenderID)
	require.Equal(t, &ctxID, call.msg.ContextID)
	require.Equal(t, byte(7), call.msg.ID.Version())

	require.Equal(t, []string{EventMessage}, f.notifier.events())
	payload, ok := f.notifier.broadcasts[0].payload.(tribesv1.Message)
	require.True(t, ok)
	require.Equal(t, m.ID.String(), payload.ID)
	require.Len(t, f.notifier.pushes, 1)
	require.Equal(t, push{tribe: f.tribe, exclude: f.me, tag: model.TagChat, body: "Wren sent a message"}, f.notifier.pushes[0])
}

func TestMessages_PostTeaIsMetered(t *testing.T) {
	f := newMessageFixture(t)

	_, err := f.svc.PostMessage(context.Background(), f.me, f.input(model.TypeImage, model.TagTea))
	require.NoError(t, err)
	require.Equal(t, &model.TeaQuota{Cap: 39, Since: testNow.Add(-24 * time.Hour)}, f.messages.posts[0].quota)
	require.Equal(t, "Wren spilled some tea", f.notifier.pushes[0].body)

	f.messages.postErr = errs.ErrTeaLimit
	_, err = f.svc.PostMessage(context.Background(), f.me, f.input(model.TypeText, model.TagTea))
	require.ErrorIs(t, err, errs.ErrTeaLimit)
	require.Len(t, f.notifier.pushes, 1, "rejected posts are not fanned out")
}

func TestMessages_PostValidation(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	bad := []PostInput{
		f.input("gif", model.TagChat),
		f.input(model.TypeSystemEvent, model.TagChat),
		f.input(model.TypeText, "gossip"),
	}
	empty := f.input(model.TypeText, model.TagChat)
	empty.Body = "  "
	bad = append(bad, empty)
	noKey := f.input(model.TypeText, model.TagChat)
	noKey.Keys = []model.MessageKey{{PublicKey: "pk"}}
	bad = append(bad, noKey)

	for _, in := range bad {
		_, err := f.svc.PostMessage(ctx, f.me, in)
		require.ErrorIs(t, err, errs.ErrInvalidMessage)
	}
	require.Empty(t, f.messages.posts)

	f.messages.postErr = errs.ErrInvalidTribeTimestamp
	_, err := f.svc.PostMessage(ctx, f.me, f.input(model.TypeText, model.TagChat))
	require.ErrorIs(t, err, errs.ErrInvalidTribeTimestamp)
}

func TestPushBody(t *testing.T) {
	w := &model.Account{FullName: "Wren"}
	require.Equal(t, "Wren shared a photo", pushBody(model.Message{Sender: w, Type: model.TypeImage, Tag: model.TagChat}))
	require.Equal(t, "Wren shared a video", pushBody(model.Message{Sender: w, Type: model.TypeVideo, Tag: model.TagChat}))
	require.Equal(t, "Someone sent a message", pushBody(model.Message{Type: model.TypeText, Tag: model.TagChat}))
}

func TestMessages_GetAndDelete(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetMessages(ctx, f.me, f.tribe)
	require.NoError(t, err)
	require.Equal(t, testNow.Add(-24*time.Hour), f.messages.listSince)

	msg := uuid.Must(uuid.NewV7())
	f.messages.softTribe = f.tribe
	require.NoError(t, f.svc.DeleteMessage(ctx, f.me, msg))
	require.Equal(t, []string{EventMessageDeleted}, f.notifier.events())
	require.Equal(t, MessageDeleted{ID: msg.String(), TribeID: f.tribe.String()}, f.notifier.broadcasts[0].payload)

	f.messages.softErr = errs.ErrNotSender
	require.ErrorIs(t, f.svc.DeleteMessage(ctx, f.me, msg), errs.ErrNotSender)
	require.Len(t, f.notifier.broadcasts, 1)
}

func TestMessages_MarkAsViewedIsIdempotent(t *testing.T) {
	f := newMessageFixture(t)
	msg := uuid.Must(uuid.NewV7())

	require.NoError(t, f.svc.MarkAsViewed(context.Background(), f.me, msg))
	require.NoError(t, f.svc.MarkAsViewed(context.Background(), f.me, msg))
	viewers, err := f.svc.GetViewers(context.Background(), f.me, msg)
	require.NoError(t, err)
	require.Equal(t, []string{f.me.String()}, viewers)
}

func TestMessages_TeaRecipientsReactionsAndSweep(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	f.messages.allowed = []uuid.UUID{f.tribe}

	ids, err := f.svc.GetAllowedTeaRecipients(ctx, f.me)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{f.tribe}, ids)
	require.Equal(t, model.TeaQuota{Cap: 39, Since: testNow.Add(-24 * time.Hour)}, f.messages.teaQuota)

	require.NoError(t, f.svc.AddReaction(ctx, f.me, uuid.Must(uuid.NewV7()), " fire "))
	require.Equal(t, []string{"fire"}, f.messages.reactions)
	require.Error(t, f.svc.AddReaction(ctx, f.me, uuid.Must(uuid.NewV7()), ""))
	require.Error(t, f.svc.AddReaction(ctx, f.me, uuid.Must(uuid.NewV7()), "this reaction is far too long"))

	n, err := f.svc.DeleteExpiredMessages(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Equal(t, testNow.Add(-24*time.Hour), f.messages.cutoff)
}

func TestMessages_AddEventMessage(t *testing.T) {
	f := newMessageFixture(t)

	m, err := f.svc.AddEventMessage(context.Background(), f.me, f.tribe, "Xan left the tribe")
	require.NoError(t, err)
	require.Equal(t, model.TypeSystemEvent, m.Type)

	require.Len(t, f.messages.events, 1)
	ev := f.messages.events[0]
	require.Nil(t, ev.SenderID)
	require.Empty(t, ev.Keys)
	require.Equal(t, testNow.Add(24*time.Hour), *ev.Expires)

	require.Equal(t, []string{EventMessage}, f.notifier.events())
	require.Equal(t, push{tribe: f.tribe, exclude: f.me, tag: model.TagChat, body: "Xan left the tribe"}, f.notifier.pushes[0])
}

func TestMessages_RunSweeperStopsOnCancel(t *testing.T) {
	f := newMessageFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
