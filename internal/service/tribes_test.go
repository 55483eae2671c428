package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teatribe/tribes/internal/crypto"
	"github.com/teatribe/tribes/internal/errs"
	"github.com/teatribe/tribes/internal/model"
)

type fakeEvents struct {
	texts  []string
	actors []uuid.UUID
	err    error
}

func (f *fakeEvents) AddEventMessage(_ context.Context, actorID, tribeID uuid.UUID, text string) (*model.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, text)
	f.actors = append(f.actors, actorID)
	return &model.Message{TribeID: tribeID, Body: text, Type: model.TypeSystemEvent}, nil
}

type tribeFixture struct {
	svc      *TribeServiceImpl
	tribes   *fakeTribes
	events   *fakeEvents
	notifier *recordingNotifier
	w, x     model.Account
}

func newTribeFixture(t *testing.T) *tribeFixture {
	t.Helper()
	w := model.Account{ID: uuid.Must(uuid.NewV4()), WalletAddress: newWallet(t).address, FullName: "Wren"}
	x := model.Account{ID: uuid.Must(uuid.NewV4()), WalletAddress: newWallet(t).address, FullName: "Xan"}
	f := &tribeFixture{tribes: &fakeTribes{}, events: &fakeEvents{}, notifier: &recordingNotifier{}, w: w, x: x}
	f.svc = NewTribeService(f.tribes, newFakeAccounts(w, x), f.notifier,
		model.TribeLimits{MaxMembers: 10, MaxTribesPerAccount: 5}, 5*time.Minute, zaptest.NewLogger(t))
	f.svc.SetEventPoster(f.events)
	f.svc.now = fixedNow
	return f
}

func TestTribes_CreateTribe(t *testing.T) {
	f := newTribeFixture(t)

	tr, err := f.svc.CreateTribe(context.Background(), f.w.ID, "  Campfire ")
	require.NoError(t, err)
	require.Equal(t, "Campfire", tr.Name)
	require.NotEqual(t, uuid.Nil, tr.ID)
	require.NotEqual(t, uuid.Nil, tr.TimestampID)
	require.Len(t, tr.Members, 1)

	for _, bad := range []string{"", "   ", strings.Repeat("a", 25)} {
		_, err := f.svc.CreateTribe(context.Background(), f.w.ID, bad)
		require.ErrorIs(t, err, errs.ErrInvalidTribeName, bad)
	}
	_, err = f.svc.CreateTribe(context.Background(), f.w.ID, strings.Repeat("é", 24))
	require.NoError(t, err)

	f.tribes.createErr = errs.ErrTooManyTribes
	_, err = f.svc.CreateTribe(context.Background(), f.w.ID, "Sixth")
	require.ErrorIs(t, err, errs.ErrTooManyTribes)
}

func TestTribes_InviteToTribe(t *testing.T) {
	f := newTribeFixture(t)
	tribe := uuid.Must(uuid.NewV4())
	hash := crypto.HashMessage("123456:ZZYY")

	require.NoError(t, f.svc.InviteToTribe(context.Background(), f.w.ID, tribe, strings.ToUpper(hash)))
	require.Len(t, f.tribes.invites, 1)
	inv := f.tribes.invites[0]
	require.Equal(t, hash, inv.CodeHash)
	require.Equal(t, testNow, inv.Created)
	require.Equal(t, testNow.Add(5*time.Minute), inv.Expires)
	require.Equal(t, f.w.ID, inv.AccountID)

	for _, bad := range []string{"", "123456:ZZYY", hash[:62], hash + "00"} {
		require.ErrorIs(t, f.svc.InviteToTribe(context.Background(), f.w.ID, tribe, bad), errs.ErrInvalidInviteCode, bad)
	}

	f.tribes.inviteErr = errs.ErrNotMember
	require.ErrorIs(t, f.svc.InviteToTribe(context.Background(), f.x.ID, tribe, hash), errs.ErrNotMember)
}

func TestTribes_JoinTribe(t *testing.T) {
	f := newTribeFixture(t)
	tr := model.Tribe{ID: uuid.Must(uuid.NewV4()), Name: "Campfire", TimestampID: uuid.Must(uuid.NewV4())}
	f.tribes.joinRes = &model.JoinResult{Tribe: tr, Joiner: f.x, Inviter: f.w}

	got, err := f.svc.JoinTribe(context.Background(), f.x.ID, " 123456", "ZZYY ")
	require.NoError(t, err)
	require.Equal(t, tr.ID, got.ID)
	require.Equal(t, crypto.HashMessage("123456:ZZYY"), f.tribes.joinHash)

	require.Equal(t, []string{EventTribeUpdated}, f.notifier.events())
	require.Equal(t, TribeUpdate{TribeID: tr.ID.String(), TimestampID: tr.TimestampID.String()}, f.notifier.broadcasts[0].payload)
	require.Equal(t, []string{"Xan joined the tribe, invited by Wren"}, f.events.texts)
	require.Equal(t, []uuid.UUID{f.x.ID}, f.events.actors)
}

func TestTribes_JoinTribe_Failures(t *testing.T) {
	f := newTribeFixture(t)

	_, err := f.svc.JoinTribe(context.Background(), f.x.ID, "", "ZZYY")
	require.ErrorIs(t, err, errs.ErrInvalidInviteCode)

	f.tribes.joinErr = errs.ErrExpiredInviteCode
	_, err = f.svc.JoinTribe(context.Background(), f.x.ID, "1", "A")
	require.ErrorIs(t, err, errs.ErrExpiredInviteCode)
	require.Equal(t, 1, f.tribes.purged)

	for _, want := range []error{errs.ErrInvalidInviteCode, errs.ErrTribeFull, errs.ErrTooManyTribes, errs.ErrAlreadyMember} {
		f.tribes.joinErr = want
		_, err = f.svc.JoinTribe(context.Background(), f.x.ID, "1", "A")
		require.ErrorIs(t, err, want)
	}
	require.Equal(t, 1, f.tribes.purged)
	require.Empty(t, f.notifier.events())
	require.Empty(t, f.events.texts)
}

func TestTribes_JoinTribe_EventFailureIsNotFatal(t *testing.T) {
	f := newTribeFixture(t)
	f.tribes.joinRes = &model.JoinResult{Tribe: model.Tribe{ID: uuid.Must(uuid.NewV4())}, Joiner: f.x, Inviter: f.w}
	f.events.err = errors.New("db hiccup")

	_, err := f.svc.JoinTribe(context.Background(), f.x.ID, "1", "A")
	require.NoError(t, err)
}

func TestTribes_LeaveTribe(t *testing.T) {
	f := newTribeFixture(t)
	tribe := uuid.Must(uuid.NewV4())

	require.NoError(t, f.svc.LeaveTribe(context.Background(), f.x.ID, tribe))
	require.Equal(t, []string{EventTribeUpdated}, f.notifier.events())
	require.Equal(t, []string{"Xan left the tribe"}, f.events.texts)

	f.tribes.leaveCh = &model.TribeChange{TribeID: tribe, Deleted: true}
	require.NoError(t, f.svc.LeaveTribe(context.Background(), f.w.ID, tribe))
	require.Equal(t, []string{EventTribeUpdated, EventTribeDeleted}, f.notifier.events())
	require.Len(t, f.events.texts, 1, "no event in a deleted tribe")

	f.tribes.leaveErr = errs.ErrNotMember
	require.ErrorIs(t, f.svc.LeaveTribe(context.Background(), f.w.ID, tribe), errs.ErrNotMember)
	require.ErrorIs(t, f.svc.LeaveTribe(context.Background(), uuid.Must(uuid.NewV4()), tribe), errs.ErrInvalidUser)
}

func TestTribes_RemoveFromTribe(t *testing.T) {
	f := newTribeFixture(t)
	tribe := uuid.Must(uuid.NewV4())
	f.tribes.removeRes = &model.RemoveResult{
		Change: model.TribeChange{TribeID: tribe, TimestampID: uuid.Must(uuid.NewV4())},
		Target: f.x,
	}

	require.NoError(t, f.svc.RemoveFromTribe(context.Background(), f.w.ID, tribe, f.x.WalletAddress))
	require.Equal(t, []string{EventTribeUpdated}, f.notifier.events())
	require.Equal(t, []string{"Wren removed Xan from the tribe"}, f.events.texts)

	require.ErrorIs(t, f.svc.RemoveFromTribe(context.Background(), f.w.ID, tribe, "0xabc"), errs.ErrInvalidAddress)

	f.tribes.removeErr = errs.ErrSelfRemoval
	require.ErrorIs(t, f.svc.RemoveFromTribe(context.Background(), f.w.ID, tribe, f.w.WalletAddress), errs.ErrSelfRemoval)
}

func TestTribes_UpdateTribeName(t *testing.T) {
	f := newTribeFixture(t)
	tribe := uuid.Must(uuid.NewV4())
	f.tribes.renameCh = &model.TribeChange{TribeID: tribe, TimestampID: uuid.Must(uuid.NewV4())}

	name, err := f.svc.UpdateTribeName(context.Background(), f.w.ID, tribe, " Bonfire ")
	require.NoError(t, err)
	require.Equal(t, "Bonfire", name)
	require.Equal(t, "Bonfire", f.tribes.renamedTo)
	require.Equal(t, []string{"Wren renamed the tribe to Bonfire"}, f.events.texts)

	_, err = f.svc.UpdateTribeName(context.Background(), f.w.ID, tribe, strings.Repeat("x", 30))
	require.ErrorIs(t, err, errs.ErrInvalidTribeName)

	f.tribes.renameErr = errs.ErrNotMember
	_, err = f.svc.UpdateTribeName(context.Background(), f.x.ID, tribe, "Mine")
	require.ErrorIs(t, err, errs.ErrNotMember)
}

func TestTribes_Reads(t *testing.T) {
	f := newTribeFixture(t)
	id := uuid.Must(uuid.NewV4())
	f.tribes.ids = []uuid.UUID{id}
	f.tribes.list = []model.Tribe{{ID: id}}

	list, err := f.svc.GetTribes(context.Background(), f.w.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	ids, err := f.svc.GetTribeIDs(context.Background(), f.w.ID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{id}, ids)

	ok, err := f.svc.IsMember(context.Background(), id, f.w.ID)
	require.NoError(t, err)
	require.True(t, ok)
}
