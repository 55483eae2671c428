package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teatribe/tribes/internal/errs"
	"github.com/teatribe/tribes/internal/model"
)

type fakeLeaver struct {
	ids    []uuid.UUID
	left   []uuid.UUID
	err    error
	idsErr error
}

func (f *fakeLeaver) GetTribeIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) { return f.ids, f.idsErr }

func (f *fakeLeaver) LeaveTribe(_ context.Context, _, tribeID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.left = append(f.left, tribeID)
	return nil
}

func newAccountService(t *testing.T, accounts *fakeAccounts, leaver *fakeLeaver) *AccountServiceImpl {
	s := NewAccountService(accounts, leaver, zaptest.NewLogger(t))
	s.now = fixedNow
	return s
}

func TestAccounts_Register(t *testing.T) {
	ctx := context.Background()
	accounts := newFakeAccounts()
	s := newAccountService(t, accounts, &fakeLeaver{})
	w1, w2 := newWallet(t), newWallet(t)

	first, err := s.Register(ctx, w1.address, "  Wren  ", "https://cdn.example.com/w.png", true)
	require.NoError(t, err)
	require.Equal(t, model.RoleAdmin, first.Role)
	require.Equal(t, "Wren", first.FullName)
	require.Equal(t, testNow, first.Created)

	second, err := s.Register(ctx, w2.address, "Xan", "", true)
	require.NoError(t, err)
	require.Equal(t, model.RoleUser, second.Role)

	_, err = s.Register(ctx, w1.address, "Again", "", true)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	accounts.createErr = errors.New("boom")
	_, err = s.Register(ctx, newWallet(t).address, "Y", "", true)
	require.EqualError(t, err, "boom")
}

func TestAccounts_Register_Validation(t *testing.T) {
	s := newAccountService(t, newFakeAccounts(), &fakeLeaver{})
	w := newWallet(t)
	ctx := context.Background()

	_, err := s.Register(ctx, w.address, "W", "", false)
	require.ErrorIs(t, err, errs.ErrTermsNotAccepted)

	_, err = s.Register(ctx, strings.ToLower(w.address), "W", "", true)
	require.ErrorIs(t, err, errs.ErrInvalidAddress)

	_, err = s.Register(ctx, w.address, "   ", "", true)
	require.Error(t, err)

	for _, photo := range []string{"ftp://x/y.png", "/relative.png", "not a url", "https://"} {
		_, err = s.Register(ctx, w.address, "W", photo, true)
		require.Error(t, err, photo)
	}
}

func TestAccounts_DoesAccountExist(t *testing.T) {
	w := newWallet(t)
	accounts := newFakeAccounts(model.Account{ID: uuid.Must(uuid.NewV4()), WalletAddress: w.address})
	s := newAccountService(t, accounts, &fakeLeaver{})

	ok, err := s.DoesAccountExist(context.Background(), w.address)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.DoesAccountExist(context.Background(), newWallet(t).address)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.DoesAccountExist(context.Background(), "0x1")
	require.ErrorIs(t, err, errs.ErrInvalidAddress)
}

func TestAccounts_Updates(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	accounts := newFakeAccounts(model.Account{ID: id, FullName: "Old"})
	s := newAccountService(t, accounts, &fakeLeaver{})
	ctx := context.Background()

	require.NoError(t, s.UpdateName(ctx, id, " New "))
	require.Equal(t, "New", accounts.byID[id].FullName)
	require.Error(t, s.UpdateName(ctx, id, ""))

	require.NoError(t, s.UpdateProfilePhoto(ctx, id, "http://cdn.example.com/a.jpg"))
	require.Error(t, s.UpdateProfilePhoto(ctx, id, "javascript:alert(1)"))

	require.NoError(t, s.UpdateDeviceToken(ctx, id, model.DeviceApple, "apns-token"))
	require.Equal(t, model.DeviceApple, accounts.byID[id].DeviceType)
	require.True(t, accounts.byID[id].HasPushBinding())
	require.Error(t, s.UpdateDeviceToken(ctx, id, "windows", "tok"))

	require.NoError(t, s.UpdateDeviceToken(ctx, id, model.DeviceApple, ""))
	require.False(t, accounts.byID[id].HasPushBinding())
	require.Equal(t, model.DeviceType(""), accounts.byID[id].DeviceType)

	require.ErrorIs(t, s.UpdateName(ctx, uuid.Must(uuid.NewV4()), "Ghost"), errs.ErrInvalidUser)
}

func TestAccounts_DeleteAccount(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	t1, t2 := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	accounts := newFakeAccounts(model.Account{ID: id})
	leaver := &fakeLeaver{ids: []uuid.UUID{t1, t2}}
	s := newAccountService(t, accounts, leaver)

	require.NoError(t, s.DeleteAccount(context.Background(), id))
	require.Equal(t, []uuid.UUID{t1, t2}, leaver.left)
	require.Equal(t, []uuid.UUID{id}, accounts.deleted)

	other := uuid.Must(uuid.NewV4())
	accounts.byID[other] = &model.Account{ID: other}
	leaver.err = errs.ErrNotMember
	require.ErrorIs(t, s.DeleteAccount(context.Background(), other), errs.ErrNotMember)
	require.Contains(t, accounts.byID, other)
}
