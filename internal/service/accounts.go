package service

import (
	"context"
	"net/url"
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

const maxFullNameLen = 64

// AccountService defines registration and profile operations.
type AccountService interface {
	// Register creates an account for a wallet address. The first account becomes admin.
	Register(ctx context.Context, wallet, fullName, profilePhoto string, acceptTerms bool) (*model.Account, error)
	// DoesAccountExist reports whether wallet is registered.
	DoesAccountExist(ctx context.Context, wallet string) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Account, error)
	UpdateName(ctx context.Context, id uuid.UUID, name string) error
	UpdateProfilePhoto(ctx context.Context, id uuid.UUID, photo string) error
	UpdateDeviceToken(ctx context.Context, id uuid.UUID, dt model.DeviceType, token string) error
	// DeleteAccount leaves every tribe and removes the account with its invite codes,
	// sent messages and sessions.
	DeleteAccount(ctx context.Context, id uuid.UUID) error
}

// TribeLeaver is the part of TribeService used when tearing down an account.
type TribeLeaver interface {
	GetTribeIDs(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error)
	LeaveTribe(ctx context.Context, accountID, tribeID uuid.UUID) error
}

type AccountServiceImpl struct {
	accounts repository.AccountRepository
	tribes   TribeLeaver
	log      *zap.Logger
	now      func() time.Time
}

// NewAccountService constructs AccountService.
func NewAccountService(accounts repository.AccountRepository, tribes TribeLeaver, log *zap.Logger) *AccountServiceImpl {
	return &AccountServiceImpl{accounts: accounts, tribes: tribes, log: log, now: time.Now}
}

// Register validates input and creates the account. A duplicate wallet address fails
// with the generic errs.ErrAlreadyExists.
func (s *AccountServiceImpl) Register(ctx context.Context, wallet, fullName, profilePhoto string, acceptTerms bool) (*model.Account, error) {
	if !acceptTerms {
		return nil, errs.ErrTermsNotAccepted
	}
	if !crypto.IsAddressValid(wallet) {
		return nil, errs.ErrInvalidAddress
	}
	name, err := validName(fullName)
	if err != nil {
		return nil, err
	}
	photo, err := validPhoto(profilePhoto)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	a := &model.Account{
		ID:            id,
		WalletAddress: wallet,
		FullName:      name,
		ProfilePhoto:  photo,
		Role:          model.RoleUser,
		AcceptTerms:   true,
		Created:       s.now().UTC(),
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, err
	}
	s.log.Info("account registered", zap.Stringer("account", a.ID), zap.String("role", string(a.Role)))
	return a, nil
}

func (s *AccountServiceImpl) DoesAccountExist(ctx context.Context, wallet string) (bool, error) {
	if !crypto.IsAddressValid(wallet) {
		return false, errs.ErrInvalidAddress
	}
	return s.accounts.ExistsByWallet(ctx, wallet)
}

func (s *AccountServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *AccountServiceImpl) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	name, err := validName(name)
	if err != nil {
		return err
	}
	return s.accounts.UpdateName(ctx, id, name, s.now().UTC())
}

func (s *AccountServiceImpl) UpdateProfilePhoto(ctx context.Context, id uuid.UUID, photo string) error {
	photo, err := validPhoto(photo)
	if err != nil {
		return err
	}
	return s.accounts.UpdateProfilePhoto(ctx, id, photo, s.now().UTC())
}

// UpdateDeviceToken binds the account to a push device. An empty token clears the binding.
func (s *AccountServiceImpl) UpdateDeviceToken(ctx context.Context, id uuid.UUID, dt model.DeviceType, token string) error {
	token = strings.TrimSpace(token)
	if token != "" && !dt.Valid() {
		return errs.Invalid("Invalid device type")
	}
	if token == "" {
		dt = ""
	}
	return s.accounts.UpdateDeviceToken(ctx, id, dt, token, s.now().UTC())
}

// DeleteAccount leaves every tribe first so the remaining members are notified.
func (s *AccountServiceImpl) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	tribes, err := s.tribes.GetTribeIDs(ctx, id)
	if err != nil {
		return err
	}
	for _, tribeID := range tribes {
		if err := s.tribes.LeaveTribe(ctx, id, tribeID); err != nil {
			return err
		}
	}
	if err := s.accounts.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("account deleted", zap.Stringer("account", id), zap.Int("tribes_left", len(tribes)))
	return nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxFullNameLen {
		return "", errs.Invalid("Invalid name")
	}
	return name, nil
}

// validPhoto accepts an empty value or an absolute http(s) URL.
func validPhoto(photo string) (string, error) {
	photo = strings.TrimSpace(photo)
	if photo == "" {
		return "", nil
	}
	u, err := url.Parse(photo)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errs.Invalid("Invalid profile photo url")
	}
	return photo, nil
}
