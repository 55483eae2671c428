package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/teatribe/tribes/internal/crypto"
	"github.com/teatribe/tribes/internal/errs"
	"github.com/teatribe/tribes/internal/limiter"
	"github.com/teatribe/tribes/internal/model"
	"github.com/teatribe/tribes/internal/repository"
	"github.com/teatribe/tribes/internal/token"
)

const refreshTokenBytes = 40

// SessionService defines wallet sign-in and refresh-token rotation.
type SessionService interface {
	// RequestAuthentication returns the challenge the wallet must sign.
	RequestAuthentication() string
	// Authenticate verifies signature over the challenge and starts a new session,
	// replacing any other active session of the account.
	Authenticate(ctx context.Context, wallet, signature, publicKey, ip string) (model.Tokens, *model.Account, error)
	// Refresh rotates the refresh token rawToken.
	Refresh(ctx context.Context, rawToken, ip string) (model.Tokens, *model.Account, error)
	// RevokeToken ends the session owning rawToken.
	RevokeToken(ctx context.Context, rawToken, ip string) error
}

type SessionServiceImpl struct {
	accounts   repository.AccountRepository
	sessions   repository.SessionRepository
	verifier   *crypto.Verifier
	tokens     *token.Manager
	lim        limiter.Limiter
	notifier   Notifier
	refreshTTL time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewSessionService constructs SessionService with required dependencies.
func NewSessionService(
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	verifier *crypto.Verifier,
	tokens *token.Manager,
	lim limiter.Limiter,
	notifier Notifier,
	refreshTTL time.Duration,
	log *zap.Logger,
) *SessionServiceImpl {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &SessionServiceImpl{
		accounts:   accounts,
		sessions:   sessions,
		verifier:   verifier,
		tokens:     tokens,
		lim:        lim,
		notifier:   notifier,
		refreshTTL: refreshTTL,
		log:        log,
		now:        time.Now,
	}
}

func (s *SessionServiceImpl) RequestAuthentication() string { return s.verifier.Challenge() }

// Authenticate applies rate limiting by (wallet, ip) and verifies the wallet signature.
func (s *SessionServiceImpl) Authenticate(ctx context.Context, wallet, signature, publicKey, ip string) (model.Tokens, *model.Account, error) {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return model.Tokens{}, nil, errs.Invalid("Public key is required")
	}
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, wallet, ipHash)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	if !allowed {
		return model.Tokens{}, nil, errs.ErrRateLimited
	}

	ok, err := s.verifier.Verify(wallet, signature)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	if !ok {
		if blocked, _, ferr := s.lim.Failure(ctx, wallet, ipHash); ferr == nil && blocked {
			return model.Tokens{}, nil, errs.ErrRateLimited
		} else if ferr != nil {
			s.log.Warn("record sign-in failure", zap.Error(ferr))
		}
		return model.Tokens{}, nil, errs.ErrInvalidSignature
	}
	if err := s.lim.Success(ctx, wallet, ipHash); err != nil {
		s.log.Warn("reset sign-in limiter", zap.Error(err))
	}

	acc, err := s.accounts.GetByWallet(ctx, wallet)
	if err != nil {
		return model.Tokens{}, nil, err
	}

	raw, rt, err := s.newRefreshToken(acc.ID, ip)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	changes, err := s.sessions.Start(ctx, acc.ID, publicKey, rt)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	acc.PublicKey = publicKey
	for _, c := range changes {
		event, payload := tribeUpdate(c)
		s.notifier.BroadcastToTribe(c.TribeID, event, payload)
	}

	tokens, err := s.issue(acc, raw)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	s.log.Info("account signed in", zap.Stringer("account", acc.ID), zap.Int("tribes", len(changes)))
	return tokens, acc, nil
}

// Refresh exchanges an active refresh token for a new token pair. A revoked or
// unknown token fails with errs.ErrInvalidToken.
func (s *SessionServiceImpl) Refresh(ctx context.Context, rawToken, ip string) (model.Tokens, *model.Account, error) {
	if rawToken == "" {
		return model.Tokens{}, nil, errs.ErrInvalidToken
	}
	raw, next, err := s.newRefreshToken(uuid.Nil, ip)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	acc, err := s.sessions.Rotate(ctx, crypto.HashMessage(rawToken), next)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidToken) {
			s.log.Warn("refresh with inactive token", zap.String("ip", ip))
		}
		return model.Tokens{}, nil, err
	}
	tokens, err := s.issue(acc, raw)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	return tokens, acc, nil
}

func (s *SessionServiceImpl) RevokeToken(ctx context.Context, rawToken, ip string) error {
	if rawToken == "" {
		return errs.ErrInvalidToken
	}
	return s.sessions.Revoke(ctx, crypto.HashMessage(rawToken), ip, s.now())
}

// newRefreshToken returns the raw token and its stored form. On rotation the owner is
// resolved by the repository, so accountID may be uuid.Nil.
func (s *SessionServiceImpl) newRefreshToken(accountID uuid.UUID, ip string) (string, model.RefreshToken, error) {
	raw, err := crypto.RandomTokenHex(refreshTokenBytes)
	if err != nil {
		return "", model.RefreshToken{}, err
	}
	now := s.now().UTC()
	rt := model.RefreshToken{
		AccountID:   accountID,
		TokenHash:   crypto.HashMessage(raw),
		Expires:     now.Add(s.refreshTTL),
		Created:     now,
		CreatedByIP: ip,
	}
	return raw, rt, nil
}

func (s *SessionServiceImpl) issue(acc *model.Account, refresh string) (model.Tokens, error) {
	access, exp, err := s.tokens.Issue(acc.ID, acc.Role)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, nil
}
