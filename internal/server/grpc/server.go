// Package grpcserver exposes the tribes.v1 gRPC API handlers.
package grpcserver

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	tribesv1 "github.com/teatribe/tribes/api/tribes/v1"
	"github.com/teatribe/tribes/internal/convert"
	"github.com/teatribe/tribes/internal/errs"
	"github.com/teatribe/tribes/internal/model"
	"github.com/teatribe/tribes/internal/service"
	"github.com/teatribe/tribes/internal/token"
)

// Server wires services into gRPC handlers.
type Server struct {
	tribesv1.UnimplementedTribesServer
	sessions service.SessionService
	accounts service.AccountService
	tribes   service.TribeService
	messages service.MessageService
	log      *zap.Logger
}

// New constructs a gRPC server with injected services.
func New(
	sessions service.SessionService,
	accounts service.AccountService,
	tribes service.TribeService,
	messages service.MessageService,
	log *zap.Logger,
) *Server {
	return &Server{sessions: sessions, accounts: accounts, tribes: tribes, messages: messages, log: log}
}

// NewGRPCServer builds a grpc.Server with the interceptor chain, the tribes.v1 service
// and the standard health service.
func NewGRPCServer(srv *Server, tokens *token.Manager, log *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log), AuthUnary(tokens)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	gs := grpc.NewServer(opts...)
	tribesv1.RegisterTribesServer(gs, srv)

	hs := health.NewServer()
	hs.SetServingStatus(tribesv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

func (s *Server) fail(method string, err error) error {
	return toStatus(s.log, tribesv1.FullMethod(method), err)
}

func caller(ctx context.Context) (uuid.UUID, error) {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return uuid.Nil, status.Error(codes.Unauthenticated, "no auth")
	}
	return id.AccountID, nil
}

// --- Sessions ---

func (s *Server) RequestAuthentication(context.Context, *tribesv1.RequestAuthenticationRequest) (*tribesv1.RequestAuthenticationResponse, error) {
	return &tribesv1.RequestAuthenticationResponse{Challenge: s.sessions.RequestAuthentication()}, nil
}

// Authenticate verifies the wallet signature and starts a session.
func (s *Server) Authenticate(ctx context.Context, req *tribesv1.AuthenticateRequest) (*tribesv1.AuthenticateResponse, error) {
	tok, acc, err := s.sessions.Authenticate(ctx, req.WalletAddress, req.Signature, req.PublicKey, remoteIP(ctx))
	if err != nil {
		return nil, s.fail(tribesv1.MethodAuthenticate, err)
	}
	return convert.ToAuthenticateResponse(tok, *acc), nil
}

// RefreshToken rotates a refresh token.
func (s *Server) RefreshToken(ctx context.Context, req *tribesv1.RefreshTokenRequest) (*tribesv1.AuthenticateResponse, error) {
	tok, acc, err := s.sessions.Refresh(ctx, req.RefreshToken, remoteIP(ctx))
	if err != nil {
		return nil, s.fail(tribesv1.MethodRefreshToken, err)
	}
	return convert.ToAuthenticateResponse(tok, *acc), nil
}

func (s *Server) RevokeToken(ctx context.Context, req *tribesv1.RevokeTokenRequest) (*emptypb.Empty, error) {
	if err := s.sessions.RevokeToken(ctx, req.RefreshToken, remoteIP(ctx)); err != nil {
		return nil, s.fail(tribesv1.MethodRevokeToken, err)
	}
	return &emptypb.Empty{}, nil
}

// --- Accounts ---

// Register creates a new account.
func (s *Server) Register(ctx context.Context, req *tribesv1.RegisterRequest) (*tribesv1.RegisterResponse, error) {
	acc, err := s.accounts.Register(ctx, req.WalletAddress, req.FullName, req.ProfilePhoto, req.AcceptTerms)
	if err != nil {
		return nil, s.fail(tribesv1.MethodRegister, err)
	}
	return &tribesv1.RegisterResponse{
		AccountID:     acc.ID.String(),
		WalletAddress: acc.WalletAddress,
		Role:          string(acc.Role),
	}, nil
}

func (s *Server) AccountExists(ctx context.Context, req *tribesv1.AccountExistsRequest) (*tribesv1.AccountExistsResponse, error) {
	ok, err := s.accounts.DoesAccountExist(ctx, req.WalletAddress)
	if err != nil {
		return nil, s.fail(tribesv1.MethodAccountExists, err)
	}
	return &tribesv1.AccountExistsResponse{Exists: ok}, nil
}

func (s *Server) UpdateName(ctx context.Context, req *tribesv1.UpdateNameRequest) (*emptypb.Empty, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.UpdateName(ctx, uid, req.FullName); err != nil {
		return nil, s.fail(tribesv1.MethodUpdateName, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) UpdateProfilePhoto(ctx context.Context, req *tribesv1.UpdateProfilePhotoRequest) (*emptypb.Empty, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.UpdateProfilePhoto(ctx, uid, req.ProfilePhoto); err != nil {
		return nil, s.fail(tribesv1.MethodUpdateProfilePhoto, err)
	}
	return &emptypb.Empty{}, nil
}

// UpdateDeviceToken binds the caller's device for pushes. An empty token clears it.
func (s *Server) UpdateDeviceToken(ctx context.Context, req *tribesv1.UpdateDeviceTokenRequest) (*emptypb.Empty, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.UpdateDeviceToken(ctx, uid, model.DeviceType(req.DeviceType), req.DeviceToken); err != nil {
		return nil, s.fail(tribesv1.MethodUpdateDeviceToken, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) DeleteAccount(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.DeleteAccount(ctx, uid); err != nil {
		return nil, s.fail(tribesv1.MethodDeleteAccount, err)
	}
	return &emptypb.Empty{}, nil
}

// --- Tribes ---

func (s *Server) CreateTribe(ctx context.Context, req *tribesv1.CreateTribeRequest) (*tribesv1.Tribe, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.tribes.CreateTribe(ctx, uid, req.Name)
	if err != nil {
		return nil, s.fail(tribesv1.MethodCreateTribe, err)
	}
	out := convert.ToTribe(*t)
	return &out, nil
}

func (s *Server) GetTribes(ctx context.Context, _ *tribesv1.GetTribesRequest) (*tribesv1.GetTribesResponse, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	ts, err := s.tribes.GetTribes(ctx, uid)
	if err != nil {
		return nil, s.fail(tribesv1.MethodGetTribes, err)
	}
	return &tribesv1.GetTribesResponse{Tribes: convert.ToTribes(ts)}, nil
}

func (s *Server) InviteToTribe(ctx context.Context, req *tribesv1.InviteToTribeRequest) (*emptypb.Empty, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	tribeID, err := convert.ParseID(req.TribeID, errs.ErrInvalidTribeID)
	if err != nil {
		return nil, s.fail(tribesv1.MethodInviteToTribe, err)
	}
	if err := s.tribes.InviteToTribe(ctx, uid, tribeID, req.Code); err != nil {
		return nil, s.fail(tribesv1.MethodInviteToTribe, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) JoinTribe(ctx context.Context, req *tribesv1.JoinTribeRequest) (*tribesv1.Tribe, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.tribes.JoinTribe(ctx, uid, req.Pin, req.Code)
	if err != nil {
		return nil, s.fail(tribesv1.MethodJoinTribe, err)
	}
	out := convert.ToTribe(*t)
	return &out, nil
}

func (s *Server) LeaveTribe(ctx context.Context, req *tribesv1.LeaveTribeRequest) (*emptypb.Empty, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	tribeID, err := convert.ParseID(req.TribeID, errs.ErrInvalidTribeID)
	if err != nil {
		return nil, s.fail(tribesv1.MethodLeaveTribe, err)
	}
	if err := s.tribes.LeaveTribe(ctx, uid, tribeID); err != nil {
		return nil, s.fail(tribesv1.MethodLeaveTribe, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) RemoveFromTribe(ctx context.Context, req *tribesv1.RemoveFromTribeRequest) (*emptypb.Empty, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	tribeID, err := convert.ParseID(req.TribeID, errs.ErrInvalidTribeID)
	if err != nil {
		return nil, s.fail(tribesv1.MethodRemoveFromTribe, err)
	}
	if err := s.tribes.RemoveFromTribe(ctx, uid, tribeID, req.WalletAddress); err != nil {
		return nil, s.fail(tribesv1.MethodRemoveFromTribe, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) UpdateTribeName(ctx context.Context, req *tribesv1.UpdateTribeNameRequest) (*tribesv1.UpdateTribeNameResponse, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	tribeID, err := convert.ParseID(req.TribeID, errs.ErrInvalidTribeID)
	if err != nil {
		return nil, s.fail(tribesv1.MethodUpdateTribeName, err)
	}
	name, err := s.tribes.UpdateTribeName(ctx, uid, tribeID, req.Name)
	if err != nil {
		return nil, s.fail(tribesv1.MethodUpdateTribeName, err)
	}
	return &tribesv1.UpdateTribeNameResponse{Name: name}, nil
}

// --- Messages ---

// PostMessage stores a message and fans it out to the tribe.
func (s *Server) PostMessage(ctx context.Context, req *tribesv1.PostMessageRequest) (*tribesv1.Message, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	in, err := postInput(req)
	if err != nil {
		return nil, s.fail(tribesv1.MethodPostMessage, err)
	}
	m, err := s.messages.PostMessage(ctx, uid, in)
	if err != nil {
		return nil, s.fail(tribesv1.MethodPostMessage, err)
	}
	out := convert.ToMessage(*m)
	if m.Sender != nil {
		out = out.ForKey(m.Sender.PublicKey)
	}
	return &out, nil
}

func postInput(req *tribesv1.PostMessageRequest) (service.PostInput, error) {
	tribeID, err := convert.ParseID(req.TribeID, errs.ErrInvalidTribeID)
	if err != nil {
		return service.PostInput{}, err
	}
	ts, err := convert.ParseID(req.TribeTimestampID, errs.ErrInvalidTribeTimestamp)
	if err != nil {
		return service.PostInput{}, err
	}
	contextID, err := convert.ParseOptionalID(req.ContextID, errs.ErrInvalidMessageID)
	if err != nil {
		return service.PostInput{}, err
	}
	return service.PostInput{
		TribeID:     tribeID,
		TimestampID: ts,
		Body:        req.Body,
		Caption:     req.Caption,
		Type:        model.MessageType(req.Type),
		Tag:         model.MessageTag(req.Tag),
		ContextID:   contextID,
		Keys:        convert.FromMessageKeys(req.Keys),
	}, nil
}

func (s *Server) GetMessages(ctx context.Context, req *tribesv1.GetMessagesRequest) (*tribesv1.GetMessagesResponse, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	tribeID, err := convert.ParseID(req.TribeID, errs.ErrInvalidTribeID)
	if err != nil {
		return nil, s.fail(tribesv1.MethodGetMessages, err)
	}
	ms, err := s.messages.GetMessages(ctx, uid, tribeID)
	if err != nil {
		return nil, s.fail(tribesv1.MethodGetMessages, err)
	}
	return &tribesv1.GetMessagesResponse{Messages: convert.ToMessages(ms)}, nil
}

// messageCall runs fn for the caller and a parsed message id.
func (s *Server) messageCall(ctx context.Context, method, rawID string, fn func(uid, messageID uuid.UUID) error) error {
	uid, err := caller(ctx)
	if err != nil {
		return err
	}
	messageID, err := convert.ParseID(rawID, errs.ErrInvalidMessageID)
	if err == nil {
		err = fn(uid, messageID)
	}
	return s.fail(method, err)
}

func (s *Server) DeleteMessage(ctx context.Context, req *tribesv1.MessageRequest) (*emptypb.Empty, error) {
	err := s.messageCall(ctx, tribesv1.MethodDeleteMessage, req.MessageID, func(uid, id uuid.UUID) error {
		return s.messages.DeleteMessage(ctx, uid, id)
	})
	if err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) MarkAsViewed(ctx context.Context, req *tribesv1.MessageRequest) (*emptypb.Empty, error) {
	err := s.messageCall(ctx, tribesv1.MethodMarkAsViewed, req.MessageID, func(uid, id uuid.UUID) error {
		return s.messages.MarkAsViewed(ctx, uid, id)
	})
	if err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) GetViewers(ctx context.Context, req *tribesv1.MessageRequest) (*tribesv1.GetViewersResponse, error) {
	var wallets []string
	err := s.messageCall(ctx, tribesv1.MethodGetViewers, req.MessageID, func(uid, id uuid.UUID) (err error) {
		wallets, err = s.messages.GetViewers(ctx, uid, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if wallets == nil {
		wallets = []string{}
	}
	return &tribesv1.GetViewersResponse{WalletAddresses: wallets}, nil
}

func (s *Server) AddReaction(ctx context.Context, req *tribesv1.AddReactionRequest) (*emptypb.Empty, error) {
	err := s.messageCall(ctx, tribesv1.MethodAddReaction, req.MessageID, func(uid, id uuid.UUID) error {
		return s.messages.AddReaction(ctx, uid, id, req.Content)
	})
	if err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) GetAllowedTeaRecipients(ctx context.Context, _ *tribesv1.GetAllowedTeaRecipientsRequest) (*tribesv1.GetAllowedTeaRecipientsResponse, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := s.messages.GetAllowedTeaRecipients(ctx, uid)
	if err != nil {
		return nil, s.fail(tribesv1.MethodGetAllowedTeaRecipients, err)
	}
	return &tribesv1.GetAllowedTeaRecipientsResponse{TribeIDs: convert.IDStrings(ids)}, nil
}
