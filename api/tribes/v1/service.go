package tribesv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tribes.v1.Tribes"

// Method names.
const (
	MethodRequestAuthentication   = "RequestAuthentication"
	MethodAuthenticate            = "Authenticate"
	MethodRefreshToken            = "RefreshToken"
	MethodRevokeToken             = "RevokeToken"
	MethodRegister                = "Register"
	MethodAccountExists           = "AccountExists"
	MethodUpdateName              = "UpdateName"
	MethodUpdateProfilePhoto      = "UpdateProfilePhoto"
	MethodUpdateDeviceToken       = "UpdateDeviceToken"
	MethodDeleteAccount           = "DeleteAccount"
	MethodCreateTribe             = "CreateTribe"
	MethodGetTribes               = "GetTribes"
	MethodInviteToTribe           = "InviteToTribe"
	MethodJoinTribe               = "JoinTribe"
	MethodLeaveTribe              = "LeaveTribe"
	MethodRemoveFromTribe         = "RemoveFromTribe"
	MethodUpdateTribeName         = "UpdateTribeName"
	MethodPostMessage             = "PostMessage"
	MethodGetMessages             = "GetMessages"
	MethodDeleteMessage           = "DeleteMessage"
	MethodMarkAsViewed            = "MarkAsViewed"
	MethodGetViewers              = "GetViewers"
	MethodGetAllowedTeaRecipients = "GetAllowedTeaRecipients"
	MethodAddReaction             = "AddReaction"
)

// FullMethod returns the path of method as seen by interceptors.
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// TribesServer is the server API for the tribes.v1.Tribes service.
type TribesServer interface {
	RequestAuthentication(context.Context, *RequestAuthenticationRequest) (*RequestAuthenticationResponse, error)
	Authenticate(context.Context, *AuthenticateRequest) (*AuthenticateResponse, error)
	RefreshToken(context.Context, *RefreshTokenRequest) (*AuthenticateResponse, error)
	RevokeToken(context.Context, *RevokeTokenRequest) (*emptypb.Empty, error)

	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	AccountExists(context.Context, *AccountExistsRequest) (*AccountExistsResponse, error)
	UpdateName(context.Context, *UpdateNameRequest) (*emptypb.Empty, error)
	UpdateProfilePhoto(context.Context, *UpdateProfilePhotoRequest) (*emptypb.Empty, error)
	UpdateDeviceToken(context.Context, *UpdateDeviceTokenRequest) (*emptypb.Empty, error)
	DeleteAccount(context.Context, *emptypb.Empty) (*emptypb.Empty, error)

	CreateTribe(context.Context, *CreateTribeRequest) (*Tribe, error)
	GetTribes(context.Context, *GetTribesRequest) (*GetTribesResponse, error)
	InviteToTribe(context.Context, *InviteToTribeRequest) (*emptypb.Empty, error)
	JoinTribe(context.Context, *JoinTribeRequest) (*Tribe, error)
	LeaveTribe(context.Context, *LeaveTribeRequest) (*emptypb.Empty, error)
	RemoveFromTribe(context.Context, *RemoveFromTribeRequest) (*emptypb.Empty, error)
	UpdateTribeName(context.Context, *UpdateTribeNameRequest) (*UpdateTribeNameResponse, error)

	PostMessage(context.Context, *PostMessageRequest) (*Message, error)
	GetMessages(context.Context, *GetMessagesRequest) (*GetMessagesResponse, error)
	DeleteMessage(context.Context, *MessageRequest) (*emptypb.Empty, error)
	MarkAsViewed(context.Context, *MessageRequest) (*emptypb.Empty, error)
	GetViewers(context.Context, *MessageRequest) (*GetViewersResponse, error)
	GetAllowedTeaRecipients(context.Context, *GetAllowedTeaRecipientsRequest) (*GetAllowedTeaRecipientsResponse, error)
	AddReaction(context.Context, *AddReactionRequest) (*emptypb.Empty, error)
}

// RegisterTribesServer registers srv on s.
func RegisterTribesServer(s grpc.ServiceRegistrar, srv TribesServer) {
	s.RegisterService(&Tribes_ServiceDesc, srv)
}

func unary[Req, Resp any](method string, call func(TribesServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TribesServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TribesServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

//nolint:revive,stylecheck // mirrors protoc-gen-go-grpc naming
var Tribes_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TribesServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodRequestAuthentication, TribesServer.RequestAuthentication),
		unary(MethodAuthenticate, TribesServer.Authenticate),
		unary(MethodRefreshToken, TribesServer.RefreshToken),
		unary(MethodRevokeToken, TribesServer.RevokeToken),
		unary(MethodRegister, TribesServer.Register),
		unary(MethodAccountExists, TribesServer.AccountExists),
		unary(MethodUpdateName, TribesServer.UpdateName),
		unary(MethodUpdateProfilePhoto, TribesServer.UpdateProfilePhoto),
		unary(MethodUpdateDeviceToken, TribesServer.UpdateDeviceToken),
		unary(MethodDeleteAccount, TribesServer.DeleteAccount),
		unary(MethodCreateTribe, TribesServer.CreateTribe),
		unary(MethodGetTribes, TribesServer.GetTribes),
		unary(MethodInviteToTribe, TribesServer.InviteToTribe),
		unary(MethodJoinTribe, TribesServer.JoinTribe),
		unary(MethodLeaveTribe, TribesServer.LeaveTribe),
		unary(MethodRemoveFromTribe, TribesServer.RemoveFromTribe),
		unary(MethodUpdateTribeName, TribesServer.UpdateTribeName),
		unary(MethodPostMessage, TribesServer.PostMessage),
		unary(MethodGetMessages, TribesServer.GetMessages),
		unary(MethodDeleteMessage, TribesServer.DeleteMessage),
		unary(MethodMarkAsViewed, TribesServer.MarkAsViewed),
		unary(MethodGetViewers, TribesServer.GetViewers),
		unary(MethodGetAllowedTeaRecipients, TribesServer.GetAllowedTeaRecipients),
		unary(MethodAddReaction, TribesServer.AddReaction),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tribes/v1",
}

// UnimplementedTribesServer answers every method with codes.Unimplemented. Embed it to
// stay forward compatible when methods are added.
type UnimplementedTribesServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedTribesServer) RequestAuthentication(context.Context, *RequestAuthenticationRequest) (*RequestAuthenticationResponse, error) {
	return nil, unimplemented(MethodRequestAuthentication)
}
func (UnimplementedTribesServer) Authenticate(context.Context, *AuthenticateRequest) (*AuthenticateResponse, error) {
	return nil, unimplemented(MethodAuthenticate)
}
func (UnimplementedTribesServer) RefreshToken(context.Context, *RefreshTokenRequest) (*AuthenticateResponse, error) {
	return nil, unimplemented(MethodRefreshToken)
}
func (UnimplementedTribesServer) RevokeToken(context.Context, *RevokeTokenRequest) (*emptypb.Empty, error) {
	return nil, unimplemented(MethodRevokeToken)
}
func (UnimplementedTribesServer) Register(context.Context, *RegisterRequest) (*RegisterResponse, error) {
	return nil, unimplemented(MethodRegister)
}
func (UnimplementedTribesServer) AccountExists(context.Context, *AccountExistsRequest) (*AccountExistsResponse, error) {
	return nil, unimplemented(MethodAccountExists)
}
func (UnimplementedTribesServer) UpdateName(context.Context, *UpdateNameRequest) (*emptypb.Empty, error) {
	return nil, unimplemented(MethodUpdateName)
}
func (UnimplementedTribesServer) UpdateProfilePhoto(context.Context, *UpdateProfilePhotoRequest) (*emptypb.Empty, error) {
	return nil, unimplemented(MethodUpdateProfilePhoto)
}
func (UnimplementedTribesServer) UpdateDeviceToken(context.Context, *UpdateDeviceTokenRequest) (*emptypb.Empty, error) {
	return nil, unimplemented(MethodUpdateDeviceToken)
}
func (UnimplementedTribesServer) DeleteAccount(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, unimplemented(MethodDeleteAccount)
}
func (UnimplementedTribesServer) CreateTribe(context.Context, *CreateTribeRequest) (*Tribe, error) {
	return nil, unimplemented(MethodCreateTribe)
}
func (UnimplementedTribesServer) GetTribes(context.Context, *GetTribesRequest) (*GetTribesResponse, error) {
	return nil, unimplemented(MethodGetTribes)
}
func (UnimplementedTribesServer) InviteToTribe(context.Context, *InviteToTribeRequest) (*emptypb.Empty, error) {
	return nil, unimplemented(MethodInviteToTribe)
}
func (UnimplementedTribesServer) JoinTribe(context.Context, *JoinTribeRequest) (*Tribe, error) {
	return nil, unimplemented(MethodJoinTribe)
}
func (UnimplementedTribesServer) LeaveTribe(context.Context, *LeaveTribeRequest) (*emptypb.Empty, error) {
	return nil, unimplemented(MethodLeaveTribe)
}
func (UnimplementedTribesServer) RemoveFromTribe(context.Context, *RemoveFromTribeRequest) (*emptypb.Empty, error) {
	return nil, unimplemented(MethodRemoveFromTribe)
}
func (UnimplementedTribesServer) UpdateTribeName(context.Context, *UpdateTribeNameRequest) (*UpdateTribeNameResponse, error) {
	return nil, unimplemented(MethodUpdateTribeName)
}
func (UnimplementedTribesServer) PostMessage(context.Context, *PostMessageRequest) (*Message, error) {
	return nil, unimplemented(MethodPostMessage)
}
func (UnimplementedTribesServer) GetMessages(context.Context, *GetMessagesRequest) (*GetMessagesResponse, error) {
	return nil, unimplemented(MethodGetMessages)
}
func (UnimplementedTribesServer) DeleteMessage(context.Context, *MessageRequest) (*emptypb.Empty, error) {
	return nil, unimplemented(MethodDeleteMessage)
}
func (UnimplementedTribesServer) MarkAsViewed(context.Context, *MessageRequest) (*emptypb.Empty, error) {
	return nil, unimplemented(MethodMarkAsViewed)
}
func (UnimplementedTribesServer) GetViewers(context.Context, *MessageRequest) (*GetViewersResponse, error) {
	return nil, unimplemented(MethodGetViewers)
}
func (UnimplementedTribesServer) GetAllowedTeaRecipients(context.Context, *GetAllowedTeaRecipientsRequest) (*GetAllowedTeaRecipientsResponse, error) {
	return nil, unimplemented(MethodGetAllowedTeaRecipients)
}
func (UnimplementedTribesServer) AddReaction(context.Context, *AddReactionRequest) (*emptypb.Empty, error) {
	return nil, unimplemented(MethodAddReaction)
}
