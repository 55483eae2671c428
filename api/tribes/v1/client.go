package tribesv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Client calls the tribes.v1.Tribes service using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RequestAuthentication(ctx context.Context, opts ...grpc.CallOption) (*RequestAuthenticationResponse, error) {
	return invoke[RequestAuthenticationResponse](ctx, c.cc, MethodRequestAuthentication, &RequestAuthenticationRequest{}, opts)
}

func (c *Client) Authenticate(ctx context.Context, in *AuthenticateRequest, opts ...grpc.CallOption) (*AuthenticateResponse, error) {
	return invoke[AuthenticateResponse](ctx, c.cc, MethodAuthenticate, in, opts)
}

func (c *Client) RefreshToken(ctx context.Context, in *RefreshTokenRequest, opts ...grpc.CallOption) (*AuthenticateResponse, error) {
	return invoke[AuthenticateResponse](ctx, c.cc, MethodRefreshToken, in, opts)
}

func (c *Client) RevokeToken(ctx context.Context, in *RevokeTokenRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodRevokeToken, in, opts)
	return err
}

func (c *Client) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, MethodRegister, in, opts)
}

func (c *Client) AccountExists(ctx context.Context, in *AccountExistsRequest, opts ...grpc.CallOption) (*AccountExistsResponse, error) {
	return invoke[AccountExistsResponse](ctx, c.cc, MethodAccountExists, in, opts)
}

func (c *Client) UpdateName(ctx context.Context, in *UpdateNameRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodUpdateName, in, opts)
	return err
}

func (c *Client) UpdateProfilePhoto(ctx context.Context, in *UpdateProfilePhotoRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodUpdateProfilePhoto, in, opts)
	return err
}

func (c *Client) UpdateDeviceToken(ctx context.Context, in *UpdateDeviceTokenRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodUpdateDeviceToken, in, opts)
	return err
}

func (c *Client) DeleteAccount(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodDeleteAccount, &emptypb.Empty{}, opts)
	return err
}

func (c *Client) CreateTribe(ctx context.Context, in *CreateTribeRequest, opts ...grpc.CallOption) (*Tribe, error) {
	return invoke[Tribe](ctx, c.cc, MethodCreateTribe, in, opts)
}

func (c *Client) GetTribes(ctx context.Context, opts ...grpc.CallOption) (*GetTribesResponse, error) {
	return invoke[GetTribesResponse](ctx, c.cc, MethodGetTribes, &GetTribesRequest{}, opts)
}

func (c *Client) InviteToTribe(ctx context.Context, in *InviteToTribeRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodInviteToTribe, in, opts)
	return err
}

func (c *Client) JoinTribe(ctx context.Context, in *JoinTribeRequest, opts ...grpc.CallOption) (*Tribe, error) {
	return invoke[Tribe](ctx, c.cc, MethodJoinTribe, in, opts)
}

func (c *Client) LeaveTribe(ctx context.Context, in *LeaveTribeRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodLeaveTribe, in, opts)
	return err
}

func (c *Client) RemoveFromTribe(ctx context.Context, in *RemoveFromTribeRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodRemoveFromTribe, in, opts)
	return err
}

func (c *Client) UpdateTribeName(ctx context.Context, in *UpdateTribeNameRequest, opts ...grpc.CallOption) (*UpdateTribeNameResponse, error) {
	return invoke[UpdateTribeNameResponse](ctx, c.cc, MethodUpdateTribeName, in, opts)
}

func (c *Client) PostMessage(ctx context.Context, in *PostMessageRequest, opts ...grpc.CallOption) (*Message, error) {
	return invoke[Message](ctx, c.cc, MethodPostMessage, in, opts)
}

func (c *Client) GetMessages(ctx context.Context, in *GetMessagesRequest, opts ...grpc.CallOption) (*GetMessagesResponse, error) {
	return invoke[GetMessagesResponse](ctx, c.cc, MethodGetMessages, in, opts)
}

func (c *Client) DeleteMessage(ctx context.Context, in *MessageRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodDeleteMessage, in, opts)
	return err
}

func (c *Client) MarkAsViewed(ctx context.Context, in *MessageRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodMarkAsViewed, in, opts)
	return err
}

func (c *Client) GetViewers(ctx context.Context, in *MessageRequest, opts ...grpc.CallOption) (*GetViewersResponse, error) {
	return invoke[GetViewersResponse](ctx, c.cc, MethodGetViewers, in, opts)
}

func (c *Client) GetAllowedTeaRecipients(ctx context.Context, opts ...grpc.CallOption) (*GetAllowedTeaRecipientsResponse, error) {
	return invoke[GetAllowedTeaRecipientsResponse](ctx, c.cc, MethodGetAllowedTeaRecipients, &GetAllowedTeaRecipientsRequest{}, opts)
}

func (c *Client) AddReaction(ctx context.Context, in *AddReactionRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodAddReaction, in, opts)
	return err
}
