package main

import (
	"context"
	"net"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	tribesv1 "github.com/teatribe/tribes/api/tribes/v1"
	"github.com/teatribe/tribes/internal/crypto"
	"github.com/teatribe/tribes/internal/crypto/clientcrypto"
)

const challenge = "Sign in to Tribes"

// fakeTribes verifies signatures like the real service and records posts.
type fakeTribes struct {
	tribesv1.UnimplementedTribesServer
	tribe  tribesv1.Tribe
	posted *tribesv1.PostMessageRequest
}

func (f *fakeTribes) RequestAuthentication(context.Context, *tribesv1.RequestAuthenticationRequest) (*tribesv1.RequestAuthenticationResponse, error) {
	return &tribesv1.RequestAuthenticationResponse{Challenge: challenge}, nil
}

func (f *fakeTribes) Authenticate(_ context.Context, req *tribesv1.AuthenticateRequest) (*tribesv1.AuthenticateResponse, error) {
	ok, err := crypto.VerifySignature(challenge, req.WalletAddress, req.Signature)
	if err != nil || !ok {
		return nil, status.Error(codes.InvalidArgument, "Invalid Signature")
	}
	return &tribesv1.AuthenticateResponse{
		AccountID:     uuid.Must(uuid.NewV4()).String(),
		WalletAddress: req.WalletAddress,
		AccessToken:   "access-" + req.PublicKey[:8],
		RefreshToken:  "refresh",
		ExpiresAt:     time.Now().Add(time.Minute),
	}, nil
}

func (f *fakeTribes) GetTribes(ctx context.Context, _ *tribesv1.GetTribesRequest) (*tribesv1.GetTribesResponse, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if len(md.Get("authorization")) == 0 {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	return &tribesv1.GetTribesResponse{Tribes: []tribesv1.Tribe{f.tribe}}, nil
}

func (f *fakeTribes) PostMessage(_ context.Context, req *tribesv1.PostMessageRequest) (*tribesv1.Message, error) {
	f.posted = req
	return &tribesv1.Message{ID: uuid.Must(uuid.NewV7()).String()}, nil
}

func startFake(t *testing.T, srv tribesv1.TribesServer) dialFunc {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	tribesv1.RegisterTribesServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(func() { gs.Stop(); _ = lis.Close() })

	return func(bearer string) (*grpc.ClientConn, error) {
		opts := []grpc.DialOption{
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}
		if bearer != "" {
			opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer}))
		}
		return grpc.NewClient("passthrough:///bufnet", opts...)
	}
}

func TestLoginAndPost(t *testing.T) {
	_ = withTmpConfig(t)
	ctx := context.Background()

	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	ks, err := clientcrypto.SealKeystore([]byte("pw"), priv)
	require.NoError(t, err)
	require.NoError(t, saveKeystore(ks))

	other, _ := ethcrypto.GenerateKey()
	fake := &fakeTribes{tribe: tribesv1.Tribe{
		ID:          uuid.Must(uuid.NewV4()).String(),
		TimestampID: uuid.Must(uuid.NewV4()).String(),
		Members: []tribesv1.Member{
			{WalletAddress: ks.Address, PublicKey: clientcrypto.PublicKeyHex(priv)},
			{WalletAddress: "0xOther", PublicKey: clientcrypto.PublicKeyHex(other)},
			{WalletAddress: "0xNoKey"},
		},
	}}
	a := &app{dial: startFake(t, fake), passphrase: "pw"}

	require.NoError(t, cmdLogin(ctx, a, nil))
	s, err := loadSession()
	require.NoError(t, err)
	require.Equal(t, ks.Address, s.WalletAddress)
	require.Equal(t, "refresh", s.RefreshToken)

	require.NoError(t, cmdPost(ctx, a, []string{"--tribe", fake.tribe.ID, "--text", "hot tea", "--tea"}))
	require.NotNil(t, fake.posted)
	require.Equal(t, fake.tribe.TimestampID, fake.posted.TribeTimestampID)
	require.Equal(t, "tea", fake.posted.Tag)
	require.Len(t, fake.posted.Keys, 2)
	require.NotContains(t, fake.posted.Body, "hot tea")

	m := tribesv1.Message{TribeID: fake.tribe.ID, Type: "text", Body: fake.posted.Body, Keys: fake.posted.Keys}
	text, _, err := openMessage(other, m)
	require.NoError(t, err)
	require.Equal(t, "hot tea", text)

	err = cmdPost(ctx, a, []string{"--tribe", uuid.Must(uuid.NewV4()).String(), "--text", "x"})
	require.ErrorContains(t, err, "not a member")
}

func TestLogin_WrongPassphrase(t *testing.T) {
	_ = withTmpConfig(t)

	priv, _ := ethcrypto.GenerateKey()
	ks, _ := clientcrypto.SealKeystore([]byte("pw"), priv)
	require.NoError(t, saveKeystore(ks))

	a := &app{dial: startFake(t, &fakeTribes{}), passphrase: "nope"}
	require.Error(t, cmdLogin(context.Background(), a, nil))
}

func TestSealOpenMessage(t *testing.T) {
	t.Parallel()

	alice, _ := ethcrypto.GenerateKey()
	eve, _ := ethcrypto.GenerateKey()
	tribe := tribesv1.Tribe{ID: "t1", TimestampID: "ts", Members: []tribesv1.Member{{PublicKey: clientcrypto.PublicKeyHex(alice)}}}

	req, err := sealMessage(tribe, "body", "cap")
	require.NoError(t, err)
	require.Equal(t, "text", req.Type)
	require.NotEmpty(t, req.Caption)

	m := tribesv1.Message{TribeID: "t1", Type: "text", Body: req.Body, Caption: req.Caption, Keys: req.Keys}
	text, caption, err := openMessage(alice, m)
	require.NoError(t, err)
	require.Equal(t, "body", text)
	require.Equal(t, "cap", caption)

	_, _, err = openMessage(eve, m)
	require.ErrorContains(t, err, "no key")

	m.TribeID = "t2"
	_, _, err = openMessage(alice, m)
	require.Error(t, err, "ciphertext is bound to the tribe")

	ev := tribesv1.Message{Type: "systemEvent", Body: "Ann joined the tribe, invited by Bob"}
	text, _, err = openMessage(eve, ev)
	require.NoError(t, err)
	require.Equal(t, ev.Body, text)
}

func TestNewInvite(t *testing.T) {
	t.Parallel()

	inv, err := newInvite()
	require.NoError(t, err)
	require.Len(t, inv.Pin, 6)
	require.Len(t, inv.Code, 16)
	require.Equal(t, crypto.HashMessage(inv.Pin+":"+inv.Code), inv.Hash)
	require.Len(t, inv.Hash, 64)
}

func TestRequired(t *testing.T) {
	t.Parallel()

	require.NoError(t, required("a", "x", "b", "y"))
	require.EqualError(t, required("a", "x", "b", ""), "need --b")
}
