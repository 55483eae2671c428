package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	tribesv1 "github.com/teatribe/tribes/api/tribes/v1"
	"github.com/teatribe/tribes/internal/token"
)

type ctxKey string

const identityKey ctxKey = "tribes.identity"

// publicMethods are callable without an access token.
var publicMethods = map[string]bool{
	tribesv1.FullMethod(tribesv1.MethodRequestAuthentication): true,
	tribesv1.FullMethod(tribesv1.MethodAuthenticate):          true,
	tribesv1.FullMethod(tribesv1.MethodRefreshToken):          true,
	tribesv1.FullMethod(tribesv1.MethodRevokeToken):           true,
	tribesv1.FullMethod(tribesv1.MethodRegister):              true,
	tribesv1.FullMethod(tribesv1.MethodAccountExists):         true,
}

// WithIdentity stores the authenticated caller in context.
func WithIdentity(ctx context.Context, id token.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromCtx fetches the authenticated caller from context.
func IdentityFromCtx(ctx context.Context) (token.Identity, bool) {
	id, ok := ctx.Value(identityKey).(token.Identity)
	return id, ok
}

// AuthUnary verifies the bearer token of every non-public tribes.v1 method and stores
// the caller identity in context. Methods of other services (health) pass through.
func AuthUnary(tokens *token.Manager) grpc.UnaryServerInterceptor {
	prefix := "/" + tribesv1.ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if publicMethods[info.FullMethod] || !strings.HasPrefix(info.FullMethod, prefix) {
			return next(ctx, req)
		}
		tok, err := bearerTokenFromMD(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		id, err := tokens.Parse(tok)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return next(WithIdentity(ctx, id), req)
	}
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

// remoteIP returns the caller host without port.
func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
