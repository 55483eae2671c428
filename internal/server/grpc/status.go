package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/teatribe/tribes/internal/errs"
)

// toStatus maps service errors to gRPC statuses. Only AppError messages reach the client.
func toStatus(log *zap.Logger, method string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var ae *errs.AppError
	if errors.As(err, &ae) {
		switch ae.Kind {
		case errs.KindNotFound:
			return status.Error(codes.NotFound, ae.Msg)
		case errs.KindRateLimited:
			return status.Error(codes.ResourceExhausted, ae.Msg)
		default:
			return status.Error(codes.InvalidArgument, ae.Msg)
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	log.Error("internal error", zap.String("method", method), zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}
