package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/geomag/apex"
	"github.com/signalsfoundry/geomag/coeffs"
)

// ToStatusError maps model and request errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, coeffs.ErrMalformedRecord):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, coeffs.ErrEpochOutOfRange):
		return status.Error(codes.OutOfRange, err.Error())

	case errors.Is(err, apex.ErrTraceDidNotConverge):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
