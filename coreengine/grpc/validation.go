package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

// validateRequired checks if a field is non-empty.
func validateRequired(field, fieldName string) error {
	if field == "" {
		return status.Errorf(codes.InvalidArgument, "%s is required", fieldName)
	}
	return nil
}

// CheckContext returns the status error for a cancelled or expired context.
func CheckContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	return nil
}

// =============================================================================
// ERROR BUILDERS
// =============================================================================

// InvalidArgument returns a gRPC InvalidArgument error for a field.
func InvalidArgument(fieldName, problem string) error {
	return status.Errorf(codes.InvalidArgument, "%s %s", fieldName, problem)
}

// Internal wraps an internal error with context.
func Internal(operation string, cause error) error {
	return status.Errorf(codes.Internal, "%s failed: %v", operation, cause)
}

// FromRunError maps a controller error to a status error.
func FromRunError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return Internal("run", err)
}
