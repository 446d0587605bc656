package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/devrev/omnistore/internal/errors"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestErrorFormatting(t *testing.T) {
	err := errors.ConnectionFailed("redis-primary", "dial failed", fmt.Errorf("connection refused"))
	assert.Equal(t, "[redis-primary] dial failed: connection refused", err.Error())

	bare := errors.Closed("storage layer is shut down")
	assert.Equal(t, "storage layer is shut down", bare.Error())
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := errors.ConnectionFailed("redis", "dial failed", cause)
	assert.True(t, stderrors.Is(err, cause))
}

func TestGetCodeThroughWrapping(t *testing.T) {
	err := errors.KeyNotFound("user:1")
	wrapped := fmt.Errorf("loading record: %w", err)
	assert.Equal(t, errors.ErrCodeKeyNotFound, errors.GetCode(wrapped))

	assert.Equal(t, errors.ErrCodeInternal, errors.GetCode(fmt.Errorf("plain error")))
}

func TestClassificationPredicates(t *testing.T) {
	tests := []struct {
		err        error
		rejected   bool
		connection bool
		notFound   bool
	}{
		{errors.InvalidArgument("bad", nil), true, false, false},
		{errors.KeyTooLarge(2000, 1024), true, false, false},
		{errors.RecordTooLarge(2 << 20, 1 << 20), true, false, false},
		{errors.InvalidKey("k\x00", "control character"), true, false, false},
		{errors.Rejected("registry", "tag too long", nil), true, false, false},
		{errors.ConnectionFailed("redis", "down", nil), false, true, false},
		{errors.Timeout("redis", nil), false, true, false},
		{errors.ExhaustedFailover(3, nil), false, false, false},
		{errors.InternalError("boom", nil), false, false, false},
		{errors.Closed("shut down"), false, false, false},
		// Not-found is its own class: the failover chain keeps going on it,
		// unlike genuine rejections
		{errors.KeyNotFound("user:1"), false, false, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.rejected, errors.IsRejected(tt.err), "IsRejected(%v)", tt.err)
		assert.Equal(t, tt.connection, errors.IsConnectionFailure(tt.err), "IsConnectionFailure(%v)", tt.err)
		assert.Equal(t, tt.notFound, errors.IsNotFound(tt.err), "IsNotFound(%v)", tt.err)
	}
}

func TestWithDetail(t *testing.T) {
	err := errors.ExhaustedFailover(2, nil).WithDetail("operation", "store")
	assert.Equal(t, 2, err.Details["attempts"])
	assert.Equal(t, "store", err.Details["operation"])
}

func TestToGRPCStatus(t *testing.T) {
	tests := []struct {
		err  *errors.StorageError
		want codes.Code
	}{
		{errors.InvalidArgument("bad", nil), codes.InvalidArgument},
		{errors.Rejected("b", "nope", nil), codes.InvalidArgument},
		{errors.KeyNotFound("user:1"), codes.NotFound},
		{errors.Timeout("b", nil), codes.DeadlineExceeded},
		{errors.ConnectionFailed("b", "down", nil), codes.Unavailable},
		{errors.ExhaustedFailover(3, nil), codes.Unavailable},
		{errors.Closed("done"), codes.Unavailable},
		{errors.InternalError("boom", nil), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.ToGRPCStatus().Code(), "%v", tt.err)
	}
}
