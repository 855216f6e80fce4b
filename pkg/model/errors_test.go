package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCanceled(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context.Canceled", context.Canceled, true},
		{"context.DeadlineExceeded", context.DeadlineExceeded, true},
		{"ErrCanceled", ErrCanceled, true},
		{"wrapped context.Canceled", fmt.Errorf("wrapped: %w", context.Canceled), true},
		{"string contains context canceled", errors.New("operation failed: context canceled"), true},
		{"unrelated error", errors.New("some other error"), false},
		{"ErrNotFound", ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsCanceled(tt.err))
		})
	}
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil))
	assert.Equal(t, ErrCanceled, WrapError(context.Canceled))
	assert.Equal(t, ErrNotFound, WrapError(ErrNotFound))
}

func TestStoreError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewStoreError("find", "doc-1", `{"limit":1}`, cause)

	assert.True(t, errors.Is(err, ErrStoreFailure))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "op=find")
	assert.Contains(t, err.Error(), "id=doc-1")
	assert.Contains(t, err.Error(), "connection reset")

	assert.Nil(t, NewStoreError("find", "", "", nil))
	assert.Equal(t, ErrNotFound, NewStoreError("get", "x", "", ErrNotFound))
	assert.Same(t, err, NewStoreError("again", "", "", err))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{Validationf("sort and count"), "validation"},
		{PermissionDeniedf("read"), "permission_denied"},
		{ErrNotFound, "not_found"},
		{ErrExists, "exists"},
		{fmt.Errorf("attach: %w", ErrLimitExceeded), "limit_exceeded"},
		{ErrInvalidSubscription, "invalid_subscription"},
		{NewStoreError("find", "", "", errors.New("boom")), "store_failure"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err))
	}
}
