package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsDuplicateEntity(t *testing.T) {
	channelID := uuid.New()
	wrapped := fmt.Errorf("upsert: %w", NewDuplicateEntityError(channelID, "EXT-9", "sku taken"))

	dup, ok := AsDuplicateEntity(wrapped)
	require.True(t, ok)
	assert.Equal(t, "EXT-9", dup.ExternalID)
	assert.Equal(t, channelID, dup.ChannelID)
	assert.Contains(t, wrapped.Error(), "EXT-9")

	_, ok = AsDuplicateEntity(NewDuplicateEntityError(channelID, "", ""))
	assert.False(t, ok)

	_, ok = AsDuplicateEntity(errors.New("already exists: EXT-9"))
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", fmt.Errorf("push: %w", ErrChannelTimeout), true},
		{"deadline", context.DeadlineExceeded, true},
		{"unavailable", ErrChannelUnavailable, true},
		{"rate limited", ErrChannelRateLimited, true},
		{"target busy", ErrTargetBusy, true},
		{"stock verification", ErrStockVerificationFailed, true},
		{"unknown", errors.New("connection reset"), true},
		{"auth", fmt.Errorf("push: %w", ErrChannelAuthFailed), false},
		{"rejected", ErrChannelRequestRejected, false},
		{"validation", shared.NewValidationError("bad"), false},
		{"conflict", ErrEntityInConflict, false},
		{"not found", shared.ErrNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
