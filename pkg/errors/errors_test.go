package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScrapeErrorMessage(t *testing.T) {
	underlying := errors.New("connection reset")
	err := NewTransient("carpages", "page load failed", underlying)

	assert.Contains(t, err.Error(), "[transient]")
	assert.Contains(t, err.Error(), "carpages")
	assert.Contains(t, err.Error(), "page load failed")
	assert.Contains(t, err.Error(), "connection reset")

	noCause := NewStructural("carpages", "listing container missing", nil)
	assert.Equal(t, "[structural] carpages: listing container missing", noCause.Error())
}

func TestUnwrap(t *testing.T) {
	underlying := errors.New("boom")
	err := NewWrite("autotrader", "append failed", underlying)

	assert.ErrorIs(t, err, underlying)
	assert.Equal(t, underlying, errors.Unwrap(err))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err       *ScrapeError
		retryable bool
	}{
		{NewTransient("s", "m", nil), true},
		{NewFriction("s", "m", nil), false},
		{NewStructural("s", "m", nil), false},
		{NewRow("s", "m", nil), false},
		{NewWrite("s", "m", nil), false},
		{NewRateLimit("s", time.Minute), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.retryable, tt.err.IsRetryable(), "type %s", tt.err.Type)
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, NewStructural("s", "m", nil).IsFatal())
	assert.True(t, NewWrite("s", "m", nil).IsFatal())
	assert.True(t, NewConfiguration("m", nil).IsFatal())
	assert.False(t, NewTransient("s", "m", nil).IsFatal())
	assert.False(t, NewFriction("s", "m", nil).IsFatal())
	assert.False(t, NewRow("s", "m", nil).IsFatal())
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeStructural, TypeOf(NewStructural("s", "m", nil)))
	assert.Equal(t, ErrorTypeWrite, TypeOf(fmt.Errorf("wrapped: %w", NewWrite("s", "m", nil))))
	assert.Equal(t, ErrorTypeTransient, TypeOf(errors.New("plain")))
}
