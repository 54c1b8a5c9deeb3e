package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRetriableError_WrapsErrRetriable(t *testing.T) {
	err := NewRetriableError("lookup %s failed", "topic")
	require.ErrorIs(t, err, ErrRetriable)
	require.Contains(t, err.Error(), "lookup topic failed")
}

func TestNewRetriableError_DistinctFromOtherErrors(t *testing.T) {
	err := NewRetriableError("boom")
	require.False(t, errors.Is(err, errors.New("boom")))
}
