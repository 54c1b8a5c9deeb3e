package events

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

func TestDontNack_NonSQLDriverPassesThroughError(t *testing.T) {
	wantErr := errTestSentinel("boom")
	handler := dontNack(GoChannelDriver, watermill.NopLogger{})(func(msg *message.Message) ([]*message.Message, error) {
		return nil, wantErr
	})

	_, err := handler(message.NewMessage("1", nil))
	require.Equal(t, wantErr, err)
}

func TestDontNack_SQLDriverSwallowsErrorToAvoidRetryLoop(t *testing.T) {
	handler := dontNack(SQLDriver, watermill.NopLogger{})(func(msg *message.Message) ([]*message.Message, error) {
		return nil, errTestSentinel("boom")
	})

	msgs, err := handler(message.NewMessage("1", nil))
	require.NoError(t, err)
	require.Nil(t, msgs)
}
