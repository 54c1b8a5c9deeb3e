package stubs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/stratabuild/strata/internal/events"
)

func TestStubEventer_Publish_RecordsMessagesAndDedupsTopics(t *testing.T) {
	s := &StubEventer{}

	require.NoError(t, s.Publish("topic.a", message.NewMessage("1", nil)))
	require.NoError(t, s.Publish("topic.a", message.NewMessage("2", nil)))
	require.NoError(t, s.Publish("topic.b", message.NewMessage("3", nil)))

	require.Equal(t, []string{"topic.a", "topic.b"}, s.Topics)
	require.Len(t, s.Sent, 3)
}

func TestStubEventer_Register_DispatchesSynchronouslyFromPublish(t *testing.T) {
	s := &StubEventer{}

	var gotPayload string
	s.Register("topic.a", func(msg *message.Message) error {
		gotPayload = string(msg.Payload)
		return nil
	})

	require.NoError(t, s.Publish("topic.a", message.NewMessage("1", []byte("hello"))))
	require.Equal(t, "hello", gotPayload)
}

func TestStubEventer_Publish_PropagatesHandlerError(t *testing.T) {
	s := &StubEventer{}
	wantErr := errors.New("boom")
	s.Register("topic.a", func(*message.Message) error { return wantErr })

	err := s.Publish("topic.a", message.NewMessage("1", nil))
	require.ErrorIs(t, err, wantErr)
}

func TestStubEventer_Publish_UnregisteredTopicIsANoop(t *testing.T) {
	s := &StubEventer{}
	require.NoError(t, s.Publish("topic.unregistered", message.NewMessage("1", nil)))
}

func TestStubEventer_ConsumeEvents_RegistersEveryConsumer(t *testing.T) {
	s := &StubEventer{}
	c := &recordingConsumer{topic: "topic.a"}
	s.ConsumeEvents(c)

	require.NoError(t, s.Publish("topic.a", message.NewMessage("1", nil)))
	require.Equal(t, 1, c.calls)
}

func TestStubEventer_Run_BlocksUntilContextDone(t *testing.T) {
	s := &StubEventer{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStubEventer_Running_IsImmediatelyClosed(t *testing.T) {
	s := &StubEventer{}
	select {
	case <-s.Running():
	default:
		t.Fatal("Running() channel should already be closed")
	}
}

func TestStubEventer_Close_IsIdempotent(t *testing.T) {
	s := &StubEventer{}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

type recordingConsumer struct {
	topic string
	calls int
}

func (c *recordingConsumer) Register(r events.Registrar) {
	r.Register(c.topic, func(*message.Message) error {
		c.calls++
		return nil
	})
}
