// Copyright 2024 Stacklok, Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stubs contains a synchronous, no-router eventer double for tests
// that need a component wired against events.Interface but don't want the
// timing nondeterminism of a real watermill router (goroutine dispatch,
// Eventually-polling for delivery). Handlers registered on a StubEventer run
// inline, in Publish, on the publishing goroutine.
package stubs

import (
	"context"
	"slices"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/stratabuild/strata/internal/events"
)

// StubEventer is a stub implementation of events.Interface and the events.Publisher interface
var _ events.Interface = (*StubEventer)(nil)
var _ events.Publisher = (*StubEventer)(nil)

// StubEventer is an eventer that's useful for testing.
type StubEventer struct {
	Topics []string
	Sent   []*message.Message

	handlers *events.Table
	closed   bool
}

// Close implements events.Interface. It is safe to call more than once.
func (s *StubEventer) Close() error {
	s.closed = true
	return nil
}

// ConsumeEvents implements events.Interface by registering every consumer
// against the stub's handler table, exactly as a real eventer would.
func (s *StubEventer) ConsumeEvents(consumers ...events.Consumer) {
	for _, c := range consumers {
		c.Register(s)
	}
}

// Publish implements events.Interface. Registered handlers for topic run
// synchronously before Publish returns, so a test can assert on their side
// effects immediately instead of polling.
func (s *StubEventer) Publish(topic string, messages ...*message.Message) error {
	if !slices.Contains(s.Topics, topic) {
		s.Topics = append(s.Topics, topic)
	}
	s.Sent = append(s.Sent, messages...)

	if s.handlers == nil {
		return nil
	}
	if h := s.handlers.GetHandler(topic); h != nil {
		for _, msg := range messages {
			if err := h(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Register implements events.Interface. Middleware is ignored: a stub test
// double does not reproduce the router's middleware chain, only dispatch.
func (s *StubEventer) Register(topic string, handler message.NoPublishHandlerFunc, _ ...message.HandlerMiddleware) {
	if s.handlers == nil {
		s.handlers = events.NewTable()
	}
	s.handlers.RegisterHandler(topic, handler)
}

// Run implements events.Interface. There is no router to drive, so Run
// simply blocks until ctx is done, as a real router's Run would.
func (s *StubEventer) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Running implements events.Interface, returning an already-closed channel:
// a StubEventer has no startup delay to wait out.
func (*StubEventer) Running() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
