//
// Copyright 2024 Stacklok, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package events

// This file defines the narrow interfaces a session, the watcher, and the
// scheduler's reporters depend on instead of the concrete *eventer, so all
// three can be exercised against the synchronous stubs.StubEventer in tests
// without a running router.

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Handler is an alias for the watermill handler type, which is both wordy and may be
// detail we don't want to expose.
type Handler = message.NoPublishHandlerFunc

// Registrar lets a bus subscriber (session.Session, the unordered retry
// processor) attach a Handler to a topic without depending on the concrete
// eventer. Register may be called more than once with the same topic and
// different handlers, or the same handler across different topics; calling
// it twice with identical arguments registers a duplicate handler name, and
// the router panics.
type Registrar interface {
	Register(topic string, handler Handler, mdw ...message.HandlerMiddleware)
}

// Consumer is implemented by a component that owns one or more topics (the
// session's invalidation handlers, a future workunit sink) so it can be
// handed to Service.ConsumeEvents instead of calling Register itself.
type Consumer interface {
	Register(Registrar)
}

// AggregatorMiddleware lets a component contribute a watermill
// HandlerMiddleware to the router without depending on the message package
// directly at the call site.
type AggregatorMiddleware interface {
	AggregateMiddleware(h message.HandlerFunc) message.HandlerFunc
}

// Publisher is implemented by anything that needs to put a message on the
// bus: session.Session.Invalidate and PublishScopeChange, and the unordered
// retry processor when it republishes a failed message.
type Publisher interface {
	// Publish implements message.Publisher
	Publish(topic string, messages ...*message.Message) error
}

// Service orchestrates the router lifecycle: registering every consumer a
// session owns, then running until the session tears it down.
type Service interface {
	// ConsumeEvents allows registration of multiple consumers easily
	ConsumeEvents(consumers ...Consumer)
	// Close closes the router
	Close() error
	// Run runs the router, blocks until the router is closed
	Run(ctx context.Context) error

	// Running returns a channel which allows you to wait until the
	// event router has started.
	Running() chan struct{}
}

// Interface is the full surface a session needs from its bus: it is
// satisfied by both the real eventer and stubs.StubEventer.
type Interface interface {
	Publisher
	Registrar
	Service
}
