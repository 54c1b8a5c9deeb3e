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

// Package events is the in-process (or durable, SQL-backed) pub-sub bus
// carrying invalidation and workunit events between the watcher, the graph
// engine and a session's console/export sinks (§4.I, §9 "in-process
// invalidation/workunit pub-sub").
package events

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/rs/zerolog"

	"github.com/stratabuild/strata/internal/events/common"
	"github.com/stratabuild/strata/internal/events/gochannel"
	eventersql "github.com/stratabuild/strata/internal/events/sql"
)

// Ensure that the eventer implements the interfaces
var _ Publisher = (*eventer)(nil)
var _ Service = (*eventer)(nil)
var _ Registrar = (*eventer)(nil)
var _ message.Publisher = (*eventer)(nil)

// eventer is a wrapper over the relevant eventing objects in such
// a way that they can be easily accessible and configurable.
type eventer struct {
	router *message.Router
	// busPublisher publishes onto the bus (invalidation, workunit topics).
	busPublisher message.Publisher
	// busSubscriber subscribes to the bus for a session's own consumers.
	busSubscriber message.Subscriber

	closer common.DriverCloser
}

// NewEventer creates an eventer object which isolates the watermill setup code.
func NewEventer(ctx context.Context, cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, errors.New("event config is nil")
	}

	l := newZerologAdapter(zerolog.Ctx(ctx).With().Str("component", "watermill").Logger())

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: time.Duration(cfg.RouterCloseTimeout) * time.Second,
	}, l)
	if err != nil {
		return nil, err
	}

	pub, sub, cl, err := instantiateDriver(ctx, cfg.Driver, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed instantiating driver: %w", err)
	}

	poisonQueueMiddleware, err := middleware.PoisonQueue(pub, DeadLetterQueueTopic)
	if err != nil {
		return nil, fmt.Errorf("failed instantiating poison queue: %w", err)
	}
	// Router level middleware are executed for every message sent to the router
	router.AddMiddleware(
		recordLatency(zerolog.Ctx(ctx).With().Str("component", "eventer").Logger()),
		poisonQueueMiddleware,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Millisecond * 100,
			Logger:          l,
		}.Middleware,
		// CorrelationID copies the correlation id from the incoming message's metadata to the produced messages
		middleware.CorrelationID,
		dontNack(cfg.Driver, l),
	)

	return &eventer{
		router:        router,
		busPublisher:  pub,
		busSubscriber: sub,
		closer:        cl,
	}, nil
}

func instantiateDriver(
	ctx context.Context,
	driver string,
	cfg *Config,
) (message.Publisher, message.Subscriber, common.DriverCloser, error) {
	switch driver {
	case GoChannelDriver:
		zerolog.Ctx(ctx).Info().Msg("using go-channel driver")
		return gochannel.BuildGoChannelDriver(gochannel.Config{
			BufferSize:    cfg.GoChannel.BufferSize,
			PersistEvents: cfg.GoChannel.PersistEvents,
		})
	case SQLDriver:
		zerolog.Ctx(ctx).Info().Msg("using SQL driver")
		return eventersql.BuildPostgreSQLDriver(ctx, cfg.SQL.ConnectionString)
	default:
		return nil, nil, nil, fmt.Errorf("unknown driver %s", driver)
	}
}

// Close closes the router
func (e *eventer) Close() error {
	e.closer()
	return e.router.Close()
}

// Run runs the router, blocks until the router is closed
func (e *eventer) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

// Running returns a channel which allows you to wait until the
// event router has started.
func (e *eventer) Running() chan struct{} {
	return e.router.Running()
}

// Publish implements message.Publisher
func (e *eventer) Publish(topic string, messages ...*message.Message) error {
	pc, _, _, ok := runtime.Caller(1)
	details := runtime.FuncForPC(pc)

	if ok && details != nil {
		for idx := range messages {
			msg := messages[idx]
			e.router.Logger().Debug("publishing message", watermill.LogFields{
				"message_uuid": msg.UUID,
				"topic":        topic,
				"handler":      details.Name(),
				"component":    "eventer",
				"function":     "Publish",
			})
			msg.Metadata.Set(PublishedKey, time.Now().Format(time.RFC3339))
		}
	}

	return e.busPublisher.Publish(topic, messages...)
}

// Register subscribes to a topic and handles incoming messages
func (e *eventer) Register(
	topic string,
	handler message.NoPublishHandlerFunc,
	mdw ...message.HandlerMiddleware,
) {
	funcName := fmt.Sprintf("%s-%s", runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name(), topic)
	hand := e.router.AddNoPublisherHandler(
		funcName,
		topic,
		e.busSubscriber,
		func(msg *message.Message) error {
			if err := handler(msg); err != nil {
				e.router.Logger().Error("error handling message", err, watermill.LogFields{
					"message_uuid": msg.UUID,
					"topic":        topic,
					"handler":      funcName,
					"component":    "eventer",
				})
				return err
			}

			e.router.Logger().Debug("handled message", watermill.LogFields{
				"message_uuid": msg.UUID,
				"topic":        topic,
				"handler":      funcName,
				"component":    "eventer",
			})
			return nil
		},
	)

	for _, m := range mdw {
		hand.AddMiddleware(m)
	}
}

// ConsumeEvents allows registration of multiple consumers easily
func (e *eventer) ConsumeEvents(consumers ...Consumer) {
	for _, c := range consumers {
		c.Register(e)
	}
}
