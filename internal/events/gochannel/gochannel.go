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

// Package gochannel provides the in-process pub-sub driver for the eventer
// (§9 "in-process invalidation/workunit pub-sub"), the default for a single
// session.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/stratabuild/strata/internal/events/common"
)

// Config is the subset of the eventer's configuration this driver reads.
type Config struct {
	BufferSize    int64
	PersistEvents bool
}

// BuildGoChannelDriver creates an in-memory driver for the eventer. Publisher
// and Subscriber are the same object: gochannel fans out to subscribers
// registered before a message is published.
func BuildGoChannelDriver(cfg Config) (message.Publisher, message.Subscriber, common.DriverCloser, error) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
		Persistent:          cfg.PersistEvents,
	}, nil)

	return pubsub, pubsub, func() {}, nil
}
