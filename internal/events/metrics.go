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

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/rs/zerolog"
)

// recordLatency logs the elapsed time between a message's PublishedKey
// timestamp and its dequeue for processing, tagged with whether the message
// ended up on the poison queue. There is no metrics backend wired into this
// package (§9 design note), so latency is observed through the structured
// log stream rather than a counter/histogram.
func recordLatency(l zerolog.Logger) func(h message.HandlerFunc) message.HandlerFunc {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			var processingTime time.Duration
			if publishedAt := msg.Metadata.Get(PublishedKey); publishedAt != "" {
				if parsedTime, err := time.Parse(time.RFC3339, publishedAt); err == nil {
					processingTime = time.Since(parsedTime)
				}
			}

			res, err := h(msg)

			// Checked after h runs so a deferred PoisonQueue middleware has
			// already had a chance to mark the message.
			isPoisoned := msg.Metadata.Get(middleware.ReasonForPoisonedKey) != ""
			l.Debug().
				Str("message_uuid", msg.UUID).
				Dur("processing_time", processingTime).
				Bool("poison", isPoisoned).
				Msg("message processed")

			return res, err
		}
	}
}
