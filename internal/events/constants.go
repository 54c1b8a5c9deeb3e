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

// Metadata added to Messages
const (
	ProviderDeliveryIdKey = "id"
	SessionIDKey          = "session_id"
	GenerationKey         = "generation"

	GoChannelDriver = "go-channel"
	SQLDriver       = "sql"
	NATSDriver      = "cloudevents-nats"

	DeadLetterQueueTopic = "dead_letter_queue"
	PublishedKey         = "published_at"
)

const (
	metricsNamespace = "strata"
	metricsSubsystem = "eventer"
)

const (
	// TopicInvalidationPaths carries watcher-observed filesystem changes
	// (§4.B "debounced, generation-numbered InvalidationEvent") from the
	// watcher to a session's drain_and_invalidate loop.
	TopicInvalidationPaths = "invalidation.paths.event"
	// TopicInvalidationScope carries a changed option-scope fingerprint,
	// driving (E)'s InvalidateScope (§4.E "Dirtying" source (ii)).
	TopicInvalidationScope = "invalidation.scope.event"
	// TopicWorkunitStarted, TopicWorkunitCompleted and TopicWorkunitFailed
	// carry the scheduler's workunit lifecycle (§4.F "reports progress") to
	// the console streamer and any NDJSON export sink.
	TopicWorkunitStarted   = "workunit.started.event"
	TopicWorkunitCompleted = "workunit.completed.event"
	TopicWorkunitFailed    = "workunit.failed.event"
)
