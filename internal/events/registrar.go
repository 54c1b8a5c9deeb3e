//
// Copyright 2023 Stacklok, Inc.
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

import "fmt"

// Table is a topic-to-handler map, distinct from the Registrar interface
// above: it's a plain lookup a session builds while wiring its own
// consumers, not a live subscription against the router.
type Table struct {
	r map[string]Handler
}

// NewTable creates a new empty Table.
func NewTable() *Table {
	return &Table{
		r: make(map[string]Handler),
	}
}

// RegisterHandler registers a handler for a specific topic.
// If a handler for the topic already exists, it panics, given that
// a topic can only have one handler and this would be a programming
// error.
func (t *Table) RegisterHandler(topic string, handler Handler) {
	if _, ok := t.r[topic]; ok {
		panic(fmt.Sprintf("handler for topic %s already registered", topic))
	}
	t.r[topic] = handler
}

// GetHandler returns the handler for a specific topic
func (t *Table) GetHandler(topic string) Handler {
	return t.r[topic]
}

// Walk iterates over all registered handlers
// This is useful for subscribing all topics to the final subscriber
func (t *Table) Walk(f func(topic string, handler Handler)) {
	for topic, handler := range t.r {
		f(topic, handler)
	}
}
