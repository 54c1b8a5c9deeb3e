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

// GoChannelConfig configures the in-process driver (§9 "in-process
// invalidation/workunit pub-sub").
type GoChannelConfig struct {
	BufferSize    int64 `mapstructure:"buffer_size" default:"256"`
	PersistEvents bool  `mapstructure:"persist_events" default:"false"`
}

// SQLConfig configures the optional durable driver, for a session that
// outlives the process (e.g. a long-running watch daemon restarted mid-run).
type SQLConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
}

// Config selects and configures the eventer's pub-sub driver. A session
// (component I) defaults to the go-channel driver; the SQL driver is opt-in
// for deployments that need invalidation/workunit history to survive a
// process restart.
type Config struct {
	Driver             string          `mapstructure:"driver" default:"go-channel"`
	RouterCloseTimeout int             `mapstructure:"router_close_timeout" default:"10"`
	GoChannel          GoChannelConfig `mapstructure:"go_channel"`
	SQL                SQLConfig       `mapstructure:"sql"`
}
