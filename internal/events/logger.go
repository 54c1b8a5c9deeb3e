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
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// zerologAdapter implements watermill.LoggerAdapter over a zerolog.Logger, so
// the router's internal log lines join the rest of a session's structured
// log stream instead of going to watermill's own stdlib logger.
type zerologAdapter struct {
	logger zerolog.Logger
}

// newZerologAdapter wraps l for use as a watermill router logger.
func newZerologAdapter(l zerolog.Logger) watermill.LoggerAdapter {
	return zerologAdapter{logger: l}
}

func (a zerologAdapter) with(fields watermill.LogFields) zerolog.Context {
	ctx := a.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx
}

func (a zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.with(fields).Logger().Error().Err(err).Msg(msg)
}

func (a zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.with(fields).Logger().Info().Msg(msg)
}

func (a zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.with(fields).Logger().Debug().Msg(msg)
}

func (a zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.with(fields).Logger().Trace().Msg(msg)
}

func (a zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zerologAdapter{logger: a.with(fields).Logger()}
}
