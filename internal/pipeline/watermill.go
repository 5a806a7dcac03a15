// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

package pipeline

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// wmLogger bridges watermill's logging to zerolog.
type wmLogger struct {
	l zerolog.Logger
}

var _ watermill.LoggerAdapter = wmLogger{}

func newWatermillLogger(l zerolog.Logger) wmLogger {
	return wmLogger{l: l.With().Str("component", "queue").Logger()}
}

func (w wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.event(w.l.Error().Err(err), msg, fields)
}

func (w wmLogger) Info(msg string, fields watermill.LogFields) {
	w.event(w.l.Info(), msg, fields)
}

func (w wmLogger) Debug(msg string, fields watermill.LogFields) {
	w.event(w.l.Debug(), msg, fields)
}

func (w wmLogger) Trace(msg string, fields watermill.LogFields) {
	w.event(w.l.Trace(), msg, fields)
}

func (w wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := w.l.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return wmLogger{l: ctx.Logger()}
}

func (w wmLogger) event(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
