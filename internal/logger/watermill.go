package logger

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillAdapter routes watermill's internal logging into zerolog.
type WatermillAdapter struct {
	log zerolog.Logger
}

var _ watermill.LoggerAdapter = WatermillAdapter{}

// NewWatermillAdapter wraps l. Watermill's info chatter is demoted to debug.
func NewWatermillAdapter(l zerolog.Logger) WatermillAdapter {
	return WatermillAdapter{log: l}
}

func (a WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return WatermillAdapter{log: a.log.With().Fields(map[string]interface{}(fields)).Logger()}
}
