package pion

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type loggerFactory struct{}

// NewLoggerFactory routes pion's internal logging into zerolog. Pion's own
// info and debug chatter is demoted one level.
func NewLoggerFactory() logging.LoggerFactory {
	return loggerFactory{}
}

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveled{log: log.With().Str("pion", scope).Logger()}
}

type leveled struct {
	log zerolog.Logger
}

func (l *leveled) Trace(msg string)                          { l.log.Trace().Msg(msg) }
func (l *leveled) Tracef(format string, args ...interface{}) { l.log.Trace().Msgf(format, args...) }
func (l *leveled) Debug(msg string)                          { l.log.Trace().Msg(msg) }
func (l *leveled) Debugf(format string, args ...interface{}) { l.log.Trace().Msgf(format, args...) }
func (l *leveled) Info(msg string)                           { l.log.Debug().Msg(msg) }
func (l *leveled) Infof(format string, args ...interface{})  { l.log.Debug().Msgf(format, args...) }
func (l *leveled) Warn(msg string)                           { l.log.Warn().Msg(msg) }
func (l *leveled) Warnf(format string, args ...interface{})  { l.log.Warn().Msgf(format, args...) }
func (l *leveled) Error(msg string)                          { l.log.Error().Msg(msg) }
func (l *leveled) Errorf(format string, args ...interface{}) { l.log.Error().Msgf(format, args...) }
