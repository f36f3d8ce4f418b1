package gateway

import (
	"fmt"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// zeroLogger routes whatsmeow's logging into zerolog, tagged by module.
type zeroLogger struct {
	l zerolog.Logger
}

func newWALogger(base zerolog.Logger, module string) waLog.Logger {
	return zeroLogger{l: base.With().Str("module", module).Logger()}
}

func (z zeroLogger) Errorf(msg string, args ...interface{}) {
	z.l.Error().Msg(fmt.Sprintf(msg, args...))
}

func (z zeroLogger) Warnf(msg string, args ...interface{}) {
	z.l.Warn().Msg(fmt.Sprintf(msg, args...))
}

func (z zeroLogger) Infof(msg string, args ...interface{}) {
	z.l.Info().Msg(fmt.Sprintf(msg, args...))
}

func (z zeroLogger) Debugf(msg string, args ...interface{}) {
	z.l.Debug().Msg(fmt.Sprintf(msg, args...))
}

func (z zeroLogger) Sub(module string) waLog.Logger {
	return zeroLogger{l: z.l.With().Str("module", module).Logger()}
}
