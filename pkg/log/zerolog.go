package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements Logger using zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewConsoleAdapter creates an adapter writing human-readable lines to stderr.
func NewConsoleAdapter(level zerolog.Level) *ZerologAdapter {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &ZerologAdapter{logger: logger}
}

// NewZerologAdapterWithLogger creates an adapter wrapping an existing zerolog.Logger.
func NewZerologAdapterWithLogger(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

func (z *ZerologAdapter) Debug(msg string, fields ...Field) { emit(z.logger.Debug(), msg, fields) }
func (z *ZerologAdapter) Info(msg string, fields ...Field)  { emit(z.logger.Info(), msg, fields) }
func (z *ZerologAdapter) Warn(msg string, fields ...Field)  { emit(z.logger.Warn(), msg, fields) }
func (z *ZerologAdapter) Error(msg string, fields ...Field) { emit(z.logger.Error(), msg, fields) }

// Logger returns the underlying zerolog.Logger.
func (z *ZerologAdapter) Logger() zerolog.Logger {
	return z.logger
}

func emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		event = addField(event, f)
	}
	event.Msg(msg)
}

// addField adds a Field to a zerolog.Event. A disabled event is returned as is.
func addField(event *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return event.Str(f.Key, v)
	case []string:
		return event.Strs(f.Key, v)
	case int:
		return event.Int(f.Key, v)
	case bool:
		return event.Bool(f.Key, v)
	case time.Duration:
		return event.Dur(f.Key, v)
	case error:
		return event.AnErr(f.Key, v)
	default:
		return event.Interface(f.Key, v)
	}
}
