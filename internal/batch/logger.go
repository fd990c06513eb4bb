package batch

import "github.com/rs/zerolog"

// Logger receives one human-readable message per failed item.
type Logger interface {
	Log(msg string)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(msg string)

func (f LoggerFunc) Log(msg string) {
	f(msg)
}

// ZerologLogger writes item failures at error level.
type ZerologLogger struct {
	Logger zerolog.Logger
}

func (l ZerologLogger) Log(msg string) {
	l.Logger.Error().Msg(msg)
}

type nopLogger struct{}

func (nopLogger) Log(string) {}
