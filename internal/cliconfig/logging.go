package cliconfig

import (
	"github.com/rs/zerolog"

	"github.com/bft-labs/chanext/pkg/log"
)

// Logger returns the CLI console logger at level.
func Logger(level zerolog.Level) *log.ZerologAdapter {
	return log.NewConsoleAdapter(level)
}
