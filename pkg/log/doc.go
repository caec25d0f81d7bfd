// Package log provides the logging abstraction shared by chanext packages.
//
// Layers, the registry, middleware and plugins accept a Logger and default
// to NoopLogger, so embedding chanext produces no output unless asked to.
//
// # Usage
//
// Wrap an existing zerolog logger:
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//
// Or log to the console at a given level:
//
//	logger := log.NewConsoleAdapter(zerolog.InfoLevel)
//
// # Version
//
// Current version: 1.1.0
// Minimum compatible version: 1.0.0
package log
