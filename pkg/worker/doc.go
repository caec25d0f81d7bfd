// Package worker consumes channels of a layer and dispatches each message
// to an application.
//
// Every message becomes a connection with scope
// {"type": "channel", "channel": <name>}. The application's receive yields the
// message once and then blocks until the worker stops; its send always fails
// with ErrSendUnsupported. Application errors are logged and do not stop the
// worker.
//
// # Usage
//
//	w := worker.New(l, app, []string{"thumbnails"}, worker.WithLogger(logger))
//	if err := w.Run(ctx); err != nil {
//	    return err
//	}
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package worker
