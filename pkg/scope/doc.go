// Package scope models a connection scope and the middleware chain that
// serves it.
//
// A Scope is a map created once per connection. Middleware inspects it,
// possibly derives a new scope, and delegates to the next Application.
//
// # Populating a scope once
//
// Guard and Populate attach a derived value (the current site, an
// authenticated user) to the scope under one key:
//
//	mw := scope.Populate("site", func(ctx context.Context, s scope.Scope) (any, error) {
//	    return sites.Current(ctx)
//	})
//	app := scope.Chain(handler, mw)
//
// The computation is skipped when the key is present, serialized by a lock
// that honors ctx, and its result is written to a copy of the scope.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package scope
