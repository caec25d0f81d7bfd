// Package sites attaches the current site to connection scopes.
//
// Middleware populates the "site" scope key once per scope using a
// Provider. CurrentProvider resolves the site from a Store, either by a
// configured site ID or by the connection's host header.
//
// # Usage
//
//	store, err := sites.Open("/var/lib/chanext/sites")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	app := scope.Chain(handler, sites.Middleware(sites.NewCurrentProvider(store, 1)))
//
// Inside the handler:
//
//	site, ok := sites.FromScope(s)
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package sites
