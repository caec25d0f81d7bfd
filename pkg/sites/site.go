package sites

import (
	"context"
	"errors"

	"github.com/bft-labs/chanext/pkg/scope"
)

// ScopeKey is the scope entry CurrentSite middleware populates.
const ScopeKey = "site"

// Site errors can be checked with errors.Is.
var (
	// ErrSiteNotFound is returned when no site matches an ID or domain.
	ErrSiteNotFound = errors.New("sites: site not found")

	// ErrNoHost is returned when the current site depends on the request
	// host and the scope carries none.
	ErrNoHost = errors.New("sites: scope has no host header")

	// ErrInvalidSite is returned when storing a site without an ID or domain.
	ErrInvalidSite = errors.New("sites: invalid site")

	// ErrDomainTaken is returned when another site already owns the domain.
	ErrDomainTaken = errors.New("sites: domain already in use")
)

// Site is one deployment served by the application.
type Site struct {
	ID     int64  `json:"id"`
	Domain string `json:"domain"`
	Name   string `json:"name"`
}

// Provider resolves the site a connection belongs to.
type Provider interface {
	Current(ctx context.Context, s scope.Scope) (Site, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, s scope.Scope) (Site, error)

// Current calls f.
func (f ProviderFunc) Current(ctx context.Context, s scope.Scope) (Site, error) {
	return f(ctx, s)
}

// Static returns a Provider that always resolves to site.
func Static(site Site) Provider {
	return ProviderFunc(func(context.Context, scope.Scope) (Site, error) {
		return site, nil
	})
}

// FromScope returns the site attached by Middleware.
func FromScope(s scope.Scope) (Site, bool) {
	site, ok := s[ScopeKey].(Site)
	return site, ok
}

// Middleware attaches the current site to every scope that lacks one.
// The provider runs at most once at a time per wrapped application, and never
// for a scope that already carries a site.
func Middleware(p Provider) scope.Middleware {
	return scope.Populate(ScopeKey, func(ctx context.Context, s scope.Scope) (any, error) {
		return p.Current(ctx, s)
	})
}
