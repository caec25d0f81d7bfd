package sites

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/bft-labs/chanext/pkg/scope"
)

// Lookup is the read side of a site store.
type Lookup interface {
	Get(ctx context.Context, id int64) (Site, error)
	GetByDomain(ctx context.Context, domain string) (Site, error)
}

// CurrentProvider resolves the current site from a store.
//
// With a non-zero site ID every scope resolves to that site. With a zero ID
// the site is looked up by the scope's host header, first as sent and then
// without its port. Successful lookups are cached until ClearCache.
type CurrentProvider struct {
	store  Lookup
	siteID int64

	mu     sync.RWMutex
	byID   map[int64]Site
	byHost map[string]Site
}

// NewCurrentProvider creates a provider backed by store.
func NewCurrentProvider(store Lookup, siteID int64) *CurrentProvider {
	return &CurrentProvider{
		store:  store,
		siteID: siteID,
		byID:   make(map[int64]Site),
		byHost: make(map[string]Site),
	}
}

// Current implements Provider.
func (p *CurrentProvider) Current(ctx context.Context, s scope.Scope) (Site, error) {
	if p.siteID != 0 {
		return p.byConfiguredID(ctx)
	}

	host := Host(s)
	if host == "" {
		return Site{}, ErrNoHost
	}
	return p.byRequestHost(ctx, host)
}

// ClearCache forgets every cached site.
func (p *CurrentProvider) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.byID)
	clear(p.byHost)
}

func (p *CurrentProvider) byConfiguredID(ctx context.Context) (Site, error) {
	p.mu.RLock()
	site, ok := p.byID[p.siteID]
	p.mu.RUnlock()
	if ok {
		return site, nil
	}

	site, err := p.store.Get(ctx, p.siteID)
	if err != nil {
		return Site{}, err
	}

	p.mu.Lock()
	p.byID[p.siteID] = site
	p.mu.Unlock()
	return site, nil
}

func (p *CurrentProvider) byRequestHost(ctx context.Context, host string) (Site, error) {
	p.mu.RLock()
	site, ok := p.byHost[host]
	p.mu.RUnlock()
	if ok {
		return site, nil
	}

	site, err := p.store.GetByDomain(ctx, host)
	if errors.Is(err, ErrSiteNotFound) {
		if domain, _, splitErr := net.SplitHostPort(host); splitErr == nil {
			site, err = p.store.GetByDomain(ctx, domain)
		}
	}
	if err != nil {
		return Site{}, err
	}

	p.mu.Lock()
	p.byHost[host] = site
	p.mu.Unlock()
	return site, nil
}

// Host returns the lower-cased host header of s, or "". Headers may be
// stored as [][2][]byte or [][2]string pairs.
func Host(s scope.Scope) string {
	switch headers := s["headers"].(type) {
	case [][2][]byte:
		for _, h := range headers {
			if strings.EqualFold(string(h[0]), "host") {
				return strings.ToLower(string(h[1]))
			}
		}
	case [][2]string:
		for _, h := range headers {
			if strings.EqualFold(h[0], "host") {
				return strings.ToLower(h[1])
			}
		}
	}
	return ""
}

var _ Provider = (*CurrentProvider)(nil)
