package sites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/bft-labs/chanext/pkg/log"
)

const (
	idPrefix     = "site/id/"
	domainPrefix = "site/domain/"
)

// Store persists sites in badger, indexed by ID and by domain.
type Store struct {
	db *badger.DB
}

// StoreOption configures how a Store opens its database.
type StoreOption func(badger.Options) badger.Options

// WithStoreLogger routes badger's own logging to logger.
func WithStoreLogger(logger log.Logger) StoreOption {
	return func(o badger.Options) badger.Options {
		return o.WithLogger(badgerLogger{log.OrNoop(logger)})
	}
}

// Open opens or creates a Store in dir.
func Open(dir string, opts ...StoreOption) (*Store, error) {
	return open(badger.DefaultOptions(dir), opts)
}

// OpenInMemory opens a Store that keeps everything in memory.
func OpenInMemory(opts ...StoreOption) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), opts)
}

func open(o badger.Options, opts []StoreOption) (*Store, error) {
	o = o.WithLogger(nil)
	for _, opt := range opts {
		o = opt(o)
	}
	db, err := badger.Open(o)
	if err != nil {
		return nil, fmt.Errorf("open site store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put creates or replaces a site. Domains are case-insensitive and unique.
func (s *Store) Put(ctx context.Context, site Site) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	site.Domain = normalizeDomain(site.Domain)
	if site.ID <= 0 || site.Domain == "" {
		return fmt.Errorf("%w: id %d, domain %q", ErrInvalidSite, site.ID, site.Domain)
	}

	value, err := json.Marshal(site)
	if err != nil {
		return fmt.Errorf("encode site: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		owner, err := lookupDomain(txn, site.Domain)
		switch {
		case err == nil && owner != site.ID:
			return fmt.Errorf("%w: %s", ErrDomainTaken, site.Domain)
		case err != nil && !errors.Is(err, ErrSiteNotFound):
			return err
		}

		prev, err := getSite(txn, site.ID)
		switch {
		case err == nil && prev.Domain != site.Domain:
			if err := txn.Delete(domainKey(prev.Domain)); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, ErrSiteNotFound):
			return err
		}

		if err := txn.Set(idKey(site.ID), value); err != nil {
			return err
		}
		return txn.Set(domainKey(site.Domain), []byte(strconv.FormatInt(site.ID, 10)))
	})
}

// Get returns the site with id.
func (s *Store) Get(ctx context.Context, id int64) (Site, error) {
	if err := ctx.Err(); err != nil {
		return Site{}, err
	}
	var site Site
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		site, err = getSite(txn, id)
		return err
	})
	return site, err
}

// GetByDomain returns the site serving domain.
func (s *Store) GetByDomain(ctx context.Context, domain string) (Site, error) {
	if err := ctx.Err(); err != nil {
		return Site{}, err
	}
	var site Site
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := lookupDomain(txn, normalizeDomain(domain))
		if err != nil {
			return err
		}
		site, err = getSite(txn, id)
		return err
	})
	return site, err
}

// Delete removes the site with id. Deleting a missing site is not an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		site, err := getSite(txn, id)
		if errors.Is(err, ErrSiteNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(domainKey(site.Domain)); err != nil {
			return err
		}
		return txn.Delete(idKey(id))
	})
}

// List returns every site ordered by ID.
func (s *Store) List(ctx context.Context) ([]Site, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Site
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(idPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var site Site
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &site)
			}); err != nil {
				return err
			}
			out = append(out, site)
		}
		return nil
	})
	return out, err
}

func getSite(txn *badger.Txn, id int64) (Site, error) {
	item, err := txn.Get(idKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Site{}, fmt.Errorf("%w: id %d", ErrSiteNotFound, id)
	}
	if err != nil {
		return Site{}, err
	}
	var site Site
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &site)
	})
	return site, err
}

func lookupDomain(txn *badger.Txn, domain string) (int64, error) {
	item, err := txn.Get(domainKey(domain))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, fmt.Errorf("%w: domain %s", ErrSiteNotFound, domain)
	}
	if err != nil {
		return 0, err
	}
	var id int64
	err = item.Value(func(v []byte) error {
		var perr error
		id, perr = strconv.ParseInt(string(v), 10, 64)
		return perr
	})
	return id, err
}

// idKey zero-pads the ID so that iteration order matches numeric order.
func idKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", idPrefix, id))
}

func domainKey(domain string) []byte {
	return []byte(domainPrefix + domain)
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// badgerLogger adapts log.Logger to badger.Logger.
type badgerLogger struct {
	logger log.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), log.String("component", "badger"))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), log.String("component", "badger"))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)), log.String("component", "badger"))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), log.String("component", "badger"))
}
