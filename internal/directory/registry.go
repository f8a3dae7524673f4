package directory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Registry is the moniker directory: a Repository with an in-memory cache.
//
// Resolve only reads the cache, so the poll engine can call it from
// RegisterField without touching the database. Mutations write through
// to the repository first and update the cache once the write succeeded.
//
// All public methods are thread-safe.
type Registry struct {
	repo   Repository
	logger Logger

	// writeMu serialises mutations so cache and database apply them in
	// the same order. Readers never take it.
	writeMu sync.Mutex

	cache   map[string]Entry // by lowercased moniker
	cacheMu sync.RWMutex
}

var _ pollengine.HostResolver = (*Registry)(nil)

// NewRegistry creates a directory over repo. Call RefreshCache before use.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
		cache:  make(map[string]Entry),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// RefreshCache reloads every entry from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	entries, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading directory: %w", err)
	}

	cache := make(map[string]Entry, len(entries))
	for _, e := range entries {
		cache[key(e.Moniker)] = e
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.logger.Debug("directory cache refreshed", "count", len(entries))
	return nil
}

// Run refreshes the cache every interval until ctx is done. A zero or
// negative interval returns immediately.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshCache(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("directory refresh failed", "error", err)
			}
		}
	}
}

// Resolve returns the host for moniker from the cache.
// It wraps pollengine.ErrUnknownMoniker when nothing is recorded.
func (r *Registry) Resolve(moniker string) (string, error) {
	r.cacheMu.RLock()
	e, ok := r.cache[key(moniker)]
	r.cacheMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", pollengine.ErrUnknownMoniker, moniker)
	}
	return e.Host, nil
}

// Lookup returns the cached entry for moniker.
func (r *Registry) Lookup(moniker string) (Entry, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	e, ok := r.cache[key(moniker)]
	return e, ok
}

// Entries returns a copy of every cached entry ordered by moniker.
func (r *Registry) Entries() []Entry {
	r.cacheMu.RLock()
	entries := make([]Entry, 0, len(r.cache))
	for _, e := range r.cache {
		entries = append(entries, e)
	}
	r.cacheMu.RUnlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		return cmp.Compare(key(a.Moniker), key(b.Moniker))
	})
	return entries
}

// SetHost records host as the owner of moniker.
//
// Returns:
//   - error: ErrInvalidEntry for a bad moniker or host, ErrOutranked when
//     the existing entry comes from a higher-precedence source
func (r *Registry) SetHost(ctx context.Context, moniker, host, source string) error {
	if err := validate(moniker, host); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if existing, ok := r.Lookup(moniker); ok {
		if !outranks(source, existing.Source) {
			return fmt.Errorf("%w: %s is set by %s", ErrOutranked, moniker, existing.Source)
		}
		if existing.Host == host && existing.Source == source {
			return nil
		}
	}

	e := Entry{Moniker: moniker, Host: host, Source: source, UpdatedAt: time.Now().UTC()}
	if err := r.repo.Upsert(ctx, e); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[key(moniker)] = e
	r.cacheMu.Unlock()

	r.logger.Info("directory entry set", "moniker", moniker, "host", host, "source", source)
	return nil
}

// Remove deletes the entry for moniker.
func (r *Registry) Remove(ctx context.Context, moniker string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	e, ok := r.Lookup(moniker)
	if !ok {
		return ErrEntryNotFound
	}
	if err := r.repo.Delete(ctx, e.Moniker); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, key(moniker))
	r.cacheMu.Unlock()

	r.logger.Info("directory entry removed", "moniker", e.Moniker, "host", e.Host)
	return nil
}

// SetHostMonikers makes monikers the complete set that source records for
// host. Monikers owned by a higher-precedence source are skipped.
func (r *Registry) SetHostMonikers(ctx context.Context, host string, monikers []string, source string) error {
	if err := validate("x", host); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	now := time.Now().UTC()
	entries := make([]Entry, 0, len(monikers))
	seen := make(map[string]bool, len(monikers))
	for _, m := range monikers {
		if !pollengine.ValidMoniker(m) || seen[key(m)] {
			continue
		}
		seen[key(m)] = true
		if existing, ok := r.Lookup(m); ok && !outranks(source, existing.Source) {
			if existing.Host != host {
				r.logger.Warn("announced moniker is pinned elsewhere",
					"moniker", m, "announced_host", host, "pinned_host", existing.Host, "pinned_by", existing.Source)
			}
			continue
		}
		entries = append(entries, Entry{Moniker: m, Host: host, Source: source, UpdatedAt: now})
	}

	if err := r.repo.ReplaceForHost(ctx, host, source, entries); err != nil {
		return err
	}

	r.cacheMu.Lock()
	for k, e := range r.cache {
		if e.Host == host && e.Source == source {
			delete(r.cache, k)
		}
	}
	for _, e := range entries {
		r.cache[key(e.Moniker)] = e
	}
	r.cacheMu.Unlock()

	r.logger.Debug("host monikers recorded", "host", host, "source", source, "count", len(entries))
	return nil
}

// Seed applies the static moniker to host map from config. Config entries
// no longer present in hosts are removed.
func (r *Registry) Seed(ctx context.Context, hosts map[string]string) error {
	var errs []error
	for moniker, host := range hosts {
		if err := r.SetHost(ctx, moniker, host, SourceConfig); err != nil {
			errs = append(errs, fmt.Errorf("seeding %s: %w", moniker, err))
		}
	}

	wanted := make(map[string]bool, len(hosts))
	for moniker := range hosts {
		wanted[key(moniker)] = true
	}
	for _, e := range r.Entries() {
		if e.Source == SourceConfig && !wanted[key(e.Moniker)] {
			if err := r.Remove(ctx, e.Moniker); err != nil && !errors.Is(err, ErrEntryNotFound) {
				errs = append(errs, fmt.Errorf("removing stale seed %s: %w", e.Moniker, err))
			}
		}
	}
	return errors.Join(errs...)
}

func validate(moniker, host string) error {
	if !pollengine.ValidMoniker(moniker) {
		return fmt.Errorf("%w: moniker %q", ErrInvalidEntry, moniker)
	}
	if host == "" || strings.ContainsAny(host, "/+# \t\r\n") {
		return fmt.Errorf("%w: host %q", ErrInvalidEntry, host)
	}
	return nil
}
