package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/groupgate/groupgate/internal/policy"
	"github.com/groupgate/groupgate/internal/provision"
)

// DefaultCacheTTL is how long a loaded environment stays fresh.
const DefaultCacheTTL = 5 * time.Minute

// EnvironmentLoader loads one environment on demand.
type EnvironmentLoader interface {
	// Header returns the environment's name and description without
	// loading the full policy.
	Header() policy.Header

	// Load parses and assembles the environment.
	Load(ctx context.Context) (*Environment, error)
}

type cacheEntry struct {
	env     *Environment
	expires time.Time
}

// CachedSource serves environments from registered loaders, caching
// each loaded environment for a TTL. Concurrent lookups for the same
// stale environment are coalesced into a single load, and load
// failures are never cached: the next lookup retries.
type CachedSource struct {
	loaders map[string]EnvironmentLoader
	ttl     time.Duration
	logger  *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry

	// now is swappable for tests.
	now func() time.Time
}

// NewCachedSource builds a source over the given loaders. A zero ttl
// selects DefaultCacheTTL.
func NewCachedSource(loaders []EnvironmentLoader, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	byName := make(map[string]EnvironmentLoader, len(loaders))
	for _, loader := range loaders {
		byName[loader.Header().Name] = loader
	}
	return &CachedSource{
		loaders: byName,
		ttl:     ttl,
		logger:  logger,
		entries: map[string]cacheEntry{},
		now:     time.Now,
	}
}

// Environments lists the headers of all registered environments.
func (s *CachedSource) Environments() []policy.Header {
	headers := make([]policy.Header, 0, len(s.loaders))
	for _, loader := range s.loaders {
		headers = append(headers, loader.Header())
	}
	return headers
}

// Lookup returns the environment, loading it if the cached copy is
// missing or stale. A load failure is logged and reported as not
// found so that callers cannot probe for broken environments.
func (s *CachedSource) Lookup(ctx context.Context, name string) (*Environment, bool) {
	loader, ok := s.loaders[name]
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	entry, ok := s.entries[name]
	s.mu.Unlock()
	if ok && s.now().Before(entry.expires) {
		return entry.env, true
	}

	v, err, _ := s.group.Do(name, func() (any, error) {
		// Another caller may have refreshed the entry while this one
		// waited on the flight.
		s.mu.Lock()
		entry, ok := s.entries[name]
		s.mu.Unlock()
		if ok && s.now().Before(entry.expires) {
			return entry.env, nil
		}

		env, err := loader.Load(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.entries[name] = cacheEntry{env: env, expires: s.now().Add(s.ttl)}
		s.mu.Unlock()
		return env, nil
	})
	if err != nil {
		s.logger.Error("environment load failed",
			slog.String("event", "environment.load"),
			slog.String("environment", name),
			slog.String("error", err.Error()))
		return nil, false
	}
	return v.(*Environment), true
}

// Invalidate drops the cached copy of an environment so the next
// lookup reloads it.
func (s *CachedSource) Invalidate(name string) {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
}

// FileLoader loads an environment's policy from a YAML document on
// disk.
type FileLoader struct {
	header      policy.Header
	path        string
	provisioner *provision.Provisioner
	logger      *slog.Logger
}

// NewFileLoader registers a policy file for an environment. The
// description may be empty; it is only used for listings.
func NewFileLoader(name, description, path string, provisioner *provision.Provisioner, logger *slog.Logger) *FileLoader {
	return &FileLoader{
		header:      policy.Header{Name: name, Description: description},
		path:        path,
		provisioner: provisioner,
		logger:      logger,
	}
}

// Header implements EnvironmentLoader.
func (l *FileLoader) Header() policy.Header { return l.header }

// Load implements EnvironmentLoader. The document must parse without
// errors and its environment name must match the registered name.
func (l *FileLoader) Load(ctx context.Context) (*Environment, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("stat policy file: %w", err)
	}
	text, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	doc, err := policy.ParsePolicyDocument(string(text), policy.Metadata{
		Source:       l.path,
		LastModified: info.ModTime(),
	})
	if err != nil {
		return nil, err
	}
	for _, issue := range doc.Issues() {
		l.logger.Warn("policy document issue",
			slog.String("event", "environment.load"),
			slog.String("environment", l.header.Name),
			slog.String("scope", issue.Scope),
			slog.String("message", issue.Message))
	}

	env := doc.Policy()
	if env.Name() != l.header.Name {
		return nil, fmt.Errorf("policy file %s declares environment %q, expected %q",
			l.path, env.Name(), l.header.Name)
	}

	return &Environment{Policy: env, Provisioner: l.provisioner}, nil
}
