package backend

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sipico/netcup-api-filter/internal/storage"
)

// DefaultPoolSize is the number of adapters a Pool keeps.
const DefaultPoolSize = 64

type pooled struct {
	adapter Adapter
	// version is the service's UpdatedAt when the adapter was built.
	version time.Time
}

// Pool builds retrying adapters for stored backend services and reuses them
// until the service is updated.
type Pool struct {
	log     logr.Logger
	timeout time.Duration
	opts    []RetryOption

	mu    sync.Mutex
	cache *lru.Cache[int64, pooled]
}

// NewPool creates a Pool. timeout bounds each upstream attempt.
func NewPool(log logr.Logger, timeout time.Duration, opts ...RetryOption) *Pool {
	cache, err := lru.New[int64, pooled](DefaultPoolSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Pool{log: log, timeout: timeout, opts: opts, cache: cache}
}

// Adapter returns the adapter for svc.
func (p *Pool) Adapter(svc *storage.BackendService) (Adapter, error) {
	if svc == nil {
		return nil, fmt.Errorf("backend: no service")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.cache.Get(svc.ID); ok && c.version.Equal(svc.UpdatedAt) {
		return c.adapter, nil
	}

	a, err := p.Build(svc.Provider, svc.Settings, "service_id", strconv.FormatInt(svc.ID, 10))
	if err != nil {
		return nil, err
	}
	p.cache.Add(svc.ID, pooled{adapter: a, version: svc.UpdatedAt})
	return a, nil
}

// Build creates a retrying adapter without caching it. It is used for
// connection tests of settings that are not stored yet.
func (p *Pool) Build(provider string, settings map[string]string, keysAndValues ...any) (Adapter, error) {
	a, err := New(provider, p.log.WithValues(keysAndValues...), settings)
	if err != nil {
		return nil, err
	}
	return WithRetry(a, provider, p.timeout, append([]RetryOption{WithRetryLogger(p.log)}, p.opts...)...), nil
}

// Forget drops the cached adapter of a service.
func (p *Pool) Forget(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(id)
}
