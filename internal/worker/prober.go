package worker

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"assetsync/internal/storage"
)

// Prober answers "is this key already in the store". Positive answers and
// keys uploaded by this process are cached for ttl when ttl > 0.
type Prober struct {
	backend storage.Backend
	timeout time.Duration
	cache   *ttlcache.Cache[string, struct{}]
}

// NewProber creates a prober
func NewProber(backend storage.Backend, timeout, ttl time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Prober{backend: backend, timeout: timeout}
	if ttl > 0 {
		p.cache = ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](ttl),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		)
	}
	return p
}

// Exists reports whether key is present remotely
func (p *Prober) Exists(ctx context.Context, key string) (bool, error) {
	if p.cache != nil && p.cache.Has(key) {
		return true, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	exists, err := p.backend.Exists(probeCtx, key)
	if err != nil {
		return false, err
	}
	if exists {
		p.Remember(key)
	}
	return exists, nil
}

// Remember records key as present
func (p *Prober) Remember(key string) {
	if p.cache != nil {
		p.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
	}
}
