package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/carlmjohnson/versioninfo"
	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"
)

const documentCacheTTL = time.Hour

// docCache is the dual-mode backing store for resolved DID documents: an
// in-process ristretto cache by default, or a shared redis instance when
// configured, behind one small interface.
type docCache interface {
	get(ctx context.Context, did string) (*Document, bool)
	set(ctx context.Context, did string, doc *Document, ttl time.Duration)
	purge(ctx context.Context, did string)
}

type ristrettoCache struct {
	cache *ristretto.Cache
}

func newRistrettoCache() (*ristrettoCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 2_500_000,
		MaxCost:     250_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("identity: ristretto cache: %w", err)
	}
	return &ristrettoCache{cache: c}, nil
}

func (r *ristrettoCache) get(ctx context.Context, did string) (*Document, bool) {
	v, ok := r.cache.Get(did)
	if !ok {
		return nil, false
	}
	doc, ok := v.(*Document)
	return doc, ok
}

func (r *ristrettoCache) set(ctx context.Context, did string, doc *Document, ttl time.Duration) {
	r.cache.SetWithTTL(did, doc, 1, ttl)
}

func (r *ristrettoCache) purge(ctx context.Context, did string) {
	r.cache.Del(did)
}

type redisCache struct {
	client *redis.Client
}

func newRedisCache(addr, password string) *redisCache {
	return &redisCache{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func (r *redisCache) key(did string) string { return "ringhub:diddoc:" + did }

func (r *redisCache) get(ctx context.Context, did string) (*Document, bool) {
	b, err := r.client.Get(ctx, r.key(did)).Bytes()
	if err != nil {
		return nil, false
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}

func (r *redisCache) set(ctx context.Context, did string, doc *Document, ttl time.Duration) {
	b, err := json.Marshal(doc)
	if err != nil {
		return
	}
	r.client.Set(ctx, r.key(did), b, ttl)
}

func (r *redisCache) purge(ctx context.Context, did string) {
	r.client.Del(ctx, r.key(did))
}

// Resolver resolves did:web and did:key identifiers into DID documents.
type Resolver struct {
	httpClient *http.Client
	cache      docCache
}

// NewResolver builds a resolver backed by an in-process ristretto cache.
func NewResolver() (*Resolver, error) {
	c, err := newRistrettoCache()
	if err != nil {
		return nil, err
	}
	return &Resolver{httpClient: newHTTPClient(), cache: c}, nil
}

// NewRedisResolver builds a resolver backed by a shared redis instance. It
// does not check that redis is reachable: a failed cache read counts as a
// miss and a failed cache write is ignored.
func NewRedisResolver(addr, password string) *Resolver {
	return &Resolver{httpClient: newHTTPClient(), cache: newRedisCache(addr, password)}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			IdleConnTimeout: time.Second,
			MaxIdleConns:    100,
		},
	}
}

var userAgent = "ringhub-identity/" + versioninfo.Short()

// Resolve resolves a DID string (did:web or did:key) to its document,
// consulting the cache first.
func (r *Resolver) Resolve(ctx context.Context, did string) (*Document, error) {
	if doc, ok := r.cache.get(ctx, did); ok {
		return doc, nil
	}

	parsed, err := ParseDID(did)
	if err != nil {
		return nil, err
	}

	var doc *Document
	switch parsed.Method {
	case "key":
		doc, err = SynthesizeKeyDocument(did)
	case "web":
		doc, err = r.fetchWebDocument(ctx, parsed.Value)
	default:
		return nil, fmt.Errorf("identity: unsupported DID method %q", parsed.Method)
	}
	if err != nil {
		return nil, err
	}

	r.cache.set(ctx, did, doc, documentCacheTTL)
	return doc, nil
}

func (r *Resolver) fetchWebDocument(ctx context.Context, value string) (*Document, error) {
	url, err := WebDocumentURL(value)
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc Document
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Accept", "application/json")
			req.Header.Set("User-Agent", userAgent)

			resp, err := r.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return retry.Unrecoverable(fmt.Errorf("identity: did.json not found at %s", url))
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("identity: unexpected status %d fetching %s", resp.StatusCode, url)
			}

			return json.NewDecoder(resp.Body).Decode(&doc)
		},
		retry.Context(fetchCtx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("identity: resolving did:web:%s: %w", value, err)
	}

	return &doc, nil
}

// Invalidate purges a cached document, used after a profile-updated
// notification so the next resolution re-fetches.
func (r *Resolver) Invalidate(ctx context.Context, did string) {
	r.cache.purge(ctx, did)
}
