package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/riycorp/riy-gateway/pkg/clients/redis"
	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for auth spans.
const tracerName = "github.com/riycorp/riy-gateway/pkg/auth"

// ---------------------------------------------------------------------------
// HTTPClient interface
// ---------------------------------------------------------------------------

// HTTPClient abstracts the HTTP client used for fetching JWKS documents and
// exchanging authorization codes. This allows callers to provide custom HTTP
// clients with specific timeouts, transport settings, or middleware.
//
// The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// defaultHTTPTimeout bounds every outbound provider call when the caller
// does not supply its own client. An unbounded JWKS fetch or token exchange
// would hold the request open for the provider's full TCP timeout.
const defaultHTTPTimeout = 10 * time.Second

// maxResponseSize is the maximum accepted size for a JWKS or token-endpoint
// response body (1 MB). Larger responses are truncated to prevent resource
// exhaustion.
const maxResponseSize = 1 << 20

// ---------------------------------------------------------------------------
// KeySetCache — pluggable cache for raw JWKS documents
// ---------------------------------------------------------------------------

// KeySetCache caches raw JWKS documents keyed by their source URL. The
// resolver consults it before fetching so that the hot path of token
// validation does not hit the provider on every request.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// A Get miss and a Get error are equivalent to the resolver: it fetches
// from the provider either way.
type KeySetCache interface {
	// Get returns the cached raw JWKS document for the URL, or false if
	// the entry is absent or expired.
	Get(ctx context.Context, jwksURL string) ([]byte, bool)

	// Put stores the raw JWKS document for the URL. Entries expire after
	// the cache's configured TTL.
	Put(ctx context.Context, jwksURL string, raw []byte)
}

// DefaultKeySetTTL is the default time a fetched JWKS document is cached
// before being refreshed from the provider.
const DefaultKeySetTTL = 1 * time.Hour

// memoryKeySetCache is the in-process KeySetCache used when no shared cache
// is configured.
type memoryKeySetCache struct {
	mu      sync.RWMutex
	entries map[string]memoryKeySetEntry
	ttl     time.Duration
}

type memoryKeySetEntry struct {
	raw       []byte
	fetchedAt time.Time
}

// NewMemoryKeySetCache creates an in-process JWKS cache with the given TTL.
// A non-positive TTL falls back to [DefaultKeySetTTL].
func NewMemoryKeySetCache(ttl time.Duration) KeySetCache {
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}
	return &memoryKeySetCache{
		entries: make(map[string]memoryKeySetEntry),
		ttl:     ttl,
	}
}

func (c *memoryKeySetCache) Get(_ context.Context, jwksURL string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[jwksURL]
	if !ok || time.Since(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return entry.raw, true
}

func (c *memoryKeySetCache) Put(_ context.Context, jwksURL string, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[jwksURL] = memoryKeySetEntry{raw: raw, fetchedAt: time.Now()}
}

// redisKeySetCache backs the JWKS cache with a shared Redis instance so
// that gateway replicas share fetched key sets. Cache failures degrade to
// a provider fetch; they are logged at debug and never fail validation.
type redisKeySetCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisKeySetCache creates a KeySetCache backed by the given Redis
// client. A non-positive TTL falls back to [DefaultKeySetTTL].
func NewRedisKeySetCache(client *redis.Client, ttl time.Duration) KeySetCache {
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}
	return &redisKeySetCache{client: client, ttl: ttl}
}

// redisKeySetPrefix namespaces JWKS entries in the shared Redis keyspace.
const redisKeySetPrefix = "jwks:"

func (c *redisKeySetCache) Get(ctx context.Context, jwksURL string) ([]byte, bool) {
	raw, err := c.client.Get(ctx, redisKeySetPrefix+jwksURL)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.DebugContext(ctx, "auth: jwks cache read failed", "error", err)
		}
		return nil, false
	}
	return []byte(raw), true
}

func (c *redisKeySetCache) Put(ctx context.Context, jwksURL string, raw []byte) {
	if err := c.client.Set(ctx, redisKeySetPrefix+jwksURL, string(raw), c.ttl); err != nil {
		slog.DebugContext(ctx, "auth: jwks cache write failed", "error", err)
	}
}

// ---------------------------------------------------------------------------
// JWKS document parsing
// ---------------------------------------------------------------------------

// jwksResponse represents the JSON structure of a JWKS endpoint response.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey represents a single key in a JWKS response. Only the fields needed
// for RSA key reconstruction are included; both Microsoft and Google sign
// ID tokens with RS256.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// CandidateKey is one usable RSA verification key from a JWKS document,
// in document order. The KID may be empty when the provider omits it.
type CandidateKey struct {
	KID string
	Key *rsa.PublicKey
}

// parseKeySet decodes a raw JWKS document into the ordered list of usable
// RSA keys. Keys that are not RSA or are missing modulus/exponent material
// are skipped, not fatal. A document without a "keys" array is a malformed
// JWKS response and fails with an internal-class error.
func parseKeySet(raw []byte) ([]CandidateKey, error) {
	var doc jwksResponse
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeInternal, "auth: malformed JWKS document")
	}
	if doc.Keys == nil {
		return nil, gwerr.New(gwerr.CodeInternal, "auth: JWKS document has no keys array")
	}

	candidates := make([]CandidateKey, 0, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.N == "" || k.E == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		candidates = append(candidates, CandidateKey{KID: k.Kid, Key: pub})
	}
	return candidates, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// ---------------------------------------------------------------------------
// KeyResolver — fetches and caches provider signing keys
// ---------------------------------------------------------------------------

// KeyResolver fetches JWKS documents from provider endpoints and produces
// RSA verification keys. Fetched documents are cached per URL; when a
// requested key ID is missing from a cached document, the document is
// refetched once to pick up key rotation before the miss is terminal.
//
// KeyResolver is safe for concurrent use by multiple goroutines.
type KeyResolver struct {
	client HTTPClient
	cache  KeySetCache
	tracer trace.Tracer
}

// NewKeyResolver creates a KeyResolver using the given HTTP client and
// key-set cache. If client is nil, a default [http.Client] with a 10-second
// timeout is used. If cache is nil, an in-process cache with
// [DefaultKeySetTTL] is used.
func NewKeyResolver(client HTTPClient, cache KeySetCache) *KeyResolver {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cache == nil {
		cache = NewMemoryKeySetCache(DefaultKeySetTTL)
	}
	return &KeyResolver{
		client: client,
		cache:  cache,
		tracer: otel.Tracer(tracerName),
	}
}

// ResolveKey returns the RSA verification key published under the given key
// ID at the JWKS URL. If the kid is not present in a cached document, the
// document is refetched once before failing; a kid missing from a fresh
// document is an authentication failure, not a transport one.
func (r *KeyResolver) ResolveKey(ctx context.Context, jwksURL, kid string) (*rsa.PublicKey, error) {
	ctx, span := startSpan(ctx, r.tracer, "auth.ResolveKey")
	defer span.End()
	span.SetAttributes(attribute.String("auth.jwks_url", jwksURL))

	candidates, cached, err := r.keySet(ctx, jwksURL)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	if key := findKID(candidates, kid); key != nil {
		return key, nil
	}

	// Kid not in a cached document may be a key rotation; refetch once.
	if cached {
		candidates, err = r.fetchKeySet(ctx, jwksURL)
		if err != nil {
			finishSpan(span, err)
			return nil, err
		}
		if key := findKID(candidates, kid); key != nil {
			return key, nil
		}
	}

	err = gwerr.Newf(gwerr.CodeAuthenticationInvalid, "auth: signing key %q not found in JWKS", kid)
	finishSpan(span, err)
	return nil, err
}

// CandidateKeys returns every usable RSA key published at the JWKS URL, in
// document order. Callers that cannot rely on the token's kid (stale caches
// during key rotation, providers that omit kid) iterate the candidates and
// attempt full verification with each.
func (r *KeyResolver) CandidateKeys(ctx context.Context, jwksURL string) ([]CandidateKey, error) {
	ctx, span := startSpan(ctx, r.tracer, "auth.CandidateKeys")
	defer span.End()
	span.SetAttributes(attribute.String("auth.jwks_url", jwksURL))

	candidates, _, err := r.keySet(ctx, jwksURL)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	return candidates, nil
}

// keySet returns the parsed key set for the URL, serving from the cache
// when possible. The second return value reports whether the result came
// from the cache.
func (r *KeyResolver) keySet(ctx context.Context, jwksURL string) ([]CandidateKey, bool, error) {
	if raw, ok := r.cache.Get(ctx, jwksURL); ok {
		candidates, err := parseKeySet(raw)
		if err == nil {
			return candidates, true, nil
		}
		// A corrupt cache entry falls through to a fresh fetch.
	}
	candidates, err := r.fetchKeySet(ctx, jwksURL)
	return candidates, false, err
}

// fetchKeySet fetches the JWKS document from the provider, stores the raw
// body in the cache, and returns the parsed keys. Transport failures and
// non-200 responses classify as dependency-unavailable so callers can
// distinguish them from credential rejections.
func (r *KeyResolver) fetchKeySet(ctx context.Context, jwksURL string) ([]CandidateKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeInternal, "auth: failed to build JWKS request")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, gwerr.Wrapf(err, gwerr.CodeUnavailableDependency, "auth: JWKS fetch from %s failed", jwksURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, gwerr.Newf(gwerr.CodeUnavailableDependency, "auth: JWKS endpoint %s returned status %d", jwksURL, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeUnavailableDependency, "auth: failed to read JWKS response")
	}

	candidates, err := parseKeySet(raw)
	if err != nil {
		return nil, err
	}

	r.cache.Put(ctx, jwksURL, raw)
	return candidates, nil
}

// findKID returns the key matching the kid, or nil.
func findKID(candidates []CandidateKey, kid string) *rsa.PublicKey {
	for _, c := range candidates {
		if c.KID == kid {
			return c.Key
		}
	}
	return nil
}

// startSpan creates a new OpenTelemetry span with the given name. Returns
// the updated context and span.
func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records an error on the span if err is non-nil and sets the
// span status to Error. This is a helper for consistent error recording
// across validation paths.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
