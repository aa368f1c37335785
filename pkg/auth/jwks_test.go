package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// authTestRSAKey generates a 2048-bit RSA key pair for testing.
func authTestRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key pair")
	return key
}

// authTestJWK is one entry in a test JWKS document. Leaving Key nil with
// raw N/E values set lets tests craft malformed entries.
type authTestJWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// authTestRSAEntry builds a JWKS entry for an RSA public key.
func authTestRSAEntry(kid string, pub *rsa.PublicKey) authTestJWK {
	return authTestJWK{
		Kty: "RSA",
		Kid: kid,
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// authTestJWKSDoc marshals the entries into a JWKS document, preserving
// order.
func authTestJWKSDoc(t *testing.T, entries ...authTestJWK) []byte {
	t.Helper()
	doc, err := json.Marshal(map[string]any{"keys": entries})
	require.NoError(t, err, "failed to marshal JWKS document")
	return doc
}

// authTestServeJWKS starts an httptest server that serves whatever document
// the returned pointer currently holds, counting requests.
func authTestServeJWKS(t *testing.T, doc *atomic.Pointer[[]byte], hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(*doc.Load())
	}))
	t.Cleanup(srv.Close)
	return srv
}

// authTestSignRSA creates an RS256-signed JWT with the given claims. An
// empty kid omits the header entirely.
func authTestSignRSA(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	tokenStr, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign RSA token")
	return tokenStr
}

// ---------------------------------------------------------------------------
// ResolveKey
// ---------------------------------------------------------------------------

func TestKeyResolverResolveKeyByKID(t *testing.T) {
	key1 := authTestRSAKey(t)
	key2 := authTestRSAKey(t)
	doc := authTestJWKSDoc(t, authTestRSAEntry("k1", &key1.PublicKey), authTestRSAEntry("k2", &key2.PublicKey))

	var docPtr atomic.Pointer[[]byte]
	docPtr.Store(&doc)
	var hits atomic.Int64
	srv := authTestServeJWKS(t, &docPtr, &hits)

	resolver := NewKeyResolver(nil, nil)

	got, err := resolver.ResolveKey(context.Background(), srv.URL, "k2")
	require.NoError(t, err)
	assert.Equal(t, key2.PublicKey.N, got.N)
	assert.Equal(t, key2.PublicKey.E, got.E)
}

func TestKeyResolverServesFromCache(t *testing.T) {
	key := authTestRSAKey(t)
	doc := authTestJWKSDoc(t, authTestRSAEntry("k1", &key.PublicKey))

	var docPtr atomic.Pointer[[]byte]
	docPtr.Store(&doc)
	var hits atomic.Int64
	srv := authTestServeJWKS(t, &docPtr, &hits)

	resolver := NewKeyResolver(nil, NewMemoryKeySetCache(time.Minute))

	_, err := resolver.ResolveKey(context.Background(), srv.URL, "k1")
	require.NoError(t, err)
	_, err = resolver.ResolveKey(context.Background(), srv.URL, "k1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), hits.Load(), "second resolve should be served from the cache")
}

func TestKeyResolverRefetchesOnRotation(t *testing.T) {
	key1 := authTestRSAKey(t)
	key2 := authTestRSAKey(t)
	oldDoc := authTestJWKSDoc(t, authTestRSAEntry("k1", &key1.PublicKey))
	newDoc := authTestJWKSDoc(t, authTestRSAEntry("k1", &key1.PublicKey), authTestRSAEntry("k2", &key2.PublicKey))

	var docPtr atomic.Pointer[[]byte]
	docPtr.Store(&oldDoc)
	var hits atomic.Int64
	srv := authTestServeJWKS(t, &docPtr, &hits)

	resolver := NewKeyResolver(nil, NewMemoryKeySetCache(time.Minute))

	// Warm the cache with the pre-rotation document.
	_, err := resolver.ResolveKey(context.Background(), srv.URL, "k1")
	require.NoError(t, err)

	// The provider rotates in k2; a cached miss must trigger a refetch.
	docPtr.Store(&newDoc)
	got, err := resolver.ResolveKey(context.Background(), srv.URL, "k2")
	require.NoError(t, err)
	assert.Equal(t, key2.PublicKey.N, got.N)
	assert.Equal(t, int64(2), hits.Load())
}

func TestKeyResolverKIDNotFound(t *testing.T) {
	key := authTestRSAKey(t)
	doc := authTestJWKSDoc(t, authTestRSAEntry("k1", &key.PublicKey))

	var docPtr atomic.Pointer[[]byte]
	docPtr.Store(&doc)
	var hits atomic.Int64
	srv := authTestServeJWKS(t, &docPtr, &hits)

	resolver := NewKeyResolver(nil, nil)

	_, err := resolver.ResolveKey(context.Background(), srv.URL, "unknown")
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
	assert.False(t, gwerr.IsRetryable(err), "a missing kid is a credential problem, not a transient one")
}

// ---------------------------------------------------------------------------
// Fetch failure classification
// ---------------------------------------------------------------------------

func TestKeyResolverServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	resolver := NewKeyResolver(nil, nil)

	_, err := resolver.CandidateKeys(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeUnavailableDependency))
	assert.True(t, gwerr.IsRetryable(err))
}

func TestKeyResolverTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	resolver := NewKeyResolver(nil, nil)

	_, err := resolver.CandidateKeys(context.Background(), url)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeUnavailableDependency))
}

func TestKeyResolverMalformedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	}))
	t.Cleanup(srv.Close)

	resolver := NewKeyResolver(nil, nil)

	_, err := resolver.CandidateKeys(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeInternal))
}

func TestKeyResolverMissingKeysArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"issuer": "somebody"}`))
	}))
	t.Cleanup(srv.Close)

	resolver := NewKeyResolver(nil, nil)

	_, err := resolver.CandidateKeys(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeInternal))
}

// ---------------------------------------------------------------------------
// Candidate key selection
// ---------------------------------------------------------------------------

func TestCandidateKeysSkipsUnusableEntries(t *testing.T) {
	key := authTestRSAKey(t)
	entries := []authTestJWK{
		{Kty: "EC", Kid: "ec-key", Crv: "P-256", X: "AQAB", Y: "AQAB"},
		{Kty: "RSA", Kid: "no-modulus", E: "AQAB"},
		{Kty: "RSA", Kid: "bad-encoding", N: "!!!not-base64url!!!", E: "AQAB"},
		authTestRSAEntry("good", &key.PublicKey),
	}
	doc := authTestJWKSDoc(t, entries...)

	var docPtr atomic.Pointer[[]byte]
	docPtr.Store(&doc)
	var hits atomic.Int64
	srv := authTestServeJWKS(t, &docPtr, &hits)

	resolver := NewKeyResolver(nil, nil)

	candidates, err := resolver.CandidateKeys(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, candidates, 1, "only the well-formed RSA key should survive")
	assert.Equal(t, "good", candidates[0].KID)
}

func TestCandidateKeysPreservesDocumentOrder(t *testing.T) {
	key1 := authTestRSAKey(t)
	key2 := authTestRSAKey(t)
	key3 := authTestRSAKey(t)
	doc := authTestJWKSDoc(t,
		authTestRSAEntry("first", &key1.PublicKey),
		authTestRSAEntry("second", &key2.PublicKey),
		authTestRSAEntry("third", &key3.PublicKey),
	)

	var docPtr atomic.Pointer[[]byte]
	docPtr.Store(&doc)
	var hits atomic.Int64
	srv := authTestServeJWKS(t, &docPtr, &hits)

	resolver := NewKeyResolver(nil, nil)

	candidates, err := resolver.CandidateKeys(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, "first", candidates[0].KID)
	assert.Equal(t, "second", candidates[1].KID)
	assert.Equal(t, "third", candidates[2].KID)
}

// ---------------------------------------------------------------------------
// Memory key-set cache
// ---------------------------------------------------------------------------

func TestMemoryKeySetCacheExpiry(t *testing.T) {
	cache := NewMemoryKeySetCache(25 * time.Millisecond)
	ctx := context.Background()

	cache.Put(ctx, "https://example.test/keys", []byte(`{"keys":[]}`))

	raw, ok := cache.Get(ctx, "https://example.test/keys")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"keys":[]}`), raw)

	time.Sleep(50 * time.Millisecond)

	_, ok = cache.Get(ctx, "https://example.test/keys")
	assert.False(t, ok, "entry should expire after the TTL")
}

func TestMemoryKeySetCacheMiss(t *testing.T) {
	cache := NewMemoryKeySetCache(time.Minute)

	_, ok := cache.Get(context.Background(), "https://never-stored.test/keys")
	assert.False(t, ok)
}
