package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

const msTestClientID = "client-123"

// msTestSetup serves a JWKS document at the Entra discovery path and
// returns the validator plus the issuer URL tokens must carry. The doc
// function is consulted per request so tests can rotate keys mid-test.
type msTestSetup struct {
	issuer    string
	validator *MicrosoftValidator
}

func newMicrosoftTestSetup(t *testing.T, policy *DomainPolicy, keys ...authTestJWK) *msTestSetup {
	t.Helper()

	var doc []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, discoveryKeysPath, r.URL.Path, "JWKS must be fetched from the issuer's discovery path")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(srv.Close)
	doc = authTestJWKSDoc(t, keys...)

	validator, err := NewMicrosoftValidator(MicrosoftConfig{
		ClientID:  msTestClientID,
		ClockSkew: 30 * time.Second,
	}, NewKeyResolver(nil, nil), policy)
	require.NoError(t, err)

	return &msTestSetup{issuer: srv.URL, validator: validator}
}

// msTestClaims returns a claim set that passes validation against the
// given issuer, with overrides applied on top.
func msTestClaims(issuer string, overrides jwt.MapClaims) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss": issuer,
		"aud": "api://" + msTestClientID,
		"upn": "Alice@RiyCorp.com",
		"oid": "oid-abc-123",
		"sub": "sub-xyz-789",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range overrides {
		claims[k] = v
	}
	return claims
}

// ---------------------------------------------------------------------------
// Happy path and claim fallbacks
// ---------------------------------------------------------------------------

func TestMicrosoftValidatorSuccess(t *testing.T) {
	key := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil, authTestRSAEntry("k1", &key.PublicKey))

	token := authTestSignRSA(t, key, "k1", msTestClaims(setup.issuer, nil))

	identity, err := setup.validator.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice@riycorp.com", identity.Email, "email must be lower-cased")
	assert.Equal(t, "oid-abc-123", identity.UniqueID, "oid takes precedence over sub")
	assert.Equal(t, ProviderMicrosoft, identity.Provider)
}

func TestMicrosoftValidatorPreferredUsernameFallback(t *testing.T) {
	key := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil, authTestRSAEntry("k1", &key.PublicKey))

	claims := msTestClaims(setup.issuer, jwt.MapClaims{"preferred_username": "bob@riycorp.com"})
	delete(claims, "upn")
	delete(claims, "oid")
	token := authTestSignRSA(t, key, "k1", claims)

	identity, err := setup.validator.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "bob@riycorp.com", identity.Email)
	assert.Equal(t, "sub-xyz-789", identity.UniqueID, "sub is the fallback when oid is absent")
}

func TestMicrosoftValidatorMissingEmailClaims(t *testing.T) {
	key := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil, authTestRSAEntry("k1", &key.PublicKey))

	claims := msTestClaims(setup.issuer, nil)
	delete(claims, "upn")
	token := authTestSignRSA(t, key, "k1", claims)

	_, err := setup.validator.Validate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
}

// ---------------------------------------------------------------------------
// Audience and issuer exactness
// ---------------------------------------------------------------------------

func TestMicrosoftValidatorBareClientIDAudienceRejected(t *testing.T) {
	key := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil, authTestRSAEntry("k1", &key.PublicKey))

	// Valid signature, but aud is the bare client ID instead of api://{id}.
	token := authTestSignRSA(t, key, "k1", msTestClaims(setup.issuer, jwt.MapClaims{"aud": msTestClientID}))

	_, err := setup.validator.Validate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
	gwError, ok := gwerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, gwError.HTTPStatus())
}

func TestMicrosoftValidatorMissingIssuerRejected(t *testing.T) {
	key := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil, authTestRSAEntry("k1", &key.PublicKey))

	claims := msTestClaims(setup.issuer, nil)
	delete(claims, "iss")
	token := authTestSignRSA(t, key, "k1", claims)

	_, err := setup.validator.Validate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
}

// ---------------------------------------------------------------------------
// Multi-key fallback
// ---------------------------------------------------------------------------

func TestMicrosoftValidatorKeyFallbackSucceedsRegardlessOfPosition(t *testing.T) {
	signing := authTestRSAKey(t)
	decoy1 := authTestRSAKey(t)
	decoy2 := authTestRSAKey(t)

	positions := map[string][]authTestJWK{
		"first": {
			authTestRSAEntry("signer", &signing.PublicKey),
			authTestRSAEntry("d1", &decoy1.PublicKey),
			authTestRSAEntry("d2", &decoy2.PublicKey),
		},
		"middle": {
			authTestRSAEntry("d1", &decoy1.PublicKey),
			authTestRSAEntry("signer", &signing.PublicKey),
			authTestRSAEntry("d2", &decoy2.PublicKey),
		},
		"last": {
			authTestRSAEntry("d1", &decoy1.PublicKey),
			authTestRSAEntry("d2", &decoy2.PublicKey),
			authTestRSAEntry("signer", &signing.PublicKey),
		},
	}

	for name, keys := range positions {
		t.Run(name, func(t *testing.T) {
			setup := newMicrosoftTestSetup(t, nil, keys...)

			// No kid header: the validator must try every candidate.
			token := authTestSignRSA(t, signing, "", msTestClaims(setup.issuer, nil))

			identity, err := setup.validator.Validate(context.Background(), token)
			require.NoError(t, err)
			assert.Equal(t, "alice@riycorp.com", identity.Email)
		})
	}
}

func TestMicrosoftValidatorKeyFallbackWhenKIDIsStale(t *testing.T) {
	signing := authTestRSAKey(t)
	decoy := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil,
		authTestRSAEntry("old", &decoy.PublicKey),
		authTestRSAEntry("new", &signing.PublicKey),
	)

	// The token points at "old" but was actually signed by the key
	// published under "new"; the kid-first attempt fails and the loop
	// falls through to the working key.
	token := authTestSignRSA(t, signing, "old", msTestClaims(setup.issuer, nil))

	identity, err := setup.validator.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice@riycorp.com", identity.Email)
}

func TestMicrosoftValidatorAllKeysExhausted(t *testing.T) {
	foreign := authTestRSAKey(t)
	published1 := authTestRSAKey(t)
	published2 := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil,
		authTestRSAEntry("k1", &published1.PublicKey),
		authTestRSAEntry("k2", &published2.PublicKey),
	)

	// Signed by a key the issuer never published.
	token := authTestSignRSA(t, foreign, "k1", msTestClaims(setup.issuer, nil))

	_, err := setup.validator.Validate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
	assert.Contains(t, err.Error(), "any published key")
}

// ---------------------------------------------------------------------------
// Malformed and hostile input
// ---------------------------------------------------------------------------

func TestMicrosoftValidatorRejectsEmptyToken(t *testing.T) {
	key := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil, authTestRSAEntry("k1", &key.PublicKey))

	_, err := setup.validator.Validate(context.Background(), "")
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
}

func TestMicrosoftValidatorRejectsOversizedToken(t *testing.T) {
	key := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil, authTestRSAEntry("k1", &key.PublicKey))

	_, err := setup.validator.Validate(context.Background(), strings.Repeat("a", maxTokenSize+1))
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
}

func TestMicrosoftValidatorRejectsMalformedToken(t *testing.T) {
	key := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil, authTestRSAEntry("k1", &key.PublicKey))

	_, err := setup.validator.Validate(context.Background(), "not.a.jwt")
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
}

func TestMicrosoftValidatorRejectsAlgNone(t *testing.T) {
	key := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil, authTestRSAEntry("k1", &key.PublicKey))

	token := jwt.NewWithClaims(jwt.SigningMethodNone, msTestClaims(setup.issuer, nil))
	tokenStr, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = setup.validator.Validate(context.Background(), tokenStr)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
	assert.Contains(t, err.Error(), "none")
}

func TestMicrosoftValidatorExpiredToken(t *testing.T) {
	key := authTestRSAKey(t)
	setup := newMicrosoftTestSetup(t, nil, authTestRSAEntry("k1", &key.PublicKey))

	token := authTestSignRSA(t, key, "k1", msTestClaims(setup.issuer, jwt.MapClaims{
		"exp": time.Now().Add(-2 * time.Hour).Unix(),
	}))

	_, err := setup.validator.Validate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationExpired))
}

func TestMicrosoftValidatorJWKSUnavailable(t *testing.T) {
	key := authTestRSAKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	issuer := srv.URL
	srv.Close()

	validator, err := NewMicrosoftValidator(MicrosoftConfig{ClientID: msTestClientID}, NewKeyResolver(nil, nil), nil)
	require.NoError(t, err)

	token := authTestSignRSA(t, key, "k1", msTestClaims(issuer, nil))

	_, err = validator.Validate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeUnavailableDependency))
	assert.True(t, gwerr.IsRetryable(err))
}

// ---------------------------------------------------------------------------
// Domain gate
// ---------------------------------------------------------------------------

func TestMicrosoftValidatorDomainGate(t *testing.T) {
	key := authTestRSAKey(t)
	policy, err := NewDomainPolicy([]string{"riycorp.com"}, nil)
	require.NoError(t, err)
	setup := newMicrosoftTestSetup(t, policy, authTestRSAEntry("k1", &key.PublicKey))

	allowed := authTestSignRSA(t, key, "k1", msTestClaims(setup.issuer, nil))
	_, err = setup.validator.Validate(context.Background(), allowed)
	require.NoError(t, err)

	denied := authTestSignRSA(t, key, "k1", msTestClaims(setup.issuer, jwt.MapClaims{
		"upn": "mallory@evil.example",
	}))
	_, err = setup.validator.Validate(context.Background(), denied)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthorizationDomain))

	gwError, ok := gwerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, gwError.HTTPStatus(), "a policy rejection must be distinguishable from a credential rejection")
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

func TestMicrosoftConfigValidate(t *testing.T) {
	cfg := MicrosoftConfig{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, gwerr.IsValidation(err))

	cfg = MicrosoftConfig{ClientID: "c", ClockSkew: -time.Second}
	require.Error(t, cfg.Validate())

	cfg = MicrosoftConfig{ClientID: "c"}
	require.Nil(t, cfg.Validate())
	assert.Equal(t, "api://c", cfg.Audience())
}

func TestNewMicrosoftValidatorRequiresResolver(t *testing.T) {
	_, err := NewMicrosoftValidator(MicrosoftConfig{ClientID: "c"}, nil, nil)
	require.Error(t, err)
}
