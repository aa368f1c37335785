package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

const (
	googleTestClientID = "google-client-456"
	googleTestSecret   = "google-secret-shh"
	googleTestRedirect = "https://gateway.riycorp.com/auth/callback"
	googleTestCode     = "4/valid-auth-code"
)

// googleTestSetup wires an httptest server exposing a token endpoint and a
// JWKS endpoint, with the ID token minted per request from the claims the
// test configures.
type googleTestSetup struct {
	key       *rsa.PrivateKey
	claims    jwt.MapClaims
	validator *GoogleValidator

	// tokenStatus, when non-zero, forces the token endpoint to return
	// that status with an empty body.
	tokenStatus int

	// lastForm captures the exchange form for request-shape assertions.
	lastForm map[string]string
}

func newGoogleTestSetup(t *testing.T) *googleTestSetup {
	t.Helper()

	setup := &googleTestSetup{key: authTestRSAKey(t)}
	setup.claims = jwt.MapClaims{
		"iss":            DefaultGoogleIssuer,
		"aud":            googleTestClientID,
		"sub":            "google-sub-001",
		"email":          "Carol@Gmail.com",
		"email_verified": true,
		"exp":            time.Now().Add(time.Hour).Unix(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		setup.lastForm = map[string]string{}
		for k := range r.PostForm {
			setup.lastForm[k] = r.PostForm.Get(k)
		}

		if setup.tokenStatus != 0 {
			w.WriteHeader(setup.tokenStatus)
			return
		}

		idToken := authTestSignRSA(t, setup.key, "g1", setup.claims)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id_token": idToken})
	})
	mux.HandleFunc("/certs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(authTestJWKSDoc(t, authTestRSAEntry("g1", &setup.key.PublicKey)))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	validator, err := NewGoogleValidator(GoogleConfig{
		ClientID:      googleTestClientID,
		ClientSecret:  Secret(googleTestSecret),
		TokenEndpoint: srv.URL + "/token",
		JWKSURL:       srv.URL + "/certs",
		Issuer:        DefaultGoogleIssuer,
		ClockSkew:     30 * time.Second,
	}, nil, NewKeyResolver(nil, nil))
	require.NoError(t, err)
	setup.validator = validator

	return setup
}

// ---------------------------------------------------------------------------
// Happy path
// ---------------------------------------------------------------------------

func TestGoogleValidatorSuccess(t *testing.T) {
	setup := newGoogleTestSetup(t)

	identity, err := setup.validator.Validate(context.Background(), googleTestCode, googleTestRedirect)
	require.NoError(t, err)
	assert.Equal(t, "carol@gmail.com", identity.Email, "email must be lower-cased")
	assert.Equal(t, "google-sub-001", identity.UniqueID)
	assert.Equal(t, ProviderGoogle, identity.Provider)
}

func TestGoogleValidatorExchangeRequestShape(t *testing.T) {
	setup := newGoogleTestSetup(t)

	_, err := setup.validator.Validate(context.Background(), googleTestCode, googleTestRedirect)
	require.NoError(t, err)

	assert.Equal(t, "authorization_code", setup.lastForm["grant_type"])
	assert.Equal(t, googleTestCode, setup.lastForm["code"])
	assert.Equal(t, googleTestClientID, setup.lastForm["client_id"])
	assert.Equal(t, googleTestSecret, setup.lastForm["client_secret"])
	assert.Equal(t, googleTestRedirect, setup.lastForm["redirect_uri"])
}

// ---------------------------------------------------------------------------
// email_verified gate
// ---------------------------------------------------------------------------

func TestGoogleValidatorRejectsUnverifiedEmail(t *testing.T) {
	setup := newGoogleTestSetup(t)
	setup.claims["email_verified"] = false

	_, err := setup.validator.Validate(context.Background(), googleTestCode, googleTestRedirect)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationEmailUnverified))
	assert.True(t, gwerr.IsAuthentication(err))

	gwError, ok := gwerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, gwError.HTTPStatus())
}

func TestGoogleValidatorRejectsMissingEmailVerifiedClaim(t *testing.T) {
	setup := newGoogleTestSetup(t)
	delete(setup.claims, "email_verified")

	_, err := setup.validator.Validate(context.Background(), googleTestCode, googleTestRedirect)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationEmailUnverified))
}

// ---------------------------------------------------------------------------
// Exchange failure classification
// ---------------------------------------------------------------------------

func TestGoogleValidatorRejectedCode(t *testing.T) {
	setup := newGoogleTestSetup(t)
	setup.tokenStatus = http.StatusBadRequest

	_, err := setup.validator.Validate(context.Background(), "expired-code", googleTestRedirect)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
	assert.False(t, gwerr.IsRetryable(err), "a rejected code cannot succeed on retry")
}

func TestGoogleValidatorTokenEndpointServerError(t *testing.T) {
	setup := newGoogleTestSetup(t)
	setup.tokenStatus = http.StatusBadGateway

	_, err := setup.validator.Validate(context.Background(), googleTestCode, googleTestRedirect)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeUnavailableDependency))
	assert.True(t, gwerr.IsRetryable(err))
}

func TestGoogleValidatorTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	validator, err := NewGoogleValidator(GoogleConfig{
		ClientID:      googleTestClientID,
		ClientSecret:  Secret(googleTestSecret),
		TokenEndpoint: url + "/token",
		JWKSURL:       url + "/certs",
	}, nil, NewKeyResolver(nil, nil))
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), googleTestCode, googleTestRedirect)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeUnavailableDependency))
}

func TestGoogleValidatorEmptyCode(t *testing.T) {
	setup := newGoogleTestSetup(t)

	_, err := setup.validator.Validate(context.Background(), "", googleTestRedirect)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
}

func TestGoogleValidatorMissingIDTokenInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "only-an-access-token"}`))
	}))
	t.Cleanup(srv.Close)

	validator, err := NewGoogleValidator(GoogleConfig{
		ClientID:      googleTestClientID,
		ClientSecret:  Secret(googleTestSecret),
		TokenEndpoint: srv.URL,
		JWKSURL:       srv.URL,
	}, nil, NewKeyResolver(nil, nil))
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), googleTestCode, googleTestRedirect)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeInternal))
}

// ---------------------------------------------------------------------------
// ID token verification
// ---------------------------------------------------------------------------

func TestGoogleValidatorWrongAudience(t *testing.T) {
	setup := newGoogleTestSetup(t)
	setup.claims["aud"] = "some-other-client"

	_, err := setup.validator.Validate(context.Background(), googleTestCode, googleTestRedirect)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
}

func TestGoogleValidatorWrongIssuer(t *testing.T) {
	setup := newGoogleTestSetup(t)
	setup.claims["iss"] = "https://accounts.evil.example"

	_, err := setup.validator.Validate(context.Background(), googleTestCode, googleTestRedirect)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
}

func TestGoogleValidatorExpiredIDToken(t *testing.T) {
	setup := newGoogleTestSetup(t)
	setup.claims["exp"] = time.Now().Add(-2 * time.Hour).Unix()

	_, err := setup.validator.Validate(context.Background(), googleTestCode, googleTestRedirect)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationExpired))
}

func TestGoogleValidatorMissingSubject(t *testing.T) {
	setup := newGoogleTestSetup(t)
	delete(setup.claims, "sub")

	_, err := setup.validator.Validate(context.Background(), googleTestCode, googleTestRedirect)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeAuthenticationInvalid))
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

func TestGoogleConfigValidate(t *testing.T) {
	cfg := GoogleConfig{ClientSecret: Secret("s")}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, gwerr.IsValidation(err))

	cfg = GoogleConfig{ClientID: "c"}
	require.Error(t, cfg.Validate())

	cfg = GoogleConfig{ClientID: "c", ClientSecret: Secret("s")}
	require.Nil(t, cfg.Validate())
}

func TestGoogleConfigDefaults(t *testing.T) {
	cfg := GoogleConfig{ClientID: "c", ClientSecret: Secret("s")}
	cfg.applyDefaults()
	assert.Equal(t, DefaultGoogleTokenEndpoint, cfg.TokenEndpoint)
	assert.Equal(t, DefaultGoogleJWKSURL, cfg.JWKSURL)
	assert.Equal(t, DefaultGoogleIssuer, cfg.Issuer)
	assert.Equal(t, 30*time.Second, cfg.ClockSkew)
}
