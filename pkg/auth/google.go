package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// Default Google OAuth endpoints. Overridable in [GoogleConfig] so tests
// can point the validator at local httptest servers.
const (
	DefaultGoogleTokenEndpoint = "https://oauth2.googleapis.com/token"
	DefaultGoogleJWKSURL       = "https://www.googleapis.com/oauth2/v3/certs"
	DefaultGoogleIssuer        = "https://accounts.google.com"
)

// ---------------------------------------------------------------------------
// GoogleConfig
// ---------------------------------------------------------------------------

// GoogleConfig holds the configuration for [GoogleValidator].
type GoogleConfig struct {
	// ClientID is the OAuth client ID registered with Google. It is both
	// sent in the code exchange and required as the ID token's audience.
	ClientID string `json:"client_id" env:"CLIENT_ID" required:"true"`

	// ClientSecret is the OAuth client secret used for the authorization
	// code exchange. The Secret type prevents accidental logging.
	ClientSecret Secret `json:"-" env:"CLIENT_SECRET" required:"true"`

	// TokenEndpoint is the OAuth token endpoint used for the code
	// exchange. Defaults to [DefaultGoogleTokenEndpoint].
	TokenEndpoint string `json:"token_endpoint" env:"TOKEN_ENDPOINT" envDefault:"https://oauth2.googleapis.com/token"`

	// JWKSURL is the endpoint publishing Google's ID token signing keys.
	// Defaults to [DefaultGoogleJWKSURL].
	JWKSURL string `json:"jwks_url" env:"JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`

	// Issuer is the required "iss" claim of the ID token. Defaults to
	// [DefaultGoogleIssuer].
	Issuer string `json:"issuer" env:"ISSUER" envDefault:"https://accounts.google.com"`

	// ClockSkew is the maximum allowed clock difference between the
	// gateway and Google. Defaults to 30 seconds.
	ClockSkew time.Duration `json:"clock_skew" env:"CLOCK_SKEW" envDefault:"30s"`
}

// Validate checks the configuration and returns a *[gwerr.Error] with code
// [gwerr.CodeValidation] if any field is invalid.
func (c *GoogleConfig) Validate() *gwerr.Error {
	if strings.TrimSpace(c.ClientID) == "" {
		return gwerr.New(gwerr.CodeValidation, "auth: google client ID must not be empty")
	}
	if c.ClientSecret.Value() == "" {
		return gwerr.New(gwerr.CodeValidation, "auth: google client secret must not be empty")
	}
	if c.ClockSkew < 0 {
		return gwerr.New(gwerr.CodeValidation, "auth: clock skew must be non-negative")
	}
	return nil
}

// applyDefaults fills unset endpoint fields with the production Google
// endpoints.
func (c *GoogleConfig) applyDefaults() {
	if c.TokenEndpoint == "" {
		c.TokenEndpoint = DefaultGoogleTokenEndpoint
	}
	if c.JWKSURL == "" {
		c.JWKSURL = DefaultGoogleJWKSURL
	}
	if c.Issuer == "" {
		c.Issuer = DefaultGoogleIssuer
	}
	if c.ClockSkew == 0 {
		c.ClockSkew = 30 * time.Second
	}
}

// ---------------------------------------------------------------------------
// GoogleValidator
// ---------------------------------------------------------------------------

// GoogleValidator exchanges a Google OAuth authorization code for an ID
// token, verifies the token against Google's published signing keys, and
// produces the [ExternalIdentity] it asserts.
//
// A verified signature does not imply a verified email: tokens whose
// "email_verified" claim is not true are rejected even when every
// cryptographic check passes.
//
// GoogleValidator is safe for concurrent use by multiple goroutines.
type GoogleValidator struct {
	cfg      GoogleConfig
	client   HTTPClient
	resolver *KeyResolver
	tracer   trace.Tracer
}

// NewGoogleValidator creates a GoogleValidator. If client is nil, a default
// [http.Client] with a 10-second timeout is used. The resolver must not be
// nil.
func NewGoogleValidator(cfg GoogleConfig, client HTTPClient, resolver *KeyResolver) (*GoogleValidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, gwerr.New(gwerr.CodeValidation, "auth: key resolver must not be nil")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	cfg.applyDefaults()
	return &GoogleValidator{
		cfg:      cfg,
		client:   client,
		resolver: resolver,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Validate exchanges the authorization code for an ID token and verifies
// it. The redirectURI must match the one used in the authorization request
// that produced the code.
//
// The method performs the following steps:
//
//  1. POSTs a grant_type=authorization_code exchange to the token endpoint
//  2. Resolves the signing key for the ID token's kid from Google's JWKS
//  3. Verifies signature, audience (= client ID), issuer, and expiry
//  4. Requires "email_verified" to be true
//  5. Returns (email, sub) as the verified identity
//
// A 4xx exchange response classifies as an invalid credential (the code is
// wrong, expired, or already used); network failures and 5xx responses
// classify as dependency-unavailable.
func (v *GoogleValidator) Validate(ctx context.Context, authCode, redirectURI string) (ExternalIdentity, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.ValidateGoogleCode")
	defer span.End()
	span.SetAttributes(attribute.String("auth.provider", string(ProviderGoogle)))

	fail := func(err error) (ExternalIdentity, error) {
		finishSpan(span, err)
		return ExternalIdentity{}, err
	}

	if authCode == "" {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: authorization code must not be empty"))
	}

	idToken, err := v.exchangeCode(ctx, authCode, redirectURI)
	if err != nil {
		return fail(err)
	}

	claims, err := v.verifyIDToken(ctx, idToken)
	if err != nil {
		return fail(err)
	}

	verified, _ := claims["email_verified"].(bool)
	if !verified {
		return fail(gwerr.New(gwerr.CodeAuthenticationEmailUnverified, "auth: google account email is not verified"))
	}

	email := strings.ToLower(stringClaim(claims, "email"))
	if email == "" {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: id token carries no email claim"))
	}

	sub := stringClaim(claims, "sub")
	if sub == "" {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: id token carries no subject claim"))
	}

	span.SetAttributes(attribute.String("auth.email_domain", EmailDomain(email)))
	return ExternalIdentity{
		Email:    email,
		UniqueID: sub,
		Provider: ProviderGoogle,
	}, nil
}

// tokenEndpointResponse is the subset of the token endpoint's response the
// validator needs.
type tokenEndpointResponse struct {
	IDToken string `json:"id_token"`
}

// exchangeCode POSTs the authorization code to the token endpoint and
// returns the ID token from the response.
func (v *GoogleValidator) exchangeCode(ctx context.Context, authCode, redirectURI string) (string, error) {
	form := url.Values{
		"code":          {authCode},
		"client_id":     {v.cfg.ClientID},
		"client_secret": {v.cfg.ClientSecret.Value()},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", gwerr.Wrap(err, gwerr.CodeInternal, "auth: failed to build token exchange request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", gwerr.Wrap(err, gwerr.CodeUnavailableDependency, "auth: google token exchange failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", gwerr.Wrap(err, gwerr.CodeUnavailableDependency, "auth: failed to read token exchange response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Fall through to parse.
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The code is invalid, expired, or already redeemed.
		return "", gwerr.Newf(gwerr.CodeAuthenticationInvalid, "auth: google rejected the authorization code (status %d)", resp.StatusCode)
	default:
		return "", gwerr.Newf(gwerr.CodeUnavailableDependency, "auth: google token endpoint returned status %d", resp.StatusCode)
	}

	var tokenResp tokenEndpointResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", gwerr.Wrap(err, gwerr.CodeInternal, "auth: malformed token exchange response")
	}
	if tokenResp.IDToken == "" {
		return "", gwerr.New(gwerr.CodeInternal, "auth: token exchange response carries no id_token")
	}
	return tokenResp.IDToken, nil
}

// verifyIDToken verifies the ID token's signature against Google's JWKS and
// validates its audience, issuer, and expiry. Returns the verified claims.
func (v *GoogleValidator) verifyIDToken(ctx context.Context, idToken string) (jwt.MapClaims, error) {
	if len(idToken) > maxTokenSize {
		return nil, gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: id token exceeds maximum size")
	}

	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(idToken, jwt.MapClaims{})
	if err != nil || unverified == nil {
		return nil, gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: id token is malformed")
	}

	algStr, _ := unverified.Header["alg"].(string)
	if strings.EqualFold(algStr, "none") {
		return nil, gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: algorithm 'none' is not permitted")
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: id token header missing kid")
	}

	key, err := v.resolver.ResolveKey(ctx, v.cfg.JWKSURL, kid)
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(idToken, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.cfg.ClientID),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.ClockSkew),
	)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: invalid id token claims")
	}
	return claims, nil
}
