package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// maxTokenSize is the maximum accepted size for a provider token string
// (8 KB). Tokens larger than this are rejected to prevent resource
// exhaustion.
const maxTokenSize = 8192

// ---------------------------------------------------------------------------
// MicrosoftConfig
// ---------------------------------------------------------------------------

// MicrosoftConfig holds the configuration for [MicrosoftValidator].
//
// Entra ID is multi-tenant: tokens from different tenants carry different
// issuers, and each issuer publishes its keys at its own discovery URL. The
// validator therefore derives the JWKS URL from the token's own issuer claim
// unless JWKSURL pins a fixed endpoint (used in tests and single-tenant
// deployments).
type MicrosoftConfig struct {
	// ClientID is the application (client) ID registered in Entra ID. The
	// accepted token audience is "api://{ClientID}", never the bare ID.
	ClientID string `json:"client_id" env:"CLIENT_ID" required:"true"`

	// JWKSURL, when set, overrides issuer-derived JWKS discovery with a
	// fixed endpoint.
	JWKSURL string `json:"jwks_url,omitempty" env:"JWKS_URL"`

	// ClockSkew is the maximum allowed clock difference between the
	// gateway and the token issuer. Defaults to 30 seconds.
	ClockSkew time.Duration `json:"clock_skew" env:"CLOCK_SKEW" envDefault:"30s"`
}

// Validate checks the configuration and returns a *[gwerr.Error] with code
// [gwerr.CodeValidation] if any field is invalid.
func (c *MicrosoftConfig) Validate() *gwerr.Error {
	if strings.TrimSpace(c.ClientID) == "" {
		return gwerr.New(gwerr.CodeValidation, "auth: microsoft client ID must not be empty")
	}
	if c.ClockSkew < 0 {
		return gwerr.New(gwerr.CodeValidation, "auth: clock skew must be non-negative")
	}
	return nil
}

// Audience returns the audience claim value accepted for tokens issued to
// this application.
func (c MicrosoftConfig) Audience() string {
	return "api://" + c.ClientID
}

// discoveryKeysPath is appended to a token's issuer URL to locate the
// tenant-specific JWKS endpoint.
const discoveryKeysPath = "/discovery/v2.0/keys"

// ---------------------------------------------------------------------------
// MicrosoftValidator
// ---------------------------------------------------------------------------

// MicrosoftValidator verifies Microsoft Entra ID / MSAL bearer tokens and
// produces the [ExternalIdentity] they assert.
//
// Verification resolves signing keys from the tenant-specific JWKS endpoint
// derived from the token's issuer, then attempts full validation against
// each published RSA key until one verifies. Iterating all candidates
// rather than trusting the kid alone tolerates key-rotation races where a
// cached key set is stale relative to a freshly issued token.
//
// MicrosoftValidator is safe for concurrent use by multiple goroutines.
type MicrosoftValidator struct {
	cfg      MicrosoftConfig
	resolver *KeyResolver
	policy   *DomainPolicy
	tracer   trace.Tracer
}

// NewMicrosoftValidator creates a MicrosoftValidator. The resolver must not
// be nil. The domain policy may be nil, in which case the caller is
// responsible for gating the returned identity before trusting it.
func NewMicrosoftValidator(cfg MicrosoftConfig, resolver *KeyResolver, policy *DomainPolicy) (*MicrosoftValidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, gwerr.New(gwerr.CodeValidation, "auth: key resolver must not be nil")
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	return &MicrosoftValidator{
		cfg:      cfg,
		resolver: resolver,
		policy:   policy,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Validate verifies the given bearer token and returns the identity it
// asserts. The method performs the following steps:
//
//  1. Rejects empty, oversized, malformed, and alg "none" tokens
//  2. Reads the issuer from the unverified claims to derive the
//     tenant-specific JWKS URL
//  3. Attempts full validation (signature, audience, issuer, expiry)
//     against each candidate RSA key, kid-matching key first
//  4. Extracts email from "upn", falling back to "preferred_username",
//     and the unique ID from "oid", falling back to "sub"
//  5. Applies the domain policy gate when one is configured
//
// Per-key signature failures are logged at debug and the next candidate is
// tried; only exhaustion of all candidates is terminal. Non-signature
// failures (expired token, wrong audience or issuer) are terminal
// immediately, since every key would reject them identically.
func (v *MicrosoftValidator) Validate(ctx context.Context, tokenStr string) (ExternalIdentity, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.ValidateMicrosoftToken")
	defer span.End()
	span.SetAttributes(attribute.String("auth.provider", string(ProviderMicrosoft)))

	fail := func(err error) (ExternalIdentity, error) {
		finishSpan(span, err)
		return ExternalIdentity{}, err
	}

	if tokenStr == "" {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: token must not be empty"))
	}
	if len(tokenStr) > maxTokenSize {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: token exceeds maximum size"))
	}

	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil || unverified == nil {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: token is malformed"))
	}

	// Reject alg:none — critical security check.
	algStr, _ := unverified.Header["alg"].(string)
	if strings.EqualFold(algStr, "none") {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: algorithm 'none' is not permitted"))
	}

	mc, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: unable to extract claims"))
	}

	// The issuer is read unverified only to locate the signing keys. The
	// verified parse below requires iss to equal this same value, so a
	// token forged with a foreign-tenant issuer must also carry a
	// signature that tenant's keys can verify.
	issuer, _ := mc["iss"].(string)
	if issuer == "" {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: token carries no issuer claim"))
	}

	jwksURL := v.cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + discoveryKeysPath
	}

	candidates, err := v.resolver.CandidateKeys(ctx, jwksURL)
	if err != nil {
		return fail(err)
	}

	kid, _ := unverified.Header["kid"].(string)
	verified, err := v.verifyAgainstCandidates(ctx, tokenStr, issuer, kid, candidates)
	if err != nil {
		return fail(err)
	}

	claims, ok := verified.Claims.(jwt.MapClaims)
	if !ok {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: invalid token claims"))
	}

	email := stringClaim(claims, "upn")
	if email == "" {
		email = stringClaim(claims, "preferred_username")
	}
	if email == "" {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: token carries no email claim"))
	}
	email = strings.ToLower(email)

	uniqueID := stringClaim(claims, "oid")
	if uniqueID == "" {
		uniqueID = stringClaim(claims, "sub")
	}
	if uniqueID == "" {
		return fail(gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: token carries no subject identifier"))
	}

	if v.policy != nil {
		if err := v.policy.Authorize(email); err != nil {
			return fail(err)
		}
	}

	span.SetAttributes(attribute.String("auth.email_domain", EmailDomain(email)))
	return ExternalIdentity{
		Email:    email,
		UniqueID: uniqueID,
		Provider: ProviderMicrosoft,
	}, nil
}

// verifyAgainstCandidates attempts full validation of the token with each
// candidate key in order, trying the kid-matching key first. Signature
// failures continue to the next key; any other failure is terminal.
func (v *MicrosoftValidator) verifyAgainstCandidates(ctx context.Context, tokenStr, issuer, kid string, candidates []CandidateKey) (*jwt.Token, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.cfg.Audience()),
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(v.cfg.ClockSkew),
	}

	ordered := candidates
	if kid != "" {
		ordered = make([]CandidateKey, 0, len(candidates))
		for _, c := range candidates {
			if c.KID == kid {
				ordered = append(ordered, c)
			}
		}
		for _, c := range candidates {
			if c.KID != kid {
				ordered = append(ordered, c)
			}
		}
	}

	for _, candidate := range ordered {
		key := candidate.Key
		token, err := jwt.Parse(tokenStr, func(*jwt.Token) (any, error) {
			return key, nil
		}, parserOpts...)
		if err == nil {
			return token, nil
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			slog.DebugContext(ctx, "auth: candidate signing key rejected token, trying next",
				"kid", candidate.KID,
			)
			continue
		}
		return nil, classifyTokenError(err)
	}

	return nil, gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: token signature could not be verified with any published key")
}

// stringClaim returns the named claim as a non-empty string, or "".
func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}
