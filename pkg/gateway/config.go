package gateway

import (
	"time"

	"github.com/riycorp/riy-gateway/pkg/auth"
	"github.com/riycorp/riy-gateway/pkg/clients/postgres"
	"github.com/riycorp/riy-gateway/pkg/clients/redis"
	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// Config is the top-level gateway configuration, loaded with pkg/config
// under the RIY env prefix. Nested sections map to prefixed variables:
// RIY_MSAL_CLIENT_ID, RIY_GOOGLE_CLIENT_SECRET, RIY_POSTGRES_HOST, and
// so on.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr" env:"LISTEN_ADDR" envDefault:":8080"`

	// ApplicationID scopes permission resolution. Deployments share one
	// user directory across applications; each gateway instance serves
	// exactly one of them.
	ApplicationID int32 `json:"application_id" yaml:"application_id" env:"APPLICATION_ID" envDefault:"1"`

	// SessionSecret signs issued session tokens.
	SessionSecret auth.Secret `json:"-" yaml:"-" env:"SESSION_SECRET" required:"true"`

	// WhitelistedDomains are the email domains allowed to authenticate.
	WhitelistedDomains []string `json:"whitelisted_domains" yaml:"whitelisted_domains" env:"WHITELISTED_DOMAINS" required:"true"`

	// B2BDomains is the subset of the whitelist whose users must be
	// provisioned out-of-band. Every entry must also be whitelisted.
	B2BDomains []string `json:"b2b_domains" yaml:"b2b_domains" env:"B2B_DOMAINS"`

	// Microsoft and Google configure the external identity validators.
	Microsoft auth.MicrosoftConfig `json:"microsoft" yaml:"microsoft" env:"MSAL"`
	Google    auth.GoogleConfig    `json:"google" yaml:"google" env:"GOOGLE"`

	// Postgres configures the user directory connection.
	Postgres postgres.Config `json:"postgres" yaml:"postgres" env:"POSTGRES"`

	// Redis configures the optional shared JWKS cache. Only consulted
	// when JWKSCacheRedis is true; otherwise an in-memory cache is used.
	Redis          redis.Config `json:"redis" yaml:"redis" env:"REDIS"`
	JWKSCacheRedis bool         `json:"jwks_cache_redis" yaml:"jwks_cache_redis" env:"JWKS_CACHE_REDIS"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Validate implements [config.Validator] for cross-field checks the
// struct tags cannot express.
func (c *Config) Validate() error {
	if c.ApplicationID <= 0 {
		return gwerr.New(gwerr.CodeValidation,
			"gateway: application id must be positive")
	}
	// Building the policy performs the whitelist/B2B checks; the result
	// is discarded here and rebuilt at wiring time.
	if _, err := auth.NewDomainPolicy(c.WhitelistedDomains, c.B2BDomains); err != nil {
		return err
	}
	return nil
}
