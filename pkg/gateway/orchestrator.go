// Package gateway orchestrates the authentication pipeline and exposes
// it over HTTP.
//
// Each request runs a strict linear pipeline: validate the external
// credential, gate the email domain, reconcile the identity against the
// user directory, resolve permissions, and issue the application's own
// session token. No stage is retried; external credentials are
// single-use, so the client retries the whole flow or nothing.
//
// Failures keep their typed error from the failing stage. The HTTP
// handler is the single point that translates error codes into status
// codes and the client-facing failure envelope; the stage that failed is
// recorded in server logs only.
package gateway

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/riycorp/riy-gateway/pkg/auth"
	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
	"github.com/riycorp/riy-gateway/pkg/models"
)

// tracerName is the OpenTelemetry instrumentation scope name for this
// package, following the Go module path convention.
const tracerName = "github.com/riycorp/riy-gateway/pkg/gateway"

// Stage identifies the pipeline step a failure happened in. Stages are
// logged server-side and never leave the process.
type Stage string

const (
	StageValidation  Stage = "validating_identity"
	StageDomainGate  Stage = "domain_gate"
	StageReconcile   Stage = "reconciling_user"
	StagePermissions Stage = "resolving_permissions"
	StageIssuance    Stage = "issuing_token"
	StageCredentials Stage = "verifying_credentials"
)

// TokenValidator validates a provider-issued ID token. Implemented by
// [auth.MicrosoftValidator].
type TokenValidator interface {
	Validate(ctx context.Context, token string) (auth.ExternalIdentity, error)
}

// CodeValidator exchanges and validates an authorization code.
// Implemented by [auth.GoogleValidator].
type CodeValidator interface {
	Validate(ctx context.Context, authCode, redirectURI string) (auth.ExternalIdentity, error)
}

// Directory is the user directory surface the pipeline needs.
// Implemented by [users.Repository].
type Directory interface {
	FindOrCreate(ctx context.Context, identity auth.ExternalIdentity) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	ResolvePermissions(ctx context.Context, userID, applicationID int32) ([]string, error)
	VerifyERPCredentials(ctx context.Context, username, password string) (bool, error)
}

// Orchestrator runs the authentication pipeline. It is safe for
// concurrent use.
type Orchestrator struct {
	microsoft     TokenValidator
	google        CodeValidator
	policy        *auth.DomainPolicy
	directory     Directory
	issuer        *auth.SessionIssuer
	applicationID int32
	logger        *slog.Logger
	tracer        trace.Tracer
}

// OrchestratorParams carries the collaborators for [NewOrchestrator].
type OrchestratorParams struct {
	Microsoft     TokenValidator
	Google        CodeValidator
	Policy        *auth.DomainPolicy
	Directory     Directory
	Issuer        *auth.SessionIssuer
	ApplicationID int32

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewOrchestrator validates the collaborators and builds the pipeline.
// At least one external validator must be configured.
func NewOrchestrator(params OrchestratorParams) (*Orchestrator, error) {
	if params.Policy == nil {
		return nil, gwerr.New(gwerr.CodeInternalConfiguration,
			"gateway: domain policy is required")
	}
	if params.Directory == nil {
		return nil, gwerr.New(gwerr.CodeInternalConfiguration,
			"gateway: user directory is required")
	}
	if params.Issuer == nil {
		return nil, gwerr.New(gwerr.CodeInternalConfiguration,
			"gateway: session issuer is required")
	}
	if params.Microsoft == nil && params.Google == nil {
		return nil, gwerr.New(gwerr.CodeInternalConfiguration,
			"gateway: at least one external validator is required")
	}
	if params.ApplicationID <= 0 {
		return nil, gwerr.New(gwerr.CodeInternalConfiguration,
			"gateway: application id must be positive")
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		microsoft:     params.Microsoft,
		google:        params.Google,
		policy:        params.Policy,
		directory:     params.Directory,
		issuer:        params.Issuer,
		applicationID: params.ApplicationID,
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
	}, nil
}

// Authenticate runs the external login pipeline: validate, gate,
// reconcile, resolve permissions, issue. The domain gate runs before any
// directory write, so denied identities never touch local state.
func (o *Orchestrator) Authenticate(ctx context.Context, req AuthRequest) (*SessionResponse, error) {
	ctx, span := o.tracer.Start(ctx, "gateway.Authenticate")
	defer span.End()

	logger := o.logger.With("correlation_id", uuid.NewString())

	provider, err := auth.ParseProvider(req.Provider)
	if err != nil {
		return nil, o.fail(ctx, logger, StageValidation, err)
	}
	span.SetAttributes(attribute.String("auth.provider", provider.String()))

	identity, err := o.validateExternal(ctx, provider, req)
	if err != nil {
		return nil, o.fail(ctx, logger, StageValidation, err)
	}
	logger = logger.With("auth.provider", provider.String(), "auth.email_domain", identity.Domain())

	if err := o.policy.Authorize(identity.Email); err != nil {
		return nil, o.fail(ctx, logger, StageDomainGate, err)
	}

	user, err := o.directory.FindOrCreate(ctx, identity)
	if err != nil {
		return nil, o.fail(ctx, logger, StageReconcile, err)
	}

	return o.finish(ctx, logger, user)
}

// AuthenticateLocal runs the local/ERP login pipeline: verify the
// credential pair, load the directory row, resolve permissions, issue.
func (o *Orchestrator) AuthenticateLocal(ctx context.Context, req LoginRequest) (*SessionResponse, error) {
	ctx, span := o.tracer.Start(ctx, "gateway.AuthenticateLocal")
	defer span.End()

	logger := o.logger.With("correlation_id", uuid.NewString())

	ok, err := o.directory.VerifyERPCredentials(ctx, req.Username, req.Password)
	if err != nil {
		return nil, o.fail(ctx, logger, StageCredentials, err)
	}
	if !ok {
		err := gwerr.New(gwerr.CodeAuthenticationInvalid,
			"invalid username or password")
		return nil, o.fail(ctx, logger, StageCredentials, err)
	}

	user, err := o.directory.FindByUsername(ctx, req.Username)
	if err != nil {
		// A vanished row between credential check and load reads as a
		// credential failure to the client, not as a 404.
		if gwerr.IsNotFound(err) {
			err = gwerr.Wrap(err, gwerr.CodeAuthenticationInvalid,
				"invalid username or password")
		}
		return nil, o.fail(ctx, logger, StageReconcile, err)
	}

	return o.finish(ctx, logger, user)
}

// validateExternal dispatches the credential to the provider's
// validator.
func (o *Orchestrator) validateExternal(ctx context.Context, provider auth.Provider, req AuthRequest) (auth.ExternalIdentity, error) {
	switch provider {
	case auth.ProviderMicrosoft:
		if o.microsoft == nil {
			return auth.ExternalIdentity{}, gwerr.New(gwerr.CodeInternalConfiguration,
				"gateway: microsoft login is not configured")
		}
		return o.microsoft.Validate(ctx, req.ProofOfIdentity)
	case auth.ProviderGoogle:
		if o.google == nil {
			return auth.ExternalIdentity{}, gwerr.New(gwerr.CodeInternalConfiguration,
				"gateway: google login is not configured")
		}
		return o.google.Validate(ctx, req.ProofOfIdentity, req.RedirectURI)
	default:
		return auth.ExternalIdentity{}, gwerr.Newf(gwerr.CodeValidation,
			"gateway: unsupported provider %q", provider)
	}
}

// finish runs the stages shared by both login paths once a directory
// user is in hand.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, user *models.User) (*SessionResponse, error) {
	permissions, err := o.directory.ResolvePermissions(ctx, user.UsuarioID, o.applicationID)
	if err != nil {
		return nil, o.fail(ctx, logger, StagePermissions, err)
	}

	token, err := o.issuer.Issue(user.Usuario, permissions)
	if err != nil {
		return nil, o.fail(ctx, logger, StageIssuance, err)
	}

	logger.InfoContext(ctx, "authentication succeeded",
		"usuario_id", user.UsuarioID,
		"permission_count", len(permissions),
	)
	return &SessionResponse{
		AppJWT:      token,
		User:        user,
		Permissions: permissions,
	}, nil
}

// fail logs the stage a pipeline error happened in and returns the error
// unchanged; classification stays with the HTTP boundary.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, stage Stage, err error) error {
	logger.ErrorContext(ctx, "authentication failed",
		"stage", string(stage),
		"error", err,
	)
	return err
}
