// Package users reconciles verified external identities against the
// corporate user directory and resolves per-application permissions.
//
// # Reconciliation
//
// [Repository.FindOrCreate] looks up the directory row whose email
// matches the verified identity, using the configured SQL collation for
// the comparison. An existing row is relinked to the identity's provider
// and external id; a missing row is either auto-created (consumer
// domains) or rejected (B2B domains, which are provisioned out-of-band).
//
// Concurrent first logins for the same email can race on the insert. The
// directory's unique constraint on the email column resolves the race:
// the loser re-reads the row the winner created and proceeds as a found
// user.
//
// # Permissions
//
// [Repository.ResolvePermissions] reads the grants for a (user,
// application) pair. Absent grants are not an error; they resolve to the
// minimal default set so authentication never fails on missing
// authorization data.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/riycorp/riy-gateway/pkg/auth"
	"github.com/riycorp/riy-gateway/pkg/clients/postgres"
	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
	"github.com/riycorp/riy-gateway/pkg/models"
)

// tracerName is the OpenTelemetry instrumentation scope name for this
// package, following the Go module path convention.
const tracerName = "github.com/riycorp/riy-gateway/pkg/users"

// provisioningAuthor is recorded in the directory's audit column for rows
// this service auto-creates.
const provisioningAuthor = "riy-gateway"

// uniqueViolationCode is the PostgreSQL error code for a unique
// constraint violation (SQLSTATE 23505).
const uniqueViolationCode = "23505"

// Repository reads and writes the corporate user directory. It is safe
// for concurrent use; create one per database client and share it.
type Repository struct {
	client *postgres.Client
	policy *auth.DomainPolicy
	tracer trace.Tracer
}

// NewRepository creates a directory repository over the given postgres
// client. The domain policy decides whether unknown identities may
// self-register.
func NewRepository(client *postgres.Client, policy *auth.DomainPolicy) (*Repository, error) {
	if client == nil {
		return nil, gwerr.New(gwerr.CodeInternalConfiguration,
			"users: postgres client is required")
	}
	if policy == nil {
		return nil, gwerr.New(gwerr.CodeInternalConfiguration,
			"users: domain policy is required")
	}
	return &Repository{
		client: client,
		policy: policy,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// FindOrCreate reconciles a verified external identity against the user
// directory and returns the local user the session will be issued for.
//
// An existing row (matched by email under the configured collation) is
// relinked to the identity's provider and external id. A missing row is
// auto-created for consumer domains; for B2B domains it is rejected with
// [gwerr.CodeAuthorizationDomain], because corporate accounts must be
// provisioned out-of-band.
func (r *Repository) FindOrCreate(ctx context.Context, identity auth.ExternalIdentity) (*models.User, error) {
	ctx, span := r.tracer.Start(ctx, "users.FindOrCreate")
	defer span.End()
	span.SetAttributes(
		attribute.String("auth.provider", identity.Provider.String()),
		attribute.String("auth.email_domain", identity.Domain()),
	)

	email := strings.ToLower(identity.Email)

	user, err := r.lookupByEmail(ctx, email)
	switch {
	case err == nil:
		return r.relink(ctx, user, identity)
	case !gwerr.HasCode(err, gwerr.CodeNotFoundUser):
		finishSpan(span, err)
		return nil, err
	}

	if r.policy.IsB2B(email) {
		err := gwerr.Newf(gwerr.CodeAuthorizationDomain,
			"users: no account is provisioned for %q", email)
		finishSpan(span, err)
		return nil, err
	}

	user, err = r.create(ctx, email, identity)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	return user, nil
}

// FindByUsername fetches the directory row for an account username. The
// local login path uses it after ERP credential verification, when there
// is no external identity to reconcile.
func (r *Repository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	ctx, span := r.tracer.Start(ctx, "users.FindByUsername")
	defer span.End()

	query := fmt.Sprintf(
		`SELECT usuario_id, usuario, nombre, correo, estado
		 FROM riy_usuario
		 WHERE usuario = $1 %s`,
		r.client.Config().CollateClause(),
	)
	user, err := r.scanOne(ctx, query, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = gwerr.Wrapf(err, gwerr.CodeNotFoundUser,
				"users: no directory row for username %q", username)
		} else {
			err = wrapDBError(err, "users: username lookup failed")
		}
		finishSpan(span, err)
		return nil, err
	}
	return user, nil
}

// lookupByEmail fetches the directory row for an email. The comparison
// uses the configured SQL collation, so case handling follows the
// database's policy rather than in-process normalization. A missing row
// returns [gwerr.CodeNotFoundUser].
func (r *Repository) lookupByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(
		`SELECT usuario_id, usuario, nombre, correo, estado
		 FROM riy_usuario
		 WHERE correo = $1 %s`,
		r.client.Config().CollateClause(),
	)
	user, err := r.scanOne(ctx, query, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, gwerr.Wrapf(err, gwerr.CodeNotFoundUser,
				"users: no directory row for %q", email)
		}
		return nil, wrapDBError(err, "users: email lookup failed")
	}
	return user, nil
}

// scanOne runs a single-row directory query and maps the result.
func (r *Repository) scanOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var (
		user   models.User
		estado string
	)
	err := r.client.QueryRow(ctx, query, arg).Scan(
		&user.UsuarioID,
		&user.Usuario,
		&user.Nombre,
		&user.Correo,
		&estado,
	)
	if err != nil {
		return nil, err
	}
	user.Estado = models.UserStatus(estado)
	return &user, nil
}

// relink records the identity's provider and external id on an existing
// row, so the directory always reflects the most recent external login.
func (r *Repository) relink(ctx context.Context, user *models.User, identity auth.ExternalIdentity) (*models.User, error) {
	_, err := r.client.Exec(ctx,
		`UPDATE riy_usuario
		 SET external_provider = $1, external_id = $2
		 WHERE usuario_id = $3`,
		identity.Provider.String(), identity.UniqueID, user.UsuarioID,
	)
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.GetCode(err),
			"users: failed to relink external identity")
	}
	user.ExternalProvider = identity.Provider.String()
	user.ExternalID = identity.UniqueID
	return user, nil
}

// create inserts an auto-provisioned consumer row. A unique violation on
// the email column means a concurrent request won the insert; the row it
// created is re-read and relinked instead.
func (r *Repository) create(ctx context.Context, email string, identity auth.ExternalIdentity) (*models.User, error) {
	user, err := models.NewProvisionedUser(email, identity.Provider.String(), identity.UniqueID)
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeInternal,
			"users: cannot build directory row")
	}

	err = r.client.QueryRow(ctx,
		`INSERT INTO riy_usuario
		   (usuario, nombre, correo, estado, external_provider, external_id, autor)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING usuario_id`,
		user.Usuario, user.Nombre, user.Correo, user.Estado.String(),
		user.ExternalProvider, user.ExternalID, provisioningAuthor,
	).Scan(&user.UsuarioID)
	if err == nil {
		return user, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		existing, lookupErr := r.lookupByEmail(ctx, email)
		if lookupErr != nil {
			return nil, gwerr.Wrap(lookupErr, gwerr.GetCode(lookupErr),
				"users: lost provisioning race and re-read failed")
		}
		return r.relink(ctx, existing, identity)
	}
	return nil, wrapDBError(err, "users: failed to provision user")
}

// wrapDBError classifies a database error the postgres client did not
// already wrap (row scan errors surface outside the client), separating
// timeouts from general failures so callers can use [gwerr.IsRetryable].
func wrapDBError(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return gwerr.Wrap(err, gwerr.CodeTimeoutDatabase, message)
	}
	return gwerr.Wrap(err, gwerr.CodeInternalDatabase, message)
}

// finishSpan records an error on the span and marks it failed.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
