package users

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultPermission is granted when a (user, application) pair has no
// explicit grants. Authorization emptiness is a minimal permission set,
// never an authentication failure.
const DefaultPermission = "inicio"

// ResolvePermissions returns the permission codes granted to a user for
// one application, in grant order. Deployments share one directory
// across applications, so grants are always scoped to the pair.
//
// A user with no grants resolves to [DefaultPermission]; only transport
// or database failures return an error.
func (r *Repository) ResolvePermissions(ctx context.Context, userID, applicationID int32) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "users.ResolvePermissions")
	defer span.End()
	span.SetAttributes(
		attribute.Int("user.id", int(userID)),
		attribute.Int("application.id", int(applicationID)),
	)

	rows, err := r.client.Query(ctx,
		`SELECT codigo_permiso
		 FROM riy_permiso_usuario
		 WHERE usuario_id = $1 AND aplicativo_id = $2
		 ORDER BY permiso_usuario_id`,
		userID, applicationID,
	)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	defer rows.Close()

	permissions := make([]string, 0, 8)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			err = wrapDBError(err, "users: permission scan failed")
			finishSpan(span, err)
			return nil, err
		}
		permissions = append(permissions, code)
	}
	if err := rows.Err(); err != nil {
		err = wrapDBError(err, "users: permission read failed")
		finishSpan(span, err)
		return nil, err
	}

	if len(permissions) == 0 {
		return []string{DefaultPermission}, nil
	}
	return permissions, nil
}
