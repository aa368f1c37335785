// Package errors defines the structured error type and error-code taxonomy
// used across the riy gateway.
//
// Every failure that crosses a package boundary is represented as an [*Error]
// carrying a stable machine-readable [Code]. The authentication orchestrator
// is the single point that translates codes into HTTP status codes and
// client-facing messages; everything below it returns typed errors untouched,
// so a signature failure (401-class) is never conflated with a policy
// rejection (403-class) or an upstream outage (503-class).
//
// Usage:
//
//	if kid == "" {
//	    return errors.New(errors.CodeAuthenticationInvalid, "token header missing kid")
//	}
//
//	rows, err := pool.Query(ctx, sql)
//	if err != nil {
//	    return errors.Wrap(err, errors.CodeInternalDatabase, "user lookup failed")
//	}
//
// Inspect errors with [AsError], [GetCode], [HasCode], or the category
// predicates ([IsAuthentication], [IsAuthorization], ...).
package errors
