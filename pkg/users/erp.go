package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
)

// VerifyERPCredentials checks a username/password pair for the local
// login path against the ERP password store. The stored value is encoded
// with the store's positional character displacement; it is decoded
// in-process and compared to the submitted password.
//
// The result is (false, nil) when the user does not exist in the
// directory, has no active ERP credential, or the password does not
// match. An error is returned only for database failures, so callers can
// distinguish "wrong credentials" from "could not check".
func (r *Repository) VerifyERPCredentials(ctx context.Context, username, password string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "users.VerifyERPCredentials")
	defer span.End()

	if username == "" || password == "" {
		return false, nil
	}

	collate := r.client.Config().CollateClause()

	// ERP credentials are only honored for usernames the directory knows.
	var count int
	err := r.client.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM riy_usuario WHERE usuario = $1 %s`, collate),
		username,
	).Scan(&count)
	if err != nil {
		err = wrapDBError(err, "users: directory check failed")
		finishSpan(span, err)
		return false, err
	}
	if count == 0 {
		return false, nil
	}

	var stored string
	err = r.client.QueryRow(ctx, fmt.Sprintf(
		`SELECT clave
		 FROM erp_usuario
		 WHERE usuario = $1 %s
		   AND usuario_perfil = 'US'
		   AND estado = 'A'`, collate),
		username,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		err = wrapDBError(err, "users: erp credential read failed")
		finishSpan(span, err)
		return false, err
	}

	return password == decodeDisplacement(stored), nil
}

// decodeDisplacement reverses the ERP store's password encoding and
// lowercases the result, matching the store's legacy decoder.
func decodeDisplacement(stored string) string {
	return strings.ToLower(displace(stored, false))
}

// encodeDisplacement applies the ERP store's password encoding. Kept for
// provisioning tooling and round-trip tests; the login path only decodes.
func encodeDisplacement(plain string) string {
	return displace(plain, true)
}

// displace shifts every character of the trimmed input by its 1-based
// position: forward when encoding, backward when decoding. A shift that
// leaves the valid rune range keeps the original character, matching the
// store's encoder.
func displace(input string, encode bool) string {
	var b strings.Builder
	for i, r := range []rune(strings.TrimSpace(input)) {
		seed := rune(i + 1)
		shifted := r - seed
		if encode {
			shifted = r + seed
		}
		if shifted < 0 || !utf8.ValidRune(shifted) {
			shifted = r
		}
		b.WriteRune(shifted)
	}
	return b.String()
}
