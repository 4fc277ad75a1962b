package alumnet

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is a bearer token plus whatever the SDK could learn from it
// without the signing key. Opaque tokens (e.g. Sanctum "id|secret") carry no
// claims.
type Credential struct {
	Token     string
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token carries an expiry that has passed.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseCredential inspects token. JWTs are decoded without verification;
// the server remains the authority. Anything that is not a JWT is accepted
// as opaque.
func ParseCredential(token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, NewError(ErrorUnauthorized, "empty credential")
	}
	cred := Credential{Token: token}
	if strings.Count(token, ".") != 2 {
		return cred, nil
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return cred, nil
	}
	cred.Subject = claims.Subject
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	if cred.Expired(time.Now()) {
		return cred, NewError(ErrorCredentialExpired, "credential expired at "+cred.ExpiresAt.Format(time.RFC3339))
	}
	return cred, nil
}
