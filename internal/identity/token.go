// Package identity resolves the authenticated subject of a request from its
// bearer token. Anything that fails verification is treated as anonymous.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "anyzine/pkg/domain-errors"
)

// Claims are the identity token claims; Subject is the authenticated user.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates HS256 identity tokens issued by the auth provider.
type Verifier struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

func NewVerifier(signingKey, issuer string) (*Verifier, error) {
	if signingKey == "" {
		return nil, errors.New("jwt signing key is required")
	}
	return &Verifier{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}, nil
}

// IssueToken signs a token for subject. Production tokens come from the auth
// provider; this exists for local development and tests.
func (v *Verifier) IssueToken(subject string, expiresIn time.Duration) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(v.signingKey)
}

// Subject validates tokenString and returns its subject.
func (v *Verifier) Subject(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.signingKey, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithTimeFunc(v.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "token has no subject")
	}
	return subject, nil
}
