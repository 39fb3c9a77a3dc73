package middleware

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

const (
	// SessionCookieName carries the anonymous session identifier.
	SessionCookieName = "anyzine_session"

	sessionCookieMaxAge = 30 * 24 * time.Hour
	sessionKeyInfo      = "anyzine session cookie v1"
)

// SessionCookies issues and verifies the signed anonymous session cookie.
// Values are authenticated and timestamped by securecookie; the payload is
// the session uuid.
type SessionCookies struct {
	codec  *securecookie.SecureCookie
	secure bool
	newID  func() string
}

// NewSessionCookies derives the signing key from secret with HKDF-SHA256.
func NewSessionCookies(secret string, secure bool) (*SessionCookies, error) {
	if secret == "" {
		return nil, errors.New("session cookie secret is required")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sessionKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive session cookie key: %w", err)
	}
	codec := securecookie.New(key, nil).
		MaxAge(int(sessionCookieMaxAge.Seconds())).
		SetSerializer(securecookie.JSONEncoder{})
	return &SessionCookies{
		codec:  codec,
		secure: secure,
		newID:  uuid.NewString,
	}, nil
}

// Read returns the session id from a valid cookie.
func (c *SessionCookies) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", false
	}
	var id string
	if err := c.codec.Decode(SessionCookieName, cookie.Value, &id); err != nil {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

// GetOrCreate returns the caller's session id, issuing a new cookie when the
// request has none or carries one that fails verification. If the cookie
// cannot be encoded the id is still returned for this request only.
func (c *SessionCookies) GetOrCreate(w http.ResponseWriter, r *http.Request) (id string, isNew bool) {
	if id, ok := c.Read(r); ok {
		return id, false
	}
	id = c.newID()
	value, err := c.codec.Encode(SessionCookieName, id)
	if err != nil {
		return id, true
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, true
}
