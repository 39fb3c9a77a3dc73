package identity

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "anyzine/pkg/domain-errors"
	"anyzine/pkg/requestcontext"
)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier("test-signing-key", "anyzine-auth")
	require.NoError(t, err)
	return v
}

func TestVerifier(t *testing.T) {
	v := newVerifier(t)

	t.Run("valid token yields its subject", func(t *testing.T) {
		token, err := v.IssueToken("user-42", time.Hour)
		require.NoError(t, err)
		subject, err := v.Subject(token)
		require.NoError(t, err)
		assert.Equal(t, "user-42", subject)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := v.IssueToken("user-42", -time.Hour)
		require.NoError(t, err)
		_, err = v.Subject(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewVerifier("test-signing-key", "someone-else")
		require.NoError(t, err)
		token, err := other.IssueToken("user-42", time.Hour)
		require.NoError(t, err)
		_, err = v.Subject(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewVerifier("another-key", "anyzine-auth")
		require.NoError(t, err)
		token, err := other.IssueToken("user-42", time.Hour)
		require.NoError(t, err)
		_, err = v.Subject(token)
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		token, err := v.IssueToken("", time.Hour)
		require.NoError(t, err)
		_, err = v.Subject(token)
		assert.Error(t, err)
	})

	t.Run("unsigned token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42", Issuer: "anyzine-auth"},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = v.Subject(token)
		assert.Error(t, err)
	})

	t.Run("empty key is rejected", func(t *testing.T) {
		_, err := NewVerifier("", "anyzine-auth")
		assert.Error(t, err)
	})
}

func TestOptional(t *testing.T) {
	v := newVerifier(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seen string
	handler := Optional(v, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.SubjectID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := v.IssueToken("user-7", time.Hour)
	require.NoError(t, err)

	for _, tc := range []struct {
		name    string
		header  string
		subject string
	}{
		{name: "valid bearer token", header: "Bearer " + token, subject: "user-7"},
		{name: "no header", header: ""},
		{name: "garbage token", header: "Bearer not-a-jwt"},
		{name: "other scheme", header: "Basic dXNlcjpwYXNz"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			seen = "unset"
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusNoContent, rr.Code, "never rejected")
			assert.Equal(t, tc.subject, seen)
		})
	}
}

func TestRequireSubject(t *testing.T) {
	handler := RequireSubject(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(requestcontext.WithSubjectID(req.Context(), "user-1"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
