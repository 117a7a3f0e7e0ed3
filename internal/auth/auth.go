// Package auth resolves the optional user session behind a request
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a bearer token is present but not acceptable
var ErrInvalidToken = errors.New("invalid token")

// Session identifies the signed-in user. A nil *Session means anonymous use.
type Session struct {
	UserID string
}

// Anonymous is the user recorded on receipts saved without a session
const Anonymous = "anonymous"

// UserID returns the session's user, or Anonymous for a nil session
func UserID(s *Session) string {
	if s == nil {
		return Anonymous
	}
	return s.UserID
}

// Verifier validates HS256 bearer tokens whose subject is the user ID
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier. An empty secret disables sign-in entirely.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether tokens can be verified at all
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Verify parses a token and returns its session
func (v *Verifier) Verify(tokenString string) (*Session, error) {
	if !v.Enabled() {
		return nil, fmt.Errorf("%w: sign-in is not configured", ErrInvalidToken)
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &Session{UserID: sub}, nil
}

// Issue signs a token for userID that expires after ttl
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", errors.New("sign-in is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// FromRequest returns the request's session: nil without an Authorization header,
// ErrInvalidToken when the header is present but unusable.
func (v *Verifier) FromRequest(r *http.Request) (*Session, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: expected a bearer token", ErrInvalidToken)
	}
	return v.Verify(strings.TrimSpace(tokenString))
}

type sessionKey struct{}

// WithSession stores the session on the context
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored by WithSession, or nil
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
