// CLAUDE:SUMMARY JWT caller identity: token issuance, validation, bearer extraction and request identity middleware
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hazyhaar/horosrand/internal/callctx"
)

// Issuer is stamped into and required from every token.
const Issuer = "horosrand"

var (
	ErrNoCaller     = errors.New("caller is required")
	ErrInvalidToken = errors.New("invalid token")
)

// Auth turns bearer tokens into caller identities. It never rejects a
// request: without a valid token the caller stays anonymous.
type Auth struct {
	key    []byte
	ttl    time.Duration
	parser *jwt.Parser
}

// Claims carry the caller recorded in history entries.
type Claims struct {
	Caller string `json:"caller"`
	jwt.RegisteredClaims
}

func New(secret string, expiryMinutes int) *Auth {
	return &Auth{
		key: []byte(secret),
		ttl: time.Duration(expiryMinutes) * time.Minute,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// GenerateToken issues a token naming caller.
func (a *Auth) GenerateToken(caller string) (string, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return "", ErrNoCaller
	}
	now := time.Now()
	claims := Claims{
		Caller: caller,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   caller,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := a.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return a.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Caller == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// CallerFromRequest returns the caller named by a valid bearer token.
func (a *Auth) CallerFromRequest(r *http.Request) (string, bool) {
	tok, ok := bearer(r.Header.Get("Authorization"))
	if !ok {
		return "", false
	}
	claims, err := a.ValidateToken(tok)
	if err != nil {
		return "", false
	}
	return claims.Caller, true
}

// Identify attaches the bearer token's caller to the request context.
func (a *Auth) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller, ok := a.CallerFromRequest(r); ok {
			r = r.WithContext(callctx.WithCaller(r.Context(), caller))
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(header string) (string, bool) {
	scheme, tok, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
