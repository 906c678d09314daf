package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential is returned for any missing, malformed, expired or
// otherwise unverifiable credential. The message is deliberately generic so
// callers cannot distinguish "unknown user" from "bad token".
var ErrInvalidCredential = errors.New("invalid credential")

type Claims struct {
	UserID   int    `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies the bearer credentials carried by every
// connection handshake and API request.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

func (t *Tokens) Issue(userID int, username string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "member-chat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.ttl)),
		},
	})
	return token.SignedString(t.secret)
}

// Verify accepts both a plain token and a "Bearer "-prefixed one and returns
// the verified user id. The context bounds nothing here (verification is
// local), but the signature matches the verifier contract the gateway
// depends on.
func (t *Tokens) Verify(_ context.Context, credential string) (int, error) {
	credential = StripBearer(credential)
	if credential == "" {
		return 0, ErrInvalidCredential
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidCredential
	}
	return claims.UserID, nil
}

func StripBearer(credential string) string {
	credential = strings.TrimSpace(credential)
	if len(credential) > 7 && strings.EqualFold(credential[:7], "bearer ") {
		credential = strings.TrimSpace(credential[7:])
	}
	return credential
}

// Credential pulls the raw bearer credential off an incoming request:
// Authorization header first, then the token query parameter websocket
// clients use (browsers cannot set headers on the ws handshake).
func Credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}
