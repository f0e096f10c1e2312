package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codepolish/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidToken = errors.New("invalid token")

// AuthManager mints and verifies session JWTs and owns the session cookie.
type AuthManager struct {
	secret     []byte
	cookieName string
	secure     bool
	ttl        time.Duration
}

func NewAuthManager(cfg config.AuthConfig) *AuthManager {
	return &AuthManager{
		secret:     []byte(cfg.JWTSecret),
		cookieName: cfg.CookieName,
		secure:     cfg.Secure,
		ttl:        cfg.SessionTTL,
	}
}

type SessionClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Mint signs a session for userID and sets it as the session cookie.
func (a *AuthManager) Mint(w http.ResponseWriter, userID int64, name string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(a.ttl.Seconds()),
		HttpOnly: true,
		Secure:   a.secure,
		// Lax so the cookie survives the redirect back from the OAuth provider
		SameSite: http.SameSiteLaxMode,
	})
	return signed, nil
}

func (a *AuthManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Parse verifies a session token and returns its user id.
func (a *AuthManager) Parse(tok string) (int64, error) {
	claims := &SessionClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return 0, errInvalidToken
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidToken
	}
	return id, nil
}

// credentials returns the bearer token, or the session cookie when no header is sent.
func (a *AuthManager) credentials(r *http.Request) string {
	if hdr := r.Header.Get("Authorization"); len(hdr) > 7 && strings.EqualFold(hdr[:7], "bearer ") {
		return strings.TrimSpace(hdr[7:])
	}
	if c, err := r.Cookie(a.cookieName); err == nil {
		return c.Value
	}
	return ""
}
