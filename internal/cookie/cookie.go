// Package cookie manages the single sign-on transport cookie. The cookie
// value is a signed JWT wrapping the ticket-granting ticket identifier, so
// a tampered cookie is rejected before the registry is ever consulted.
package cookie

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/apereo/cas-sub072/internal/config"
)

// ErrInvalidCookie is returned when the cookie value fails signature or
// claim validation.
var ErrInvalidCookie = errors.New("invalid session cookie")

// Manager issues and validates the session cookie.
type Manager struct {
	cfg      *config.CookieConfig
	secure   bool
	sameSite http.SameSite
}

// NewManager creates a cookie manager from the cookie and security
// configuration.
func NewManager(cfg *config.CookieConfig, security *config.SecurityConfig) *Manager {
	sameSite := http.SameSiteStrictMode
	switch strings.ToLower(security.SameSiteCookies) {
	case "lax":
		sameSite = http.SameSiteLaxMode
	case "none":
		sameSite = http.SameSiteNoneMode
	}
	return &Manager{
		cfg:      cfg,
		secure:   security.SecureCookies,
		sameSite: sameSite,
	}
}

// sessionClaims is the JWT claim set carried by the cookie.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// Issue signs a cookie value wrapping the granting ticket identifier.
func (m *Manager) Issue(tgtID string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   tgtID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.MaxAge)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return signed, nil
}

// Parse validates a cookie value and returns the granting ticket identifier
// it wraps.
func (m *Manager) Parse(value string) (string, error) {
	token, err := jwt.ParseWithClaims(value, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.cfg.Secret), nil
	}, jwt.WithIssuer(m.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCookie, err)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidCookie
	}
	return claims.Subject, nil
}

// Set writes the session cookie on the response.
func (m *Manager) Set(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.Name,
		Value:    value,
		Path:     m.cfg.Path,
		MaxAge:   int(m.cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite,
	})
}

// Clear expires the session cookie on the response.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.Name,
		Value:    "",
		Path:     m.cfg.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite,
	})
}

// Read extracts and validates the session cookie from a request, returning
// the granting ticket identifier. A missing cookie returns an empty
// identifier with no error.
func (m *Manager) Read(r *http.Request) (string, error) {
	c, err := r.Cookie(m.cfg.Name)
	if errors.Is(err, http.ErrNoCookie) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Parse(c.Value)
}
