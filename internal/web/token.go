package web

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "amethyst"

const (
	audienceLink    = "link"
	audienceSession = "session"
)

// NewLinkToken mints the signed state parameter for the OAuth flow. The
// subject carries the Discord user id so the callback knows which profile to
// link, and the audience pins the token to the linking flow.
func NewLinkToken(secret, discordUserID string, ttl time.Duration) (string, error) {
	return newToken(secret, discordUserID, audienceLink, ttl)
}

// ParseLinkToken validates a state token and returns the Discord user id.
func ParseLinkToken(secret, token string) (string, error) {
	return parseToken(secret, token, audienceLink)
}

// NewSessionToken mints the cookie value issued after a successful link.
func NewSessionToken(secret, discordUserID string, ttl time.Duration) (string, error) {
	return newToken(secret, discordUserID, audienceSession, ttl)
}

// ParseSessionToken validates a session cookie and returns the Discord user id.
func ParseSessionToken(secret, token string) (string, error) {
	return parseToken(secret, token, audienceSession)
}

func newToken(secret, subject, audience string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, token, audience string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithAudience(audience), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}
