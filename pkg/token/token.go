package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Claims structure for custom claims in the chat server JWT
type Claims struct {
	MemberID string `json:"user_id"`
	Role     string `json:"role"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ErrNoMemberID token without user_id
var ErrNoMemberID = errors.New("token has no user_id claim")

// ParseClaims read the claims of a server issued token without verifying the
// signature: the client never holds the signing key, the server re-validates
// the token on the websocket handshake. A "Bearer " prefix is accepted.
func ParseClaims(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenStr), "Bearer "))
	if tokenStr == "" {
		return nil, errors.New("invalid or missing token")
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.MemberID == "" {
		return nil, ErrNoMemberID
	}
	return claims, nil
}

// Identity chat identity carried by the token
func (c *Claims) Identity() domain.Identity {
	username := c.Username
	if username == "" {
		username = c.Subject
	}
	if username == "" {
		username = c.MemberID
	}
	return domain.Identity{
		UserID:   c.MemberID,
		Username: username,
		Role:     c.Role,
		Email:    c.Email,
	}
}

// ExpiresIn time left before expiry, ok false when the token has no exp claim
func (c *Claims) ExpiresIn(now time.Time) (time.Duration, bool) {
	exp, err := c.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.Sub(now), true
}
