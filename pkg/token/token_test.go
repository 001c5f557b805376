package token

import (
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server_only_secret"))
	require.NoError(t, err)
	return tok
}

// 測試不需要 secret 也能讀出身份
func TestParseClaims(t *testing.T) {
	now := time.Now()
	tok := sign(t, Claims{
		MemberID: "42",
		Role:     "tutor",
		Email:    "alice@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "Alice",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	claims, err := ParseClaims("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{UserID: "42", Username: "Alice", Role: "tutor", Email: "alice@example.com"}, claims.Identity())

	left, ok := claims.ExpiresIn(now)
	require.True(t, ok)
	assert.InDelta(t, time.Hour.Seconds(), left.Seconds(), 1)
}

func TestParseClaimsErrors(t *testing.T) {
	_, err := ParseClaims("")
	assert.Error(t, err)

	_, err = ParseClaims("not-a-jwt")
	assert.Error(t, err)

	_, err = ParseClaims(sign(t, Claims{Role: "tutor"}))
	assert.ErrorIs(t, err, ErrNoMemberID)
}

func TestExpiresInWithoutExp(t *testing.T) {
	claims, err := ParseClaims(sign(t, Claims{MemberID: "42"}))
	require.NoError(t, err)
	_, ok := claims.ExpiresIn(time.Now())
	assert.False(t, ok)
	assert.Equal(t, "42", claims.Identity().Username, "username falls back to the user id")
}
