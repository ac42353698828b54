package security

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("1.2.3.4"), "request %d should pass", i)
	}
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"), "keys are limited independently")
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	defer rl.Close()

	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("k"))
}

func TestRateLimiterCloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	rl.Close()
	rl.Close()
}

func TestMemoryCooldown(t *testing.T) {
	cd := NewMemoryCooldown(time.Hour)
	defer cd.Close()
	ctx := context.Background()

	ok, err := cd.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cd.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cd.Allow(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisCooldownFailsOpen(t *testing.T) {
	cd := NewRedisCooldown("127.0.0.1:1", time.Second, nil)
	defer cd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Error(t, cd.Ping(ctx))
	ok, err := cd.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "10.0.0.1:5555", "10.0.0.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.1:5555", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:5555", "198.51.100.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tm, err := NewTokenManager("s3cret")
	require.NoError(t, err)

	token, err := tm.Issue("user-42", time.Hour)
	require.NoError(t, err)

	claims, err := tm.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, tokenIssuer, claims.Issuer)
	require.NotNil(t, claims.ExpiresAt)
}

func TestTokenRejections(t *testing.T) {
	tm, err := NewTokenManager("s3cret")
	require.NoError(t, err)
	other, err := NewTokenManager("different")
	require.NoError(t, err)

	expired, err := tm.Issue("u1", -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Issue("u1", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    tokenIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"expired", expired},
		{"wrong secret", foreign},
		{"alg none", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tm.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	_, err := NewTokenManager("")
	assert.ErrorIs(t, err, ErrMissingSecret)

	tm, err := NewTokenManager("x")
	require.NoError(t, err)
	_, err = tm.Issue("", time.Hour)
	assert.Error(t, err)
}
