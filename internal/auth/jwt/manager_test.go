package jwt

import (
	"testing"
	"time"

	"github.com/cornerstone/cornerstone-backend/pkg/config"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.JWTConfig {
	return &config.JWTConfig{
		Secret:       "test-secret",
		AccessExpiry: time.Hour,
		Issuer:       "cornerstone",
	}
}

func TestManager_RoundTrip(t *testing.T) {
	m := NewManager(testConfig())
	user := testutil.AdminActor()

	token, err := m.Generate(user)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.ExpiresAt, 5*time.Second)

	got, err := m.VerifyToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestManager_Expired(t *testing.T) {
	m := NewManager(testConfig())
	issued := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return issued }

	token, err := m.Generate(testutil.EndUserActor())
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateAccessToken(token.AccessToken)
	assert.True(t, errors.Is(err, errors.ErrTokenExpired))
}

func TestManager_RejectsForeignTokens(t *testing.T) {
	token, err := NewManager(testConfig()).Generate(testutil.AdminActor())
	require.NoError(t, err)

	t.Run("other secret", func(t *testing.T) {
		cfg := testConfig()
		cfg.Secret = "another-secret"
		_, err := NewManager(cfg).ValidateAccessToken(token.AccessToken)
		assert.True(t, errors.Is(err, errors.ErrTokenInvalid))
	})

	t.Run("other issuer", func(t *testing.T) {
		cfg := testConfig()
		cfg.Issuer = "someone-else"
		_, err := NewManager(cfg).ValidateAccessToken(token.AccessToken)
		assert.True(t, errors.Is(err, errors.ErrTokenInvalid))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := NewManager(testConfig()).ValidateAccessToken("not.a.token")
		assert.True(t, errors.Is(err, errors.ErrTokenInvalid))
	})
}
