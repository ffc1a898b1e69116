package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pytake/pytake-go/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:     "test-secret",
		JWTExpiration: time.Hour,
		JWTIssuer:     "dtq-test",
		JWTAudience:   "dtq-test-api",
	}
}

func TestManager_IssueAndValidateRoundTrip(t *testing.T) {
	manager := NewManager(testConfig())

	token, expiresAt, err := manager.IssueToken("worker-1", "worker")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 2*time.Second)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", claims.WorkerID)
	assert.Equal(t, "worker", claims.Role)
	assert.Equal(t, "dtq-test", claims.Issuer)
}

func TestManager_ValidateToken_RejectsWrongSecret(t *testing.T) {
	issuer := NewManager(testConfig())
	token, _, err := issuer.IssueToken("worker-1", "worker")
	require.NoError(t, err)

	other := testConfig()
	other.JWTSecret = "different-secret"
	verifier := NewManager(other)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestManager_ValidateToken_RejectsExpired(t *testing.T) {
	cfg := testConfig()
	cfg.JWTExpiration = -time.Minute
	manager := NewManager(cfg)

	token, _, err := manager.IssueToken("worker-1", "worker")
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}

func TestManager_ValidateToken_RejectsGarbage(t *testing.T) {
	manager := NewManager(testConfig())
	_, err := manager.ValidateToken("not-a-jwt")
	assert.Error(t, err)
}
