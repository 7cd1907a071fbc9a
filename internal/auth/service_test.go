package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theminus/minosd/internal/settings"
	"github.com/theminus/minosd/pkg/config"
)

func testService(t *testing.T) (*Service, *settings.Store) {
	t.Helper()
	store, err := settings.Load(filepath.Join(t.TempDir(), "settings.yaml"), 4)
	require.NoError(t, err)

	svc := NewService(store, &config.AuthConfig{
		JWTExpiration: time.Minute,
		BCryptCost:    4,
	})
	return svc, store
}

func TestCheckCredentials(t *testing.T) {
	svc, _ := testService(t)

	assert.True(t, svc.CheckCredentials("admin", "admin"))
	assert.False(t, svc.CheckCredentials("admin", "wrong"))
	assert.False(t, svc.CheckCredentials("root", "admin"))
	assert.False(t, svc.CheckCredentials("", ""))
}

func TestIssueAndValidateToken(t *testing.T) {
	svc, _ := testService(t)

	token, expires, err := svc.IssueToken("admin")
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now()))

	assert.NoError(t, svc.ValidateToken(token))
	assert.Error(t, svc.ValidateToken("garbage"))
}

func TestTokenDiesWithLoginChange(t *testing.T) {
	svc, store := testService(t)

	token, _, err := svc.IssueToken("admin")
	require.NoError(t, err)
	require.NoError(t, svc.ValidateToken(token))

	require.NoError(t, store.Update(func(st *settings.Settings) {
		st.HTTPLogin = "operator"
	}))
	assert.Error(t, svc.ValidateToken(token))
}
