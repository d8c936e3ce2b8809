package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	util := NewJWTUtil("secret", "1h")

	token, err := util.GenerateToken("u1", "a@b.c", "admin", "org1")
	require.NoError(t, err)

	claims, err := util.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "org1", claims.OrganizationID)

	exp, ok := ExpiresAt(token)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)
}

func TestValidate_WrongSecret(t *testing.T) {
	token, err := NewJWTUtil("one", "1h").GenerateToken("u1", "", "admin", "")
	require.NoError(t, err)

	_, err = NewJWTUtil("two", "1h").ValidateToken(token)
	assert.Error(t, err)
	assert.False(t, IsExpired(err))
}

func TestValidate_Expired(t *testing.T) {
	util := NewJWTUtil("secret", "1ns")
	token, err := util.GenerateToken("u1", "", "admin", "")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	_, err = util.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, IsExpired(err))
}

func TestExpiresAt_NotAJWT(t *testing.T) {
	_, ok := ExpiresAt("opaque-token")
	assert.False(t, ok)
}
