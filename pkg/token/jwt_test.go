package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("secret", 1)

	tok, err := m.GenerateToken("content-cms", []string{ScopeIngest})
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "content-cms", claims.Service)
	assert.True(t, claims.HasScope(ScopeIngest))
	assert.False(t, claims.HasScope(ScopeRunRead))
}

func TestVerify_Rejects(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken("svc", nil)
	require.NoError(t, err)

	_, err = NewJWTManager("other", 1).VerifyToken(tok)
	assert.Error(t, err)

	expired, err := NewJWTManager("secret", -1).GenerateToken("svc", nil)
	require.NoError(t, err)
	_, err = m.VerifyToken(expired)
	assert.Error(t, err)

	_, err = m.VerifyToken("garbage")
	assert.Error(t, err)
}
