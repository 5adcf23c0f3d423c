package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier("topsecret")
	token := v.Token("acct-1")

	accountID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", accountID)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no separator", "acct-1"},
		{"empty account", "." + token},
		{"bad hex", "acct-1.zzzz"},
		{"forged signature", "acct-1.deadbeef"},
		{"signature for other account", "acct-2." + token[len("acct-1."):]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestHMACVerifierSecretMatters(t *testing.T) {
	token := NewHMACVerifier("secret-a").Token("acct-1")
	_, err := NewHMACVerifier("secret-b").Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier(map[string]string{"tok-123": "acct-1"})

	accountID, err := v.Verify("tok-123")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", accountID)

	_, err = v.Verify("tok-456")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
