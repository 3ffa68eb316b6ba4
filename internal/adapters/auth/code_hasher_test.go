package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptCodeHasher_Hash_and_Compare(t *testing.T) {
	h := NewBcryptCodeHasher(bcrypt.MinCost)

	hash, err := h.Hash("123456")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.NotContains(t, hash, "123456")

	require.NoError(t, h.Compare(hash, "123456"))
	assert.Error(t, h.Compare(hash, "654321"))
}

func TestBcryptCodeHasher_InvalidCostFallsBackToDefault(t *testing.T) {
	h := NewBcryptCodeHasher(99)
	hash, err := h.Hash("123456")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}
