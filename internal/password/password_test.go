package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)

	encoded, err := hasher.Hash("s3cret")
	require.NoError(t, err)
	assert.True(t, IsUsable(encoded))
	assert.NotEqual(t, "s3cret", encoded)

	tests := []struct {
		name    string
		plain   string
		encoded string
		want    bool
	}{
		{"matching password", "s3cret", encoded, true},
		{"wrong password", "secret", encoded, false},
		{"empty password", "", encoded, false},
		{"empty encoding", "s3cret", "", false},
		{"malformed encoding", "s3cret", "not-a-hash", false},
		{"unusable encoding", "s3cret", Unusable(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasher.Verify(tt.plain, tt.encoded))
		})
	}
}

func TestHash_Empty(t *testing.T) {
	_, err := NewBcryptHasher(bcrypt.MinCost).Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestNewBcryptHasher_CostBounds(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).Cost)
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(bcrypt.MaxCost+1).Cost)
	assert.Equal(t, bcrypt.MinCost, NewBcryptHasher(bcrypt.MinCost).Cost)
}

func TestUnusable(t *testing.T) {
	first := Unusable()
	second := Unusable()

	assert.True(t, len(first) == len(UnusablePrefix)+unusableSuffixLength, "unexpected length %d", len(first))
	assert.Equal(t, UnusablePrefix, first[:1])
	assert.NotEqual(t, first, second)
	assert.False(t, IsUsable(first))

	// Even the literal value cannot be used as a password.
	assert.False(t, Verify(first, first))
}
