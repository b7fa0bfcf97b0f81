package auth

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wanderlustcms/api/internal/errors"
)

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	hasher := NewPasswordHasher()

	credential, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	require.NotEmpty(t, credential)

	assert.True(t, hasher.Verify("correct horse battery staple", credential))
	assert.False(t, hasher.Verify("correct horse battery stapl", credential))
	assert.False(t, hasher.Verify("", credential))
}

func TestPasswordHasher_SaltsDiffer(t *testing.T) {
	hasher := NewPasswordHasher()

	first, err := hasher.Hash("hunter2hunter2")
	require.NoError(t, err)
	second, err := hasher.Hash("hunter2hunter2")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "two hashes of the same password must use distinct salts")
	assert.True(t, hasher.Verify("hunter2hunter2", first))
	assert.True(t, hasher.Verify("hunter2hunter2", second))
}

func TestPasswordHasher_EmptyPassword(t *testing.T) {
	hasher := NewPasswordHasher()

	_, err := hasher.Hash("")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.CodeValidationFailed))
}

func TestPasswordHasher_MalformedCredential(t *testing.T) {
	hasher := NewPasswordHasher()

	tests := []struct {
		name       string
		credential string
	}{
		{"empty", ""},
		{"not base64", "!!not-base64!!"},
		{"too short", base64.StdEncoding.EncodeToString([]byte("short"))},
		{"foreign format", "$argon2id$v=19$m=65536,t=1,p=4$c29tZXNhbHQ$hash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Corrupt stored credentials must read as "no match", never panic.
			assert.False(t, hasher.Verify("whatever", tt.credential))
		})
	}
}

func TestPasswordHasher_StoredFormat(t *testing.T) {
	hasher := NewPasswordHasher()

	credential, err := hasher.Hash("some password")
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(credential)
	require.NoError(t, err)
	assert.Len(t, decoded, saltSize+keySize)
}
