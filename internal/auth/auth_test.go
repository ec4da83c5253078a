package auth

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamspace/teamspace/internal/database"
	"github.com/teamspace/teamspace/internal/types"
)

var testSigningKey = []byte("test-signing-key")

func TestValidateSession(t *testing.T) {
	t.Run("valid token resolves account", func(t *testing.T) {
		db := &database.MockTeamspaceRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", 1).Return(database.User{
			Id:       1,
			Username: "alice",
		}, nil)

		v := NewSessionValidator(testSigningKey, db)
		token, err := v.CreateSessionToken(types.User{Id: 1}, time.Minute)
		require.NoError(t, err, "expected no error minting token")

		user, err := v.ValidateSession(token)
		assert.NoError(t, err, "expected valid session")
		assert.Equal(t, 1, user.Id, "expected user id to match")
		assert.Equal(t, "alice", user.Username, "expected username to match")
	})

	t.Run("garbage token", func(t *testing.T) {
		v := NewSessionValidator(testSigningKey, &database.MockTeamspaceRepository{})

		_, err := v.ValidateSession("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidSession, "expected ErrInvalidSession")
	})

	t.Run("expired token", func(t *testing.T) {
		v := NewSessionValidator(testSigningKey, &database.MockTeamspaceRepository{})
		token, err := v.CreateSessionToken(types.User{Id: 1}, -time.Minute)
		require.NoError(t, err, "expected no error minting token")

		_, err = v.ValidateSession(token)
		assert.ErrorIs(t, err, ErrInvalidSession, "expected ErrInvalidSession for expired token")
	})

	t.Run("token for a deleted account", func(t *testing.T) {
		db := &database.MockTeamspaceRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", 1).Return(database.User{}, sql.ErrNoRows)

		v := NewSessionValidator(testSigningKey, db)
		token, err := v.CreateSessionToken(types.User{Id: 1}, time.Minute)
		require.NoError(t, err, "expected no error minting token")

		_, err = v.ValidateSession(token)
		assert.ErrorIs(t, err, ErrInvalidSession, "expected ErrInvalidSession for missing account")
	})

	t.Run("token signed with different key", func(t *testing.T) {
		other := NewSessionValidator([]byte("other-key"), &database.MockTeamspaceRepository{})
		token, err := other.CreateSessionToken(types.User{Id: 1}, time.Minute)
		require.NoError(t, err, "expected no error minting token")

		v := NewSessionValidator(testSigningKey, &database.MockTeamspaceRepository{})
		_, err = v.ValidateSession(token)
		assert.ErrorIs(t, err, ErrInvalidSession, "expected ErrInvalidSession for foreign signature")
	})
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err, "expected no error hashing password")

	assert.True(t, VerifyPassword(hash, "s3cret"), "expected password to verify")
	assert.False(t, VerifyPassword(hash, "wrong"), "expected wrong password to fail")
}
