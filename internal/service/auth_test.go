package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-nest/bookstore-back/internal/service"
)

func TestAuthRegisterAndLogin(t *testing.T) {
	conn := newTestDB(t)
	auth := service.NewAuth(conn, newTestLogger())

	token, err := auth.Register("user@test.com", "longenoughpassword")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	user, err := auth.UserByToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user@test.com", user.Email)

	newToken, err := auth.Login("user@test.com", "longenoughpassword")
	require.NoError(t, err)
	assert.NotEmpty(t, newToken)
	assert.NotEqual(t, token, newToken)

	_, err = auth.Login("user@test.com", "wrong password")
	assert.ErrorIs(t, err, service.ErrLoginPasswordDoesNotMatch)

	_, err = auth.Login("nobody@test.com", "longenoughpassword")
	assert.ErrorIs(t, err, service.ErrLoginUserNotFound)
}
