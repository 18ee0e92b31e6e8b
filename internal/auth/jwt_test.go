package auth

import (
	"context"
	"testing"
	"time"

	"coderoom/internal/models"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers map[string]*models.User

func (f fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, models.ErrUserNotFound
}

func TestIssueAndVerify(t *testing.T) {
	a := NewJWTAuthenticator("secret", time.Hour, nil)

	token, err := a.IssueToken(&models.User{ID: "u1", Name: "Ada"})
	require.NoError(t, err)

	identity, err := a.VerifyCredential(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: "u1", DisplayName: "Ada"}, *identity)
}

func TestVerifyUsesCurrentUserName(t *testing.T) {
	users := fakeUsers{"u1": {ID: "u1", Name: "Ada Lovelace"}}
	a := NewJWTAuthenticator("secret", time.Hour, users)

	token, err := a.IssueToken(&models.User{ID: "u1", Name: "Ada"})
	require.NoError(t, err)

	identity, err := a.VerifyCredential(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", identity.DisplayName)
}

func TestVerifyRejects(t *testing.T) {
	a := NewJWTAuthenticator("secret", time.Hour, fakeUsers{})
	other := NewJWTAuthenticator("other-secret", time.Hour, nil)

	foreign, err := other.IssueToken(&models.User{ID: "u1", Name: "Ada"})
	require.NoError(t, err)

	unknownUser, err := a.IssueToken(&models.User{ID: "ghost", Name: "Ghost"})
	require.NoError(t, err)

	expiredIssuer := NewJWTAuthenticator("secret", time.Hour, nil)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredIssuer.IssueToken(&models.User{ID: "u1", Name: "Ada"})
	require.NoError(t, err)

	unsigned, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, Claims{UserID: "u1"}).
		SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"malformed", "not-a-jwt"},
		{"wrong secret", foreign},
		{"unknown user", unknownUser},
		{"expired", expired},
		{"alg none", unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.VerifyCredential(context.Background(), tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrAuthentication)
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
}
