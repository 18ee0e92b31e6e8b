package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coderoom/internal/models"

	gojwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

/*
LEARNING: STATELESS CREDENTIALS

The server signs an HS256 JWT at login. On every WebSocket handshake (and
every REST call) the token is verified locally; the only storage hit is an
optional user lookup so the display name reflects the current account.
*/

// UserLookup is what the authenticator needs from user storage
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Claims carried by issued tokens
type Claims struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	gojwt.RegisteredClaims
}

// JWTAuthenticator issues and verifies bearer tokens
type JWTAuthenticator struct {
	secret []byte
	ttl    time.Duration
	users  UserLookup // optional
	now    func() time.Time
}

// NewJWTAuthenticator creates an authenticator; users may be nil, in which
// case the name embedded in the token is trusted
func NewJWTAuthenticator(secret string, ttl time.Duration, users UserLookup) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(secret),
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}
}

// IssueToken signs a token for the user
func (a *JWTAuthenticator) IssueToken(user *models.User) (string, error) {
	now := a.now()
	claims := Claims{
		UserID: user.ID,
		Name:   user.Name,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// VerifyCredential validates the token and resolves it to an identity.
// Every failure wraps models.ErrAuthentication.
func (a *JWTAuthenticator) VerifyCredential(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("missing credential: %w", models.ErrAuthentication)
	}

	claims := &Claims{}
	parser := gojwt.NewParser(
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(a.now),
	)
	if _, err := parser.ParseWithClaims(token, claims, func(*gojwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid credential: %v: %w", err, models.ErrAuthentication)
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("credential has no user: %w", models.ErrAuthentication)
	}

	identity := &models.Identity{UserID: claims.UserID, DisplayName: claims.Name}

	if a.users != nil {
		user, err := a.users.GetByID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, models.ErrUserNotFound) {
				return nil, fmt.Errorf("unknown user %s: %w", claims.UserID, models.ErrAuthentication)
			}
			return nil, fmt.Errorf("failed to resolve user: %v: %w", err, models.ErrAuthentication)
		}
		identity.DisplayName = user.Name
	}

	return identity, nil
}

// HashPassword hashes a password for storage
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
