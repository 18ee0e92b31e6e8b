package repository

import (
	"context"
	"errors"
	"fmt"

	"coderoom/internal/models"

	"gorm.io/gorm"
)

// UserRepositoryImpl handles account storage using GORM
type UserRepositoryImpl struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepositoryImpl {
	return &UserRepositoryImpl{db: db}
}

// CreateUser inserts a user; the KSUID is generated in the BeforeCreate hook
func (r *UserRepositoryImpl) CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error) {
	if _, err := r.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%s: %w", email, models.ErrEmailTaken)
	} else if !errors.Is(err, models.ErrUserNotFound) {
		return nil, err
	}

	user := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
	}

	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (r *UserRepositoryImpl) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *UserRepositoryImpl) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *UserRepositoryImpl) first(ctx context.Context, query string, arg string) (*models.User, error) {
	var user models.User

	err := r.db.WithContext(ctx).First(&user, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}
