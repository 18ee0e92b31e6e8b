package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coderoom/internal/models"

	"gorm.io/gorm"
)

// RoomRepositoryImpl is the Room Directory backed by GORM
// Learning: This is the IMPLEMENTATION. The session engine and the API
// each declare the slice of it they need.
type RoomRepositoryImpl struct {
	db *gorm.DB
}

// NewRoomRepository creates a new room repository
func NewRoomRepository(db *gorm.DB) *RoomRepositoryImpl {
	return &RoomRepositoryImpl{db: db}
}

// CreateRoom inserts an empty room owned by ownerID
// The UUID room id is generated in the BeforeCreate hook
func (r *RoomRepositoryImpl) CreateRoom(ctx context.Context, ownerID string) (*models.Room, error) {
	room := &models.Room{
		OwnerID:  ownerID,
		Language: models.DefaultLanguage,
	}

	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return room, nil
}

// GetRoom retrieves a room by id
func (r *RoomRepositoryImpl) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room

	err := r.db.WithContext(ctx).First(&room, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("room %s: %w", roomID, models.ErrRoomNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	return &room, nil
}

// SaveRoom writes the room's code and language
// An empty language leaves the stored language untouched
func (r *RoomRepositoryImpl) SaveRoom(ctx context.Context, roomID, code, language string) error {
	updates := map[string]interface{}{
		"code":       code,
		"updated_at": time.Now(),
	}
	if language != "" {
		updates["language"] = language
	}

	result := r.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("room_id = ?", roomID).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to save room: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("room %s: %w", roomID, models.ErrRoomNotFound)
	}

	return nil
}

// ListByOwner returns the owner's rooms, most recently updated first
func (r *RoomRepositoryImpl) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Room, error) {
	var rooms []*models.Room

	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rooms).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	return rooms, nil
}

// UpdateFlags changes the owner-controlled flags and returns the new record
func (r *RoomRepositoryImpl) UpdateFlags(ctx context.Context, roomID string, update *models.RoomFlagsUpdate) (*models.Room, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// Map, not struct: GORM's Updates() skips zero-valued struct fields (false)
	updates := make(map[string]interface{})
	if update.IsReadOnly != nil {
		updates["is_read_only"] = *update.IsReadOnly
	}
	if update.IsLocked != nil {
		updates["is_locked"] = *update.IsLocked
	}
	if len(updates) == 0 {
		return room, nil
	}

	if err := r.db.WithContext(ctx).Model(room).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update room: %w", err)
	}

	return room, nil
}
