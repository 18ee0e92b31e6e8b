package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultLanguage is the editor language a new room starts with
const DefaultLanguage = "javascript"

// Room is the durable record behind a collaborative editing room
// Learning: RoomID is a UUID (not a KSUID) because room ids end up in
// shareable URLs and should not leak creation time
type Room struct {
	RoomID     string    `json:"roomId" gorm:"column:room_id;type:varchar(36);primaryKey"`
	OwnerID    string    `json:"ownerId" gorm:"column:owner_id;type:char(27);not null;index"`
	Code       string    `json:"code" gorm:"type:text;not null;default:''"`
	Language   string    `json:"language" gorm:"type:varchar(50);not null;default:'javascript'"`
	IsLocked   bool      `json:"isLocked" gorm:"column:is_locked;not null;default:false"` // stored, never consulted by the live-edit path
	IsReadOnly bool      `json:"isReadOnly" gorm:"column:is_read_only;not null;default:false"`
	CreatedAt  time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate hook generates the room id and fills defaults
func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.RoomID == "" {
		r.RoomID = uuid.NewString()
	}
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	return nil
}

// TableName override
func (Room) TableName() string {
	return "rooms"
}

// CanEdit reports whether the given user may modify the room's content
func (r *Room) CanEdit(userID string) bool {
	return !r.IsReadOnly || r.OwnerID == userID
}

// RoomFlagsUpdate carries the owner-controlled flags of a room
type RoomFlagsUpdate struct {
	IsReadOnly *bool `json:"isReadOnly,omitempty"`
	IsLocked   *bool `json:"isLocked,omitempty"`
}
