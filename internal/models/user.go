package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// User is a registered participant
type User struct {
	ID           string    `json:"id" gorm:"type:char(27);primaryKey"`
	Name         string    `json:"name" gorm:"type:varchar(100);not null"`
	Email        string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string    `json:"-" gorm:"column:password_hash;type:text;not null"`
	CreatedAt    time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (User) TableName() string {
	return "users"
}

// Identity is the verified (userId, displayName) pair attached to a connection
// Learning: It is resolved once at handshake and never changes afterwards
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}
