package model

import "time"

// User represents a registered account.
type User struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `gorm:"size:64" json:"name"`
	Email         string    `gorm:"uniqueIndex;size:128;not null" json:"email"`
	PasswordHash  string    `gorm:"size:64" json:"-"`
	EmailVerified bool      `gorm:"default:false" json:"email_verified"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
