package model

import "time"

// Message is one persisted chat message. Immutable after creation except for
// the read flag. CreatedAt is the server-assigned timestamp readers sort by.
type Message struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID    int64     `gorm:"index:idx_msg_sender;not null" json:"sender_id"`
	RecipientID int64     `gorm:"index:idx_msg_recipient;not null" json:"recipient_id"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	// READ is reserved in MySQL, so the column is named is_read.
	Read        bool      `gorm:"column:is_read;default:false" json:"read"`
	CreatedAt   time.Time `gorm:"autoCreateTime:milli" json:"timestamp"`
}
