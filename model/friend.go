package model

import "time"

// Friend request status values.
const (
	RequestPending  = 0
	RequestAccepted = 1
	RequestDeclined = 2
)

// FriendRequest represents one request from sender to recipient.
// Status transitions: pending → accepted or pending → declined, never back.
type FriendRequest struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID    int64     `gorm:"index:idx_request_pair;not null" json:"sender_id"`
	RecipientID int64     `gorm:"index:idx_request_pair;not null" json:"recipient_id"`
	Status      int       `gorm:"default:0" json:"status"` // 0=pending,1=accepted,2=declined
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Friendship is one direction of a mutual friend relation. Accepting a request
// inserts both directions in a single transaction, so the relation is always
// symmetric in the store.
type Friendship struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex:idx_friend_pair;not null" json:"user_id"`
	FriendID  int64     `gorm:"uniqueIndex:idx_friend_pair;not null" json:"friend_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
