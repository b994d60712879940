// Package chat implements message persistence and realtime delivery between
// friends. A message is always written to the store first; the push to the
// recipient's live sessions happens after the commit and is best effort.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chatmate-app/chatmate/server/errs"
	"github.com/chatmate-app/chatmate/server/metrics"
	"github.com/chatmate-app/chatmate/server/model"
	"github.com/chatmate-app/chatmate/server/notify"
)

const maxContentLen = 4096

type Service struct {
	db       *gorm.DB
	notifier *notify.Notifier
	logger   *zap.Logger
}

func NewService(db *gorm.DB, notifier *notify.Notifier, logger *zap.Logger) *Service {
	return &Service{db: db, notifier: notifier, logger: logger}
}

// UserRef is the sender/recipient shape embedded in message payloads.
type UserRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// MessageView is the message shape returned to clients and pushed over the
// realtime channel. Both carry the same fields so receivers need one decoder.
type MessageView struct {
	ID        int64     `json:"id"`
	Sender    UserRef   `json:"sender"`
	Recipient UserRef   `json:"recipient"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp"`
}

func userRef(u *model.User) UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Send persists a message from sender to recipient and then pushes it to the
// recipient's live sessions. The returned view is what was persisted.
func (s *Service) Send(ctx context.Context, senderID, recipientID int64, content string) (*MessageView, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", errs.ErrValidation)
	}
	if len(content) > maxContentLen {
		return nil, fmt.Errorf("%w: message content too long", errs.ErrValidation)
	}

	var sender, recipient model.User
	if err := s.db.WithContext(ctx).First(&sender, senderID).Error; err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	if err := s.db.WithContext(ctx).First(&recipient, recipientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: recipient does not exist", errs.ErrNotFound)
		}
		return nil, fmt.Errorf("load recipient: %w", err)
	}

	msg := &model.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	metrics.MessagesSent.Inc()

	view := &MessageView{
		ID:        msg.ID,
		Sender:    userRef(&sender),
		Recipient: userRef(&recipient),
		Content:   msg.Content,
		Read:      msg.Read,
		Timestamp: msg.CreatedAt,
	}

	// Persisted; push after the write so a crash never produces a pushed
	// but unsaved message.
	s.notifier.Deliver(ctx, recipientID, notify.EventNewMessage, view)

	s.logger.Info("message sent",
		zap.Int64("message_id", msg.ID),
		zap.Int64("sender_id", senderID),
		zap.Int64("recipient_id", recipientID))
	return view, nil
}

// History returns the full conversation between userID and friendID, both
// directions, oldest first. Ties on timestamp fall back to creation order.
func (s *Service) History(ctx context.Context, userID, friendID int64) ([]MessageView, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
			userID, friendID, friendID, userID).
		Order("created_at, id").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	var user, friend model.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := s.db.WithContext(ctx).First(&friend, friendID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user does not exist", errs.ErrNotFound)
		}
		return nil, fmt.Errorf("load friend: %w", err)
	}
	refs := map[int64]UserRef{userID: userRef(&user), friendID: userRef(&friend)}

	views := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		views = append(views, MessageView{
			ID:        m.ID,
			Sender:    refs[m.SenderID],
			Recipient: refs[m.RecipientID],
			Content:   m.Content,
			Read:      m.Read,
			Timestamp: m.CreatedAt,
		})
	}
	return views, nil
}

// MarkRead flags every unread message from friendID to userID as read.
// Calling it with nothing unread is a no-op.
func (s *Service) MarkRead(ctx context.Context, userID, friendID int64) error {
	err := s.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("sender_id = ? AND recipient_id = ? AND is_read = ?", friendID, userID, false).
		Update("is_read", true).Error
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}
