// Package social implements the friend relationship protocol: requests by
// email, accept/decline transitions, and the symmetric friendship store.
package social

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chatmate-app/chatmate/server/errs"
	"github.com/chatmate-app/chatmate/server/model"
	"github.com/chatmate-app/chatmate/server/notify"
	"github.com/chatmate-app/chatmate/server/session"
)

type Service struct {
	db       *gorm.DB
	sessions *session.Manager
	notifier *notify.Notifier
	logger   *zap.Logger
}

func NewService(db *gorm.DB, sessions *session.Manager, notifier *notify.Notifier, logger *zap.Logger) *Service {
	return &Service{db: db, sessions: sessions, notifier: notifier, logger: logger}
}

// UserRef is the user shape embedded in request payloads.
type UserRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RequestView is a pending friend request with the sender's identity, the
// shape both the REST list and the realtime push use.
type RequestView struct {
	ID        int64     `json:"id"`
	Sender    UserRef   `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

// FriendView is a friend list entry decorated with live presence.
type FriendView struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Online bool   `json:"online"`
}

func userRef(u *model.User) UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Request creates a pending friend request addressed by recipient email and
// pushes it to the recipient's live sessions.
func (s *Service) Request(ctx context.Context, senderID int64, recipientEmail string) (*RequestView, error) {
	email := strings.ToLower(strings.TrimSpace(recipientEmail))
	if email == "" {
		return nil, fmt.Errorf("%w: recipient email is required", errs.ErrValidation)
	}

	var recipient model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&recipient).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no user with that email", errs.ErrNotFound)
		}
		return nil, fmt.Errorf("load recipient: %w", err)
	}
	if recipient.ID == senderID {
		return nil, fmt.Errorf("%w: cannot send a friend request to yourself", errs.ErrValidation)
	}

	var sender model.User
	if err := s.db.WithContext(ctx).First(&sender, senderID).Error; err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}

	// Reject a duplicate while a pending request already exists in either
	// direction between the pair.
	var pending int64
	err := s.db.WithContext(ctx).Model(&model.FriendRequest{}).
		Where("status = ? AND ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))",
			model.RequestPending, senderID, recipient.ID, recipient.ID, senderID).
		Count(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("check pending requests: %w", err)
	}
	if pending > 0 {
		return nil, fmt.Errorf("%w: a friend request is already pending", errs.ErrConflict)
	}

	var friends int64
	err = s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("user_id = ? AND friend_id = ?", senderID, recipient.ID).
		Count(&friends).Error
	if err != nil {
		return nil, fmt.Errorf("check friendship: %w", err)
	}
	if friends > 0 {
		return nil, fmt.Errorf("%w: already friends", errs.ErrConflict)
	}

	req := &model.FriendRequest{
		SenderID:    senderID,
		RecipientID: recipient.ID,
		Status:      model.RequestPending,
	}
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, fmt.Errorf("persist friend request: %w", err)
	}

	view := &RequestView{ID: req.ID, Sender: userRef(&sender), CreatedAt: req.CreatedAt}
	s.notifier.Deliver(ctx, recipient.ID, notify.EventFriendRequest, view)

	s.logger.Info("friend request sent",
		zap.Int64("request_id", req.ID),
		zap.Int64("sender_id", senderID),
		zap.Int64("recipient_id", recipient.ID))
	return view, nil
}

// Accept transitions a pending request to accepted and records the friendship
// in both directions inside one transaction. Only the recipient may accept.
// The original sender is notified after the commit.
func (s *Service) Accept(ctx context.Context, requestID, actingUserID int64) (*model.FriendRequest, error) {
	req, err := s.loadPending(ctx, requestID, actingUserID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.FriendRequest{}).
			Where("id = ? AND status = ?", req.ID, model.RequestPending).
			Update("status", model.RequestAccepted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: request is no longer pending", errs.ErrConflict)
		}
		// Symmetric rows. OnConflict keeps a retried accept from failing on
		// the pair's unique index.
		rows := []model.Friendship{
			{UserID: req.SenderID, FriendID: req.RecipientID},
			{UserID: req.RecipientID, FriendID: req.SenderID},
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("accept friend request: %w", err)
	}
	req.Status = model.RequestAccepted

	var recipient model.User
	if err := s.db.WithContext(ctx).First(&recipient, req.RecipientID).Error; err == nil {
		s.notifier.Deliver(ctx, req.SenderID, notify.EventFriendRequestAccepted, map[string]interface{}{
			"id":        req.ID,
			"recipient": userRef(&recipient),
		})
	}

	s.logger.Info("friend request accepted",
		zap.Int64("request_id", req.ID),
		zap.Int64("sender_id", req.SenderID),
		zap.Int64("recipient_id", req.RecipientID))
	return req, nil
}

// Decline marks a pending request declined. The decline is durable, so the
// sender cannot immediately re-request without the recipient noticing.
func (s *Service) Decline(ctx context.Context, requestID, actingUserID int64) error {
	req, err := s.loadPending(ctx, requestID, actingUserID)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&model.FriendRequest{}).
		Where("id = ? AND status = ?", req.ID, model.RequestPending).
		Update("status", model.RequestDeclined)
	if res.Error != nil {
		return fmt.Errorf("decline friend request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: request is no longer pending", errs.ErrConflict)
	}

	s.logger.Info("friend request declined",
		zap.Int64("request_id", req.ID),
		zap.Int64("recipient_id", req.RecipientID))
	return nil
}

func (s *Service) loadPending(ctx context.Context, requestID, actingUserID int64) (*model.FriendRequest, error) {
	var req model.FriendRequest
	if err := s.db.WithContext(ctx).First(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: friend request does not exist", errs.ErrNotFound)
		}
		return nil, fmt.Errorf("load friend request: %w", err)
	}
	if req.RecipientID != actingUserID {
		return nil, fmt.Errorf("%w: only the recipient can act on this request", errs.ErrForbidden)
	}
	if req.Status != model.RequestPending {
		return nil, fmt.Errorf("%w: request is no longer pending", errs.ErrConflict)
	}
	return &req, nil
}

// PendingRequests lists incoming pending requests for userID, oldest first.
func (s *Service) PendingRequests(ctx context.Context, userID int64) ([]RequestView, error) {
	var reqs []model.FriendRequest
	err := s.db.WithContext(ctx).
		Where("recipient_id = ? AND status = ?", userID, model.RequestPending).
		Order("created_at, id").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("load pending requests: %w", err)
	}
	if len(reqs) == 0 {
		return []RequestView{}, nil
	}

	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.SenderID)
	}
	var senders []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&senders).Error; err != nil {
		return nil, fmt.Errorf("load senders: %w", err)
	}
	byID := make(map[int64]UserRef, len(senders))
	for i := range senders {
		byID[senders[i].ID] = userRef(&senders[i])
	}

	views := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, RequestView{ID: r.ID, Sender: byID[r.SenderID], CreatedAt: r.CreatedAt})
	}
	return views, nil
}

// Friends lists userID's friends decorated with live presence.
func (s *Service) Friends(ctx context.Context, userID int64) ([]FriendView, error) {
	var friends []model.User
	err := s.db.WithContext(ctx).
		Joins("JOIN friendships ON friendships.friend_id = users.id").
		Where("friendships.user_id = ?", userID).
		Order("users.name").
		Find(&friends).Error
	if err != nil {
		return nil, fmt.Errorf("load friends: %w", err)
	}

	views := make([]FriendView, 0, len(friends))
	for i := range friends {
		f := &friends[i]
		views = append(views, FriendView{
			ID:     f.ID,
			Name:   f.Name,
			Email:  f.Email,
			Online: s.sessions.IsOnline(f.ID),
		})
	}
	return views, nil
}
