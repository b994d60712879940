// Package notify fans realtime events out to every live session of a user.
// Delivery is best effort. The durable store written before any push is the
// source of truth, so offline recipients and full buffers are never errors.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatmate-app/chatmate/server/cache"
	"github.com/chatmate-app/chatmate/server/metrics"
	"github.com/chatmate-app/chatmate/server/session"
)

// Event names on the wire.
const (
	EventNewMessage            = "newMessage"
	EventFriendRequest         = "friendRequest"
	EventFriendRequestAccepted = "friendRequestAccepted"
)

type Notifier struct {
	sessions *session.Manager
	pubsub   cache.PubSub
	logger   *zap.Logger
}

func New(sessions *session.Manager, pubsub cache.PubSub, logger *zap.Logger) *Notifier {
	return &Notifier{sessions: sessions, pubsub: pubsub, logger: logger}
}

// UserChannel is the pub/sub channel carrying a user's event stream. SSE
// clients subscribe to it.
func UserChannel(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Deliver pushes an event to all live sessions of userID and mirrors it on
// the user's pub/sub channel. Never returns an error; failures are logged.
func (n *Notifier) Deliver(ctx context.Context, userID int64, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("marshal event payload",
			zap.String("event", event),
			zap.Int64("user_id", userID),
			zap.Error(err))
		return
	}
	pkt, err := json.Marshal(&session.Packet{Type: event, Payload: data})
	if err != nil {
		n.logger.Error("marshal event packet", zap.String("event", event), zap.Error(err))
		return
	}

	sessions := n.sessions.SessionsFor(userID)
	if len(sessions) == 0 {
		metrics.EventsOffline.WithLabelValues(event).Inc()
	}
	for _, s := range sessions {
		s.SendRaw(pkt)
		metrics.EventsDelivered.WithLabelValues(event).Inc()
	}

	if n.pubsub != nil {
		if err := n.pubsub.Publish(ctx, UserChannel(userID), string(pkt)); err != nil {
			n.logger.Warn("publish event",
				zap.String("event", event),
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
	}

	n.logger.Debug("event delivered",
		zap.String("event", event),
		zap.Int64("user_id", userID),
		zap.Int("sessions", len(sessions)))
}
