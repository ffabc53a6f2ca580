package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/utils"
)

// Notifier is what comment, vote and message flows need to raise an event.
type Notifier interface {
	Notify(ctx context.Context, receiverID string, payload models.NotificationPayload) error
}

// NotificationService is the append-only per-user event ledger. New entries
// are also published on "notification.created.<receiver>" for live clients.
type NotificationService struct {
	store     store.Notifications
	publisher utils.EventPublisher
}

func NewNotificationService(s store.Notifications, pub utils.EventPublisher) *NotificationService {
	if pub == nil {
		pub = utils.NopPublisher{}
	}
	return &NotificationService{store: s, publisher: pub}
}

func validNotificationType(t string) bool {
	switch t {
	case models.NotificationComment, models.NotificationReply, models.NotificationVote, models.NotificationMessage:
		return true
	}
	return false
}

// Create appends a notification for receiverID.
func (s *NotificationService) Create(ctx context.Context, receiverID string, payload models.NotificationPayload) (*models.Notification, error) {
	if receiverID == "" {
		return nil, utils.BadRequest("receiver is required")
	}
	if !validNotificationType(payload.Type) {
		return nil, utils.BadRequest("invalid notification type")
	}
	n := &models.Notification{ReceiverID: receiverID, Payload: payload}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, utils.ServerError("failed to create notification", err)
	}
	if err := s.publisher.Publish("notification.created."+receiverID, n); err != nil {
		utils.Logger.Warn("publish notification failed", zap.String("receiver", receiverID), zap.Error(err))
	}
	return n, nil
}

// Notify implements Notifier.
func (s *NotificationService) Notify(ctx context.Context, receiverID string, payload models.NotificationPayload) error {
	_, err := s.Create(ctx, receiverID, payload)
	return err
}

// ListForUser returns the user's notifications newest first.
func (s *NotificationService) ListForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	list, err := s.store.NotificationsForUser(ctx, userID)
	if err != nil {
		return nil, utils.ServerError("failed to load notifications", err)
	}
	return list, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, utils.ServerError("failed to count notifications", err)
	}
	return n, nil
}

// MarkAllRead flips every unread notification of the user and returns how many
// changed. Calling it again is a no-op.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, utils.ServerError("failed to update notifications", err)
	}
	return n, nil
}

// notifyQuietly raises an event and only logs failures; the triggering write
// has already been committed.
func notifyQuietly(ctx context.Context, n Notifier, receiverID string, payload models.NotificationPayload) {
	if n == nil || receiverID == "" || receiverID == payload.ActorID {
		return
	}
	if err := n.Notify(ctx, receiverID, payload); err != nil {
		utils.Logger.Warn("notification failed",
			zap.String("receiver", receiverID),
			zap.String("type", payload.Type),
			zap.Error(err),
		)
	}
}
