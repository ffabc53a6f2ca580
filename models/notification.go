package models

import "time"

const (
	NotificationComment = "comment"
	NotificationReply   = "reply"
	NotificationVote    = "vote"
	NotificationMessage = "message"
)

// NotificationPayload describes the event that produced a notification.
type NotificationPayload struct {
	Type           string `gorm:"size:16" bson:"type" json:"type"`
	ActorID        string `gorm:"size:36" bson:"actor,omitempty" json:"actor,omitempty"`
	PostID         string `gorm:"size:36" bson:"post,omitempty" json:"post,omitempty"`
	CommentID      string `gorm:"size:36" bson:"comment,omitempty" json:"comment,omitempty"`
	ConversationID string `gorm:"size:36" bson:"conversation,omitempty" json:"conversation,omitempty"`
	Message        string `gorm:"size:500" bson:"message" json:"message"`
}

type Notification struct {
	ID         string              `gorm:"primaryKey;size:36" bson:"_id" json:"_id"`
	ReceiverID string              `gorm:"size:36;index:idx_notifications_receiver;not null" bson:"receiver" json:"receiver"`
	Payload    NotificationPayload `gorm:"embedded;embeddedPrefix:payload_" bson:"payload" json:"payload"`
	IsRead     bool                `gorm:"not null;default:false;index:idx_notifications_receiver" bson:"isRead" json:"isRead"`
	CreatedAt  time.Time           `bson:"createdAt" json:"createdAt"`
}
