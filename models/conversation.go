package models

import "time"

// Conversation is a 1:1 thread. UserAID < UserBID so each pair has one row.
type Conversation struct {
	ID            string     `gorm:"primaryKey;size:36" bson:"_id" json:"_id"`
	UserAID       string     `gorm:"column:user_a_id;size:36;uniqueIndex:idx_conversations_pair;not null" bson:"userA" json:"userA"`
	UserBID       string     `gorm:"column:user_b_id;size:36;uniqueIndex:idx_conversations_pair;not null" bson:"userB" json:"userB"`
	LastMessageID *string    `gorm:"size:36" bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `gorm:"index" bson:"lastMessageAt,omitempty" json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// Has reports whether userID takes part in the conversation.
func (c *Conversation) Has(userID string) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.UserAID == userID {
		return c.UserBID
	}
	return c.UserAID
}

// OrderedPair sorts two participant ids into (a, b).
func OrderedPair(x, y string) (string, string) {
	if x < y {
		return x, y
	}
	return y, x
}

type Message struct {
	ID             string    `gorm:"primaryKey;size:36" bson:"_id" json:"_id"`
	ConversationID string    `gorm:"size:36;index:idx_messages_conversation;not null" bson:"conversationId" json:"conversationId"`
	SenderID       string    `gorm:"size:36;not null" bson:"sender" json:"sender"`
	Content        string    `gorm:"type:text;not null" bson:"content" json:"content"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation" bson:"createdAt" json:"createdAt"`
}
