package services

import (
	"context"
	"errors"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/utils"
)

const maxMessageLength = 2000

// MessageService handles 1:1 conversations between users.
type MessageService struct {
	conversations store.Conversations
	users         store.Users
	notifier      Notifier
}

func NewMessageService(conversations store.Conversations, users store.Users, notifier Notifier) *MessageService {
	return &MessageService{conversations: conversations, users: users, notifier: notifier}
}

// StartConversation returns the conversation between userID and otherID,
// creating it on first contact.
func (s *MessageService) StartConversation(ctx context.Context, userID, otherID string) (*models.Conversation, error) {
	if otherID == "" {
		return nil, utils.BadRequest("participant is required")
	}
	if otherID == userID {
		return nil, utils.BadRequest("cannot start a conversation with yourself")
	}
	if _, err := s.users.UserByID(ctx, otherID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, utils.NotFound("user not found")
		}
		return nil, utils.ServerError("failed to load user", err)
	}
	c, err := s.conversations.ConversationForPair(ctx, userID, otherID)
	if err != nil {
		return nil, utils.ServerError("failed to open conversation", err)
	}
	return c, nil
}

func (s *MessageService) participant(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	c, err := s.conversations.ConversationByID(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, utils.NotFound("conversation not found")
	}
	if err != nil {
		return nil, utils.ServerError("failed to load conversation", err)
	}
	if !c.Has(userID) {
		return nil, utils.Forbidden("you are not part of this conversation")
	}
	return c, nil
}

// Send appends a message and notifies the other participant.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	content = utils.Sanitize(content)
	if content == "" {
		return nil, utils.BadRequest("message content is required")
	}
	if len([]rune(content)) > maxMessageLength {
		return nil, utils.BadRequest("message is too long")
	}
	c, err := s.participant(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	m := &models.Message{ConversationID: c.ID, SenderID: senderID, Content: content}
	if err := s.conversations.CreateMessage(ctx, m); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, utils.NotFound("conversation not found")
		}
		return nil, utils.ServerError("failed to send message", err)
	}
	notifyQuietly(ctx, s.notifier, c.Other(senderID), models.NotificationPayload{
		Type:           models.NotificationMessage,
		ActorID:        senderID,
		ConversationID: c.ID,
		Message:        "sent you a message",
	})
	return m, nil
}

// Messages lists a conversation oldest first.
func (s *MessageService) Messages(ctx context.Context, conversationID, userID string) ([]models.Message, error) {
	c, err := s.participant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	list, err := s.conversations.MessagesIn(ctx, c.ID)
	if err != nil {
		return nil, utils.ServerError("failed to load messages", err)
	}
	return list, nil
}

// Conversations lists the user's conversations, most recently active first.
func (s *MessageService) Conversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	list, err := s.conversations.ConversationsForUser(ctx, userID)
	if err != nil {
		return nil, utils.ServerError("failed to load conversations", err)
	}
	return list, nil
}
