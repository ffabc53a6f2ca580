// Package store is the persistence layer. Every call reads or writes current
// state; nothing is cached. Per-key races are closed with single-statement
// conditional updates rather than locks.
package store

import (
	"context"
	"errors"

	"github.com/whisperhub/whisperhub/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
)

// ProfileUpdate carries the user fields to change; nil means keep.
type ProfileUpdate struct {
	Username     *string
	Email        *string
	Bio          *string
	PasswordHash *string
	Avatar       *string
	CoverImage   *string
}

func (p ProfileUpdate) empty() bool {
	return p.Username == nil && p.Email == nil && p.Bio == nil &&
		p.PasswordHash == nil && p.Avatar == nil && p.CoverImage == nil
}

type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	UserByID(ctx context.Context, id string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UserByProvider(ctx context.Context, provider, providerID string) (*models.User, error)
	UserByResetToken(ctx context.Context, token string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, p ProfileUpdate) error
	// SetRefreshToken overwrites the stored refresh token; nil clears it.
	SetRefreshToken(ctx context.Context, id string, token *string) error
	// SwapRefreshToken replaces old with next only if old is still the stored
	// value. It reports false when another rotation got there first.
	SwapRefreshToken(ctx context.Context, id, old, next string) (bool, error)
	SetResetToken(ctx context.Context, id, token string) error
	// ConsumeResetToken sets the password and clears the reset token if token
	// is still the stored value.
	ConsumeResetToken(ctx context.Context, id, token, passwordHash string) (bool, error)
	AddLikedCategories(ctx context.Context, userID string, categoryIDs []string) ([]string, error)
	RemoveLikedCategory(ctx context.Context, userID, categoryID string) (bool, error)
}

type OTPs interface {
	CreateOTP(ctx context.Context, o *models.OTP) error
	LatestOTP(ctx context.Context, email, scenario string) (*models.OTP, error)
	OTPCodeExists(ctx context.Context, code string) (bool, error)
}

type Categories interface {
	CreateCategory(ctx context.Context, c *models.Category) error
	CategoryByID(ctx context.Context, id string) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
}

// PostFilter narrows ListPosts. Zero values mean no filter.
type PostFilter struct {
	CategoryID string
	Query      string
	Offset     int
	Limit      int
}

type Posts interface {
	CreatePost(ctx context.Context, p *models.Post) error
	PostByID(ctx context.Context, id string) (*models.Post, error)
	ListPosts(ctx context.Context, f PostFilter) ([]models.Post, int64, error)
}

type Comments interface {
	CreateComment(ctx context.Context, c *models.Comment) error
	CommentByID(ctx context.Context, id string) (*models.Comment, error)
	// CommentsByPost returns every comment of the post ordered by (created_at, id).
	CommentsByPost(ctx context.Context, postID string) ([]models.Comment, error)
	MarkCommentDeleted(ctx context.Context, id string) error
}

type Notifications interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	NotificationsForUser(ctx context.Context, userID string) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

type Votes interface {
	// UpsertVote inserts or overwrites the (post, voter) vote and reports
	// whether a new row was created.
	UpsertVote(ctx context.Context, postID, voterID, voteType string) (*models.Vote, bool, error)
	TallyVotes(ctx context.Context, postID string) (models.VoteTally, error)
}

type Conversations interface {
	// ConversationForPair returns the pair's conversation, creating it if needed.
	ConversationForPair(ctx context.Context, userA, userB string) (*models.Conversation, error)
	ConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	// CreateMessage stores the message and points the conversation at it.
	CreateMessage(ctx context.Context, m *models.Message) error
	MessagesIn(ctx context.Context, conversationID string) ([]models.Message, error)
}

// Store is the full persistence surface. GormStore and MongoStore implement it.
type Store interface {
	Users
	OTPs
	Categories
	Posts
	Comments
	Notifications
	Votes
	Conversations
	Close(ctx context.Context) error
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Bounds returns the offset and limit actually applied to the filter.
func (f PostFilter) Bounds() (int, int) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}
