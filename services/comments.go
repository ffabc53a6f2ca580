package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/utils"
)

const maxCommentLength = 5000

// CommentNode is one comment in the reply tree of a post.
type CommentNode struct {
	ID              string         `json:"_id"`
	Content         string         `json:"content"`
	OwnerID         string         `json:"owner,omitempty"`
	PostID          string         `json:"post"`
	ParentCommentID *string        `json:"parentCommentId,omitempty"`
	Deleted         bool           `json:"deleted"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	Replies         []*CommentNode `json:"replies"`
}

func newCommentNode(c models.Comment) *CommentNode {
	n := &CommentNode{
		ID:              c.ID,
		Content:         c.Content,
		OwnerID:         c.OwnerID,
		PostID:          c.PostID,
		ParentCommentID: c.ParentCommentID,
		Deleted:         c.Deleted,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		Replies:         []*CommentNode{},
	}
	if c.Deleted {
		n.Content = ""
		n.OwnerID = ""
	}
	return n
}

// BuildTree nests a flat comment list. Input order is kept among siblings, so
// callers pass comments in creation order. Comments whose parent is missing
// from the list, or that sit on a parent cycle, become roots; every comment
// appears exactly once.
func BuildTree(comments []models.Comment) []*CommentNode {
	byID := make(map[string]int, len(comments))
	for i, c := range comments {
		byID[c.ID] = i
	}

	children := make(map[string][]int, len(comments))
	var roots []int
	for i, c := range comments {
		p := c.ParentCommentID
		if p == nil || *p == "" || *p == c.ID {
			roots = append(roots, i)
			continue
		}
		if _, ok := byID[*p]; !ok {
			roots = append(roots, i)
			continue
		}
		children[*p] = append(children[*p], i)
	}

	visited := make([]bool, len(comments))
	var build func(i int) *CommentNode
	build = func(i int) *CommentNode {
		visited[i] = true
		node := newCommentNode(comments[i])
		for _, ci := range children[comments[i].ID] {
			if visited[ci] {
				continue
			}
			node.Replies = append(node.Replies, build(ci))
		}
		return node
	}

	forest := make([]*CommentNode, 0, len(roots))
	for _, i := range roots {
		forest = append(forest, build(i))
	}
	// anything left is on a cycle that no root reaches
	for i := range comments {
		if !visited[i] {
			forest = append(forest, build(i))
		}
	}
	return forest
}

// CommentService owns comment creation, soft deletion and tree listing.
type CommentService struct {
	comments store.Comments
	posts    store.Posts
	notifier Notifier
}

func NewCommentService(comments store.Comments, posts store.Posts, notifier Notifier) *CommentService {
	return &CommentService{comments: comments, posts: posts, notifier: notifier}
}

// Create adds a comment or a reply. The parent must be a comment of the same
// post. The post owner, and the parent owner for replies, are notified.
func (s *CommentService) Create(ctx context.Context, postID, ownerID, content string, parentCommentID *string) (*models.Comment, error) {
	content = utils.Sanitize(content)
	if content == "" {
		return nil, utils.BadRequest("content is required")
	}
	if len([]rune(content)) > maxCommentLength {
		return nil, utils.BadRequest("comment is too long")
	}

	post, err := s.posts.PostByID(ctx, postID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, utils.NotFound("post not found")
	}
	if err != nil {
		return nil, utils.ServerError("failed to load post", err)
	}

	var parent *models.Comment
	if parentCommentID != nil && strings.TrimSpace(*parentCommentID) != "" {
		pid := strings.TrimSpace(*parentCommentID)
		parent, err = s.comments.CommentByID(ctx, pid)
		if errors.Is(err, store.ErrNotFound) || (err == nil && parent.PostID != post.ID) {
			return nil, utils.NotFound("parent comment not found")
		}
		if err != nil {
			return nil, utils.ServerError("failed to load parent comment", err)
		}
	}

	c := &models.Comment{
		Content:     content,
		OwnerID:     ownerID,
		PostID:      post.ID,
		PostOwnerID: post.OwnerID,
	}
	if parent != nil {
		c.ParentCommentID = &parent.ID
	}
	if err := s.comments.CreateComment(ctx, c); err != nil {
		return nil, utils.ServerError("failed to create comment", err)
	}

	notifyQuietly(ctx, s.notifier, post.OwnerID, models.NotificationPayload{
		Type:      models.NotificationComment,
		ActorID:   ownerID,
		PostID:    post.ID,
		CommentID: c.ID,
		Message:   "commented on your post",
	})
	if parent != nil && parent.OwnerID != post.OwnerID && !parent.Deleted {
		notifyQuietly(ctx, s.notifier, parent.OwnerID, models.NotificationPayload{
			Type:      models.NotificationReply,
			ActorID:   ownerID,
			PostID:    post.ID,
			CommentID: c.ID,
			Message:   "replied to your comment",
		})
	}
	return c, nil
}

// SoftDelete clears a comment's content and flags it deleted. Replies are
// untouched. Deleting an already deleted comment succeeds.
func (s *CommentService) SoftDelete(ctx context.Context, commentID, userID string) (*models.Comment, error) {
	c, err := s.comments.CommentByID(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, utils.NotFound("comment not found")
	}
	if err != nil {
		return nil, utils.ServerError("failed to load comment", err)
	}
	if c.OwnerID != userID {
		return nil, utils.Forbidden("you can only delete your own comments")
	}
	if !c.Deleted {
		if err := s.comments.MarkCommentDeleted(ctx, c.ID); err != nil {
			return nil, utils.ServerError("failed to delete comment", err)
		}
		c.Deleted = true
		c.Content = ""
	}
	return c, nil
}

// ListForPost returns the reply forest of a post.
func (s *CommentService) ListForPost(ctx context.Context, postID string) ([]*CommentNode, error) {
	if postID == "" {
		return nil, utils.BadRequest("post id is required")
	}
	if _, err := s.posts.PostByID(ctx, postID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, utils.NotFound("post not found")
		}
		return nil, utils.ServerError("failed to load post", err)
	}
	flat, err := s.comments.CommentsByPost(ctx, postID)
	if err != nil {
		return nil, utils.ServerError("failed to load comments", err)
	}
	return BuildTree(flat), nil
}
