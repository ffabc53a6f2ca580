package services

import (
	"context"
	"errors"
	"strings"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/utils"
)

const (
	maxTitleLength   = 200
	maxContentLength = 20000
	maxQueryLength   = 100
)

// PostDetail is a post with its vote tally.
type PostDetail struct {
	*models.Post
	Votes models.VoteTally `json:"votes"`
}

// PostPage is one page of a post listing.
type PostPage struct {
	Posts  []models.Post `json:"posts"`
	Total  int64         `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

type PostService struct {
	posts      store.Posts
	categories *CategoryService
	votes      *VoteService
}

func NewPostService(posts store.Posts, categories *CategoryService, votes *VoteService) *PostService {
	return &PostService{posts: posts, categories: categories, votes: votes}
}

func (s *PostService) Create(ctx context.Context, ownerID, title, content, categoryID string) (*models.Post, error) {
	title = utils.StripTags(title)
	content = utils.Sanitize(content)
	switch {
	case title == "" || content == "":
		return nil, utils.BadRequest("title and content are required")
	case len([]rune(title)) > maxTitleLength:
		return nil, utils.BadRequest("title is too long")
	case len([]rune(content)) > maxContentLength:
		return nil, utils.BadRequest("content is too long")
	}
	if err := s.categories.Exists(ctx, categoryID); err != nil {
		return nil, err
	}
	p := &models.Post{Title: title, Content: content, CategoryID: categoryID, OwnerID: ownerID}
	if err := s.posts.CreatePost(ctx, p); err != nil {
		return nil, utils.ServerError("failed to create post", err)
	}
	return p, nil
}

func (s *PostService) Get(ctx context.Context, id string) (*PostDetail, error) {
	p, err := s.posts.PostByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, utils.NotFound("post not found")
	}
	if err != nil {
		return nil, utils.ServerError("failed to load post", err)
	}
	tally, err := s.votes.Tally(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &PostDetail{Post: p, Votes: tally}, nil
}

// List pages through posts, newest first. A non-empty query matches title or
// content.
func (s *PostService) List(ctx context.Context, f store.PostFilter) (*PostPage, error) {
	f.Query = strings.TrimSpace(f.Query)
	if len([]rune(f.Query)) > maxQueryLength {
		return nil, utils.BadRequest("search query is too long")
	}
	list, total, err := s.posts.ListPosts(ctx, f)
	if err != nil {
		return nil, utils.ServerError("failed to load posts", err)
	}
	offset, limit := f.Bounds()
	return &PostPage{Posts: list, Total: total, Offset: offset, Limit: limit}, nil
}
