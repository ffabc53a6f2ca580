package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/whisperhub/whisperhub/services"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/utils"
)

// PostController manages posts and categories.
type PostController struct {
	posts      *services.PostService
	categories *services.CategoryService
}

func NewPostController(posts *services.PostService, categories *services.CategoryService) *PostController {
	return &PostController{posts: posts, categories: categories}
}

func (p *PostController) CreatePost(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req struct {
		Title    string `json:"title"`
		Content  string `json:"content"`
		Category string `json:"category"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	post, err := p.posts.Create(ctx.Request.Context(), userID, req.Title, req.Content, req.Category)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Created(ctx, "post created successfully", post)
}

// ListPosts returns a page of posts, newest first. Supports category and q
// (or search) filters.
func (p *PostController) ListPosts(ctx *gin.Context) {
	offset, limit := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	q := ctx.Query("q")
	if q == "" {
		q = ctx.Query("search")
	}
	page, err := p.posts.List(ctx.Request.Context(), store.PostFilter{
		CategoryID: strings.TrimSpace(ctx.Query("category")),
		Query:      q,
		Offset:     offset,
		Limit:      limit,
	})
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "posts fetched", page)
}

// Search is ListPosts with a mandatory query.
func (p *PostController) Search(ctx *gin.Context) {
	if strings.TrimSpace(ctx.Query("q")) == "" {
		utils.Fail(ctx, utils.BadRequest("search query is required"))
		return
	}
	p.ListPosts(ctx)
}

func (p *PostController) GetPost(ctx *gin.Context) {
	post, err := p.posts.Get(ctx.Request.Context(), ctx.Param("postId"))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "post fetched", post)
}

func (p *PostController) CreateCategory(ctx *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	c, err := p.categories.Create(ctx.Request.Context(), req.Name, req.Description)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Created(ctx, "category created successfully", c)
}

func (p *PostController) ListCategories(ctx *gin.Context) {
	list, err := p.categories.List(ctx.Request.Context())
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "categories fetched", list)
}
