package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/whisperhub/whisperhub/services"
	"github.com/whisperhub/whisperhub/utils"
)

// CommentController exposes the threaded comment tree and voting.
type CommentController struct {
	comments *services.CommentService
	votes    *services.VoteService
}

func NewCommentController(comments *services.CommentService, votes *services.VoteService) *CommentController {
	return &CommentController{comments: comments, votes: votes}
}

func (c *CommentController) CreateComment(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req struct {
		Content         string  `json:"content"`
		ParentCommentID *string `json:"parentCommentId"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	comment, err := c.comments.Create(ctx.Request.Context(), ctx.Param("postId"), userID, req.Content, req.ParentCommentID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Created(ctx, "comment created successfully", comment)
}

func (c *CommentController) DeleteComment(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	comment, err := c.comments.SoftDelete(ctx.Request.Context(), ctx.Param("commentId"), userID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "comment deleted successfully", comment)
}

// ListComments returns the nested tree for ?postId= or /comments/:postId.
func (c *CommentController) ListComments(ctx *gin.Context) {
	postID := strings.TrimSpace(ctx.Param("postId"))
	if postID == "" {
		postID = strings.TrimSpace(ctx.Query("postId"))
	}
	tree, err := c.comments.ListForPost(ctx.Request.Context(), postID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "comments fetched", tree)
}

// CreateVote answers 201 for a first vote and 200 when an existing vote changed.
func (c *CommentController) CreateVote(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req struct {
		VoteType string `json:"voteType"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	vote, created, err := c.votes.Cast(ctx.Request.Context(), ctx.Param("postId"), userID, req.VoteType)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	if created {
		utils.Respond(ctx, http.StatusCreated, "vote created successfully", vote)
		return
	}
	utils.Success(ctx, "vote updated successfully", vote)
}
