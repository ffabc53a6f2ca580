package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/whisperhub/whisperhub/services"
	"github.com/whisperhub/whisperhub/utils"
)

// NotificationController serves a user's own notifications.
type NotificationController struct {
	notifications *services.NotificationService
}

func NewNotificationController(n *services.NotificationService) *NotificationController {
	return &NotificationController{notifications: n}
}

// self returns the path user id when it matches the authenticated user.
func (n *NotificationController) self(ctx *gin.Context) (string, bool) {
	userID, ok := requireUser(ctx)
	if !ok {
		return "", false
	}
	if ctx.Param("userId") != userID {
		utils.Fail(ctx, utils.Forbidden("you can only access your own notifications"))
		return "", false
	}
	return userID, true
}

func (n *NotificationController) List(ctx *gin.Context) {
	userID, ok := n.self(ctx)
	if !ok {
		return
	}
	list, err := n.notifications.ListForUser(ctx.Request.Context(), userID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "notifications fetched", list)
}

func (n *NotificationController) UnreadCount(ctx *gin.Context) {
	userID, ok := n.self(ctx)
	if !ok {
		return
	}
	count, err := n.notifications.UnreadCount(ctx.Request.Context(), userID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "unread count fetched", count)
}

func (n *NotificationController) MarkRead(ctx *gin.Context) {
	userID, ok := n.self(ctx)
	if !ok {
		return
	}
	changed, err := n.notifications.MarkAllRead(ctx.Request.Context(), userID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "notifications marked as read", gin.H{"modifiedCount": changed})
}
