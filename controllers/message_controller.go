package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/whisperhub/whisperhub/services"
	"github.com/whisperhub/whisperhub/utils"
)

type MessageController struct {
	messages *services.MessageService
}

func NewMessageController(m *services.MessageService) *MessageController {
	return &MessageController{messages: m}
}

func (m *MessageController) StartConversation(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req struct {
		ParticipantID string `json:"participantId"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	conv, err := m.messages.StartConversation(ctx.Request.Context(), userID, req.ParticipantID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "conversation ready", conv)
}

func (m *MessageController) ListConversations(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	list, err := m.messages.Conversations(ctx.Request.Context(), userID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "conversations fetched", list)
}

func (m *MessageController) Send(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	msg, err := m.messages.Send(ctx.Request.Context(), ctx.Param("conversationId"), userID, req.Content)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Created(ctx, "message sent", msg)
}

func (m *MessageController) List(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	list, err := m.messages.Messages(ctx.Request.Context(), ctx.Param("conversationId"), userID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "messages fetched", list)
}
