package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lex-assist-go/internal/model"
	"lex-assist-go/internal/service"
	"lex-assist-go/pkg/log"
)

// ConversationHandler 处理与会话 CRUD 相关的 API 请求。
type ConversationHandler struct {
	service      service.ConversationService
	defaultModel string
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService, defaultModel string) *ConversationHandler {
	return &ConversationHandler{service: service, defaultModel: defaultModel}
}

// List 返回当前用户的会话列表，访客返回空数组。
func (h *ConversationHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusOK, []model.Conversation{})
		return
	}

	conversations, err := h.service.List(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("获取会话列表失败: user=%d, error: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list chats"})
		return
	}
	c.JSON(http.StatusOK, conversations)
}

// Get 返回单个会话及其消息。
func (h *ConversationHandler) Get(c *gin.Context) {
	user := currentUser(c)
	detail, err := h.service.Get(c.Request.Context(), user.ID, c.Param("chatId"))
	if err != nil {
		h.renderError(c, err, "Failed to get chat")
		return
	}
	c.JSON(http.StatusOK, detail)
}

// CreateRequest 定义了创建会话 API 的请求体结构。
type CreateRequest struct {
	Title string `json:"title" binding:"required,min=1,max=200"`
	Model string `json:"model"`
}

// Create 创建一个新会话。
func (h *ConversationHandler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	if req.Model == "" {
		req.Model = h.defaultModel
	}

	user := currentUser(c)
	conversation, err := h.service.Create(c.Request.Context(), user.ID, req.Title, req.Model)
	if err != nil {
		log.Errorf("创建会话失败: user=%d, error: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create chat"})
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// UpdateRequest 定义了更新会话 API 的请求体结构，nil 字段不修改。
type UpdateRequest struct {
	Title *string `json:"title" binding:"omitempty,min=1,max=200"`
	Model *string `json:"model"`
}

// Update 更新会话的标题或模型。
func (h *ConversationHandler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	user := currentUser(c)
	conversation, err := h.service.Update(c.Request.Context(), user.ID, c.Param("chatId"), service.ConversationUpdate{
		Title: req.Title,
		Model: req.Model,
	})
	if err != nil {
		h.renderError(c, err, "Failed to update chat")
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// Delete 删除会话，消息级联删除。
func (h *ConversationHandler) Delete(c *gin.Context) {
	user := currentUser(c)
	if err := h.service.Delete(c.Request.Context(), user.ID, c.Param("chatId")); err != nil {
		h.renderError(c, err, "Failed to delete chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AddMessageRequest 定义了追加消息 API 的请求体结构。
type AddMessageRequest struct {
	Role     string          `json:"role" binding:"required"`
	Content  string          `json:"content" binding:"required"`
	Metadata json.RawMessage `json:"metadata"`
}

// AddMessage 向会话追加一条消息。
func (h *ConversationHandler) AddMessage(c *gin.Context) {
	var req AddMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	user := currentUser(c)
	msg, err := h.service.AddMessage(c.Request.Context(), user.ID, c.Param("chatId"), req.Role, req.Content, req.Metadata)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRole) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.renderError(c, err, "Failed to add message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// renderError 统一渲染会话操作错误：归属不符与不存在一律返回 404。
func (h *ConversationHandler) renderError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, service.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	log.Errorf("会话操作失败: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}
