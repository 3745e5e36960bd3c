// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lex-assist-go/internal/middleware"
	"lex-assist-go/internal/model"
	"lex-assist-go/internal/service"
	"lex-assist-go/pkg/log"
)

// ChatHandler 负责处理聊天轮次的 SSE 流式请求。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Stream 处理 POST /ai 请求：校验负载、解析可选会话身份，
// 然后把模型输出以 SSE 事件增量下发给客户端。
// 访客请求照常流式响应，只是不产生任何持久化副作用。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req service.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	user := currentUser(c)

	// SSE 事件一旦写出就无法再返回 JSON 错误
	streamed := false
	events := service.TurnEvents{
		OnConversation: func(conversationID string) error {
			c.SSEvent("conversation", gin.H{"chatId": conversationID})
			c.Writer.Flush()
			streamed = true
			return nil
		},
		OnDelta: func(delta string) error {
			c.SSEvent("message", delta)
			c.Writer.Flush()
			streamed = true
			return nil
		},
	}

	err := h.chatService.StreamTurn(c.Request.Context(), req, user, events)
	if err != nil {
		log.Errorf("处理聊天轮次失败: %v", err)
		if !streamed {
			if errors.Is(err, service.ErrNoMessages) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process AI request"})
			return
		}
		// 流已经开始，只能以错误事件收尾
		c.SSEvent("error", gin.H{"error": "Failed to process AI request"})
		c.Writer.Flush()
		return
	}

	c.SSEvent("done", "[DONE]")
	c.Writer.Flush()
}

// currentUser 从 Gin 上下文中取出 OptionalAuth/AuthMiddleware 写入的用户，访客返回 nil。
func currentUser(c *gin.Context) *model.User {
	v, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil
	}
	user, ok := v.(*model.User)
	if !ok {
		return nil
	}
	return user
}
