package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"lex-assist-go/internal/model"
	"lex-assist-go/internal/service"
	"lex-assist-go/pkg/log"
	"lex-assist-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// WSChatHandler 负责处理 WebSocket 聊天连接。
// 与 SSE 接口语义一致：同一个聊天轮次流程，只是换了传输层。
type WSChatHandler struct {
	chatService service.ChatService
	userService service.UserService
	jwtManager  *token.JWTManager
}

// NewWSChatHandler 创建一个新的 WSChatHandler。
func NewWSChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager) *WSChatHandler {
	return &WSChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// wsTurnRequest 是 WebSocket 连接上一次聊天轮次的请求帧。
type wsTurnRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	ChatID  string `json:"chatId"`
	Model   string `json:"model"`
}

// wsSession 包装一条 WebSocket 连接。
// 轮次在独立 goroutine 中执行，读循环继续接收控制帧，
// 所以写出必须经过互斥锁串行化。
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	stopped atomic.Bool
}

// writeJSON 串行化地下发一个 JSON 帧。
func (s *wsSession) writeJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

// writeError 下发统一格式的 JSON 错误帧。
func (s *wsSession) writeError(msg string) {
	_ = s.writeJSON(map[string]string{"error": msg})
}

// writeCompletion 发送完成通知 JSON
func (s *wsSession) writeCompletion() {
	_ = s.writeJSON(map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
	})
}

// Handle 处理一个传入的 WebSocket 连接。
// 连接以路径中的 JWT 完成认证；每个文本帧是一次聊天轮次请求，
// {"type":"stop"} 控制帧置位停止标志：后续分块不再下发，轮次在服务端继续完成。
func (h *WSChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetByID(claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	session := &wsSession{conn: conn}
	var turns sync.WaitGroup

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req wsTurnRequest
		if err := json.Unmarshal(message, &req); err != nil {
			session.writeError("无法解析请求帧")
			continue
		}

		if req.Type == "stop" {
			session.stopped.Store(true)
			_ = session.writeJSON(map[string]interface{}{
				"type":      "stop",
				"message":   "响应已停止",
				"timestamp": time.Now().UnixMilli(),
			})
			continue
		}

		if req.Content == "" {
			session.writeError("消息内容不能为空")
			continue
		}

		// 清除上一轮的停止标志
		session.stopped.Store(false)

		turns.Add(1)
		go func(req wsTurnRequest) {
			defer turns.Done()
			h.runTurn(c, session, user, req)
		}(req)
	}

	turns.Wait()
}

// runTurn 执行一次聊天轮次并把事件写回连接。
func (h *WSChatHandler) runTurn(c *gin.Context, session *wsSession, user *model.User, req wsTurnRequest) {
	turn := service.TurnRequest{
		Messages: []service.TurnMessage{{Role: model.RoleUser, Content: req.Content}},
		ChatID:   req.ChatID,
		Model:    req.Model,
	}
	events := service.TurnEvents{
		OnConversation: func(conversationID string) error {
			return session.writeJSON(map[string]string{"type": "conversation", "chatId": conversationID})
		},
		OnDelta: func(delta string) error {
			if session.stopped.Load() {
				// 停止标志生效：跳过下发，轮次在服务端继续完成
				return nil
			}
			return session.writeJSON(map[string]string{"chunk": delta})
		},
	}

	if err := h.chatService.StreamTurn(c.Request.Context(), turn, user, events); err != nil {
		log.Errorf("处理流式响应失败: %v", err)
		session.writeError("AI服务暂时不可用，请稍后重试")
	}
	session.writeCompletion()
}
