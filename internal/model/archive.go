package model

import "time"

// ArchiveDocument 代表归档到 Elasticsearch 的单条聊天消息。
type ArchiveDocument struct {
	MessageID      string    `json:"message_id"` // 作为文档 ID，保证重复消费幂等
	ConversationID string    `json:"conversation_id"`
	UserID         uint      `json:"user_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model"`
	CreatedAt      time.Time `json:"created_at"`
}

// ArchiveHit 定义了返回给前端的历史搜索结果结构。
type ArchiveHit struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model"`
	Score          float64   `json:"score"`
	CreatedAt      time.Time `json:"createdAt"`
}
