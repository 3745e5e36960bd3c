package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 消息角色枚举。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultTitle 是无法从首条用户消息推导标题时使用的默认标题。
const DefaultTitle = "New Chat"

// Conversation 代表一个持续的对话会话，持有若干条消息。
type Conversation struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"userId"`
	Title     string    `gorm:"type:varchar(200);not null" json:"title"`
	Model     string    `gorm:"type:varchar(100);not null;default:'gpt-4o-mini'" json:"model"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Message 代表对话中的一条消息。消息只增不改。
type Message struct {
	ID             string         `gorm:"type:char(36);primaryKey" json:"id"`
	ConversationID string         `gorm:"type:char(36);index;not null;constraint:OnDelete:CASCADE" json:"conversationId"`
	Role           string         `gorm:"type:varchar(20);not null" json:"role"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	Metadata       datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"createdAt"`

	Conversation *Conversation `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Message) TableName() string {
	return "messages"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// ValidRole 判断给定角色是否属于合法枚举。
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// MessagePart 是客户端消息的一个片段（文本、文件引用等）。
// 持久化时整个片段列表作为 metadata 原样保存。
type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// MessageView 是 GET 会话详情接口返回的消息视图。
type MessageView struct {
	ID    string        `json:"id"`
	Role  string        `json:"role"`
	Parts []MessagePart `json:"parts"`
}
