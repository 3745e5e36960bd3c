package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"lex-assist-go/internal/model"
)

// ChatRepository 定义了会话与消息的持久化操作接口。
type ChatRepository interface {
	ListByUser(ctx context.Context, userID uint) ([]model.Conversation, error)
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	Create(ctx context.Context, conversation *model.Conversation) error
	Update(ctx context.Context, conversation *model.Conversation) error
	Delete(ctx context.Context, id string) error
	AddMessage(ctx context.Context, message *model.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// chatRepository 是 ChatRepository 接口的 GORM 实现。
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// ListByUser 按最近更新时间倒序返回用户的全部会话。
func (r *chatRepository) ListByUser(ctx context.Context, userID uint) ([]model.Conversation, error) {
	var conversations []model.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&conversations).Error
	return conversations, err
}

// FindByID 根据会话 ID 查找会话。
func (r *chatRepository) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conversation model.Conversation
	err := r.db.WithContext(ctx).First(&conversation, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// Create 在数据库中创建一个新的会话记录。
func (r *chatRepository) Create(ctx context.Context, conversation *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conversation).Error
}

// Update 更新一个已存在的会话记录。
func (r *chatRepository) Update(ctx context.Context, conversation *model.Conversation) error {
	return r.db.WithContext(ctx).Save(conversation).Error
}

// Delete 删除会话，消息级联删除。
func (r *chatRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 显式删除消息：兼容未启用外键级联的部署
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Conversation{}, "id = ?", id).Error
	})
}

// AddMessage 插入一条消息并在同一事务内刷新父会话的更新时间。
func (r *chatRepository) AddMessage(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ?", message.ConversationID).
			Update("updated_at", time.Now()).Error
	})
}

// ListMessages 按创建时间升序返回会话的全部消息。
func (r *chatRepository) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

// NewMessage 构造一条待持久化的消息。metadata 为 nil 时列保持为 NULL。
func NewMessage(conversationID, role, content string, metadata []byte) *model.Message {
	msg := &model.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	if len(metadata) > 0 {
		msg.Metadata = datatypes.JSON(metadata)
	}
	return msg
}
