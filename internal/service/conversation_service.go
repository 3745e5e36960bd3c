package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"lex-assist-go/internal/model"
	"lex-assist-go/internal/repository"
)

// ErrConversationNotFound 统一表示"会话不存在"与"会话不属于当前用户"两种情况，
// 避免通过响应差异探测他人会话是否存在。
var ErrConversationNotFound = errors.New("会话不存在")

var ErrInvalidRole = errors.New("非法的消息角色")

// ConversationDetail 是会话详情接口的返回结构。
type ConversationDetail struct {
	Chat     *model.Conversation `json:"chat"`
	Messages []model.MessageView `json:"messages"`
}

// ConversationUpdate 描述一次会话更新，nil 字段表示不修改。
type ConversationUpdate struct {
	Title *string
	Model *string
}

// ConversationService 定义了会话 CRUD 的业务接口。
// 所有针对已有会话的操作都校验调用者与会话归属是否一致。
type ConversationService interface {
	List(ctx context.Context, userID uint) ([]model.Conversation, error)
	Get(ctx context.Context, userID uint, conversationID string) (*ConversationDetail, error)
	Create(ctx context.Context, userID uint, title, modelName string) (*model.Conversation, error)
	Update(ctx context.Context, userID uint, conversationID string, patch ConversationUpdate) (*model.Conversation, error)
	Delete(ctx context.Context, userID uint, conversationID string) error
	AddMessage(ctx context.Context, userID uint, conversationID, role, content string, metadata json.RawMessage) (*model.Message, error)
}

type conversationService struct {
	chatRepo repository.ChatRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(chatRepo repository.ChatRepository) ConversationService {
	return &conversationService{chatRepo: chatRepo}
}

// List 按最近更新时间倒序返回用户的全部会话。
func (s *conversationService) List(ctx context.Context, userID uint) ([]model.Conversation, error) {
	return s.chatRepo.ListByUser(ctx, userID)
}

// findOwned 查找会话并校验归属，归属不符与不存在统一返回 ErrConversationNotFound。
func (s *conversationService) findOwned(ctx context.Context, userID uint, conversationID string) (*model.Conversation, error) {
	conversation, err := s.chatRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if conversation.UserID != userID {
		return nil, ErrConversationNotFound
	}
	return conversation, nil
}

// Get 返回会话及其全部消息。消息视图优先使用 metadata 中保存的原始片段，
// 否则由纯文本内容合成一个 text 片段。
func (s *conversationService) Get(ctx context.Context, userID uint, conversationID string) (*ConversationDetail, error) {
	conversation, err := s.findOwned(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	messages, err := s.chatRepo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	views := make([]model.MessageView, 0, len(messages))
	for _, msg := range messages {
		views = append(views, model.MessageView{
			ID:    msg.ID,
			Role:  msg.Role,
			Parts: messageParts(msg),
		})
	}

	return &ConversationDetail{Chat: conversation, Messages: views}, nil
}

// Create 创建一个新会话。
func (s *conversationService) Create(ctx context.Context, userID uint, title, modelName string) (*model.Conversation, error) {
	conversation := &model.Conversation{
		UserID: userID,
		Title:  title,
		Model:  modelName,
	}
	if err := s.chatRepo.Create(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// Update 更新会话的标题或模型，并刷新更新时间。
func (s *conversationService) Update(ctx context.Context, userID uint, conversationID string, patch ConversationUpdate) (*model.Conversation, error) {
	conversation, err := s.findOwned(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		conversation.Title = *patch.Title
	}
	if patch.Model != nil {
		conversation.Model = *patch.Model
	}
	conversation.UpdatedAt = time.Now()

	if err := s.chatRepo.Update(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// Delete 删除会话，消息级联删除。
func (s *conversationService) Delete(ctx context.Context, userID uint, conversationID string) error {
	if _, err := s.findOwned(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.chatRepo.Delete(ctx, conversationID)
}

// AddMessage 向会话追加一条消息，同时刷新会话的更新时间。
func (s *conversationService) AddMessage(ctx context.Context, userID uint, conversationID, role, content string, metadata json.RawMessage) (*model.Message, error) {
	if !model.ValidRole(role) {
		return nil, ErrInvalidRole
	}
	if _, err := s.findOwned(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	msg := repository.NewMessage(conversationID, role, content, metadata)
	if err := s.chatRepo.AddMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// messageParts 从消息的 metadata 中恢复原始片段，缺失时合成 text 片段。
func messageParts(msg model.Message) []model.MessagePart {
	if len(msg.Metadata) > 0 {
		var meta struct {
			Parts []model.MessagePart `json:"parts"`
		}
		if err := json.Unmarshal(msg.Metadata, &meta); err == nil && len(meta.Parts) > 0 {
			return meta.Parts
		}
	}
	return []model.MessagePart{{Type: "text", Text: msg.Content}}
}
