package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lex-assist-go/internal/model"
	"lex-assist-go/internal/prompt"
	"lex-assist-go/internal/repository"
	"lex-assist-go/pkg/llm"
	"lex-assist-go/pkg/log"
	"lex-assist-go/pkg/tasks"
)

// 标题取自首条用户消息文本，超出部分截断。
const maxTitleRunes = 50

var ErrNoMessages = errors.New("对话请求不包含任何消息")

// TurnMessage 是聊天请求中的一条消息。Content 与 Parts 二者至少其一有值。
type TurnMessage struct {
	Role    string              `json:"role" binding:"required"`
	Content string              `json:"content"`
	Parts   []model.MessagePart `json:"parts"`
}

// TurnRequest 是一次完整聊天轮次的入参。
type TurnRequest struct {
	Messages []TurnMessage `json:"messages" binding:"required"`
	ChatID   string        `json:"chatId"`
	Model    string        `json:"model"`
}

// TurnEvents 是聊天轮次向传输层回调的事件集合。
// OnConversation 在会话确定后触发一次（仅登录用户）；OnDelta 按提供方产出逐块触发。
type TurnEvents struct {
	OnConversation func(conversationID string) error
	OnDelta        func(delta string) error
}

// ArchivePublisher 将完成的聊天轮次投递到归档队列。
type ArchivePublisher func(task tasks.ChatArchiveTask) error

// ChatService 定义了聊天轮次的业务接口。
type ChatService interface {
	StreamTurn(ctx context.Context, req TurnRequest, user *model.User, events TurnEvents) error
}

type chatService struct {
	chatRepo     repository.ChatRepository
	registry     *llm.Registry
	promptPath   string
	defaultModel string
	publish      ArchivePublisher
}

// NewChatService 创建一个新的 ChatService 实例。publish 可以为 nil（不归档）。
func NewChatService(chatRepo repository.ChatRepository, registry *llm.Registry, promptPath, defaultModel string, publish ArchivePublisher) ChatService {
	return &chatService{
		chatRepo:     chatRepo,
		registry:     registry,
		promptPath:   promptPath,
		defaultModel: defaultModel,
		publish:      publish,
	}
}

// StreamTurn 执行一次完整的聊天轮次：
// 会话解析（仅登录用户）→ 持久化用户消息 → 流式转发模型输出 → 持久化助手消息。
// user 为 nil 表示访客，跳过所有持久化步骤。
func (s *chatService) StreamTurn(ctx context.Context, req TurnRequest, user *model.User, events TurnEvents) error {
	if len(req.Messages) == 0 {
		return ErrNoMessages
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.defaultModel
	}

	// 1. 会话解析与用户消息持久化（仅登录用户）。
	// 注意：携带 chatId 的请求不校验会话归属，与既有行为保持一致。
	conversationID := req.ChatID
	var userMessageID string
	if user != nil {
		if conversationID == "" {
			conversation := &model.Conversation{
				UserID: user.ID,
				Title:  deriveTitle(req.Messages),
				Model:  modelName,
			}
			if err := s.chatRepo.Create(ctx, conversation); err != nil {
				return fmt.Errorf("创建会话失败: %w", err)
			}
			conversationID = conversation.ID
		}

		// 持久化最后一条入站消息，原始 parts 作为 metadata 保留。
		// 失败时直接中止：此时还没有任何事件写出，调用方仍可返回 JSON 错误。
		inbound := req.Messages[len(req.Messages)-1]
		msg := repository.NewMessage(conversationID, inbound.Role, messageText(inbound), encodeParts(inbound.Parts))
		if err := s.chatRepo.AddMessage(ctx, msg); err != nil {
			return fmt.Errorf("保存用户消息失败: %w", err)
		}
		userMessageID = msg.ID

		// 会话事件在用户消息落库之后、模型调用之前下发
		if events.OnConversation != nil {
			if err := events.OnConversation(conversationID); err != nil {
				return err
			}
		}
	}

	// 2. 加载系统提示词。失败则不发起模型调用。
	systemPrompt, err := prompt.Load(s.promptPath)
	if err != nil {
		return err
	}

	// 3. 组装消息序列并流式转发模型输出
	messages := make([]llm.Message, 0, len(req.Messages)+1)
	messages = append(messages, llm.Message{Role: model.RoleSystem, Content: systemPrompt})
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: messageText(m)})
	}

	answerBuilder := &strings.Builder{}
	client := s.registry.Resolve(modelName)
	err = client.StreamChat(ctx, modelName, messages, nil, func(delta string) error {
		answerBuilder.WriteString(delta)
		if events.OnDelta != nil {
			return events.OnDelta(delta)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// 4. 完成回调：持久化助手消息并投递归档任务。
	// 流式响应已经送达客户端，这里的失败只记录日志，不影响本次请求。
	if user != nil && conversationID != "" {
		fullAnswer := answerBuilder.String()
		assistantMsg := repository.NewMessage(conversationID, model.RoleAssistant, fullAnswer, nil)
		if err := s.chatRepo.AddMessage(ctx, assistantMsg); err != nil {
			log.Errorf("保存助手消息失败: conversation=%s, error: %v", conversationID, err)
			return nil
		}

		if s.publish != nil {
			task := tasks.ChatArchiveTask{
				ConversationID: conversationID,
				UserID:         user.ID,
				Model:          modelName,
				Entries: []tasks.ArchiveEntry{
					{MessageID: userMessageID, Role: model.RoleUser, Content: messageText(req.Messages[len(req.Messages)-1])},
					{MessageID: assistantMsg.ID, Role: model.RoleAssistant, Content: fullAnswer},
				},
				CompletedAt: time.Now(),
			}
			if err := s.publish(task); err != nil {
				log.Errorf("投递归档任务失败: conversation=%s, error: %v", conversationID, err)
			}
		}
	}

	return nil
}

// deriveTitle 从首条用户消息的文本推导会话标题，截断到 maxTitleRunes 个字符。
func deriveTitle(messages []TurnMessage) string {
	for _, m := range messages {
		if m.Role != model.RoleUser {
			continue
		}
		text := messageText(m)
		if text == "" {
			break
		}
		runes := []rune(text)
		if len(runes) > maxTitleRunes {
			return string(runes[:maxTitleRunes])
		}
		return text
	}
	return model.DefaultTitle
}

// messageText 提取一条消息的文本内容：优先首个 text 片段，其次 Content 字段。
func messageText(m TurnMessage) string {
	for _, p := range m.Parts {
		if p.Type == "text" {
			return p.Text
		}
	}
	return m.Content
}

// encodeParts 将原始消息片段编码为 metadata 负载。
func encodeParts(parts []model.MessagePart) []byte {
	if len(parts) == 0 {
		return nil
	}
	data, err := json.Marshal(map[string]interface{}{"parts": parts})
	if err != nil {
		return nil
	}
	return data
}
