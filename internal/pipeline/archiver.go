// Package pipeline 定义了聊天归档的后台处理流程。
package pipeline

import (
	"context"
	"fmt"

	"lex-assist-go/internal/config"
	"lex-assist-go/internal/model"
	"lex-assist-go/pkg/es"
	"lex-assist-go/pkg/log"
	"lex-assist-go/pkg/tasks"
)

// Archiver 消费归档任务，把完成的聊天轮次写入 Elasticsearch 索引。
type Archiver struct {
	esCfg config.ElasticsearchConfig
}

// NewArchiver 创建一个新的 Archiver 实例。
func NewArchiver(esCfg config.ElasticsearchConfig) *Archiver {
	return &Archiver{esCfg: esCfg}
}

// Process 将任务中的每条消息索引到归档索引。
// 文档 ID 取消息 ID，重复消费时为覆盖写入，天然幂等。
func (a *Archiver) Process(ctx context.Context, task tasks.ChatArchiveTask) error {
	log.Infof("[Archiver] 开始归档聊天轮次, conversation: %s, entries: %d", task.ConversationID, len(task.Entries))

	for _, entry := range task.Entries {
		if entry.MessageID == "" || entry.Content == "" {
			continue
		}
		doc := model.ArchiveDocument{
			MessageID:      entry.MessageID,
			ConversationID: task.ConversationID,
			UserID:         task.UserID,
			Role:           entry.Role,
			Content:        entry.Content,
			Model:          task.Model,
			CreatedAt:      task.CompletedAt,
		}
		if err := es.IndexDocument(ctx, a.esCfg.IndexName, doc); err != nil {
			log.Errorf("[Archiver] 索引消息失败, message: %s, error: %v", entry.MessageID, err)
			return fmt.Errorf("索引归档消息失败: %w", err)
		}
	}

	log.Infof("[Archiver] 归档完成, conversation: %s", task.ConversationID)
	return nil
}
