// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"lex-assist-go/internal/model"
	"lex-assist-go/pkg/log"
)

// SearchService 接口定义了聊天历史归档的搜索操作。
type SearchService interface {
	SearchMessages(ctx context.Context, query string, topK int, userID uint) ([]model.ArchiveHit, error)
}

type searchService struct {
	esClient  *elasticsearch.Client
	indexName string
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(esClient *elasticsearch.Client, indexName string) SearchService {
	return &searchService{esClient: esClient, indexName: indexName}
}

// SearchMessages 在归档索引中对消息内容做全文检索，只返回调用者自己的消息。
func (s *searchService) SearchMessages(ctx context.Context, query string, topK int, userID uint) ([]model.ArchiveHit, error) {
	if topK <= 0 {
		topK = 10
	}

	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"content": query,
					},
				},
				"filter": map[string]interface{}{
					"term": map[string]interface{}{
						"user_id": userID,
					},
				},
			},
		},
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.indexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[SearchService] Elasticsearch 返回错误: %s", string(body))
		return nil, fmt.Errorf("search returned error status: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					MessageID      string    `json:"message_id"`
					ConversationID string    `json:"conversation_id"`
					Role           string    `json:"role"`
					Content        string    `json:"content"`
					Model          string    `json:"model"`
					CreatedAt      time.Time `json:"created_at"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]model.ArchiveHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, model.ArchiveHit{
			MessageID:      h.Source.MessageID,
			ConversationID: h.Source.ConversationID,
			Role:           h.Source.Role,
			Content:        h.Source.Content,
			Model:          h.Source.Model,
			Score:          h.Score,
			CreatedAt:      h.Source.CreatedAt,
		})
	}
	return hits, nil
}
