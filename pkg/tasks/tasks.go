// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// ArchiveEntry is one message of a completed chat turn.
type ArchiveEntry struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// ChatArchiveTask represents a completed chat turn awaiting archive indexing.
type ChatArchiveTask struct {
	ConversationID string         `json:"conversation_id"`
	UserID         uint           `json:"user_id"`
	Model          string         `json:"model"`
	Entries        []ArchiveEntry `json:"entries"`
	CompletedAt    time.Time      `json:"completed_at"`
}
