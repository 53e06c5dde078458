package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification описывает событие, доставленное пользователю.
// RelatedEntityID указывает на контракт, этап или платёж, породивший
// событие; Payload хранит произвольные данные события для клиента.
type Notification struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	UserID          uuid.UUID       `db:"user_id" json:"user_id"`
	Type            string          `db:"type" json:"type"`
	Title           string          `db:"title" json:"title"`
	Content         string          `db:"content" json:"content"`
	RelatedEntityID *uuid.UUID      `db:"related_entity_id" json:"related_entity_id,omitempty"`
	Priority        string          `db:"priority" json:"priority"`
	Payload         json.RawMessage `db:"payload" json:"payload,omitempty"`
	IsRead          bool            `db:"is_read" json:"is_read"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}
