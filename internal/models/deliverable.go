package models

import (
	"time"

	"github.com/google/uuid"
)

// Deliverable описывает файл, приложенный исполнителем при сдаче этапа.
type Deliverable struct {
	ID          uuid.UUID `db:"id" json:"id"`
	MilestoneID uuid.UUID `db:"milestone_id" json:"milestone_id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	FilePath    string    `db:"file_path" json:"file_path"`
	FileType    string    `db:"file_type" json:"file_type"`
	FileSize    int64     `db:"file_size" json:"file_size"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
