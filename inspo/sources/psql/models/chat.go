package models

import (
	"time"

	"inspo/inspo/utils/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatSession is one conversation thread of a project. Ordinal counts sessions per
// project; the unique (project_id, ordinal) pair is what makes concurrent creation safe.
// NextSeq is the last sequence number handed out in this session.
type ChatSession struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID  int64      `json:"project_id" gorm:"not null;uniqueIndex:idx_chat_sessions_project_ordinal,priority:1"`
	Ordinal    int        `json:"ordinal" gorm:"not null;uniqueIndex:idx_chat_sessions_project_ordinal,priority:2"`
	Title      string     `json:"title" gorm:"type:varchar(255);not null;default:''"`
	NextSeq    int64      `json:"last_seq" gorm:"not null;default:0"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	ArchiveKey string     `json:"archive_key,omitempty" gorm:"type:varchar(512);not null;default:''"`
	CreatedAt  time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *ChatSession) Archived() bool {
	return s.ArchivedAt != nil
}

// ChatMessage is immutable once written. Seq is unique and gap-free within a session.
type ChatMessage struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID uuid.UUID  `json:"session_id" gorm:"type:uuid;not null;uniqueIndex:idx_chat_messages_session_seq,priority:1"`
	Seq       int64      `json:"seq" gorm:"not null;uniqueIndex:idx_chat_messages_session_seq,priority:2"`
	Role      types.Role `json:"role" gorm:"type:varchar(16);not null"`
	Content   string     `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
