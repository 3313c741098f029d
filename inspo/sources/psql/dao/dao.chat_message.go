// inspo/sources/psql/dao/dao.chat_message.go
package dao

import (
	"context"
	"errors"
	"strings"
	"time"

	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatMessageDAO is the durable message log. Every append takes the next sequence
// number from the owning session row inside the same transaction as the insert.
type ChatMessageDAO struct {
	DB *gorm.DB
}

func NewChatMessageDAO(db *gorm.DB) *ChatMessageDAO {
	return &ChatMessageDAO{DB: db}
}

// Append persists a message and returns it with its assigned Seq and CreatedAt.
func (dao *ChatMessageDAO) Append(ctx context.Context, sessionID uuid.UUID, role types.Role, content string) (*models.ChatMessage, error) {
	var msg *models.ChatMessage
	err := dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		msg, err = appendTx(tx, sessionID, role, content)
		return err
	})
	if err != nil {
		if errors.Is(err, errs.ErrStorage) || errors.Is(err, errs.ErrValidation) {
			return nil, err
		}
		return nil, errs.Storage("append message", err)
	}
	return msg, nil
}

// appendTx refuses archived sessions in the same statement that advances the sequence,
// so nothing lands in a session after its archive stamp.
func appendTx(tx *gorm.DB, sessionID uuid.UUID, role types.Role, content string) (*models.ChatMessage, error) {
	now := time.Now().UTC()
	res := tx.Model(&models.ChatSession{}).
		Where("id = ? AND archived_at IS NULL", sessionID).
		UpdateColumns(map[string]interface{}{
			"next_seq":   gorm.Expr("next_seq + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, errs.Storage("advance sequence", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&models.ChatSession{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
			return nil, errs.Storage("append message", err)
		}
		if count > 0 {
			return nil, errs.Validation("chat session %s is archived", sessionID)
		}
		return nil, errs.Storage("append message", errs.NotFound("chat session %s", sessionID))
	}

	var seq int64
	row := tx.Model(&models.ChatSession{}).Select("next_seq").Where("id = ?", sessionID).Row()
	if err := row.Scan(&seq); err != nil {
		return nil, errs.Storage("read sequence", err)
	}

	msg := &models.ChatMessage{
		SessionID: sessionID,
		Seq:       seq,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	if err := tx.Create(msg).Error; err != nil {
		return nil, errs.Storage("insert message", err)
	}
	return msg, nil
}

// ListSince returns messages with seq > afterSeq in ascending order. limit <= 0 means no limit.
func (dao *ChatMessageDAO) ListSince(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	q := dao.DB.WithContext(ctx).
		Where("session_id = ? AND seq > ?", sessionID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, errs.Storage("list messages", err)
	}
	return msgs, nil
}

// List returns the complete history of a session.
func (dao *ChatMessageDAO) List(ctx context.Context, sessionID uuid.UUID) ([]models.ChatMessage, error) {
	return dao.ListSince(ctx, sessionID, 0, 0)
}

// Last returns the newest message of a session, or nil when the session is empty.
func (dao *ChatMessageDAO) Last(ctx context.Context, sessionID uuid.UUID) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := dao.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("last message", err)
	}
	return &msg, nil
}

// isUniqueViolation covers drivers that do not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
