// inspo/sources/psql/dao/dao.chat_session.go
package dao

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/types"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	createAttempts     = 5
	getOrCreateTimeout = 10 * time.Second
)

// ChatSessionDAO tracks chat sessions per project. The current session of a project
// is its non-archived session with the highest ordinal.
type ChatSessionDAO struct {
	DB    *gorm.DB
	group singleflight.Group
}

func NewChatSessionDAO(db *gorm.DB) *ChatSessionDAO {
	return &ChatSessionDAO{DB: db}
}

// OpeningMessage is written as seq 1 of every session.
func OpeningMessage(projectName string) string {
	return fmt.Sprintf("Chat started for project %q.", projectName)
}

// GetOrCreate returns the current session of a project, creating it when none exists.
// Concurrent callers for the same project share one attempt in-process; across
// processes the unique (project_id, ordinal) index picks the first writer and the
// loser re-reads. The shared attempt is detached from any single caller's context,
// and each caller stops waiting when its own context ends.
func (dao *ChatSessionDAO) GetOrCreate(ctx context.Context, projectID int64, projectName string) (*models.ChatSession, error) {
	ch := dao.group.DoChan(strconv.FormatInt(projectID, 10), func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), getOrCreateTimeout)
		defer cancel()
		return dao.getOrCreate(flightCtx, projectID, projectName)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		session := *res.Val.(*models.ChatSession)
		return &session, nil
	}
}

func (dao *ChatSessionDAO) getOrCreate(ctx context.Context, projectID int64, projectName string) (*models.ChatSession, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		// The ordinal is read before the lookup: a session created in between either
		// shows up as current or makes our insert conflict.
		maxOrdinal, err := dao.maxOrdinal(ctx, projectID)
		if err != nil {
			return nil, err
		}
		current, err := dao.Current(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if current != nil {
			return current, nil
		}

		created, err := dao.insertAt(ctx, projectID, maxOrdinal+1, "", projectName)
		if err != nil {
			return nil, err
		}
		if created != nil {
			return created, nil
		}
	}
	return nil, errs.Storage("get or create session", fmt.Errorf("project %d: too much contention", projectID))
}

// Create always starts a new session for the project, which becomes its current one.
func (dao *ChatSessionDAO) Create(ctx context.Context, projectID int64, title, projectName string) (*models.ChatSession, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		maxOrdinal, err := dao.maxOrdinal(ctx, projectID)
		if err != nil {
			return nil, err
		}
		created, err := dao.insertAt(ctx, projectID, maxOrdinal+1, title, projectName)
		if err != nil {
			return nil, err
		}
		if created != nil {
			return created, nil
		}
	}
	return nil, errs.Storage("create session", fmt.Errorf("project %d: too much contention", projectID))
}

func (dao *ChatSessionDAO) maxOrdinal(ctx context.Context, projectID int64) (int, error) {
	var maxOrdinal int
	row := dao.DB.WithContext(ctx).Model(&models.ChatSession{}).
		Select("COALESCE(MAX(ordinal), 0)").
		Where("project_id = ?", projectID).
		Row()
	if err := row.Scan(&maxOrdinal); err != nil {
		return 0, errs.Storage("max ordinal", err)
	}
	return maxOrdinal, nil
}

// insertAt returns nil, nil when another writer took the ordinal first.
func (dao *ChatSessionDAO) insertAt(ctx context.Context, projectID int64, ordinal int, title, projectName string) (*models.ChatSession, error) {
	var created *models.ChatSession
	err := dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session := &models.ChatSession{
			ID:        uuid.New(),
			ProjectID: projectID,
			Ordinal:   ordinal,
			Title:     title,
		}
		if strings.TrimSpace(session.Title) == "" {
			session.Title = fmt.Sprintf("%s #%d", projectName, ordinal)
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(session)
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return nil
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if _, err := appendTx(tx, session.ID, types.RoleSystem, OpeningMessage(projectName)); err != nil {
			return err
		}
		session.NextSeq = 1
		created = session
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrStorage) {
			return nil, err
		}
		return nil, errs.Storage("create session", err)
	}
	return created, nil
}

// Current returns the project's current session, or nil when it has none.
func (dao *ChatSessionDAO) Current(ctx context.Context, projectID int64) (*models.ChatSession, error) {
	var session models.ChatSession
	err := dao.DB.WithContext(ctx).
		Where("project_id = ? AND archived_at IS NULL", projectID).
		Order("ordinal DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("current session", err)
	}
	return &session, nil
}

// List returns the sessions of a project, most recent first. limit <= 0 means no limit.
func (dao *ChatSessionDAO) List(ctx context.Context, projectID int64, limit int) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	q := dao.DB.WithContext(ctx).Where("project_id = ?", projectID).Order("ordinal DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, errs.Storage("list sessions", err)
	}
	return sessions, nil
}

func (dao *ChatSessionDAO) Get(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	var session models.ChatSession
	err := dao.DB.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("chat session %s", id)
	}
	if err != nil {
		return nil, errs.Storage("get session", err)
	}
	return &session, nil
}

// Archive stamps the session as archived. Archiving twice keeps the first timestamp.
func (dao *ChatSessionDAO) Archive(ctx context.Context, id uuid.UUID, archiveKey string) (*models.ChatSession, error) {
	now := time.Now().UTC()
	res := dao.DB.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ? AND archived_at IS NULL", id).
		UpdateColumns(map[string]interface{}{
			"archived_at": now,
			"archive_key": archiveKey,
			"updated_at":  now,
		})
	if res.Error != nil {
		return nil, errs.Storage("archive session", res.Error)
	}
	return dao.Get(ctx, id)
}
