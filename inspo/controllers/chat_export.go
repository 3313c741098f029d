package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inspo/inspo/sources/psql/models"
	"inspo/inspo/sources/storage"
	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/htmltext"
	"inspo/inspo/utils/logging"
	"inspo/inspo/utils/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	lastMessagePreview = 100
	exportTimeLayout   = "2006-01-02 15:04:05"
)

func summarize(s *models.ChatSession, last *models.ChatMessage) types.ChatSessionSummary {
	sum := types.ChatSessionSummary{
		SessionID:    s.ID.String(),
		ProjectID:    s.ProjectID,
		Title:        s.Title,
		Ordinal:      s.Ordinal,
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
		MessageCount: s.NextSeq,
		LastActivity: s.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if last != nil {
		sum.LastMessage = htmltext.Truncate(last.Content, lastMessagePreview)
		sum.LastMessageRole = last.Role
		sum.LastActivity = last.CreatedAt.UTC().Format(time.RFC3339)
	}
	if s.ArchivedAt != nil {
		sum.ArchivedAt = s.ArchivedAt.UTC().Format(time.RFC3339)
	}
	return sum
}

// Export renders a session as a plain-text transcript.
func (c *ChatController) Export(ctx context.Context, sessionID uuid.UUID) (string, error) {
	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return c.export(ctx, session)
}

func (c *ChatController) export(ctx context.Context, session *models.ChatSession) (string, error) {
	projectName := ""
	project, err := c.projects.GetProject(ctx, session.ProjectID)
	switch {
	case err == nil:
		projectName = project.Name
	case !errors.Is(err, errs.ErrNotFound):
		return "", err
	}

	msgs, err := c.store.ListSince(ctx, session.ID, 0, 0)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Chat Session: %s\n", session.Title)
	fmt.Fprintf(&b, "Project: %s\n", projectName)
	fmt.Fprintf(&b, "Created: %s\n", session.CreatedAt.UTC().Format(exportTimeLayout))
	fmt.Fprintf(&b, "Messages: %d\n", len(msgs))
	b.WriteString("\n" + strings.Repeat("=", 50) + "\n\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s:\n%s\n\n", m.CreatedAt.UTC().Format(exportTimeLayout), speaker(m.Role), m.Content)
	}
	return b.String(), nil
}

func speaker(r types.Role) string {
	switch r {
	case types.RoleUser:
		return "You"
	case types.RoleAssistant:
		return "Assistant"
	default:
		return "System"
	}
}

// Archive freezes a session: its transcript goes to the archive bucket when one is
// configured, it stops accepting messages, and its live subscribers are disconnected.
// The project's previous session becomes current again.
// The session lock is held throughout, so the uploaded transcript is the final history.
func (c *ChatController) Archive(ctx context.Context, sessionID uuid.UUID) (*models.ChatSession, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Archived() {
		return session, nil
	}

	key := ""
	if c.archiver != nil {
		text, err := c.export(ctx, session)
		if err != nil {
			return nil, err
		}
		key = storage.TranscriptKey(session.ProjectID, session.ID, time.Now())
		if err := c.archiver.UploadTranscript(ctx, key, text); err != nil {
			return nil, errs.Storage("upload transcript", err)
		}
	}

	archived, err := c.sessions.Archive(ctx, sessionID, key)
	if err != nil {
		return nil, err
	}
	c.pub.Publish(sessionID, types.StatusEvent(sessionID.String(), types.StatusDisconnected))
	watchers := c.pub.Count(sessionID)
	c.pub.CloseSession(sessionID)
	logging.AppLogger.Info("chat session archived",
		zap.String("session_id", sessionID.String()),
		zap.String("archive_key", key),
		zap.Int("subscribers_closed", watchers))
	return archived, nil
}
