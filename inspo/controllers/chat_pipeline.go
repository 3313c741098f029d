package controllers

import (
	"errors"
	"fmt"

	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/logging"
	"inspo/inspo/utils/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// pipeline is the reply worker of one session. pending counts queued user messages,
// including the one being answered. At most one worker runs per session.
type pipeline struct {
	pending int
	state   types.ReplyState
}

func (c *ChatController) enqueueReply(session *models.ChatSession) {
	c.pipeMu.Lock()
	defer c.pipeMu.Unlock()

	if c.closed {
		logging.AppLogger.Warn("reply not scheduled, shutting down",
			zap.String("session_id", session.ID.String()))
		return
	}
	p, running := c.pipelines[session.ID]
	if !running {
		p = &pipeline{state: types.ReplyAwaiting}
		c.pipelines[session.ID] = p
	}
	p.pending++
	c.pub.Publish(session.ID, types.ReplyEvent(session.ID.String(), p.state, p.pending))

	if !running {
		c.wg.Add(1)
		go c.runPipeline(session)
	}
}

func (c *ChatController) runPipeline(session *models.ChatSession) {
	defer c.wg.Done()
	id := session.ID

	for {
		c.reply(session)

		c.pipeMu.Lock()
		p := c.pipelines[id]
		p.pending--
		if p.pending == 0 || c.jobCtx.Err() != nil {
			delete(c.pipelines, id)
			c.pub.Publish(id, types.ReplyEvent(id.String(), types.ReplyIdle, 0))
			c.pipeMu.Unlock()
			return
		}
		p.state = types.ReplyAwaiting
		c.pub.Publish(id, types.ReplyEvent(id.String(), p.state, p.pending))
		c.pipeMu.Unlock()
	}
}

// reply answers the session's current history. A generation failure is written into
// the conversation as a system message so the record shows why no answer came.
func (c *ChatController) reply(session *models.ChatSession) {
	ctx := c.jobCtx
	id := session.ID
	defer logging.LogDuration(ctx, "chat_reply")()

	current, err := c.sessions.Get(ctx, id)
	if err == nil && current.Archived() {
		logging.AppLogger.Info("reply dropped, session archived", zap.String("session_id", id.String()))
		return
	}

	history, err := c.store.ListSince(ctx, id, 0, 0)
	if err != nil {
		logging.ErrorLogger.Error("reply: read history", zap.String("session_id", id.String()), zap.Error(err))
		c.setState(id, types.ReplyFailed)
		return
	}
	pc, err := c.projects.GetProjectContext(ctx, session.ProjectID)
	if err != nil {
		logging.AppLogger.Warn("reply: project context unavailable",
			zap.String("session_id", id.String()), zap.Int64("project_id", session.ProjectID), zap.Error(err))
		pc = types.ProjectContext{ProjectID: session.ProjectID}
	}

	role := types.RoleAssistant
	content, err := c.responder.Respond(ctx, session, history, pc)
	if err != nil {
		logging.ErrorLogger.Error("reply: generation failed", zap.String("session_id", id.String()), zap.Error(err))
		c.setState(id, types.ReplyFailed)
		role = types.RoleSystem
		content = FailureMessage(err)
	}

	if _, err := c.appendAndPublish(ctx, id, role, content); err != nil {
		if errors.Is(err, errs.ErrValidation) {
			logging.AppLogger.Info("reply dropped, session archived",
				zap.String("session_id", id.String()), zap.String("role", string(role)))
			return
		}
		c.setState(id, types.ReplyFailed)
	}
}

func (c *ChatController) setState(id uuid.UUID, state types.ReplyState) {
	c.pipeMu.Lock()
	defer c.pipeMu.Unlock()
	if p, ok := c.pipelines[id]; ok {
		p.state = state
		c.pub.Publish(id, types.ReplyEvent(id.String(), state, p.pending))
	}
}

// FailureMessage is the system message stored when the assistant cannot answer.
func FailureMessage(err error) string {
	reason := errs.ErrGenerationUnavailable.Error()
	if errors.Is(err, errs.ErrGenerationTimeout) {
		reason = errs.ErrGenerationTimeout.Error()
	}
	return fmt.Sprintf("The assistant could not reply: %s. Send another message to try again.", reason)
}
