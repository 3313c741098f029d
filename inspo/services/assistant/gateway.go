// Package assistant turns a session's history and project snapshot into the next
// assistant message. It knows nothing about sockets or HTTP.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inspo/inspo/config"
	"inspo/inspo/services/llm"
	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/logging"
	"inspo/inspo/utils/types"

	"go.uber.org/zap"
)

const maxAttempts = 2

type Gateway struct {
	completer    llm.Completer
	prompt       Prompt
	model        string
	timeout      time.Duration
	historyLimit int
	retryPause   time.Duration
}

func NewGateway(completer llm.Completer, cfg config.LLMConfig) (*Gateway, error) {
	prompt, err := LoadPrompt(cfg.PromptFile)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		completer:    completer,
		prompt:       prompt,
		model:        cfg.Model,
		timeout:      cfg.Timeout,
		historyLimit: cfg.HistoryLimit,
		retryPause:   500 * time.Millisecond,
	}, nil
}

// Respond produces the assistant's reply to history. Each attempt is bounded by the
// configured timeout. A timeout ends the call with ErrGenerationTimeout; any other
// failure, including an empty answer, is retried once before ErrGenerationUnavailable.
func (g *Gateway) Respond(ctx context.Context, session *models.ChatSession, history []models.ChatMessage, pc types.ProjectContext) (string, error) {
	if g.completer == nil {
		return "", fmt.Errorf("%w: no llm provider configured", errs.ErrGenerationUnavailable)
	}
	req := g.BuildRequest(history, pc)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		content, err := g.attempt(ctx, req)
		if err == nil {
			return content, nil
		}
		if errors.Is(err, errs.ErrGenerationTimeout) {
			logging.ErrorLogger.Error("assistant reply timed out",
				zap.String("session_id", session.ID.String()),
				zap.Duration("timeout", g.timeout))
			return "", err
		}
		lastErr = err
		logging.AppLogger.Warn("assistant attempt failed",
			zap.String("session_id", session.ID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", errs.ErrGenerationUnavailable, ctx.Err())
			case <-time.After(g.retryPause):
			}
		}
	}
	return "", fmt.Errorf("%w: %v", errs.ErrGenerationUnavailable, lastErr)
}

func (g *Gateway) attempt(ctx context.Context, req llm.ChatRequest) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	content, err := g.completer.Complete(attemptCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", errs.ErrGenerationTimeout, g.timeout)
		}
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("empty reply")
	}
	return content, nil
}

// BuildRequest assembles the system prompt and the most recent non-system turns.
func (g *Gateway) BuildRequest(history []models.ChatMessage, pc types.ProjectContext) llm.ChatRequest {
	turns := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if m.Role == types.RoleSystem {
			continue
		}
		turns = append(turns, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	if g.historyLimit > 0 && len(turns) > g.historyLimit {
		turns = turns[len(turns)-g.historyLimit:]
	}

	msgs := make([]llm.Message, 0, len(turns)+1)
	msgs = append(msgs, llm.Message{Role: string(types.RoleSystem), Content: g.prompt.System(pc)})
	msgs = append(msgs, turns...)
	return llm.ChatRequest{
		Model:    g.model,
		Messages: msgs,
		WorkDir:  pc.FolderPath,
	}
}
