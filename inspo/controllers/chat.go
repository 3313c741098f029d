// inspo/controllers/chat.go
package controllers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"inspo/inspo/config"
	"inspo/inspo/services/broker"
	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/logging"
	"inspo/inspo/utils/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSessionListLimit = 20

type MessageStore interface {
	Append(ctx context.Context, sessionID uuid.UUID, role types.Role, content string) (*models.ChatMessage, error)
	ListSince(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error)
	Last(ctx context.Context, sessionID uuid.UUID) (*models.ChatMessage, error)
}

type SessionRegistry interface {
	GetOrCreate(ctx context.Context, projectID int64, projectName string) (*models.ChatSession, error)
	Create(ctx context.Context, projectID int64, title, projectName string) (*models.ChatSession, error)
	List(ctx context.Context, projectID int64, limit int) ([]models.ChatSession, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ChatSession, error)
	Archive(ctx context.Context, id uuid.UUID, archiveKey string) (*models.ChatSession, error)
}

type ProjectReader interface {
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	GetProjectContext(ctx context.Context, id int64) (types.ProjectContext, error)
}

type Responder interface {
	Respond(ctx context.Context, session *models.ChatSession, history []models.ChatMessage, pc types.ProjectContext) (string, error)
}

type Publisher interface {
	Subscribe(sessionID uuid.UUID, sub broker.Subscriber)
	Unsubscribe(sub broker.Subscriber)
	Publish(sessionID uuid.UUID, ev types.Event) int
	Count(sessionID uuid.UUID) int
	CloseSession(sessionID uuid.UUID)
}

type TranscriptArchiver interface {
	UploadTranscript(ctx context.Context, key, text string) error
}

// ChatController is the single entry point for sending, reading and watching chat
// sessions. Within a session, appends and their broadcasts happen under one lock so
// live delivery order always matches sequence order.
type ChatController struct {
	store     MessageStore
	sessions  SessionRegistry
	projects  ProjectReader
	responder Responder
	pub       Publisher
	archiver  TranscriptArchiver
	cfg       config.ChatConfig

	locks sessionLocks

	pipeMu    sync.Mutex
	pipelines map[uuid.UUID]*pipeline
	closed    bool
	wg        sync.WaitGroup
	jobCtx    context.Context
	cancel    context.CancelFunc
}

func NewChatController(store MessageStore, sessions SessionRegistry, projects ProjectReader,
	responder Responder, pub Publisher, cfg config.ChatConfig) *ChatController {
	jobCtx, cancel := context.WithCancel(context.Background())
	return &ChatController{
		store:     store,
		sessions:  sessions,
		projects:  projects,
		responder: responder,
		pub:       pub,
		cfg:       cfg,
		locks:     sessionLocks{locks: make(map[uuid.UUID]*refLock)},
		pipelines: make(map[uuid.UUID]*pipeline),
		jobCtx:    jobCtx,
		cancel:    cancel,
	}
}

// SetArchiver enables uploading transcripts when a session is archived.
func (c *ChatController) SetArchiver(a TranscriptArchiver) {
	c.archiver = a
}

// Send validates and stores a message, broadcasts it, and queues a reply when the
// author is the user. It returns once the message is durable; the reply arrives later.
func (c *ChatController) Send(ctx context.Context, sessionID uuid.UUID, role types.Role, content string) (*models.ChatMessage, error) {
	if role == "" {
		role = types.RoleUser
	}
	if !role.Valid() {
		return nil, errs.Validation("unknown role %q", role)
	}
	if err := c.validateContent(content); err != nil {
		return nil, err
	}

	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Archived() {
		return nil, errs.Validation("chat session %s is archived", sessionID)
	}

	msg, err := c.appendAndPublish(ctx, sessionID, role, content)
	if err != nil {
		return nil, err
	}
	if role == types.RoleUser {
		c.enqueueReply(session)
	}
	return msg, nil
}

func (c *ChatController) validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errs.Validation("content must not be empty")
	}
	if limit := c.cfg.MaxContentLength; limit > 0 && utf8.RuneCountInString(content) > limit {
		return errs.Validation("content exceeds %d characters", limit)
	}
	return nil
}

func (c *ChatController) appendAndPublish(ctx context.Context, sessionID uuid.UUID, role types.Role, content string) (*models.ChatMessage, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	msg, err := c.store.Append(ctx, sessionID, role, content)
	if errors.Is(err, errs.ErrValidation) {
		return nil, err
	}
	if err != nil {
		logging.ErrorLogger.Error("append chat message failed",
			zap.String("session_id", sessionID.String()),
			zap.String("trace_id", logging.TraceID(ctx)),
			zap.Error(err))
		return nil, err
	}
	c.pub.Publish(sessionID, MessageEvent(msg))
	return msg, nil
}

// MessageEvent wraps a stored message for live delivery.
func MessageEvent(msg *models.ChatMessage) types.Event {
	return types.Event{
		Type:      types.EventMessage,
		SessionID: msg.SessionID.String(),
		Seq:       msg.Seq,
		Data:      msg,
	}
}

// History returns the full ordered history of a session.
func (c *ChatController) History(ctx context.Context, sessionID uuid.UUID) ([]models.ChatMessage, error) {
	return c.HistorySince(ctx, sessionID, 0, 0)
}

// HistorySince returns messages after afterSeq. Clients use it to fill gaps after a reconnect.
func (c *ChatController) HistorySince(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	if afterSeq < 0 {
		return nil, errs.Validation("after_seq must not be negative")
	}
	if _, err := c.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.store.ListSince(ctx, sessionID, afterSeq, limit)
}

// Subscribe attaches sub to live delivery and then returns what it missed since afterSeq.
// Registering first means nothing falls between the history read and the first live event;
// the caller drops live events it already got from the history.
func (c *ChatController) Subscribe(ctx context.Context, sessionID uuid.UUID, sub broker.Subscriber, afterSeq int64) ([]models.ChatMessage, error) {
	if _, err := c.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	c.pub.Subscribe(sessionID, sub)
	msgs, err := c.store.ListSince(ctx, sessionID, afterSeq, 0)
	if err != nil {
		c.pub.Unsubscribe(sub)
		return nil, err
	}
	logging.AppLogger.Info("chat subscriber attached",
		zap.String("session_id", sessionID.String()),
		zap.String("subscriber", sub.ID()))
	return msgs, nil
}

func (c *ChatController) Unsubscribe(sub broker.Subscriber) {
	c.pub.Unsubscribe(sub)
}

func (c *ChatController) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.ChatSession, error) {
	return c.sessions.Get(ctx, sessionID)
}

// OpenSession returns the project's current session, creating the first one on demand.
func (c *ChatController) OpenSession(ctx context.Context, projectID int64) (*models.ChatSession, error) {
	project, err := c.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return c.sessions.GetOrCreate(ctx, projectID, project.Name)
}

// CreateSession starts a fresh session and, if given, sends its first user message.
func (c *ChatController) CreateSession(ctx context.Context, req types.CreateSessionRequest) (*models.ChatSession, error) {
	if req.InitialMessage != "" {
		if err := c.validateContent(req.InitialMessage); err != nil {
			return nil, err
		}
	}
	project, err := c.projects.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	session, err := c.sessions.Create(ctx, req.ProjectID, strings.TrimSpace(req.Title), project.Name)
	if err != nil {
		return nil, err
	}
	if req.InitialMessage == "" {
		return session, nil
	}
	if _, err := c.Send(ctx, session.ID, types.RoleUser, req.InitialMessage); err != nil {
		return nil, err
	}
	return c.sessions.Get(ctx, session.ID)
}

// ListSessions summarises a project's sessions, most recent first.
func (c *ChatController) ListSessions(ctx context.Context, projectID int64, limit int) ([]types.ChatSessionSummary, error) {
	if _, err := c.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSessionListLimit
	}
	sessions, err := c.sessions.List(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]types.ChatSessionSummary, 0, len(sessions))
	for i := range sessions {
		last, err := c.store.Last(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(&sessions[i], last))
	}
	return out, nil
}

// State reports where the session's reply pipeline is.
func (c *ChatController) State(ctx context.Context, sessionID uuid.UUID) (types.SessionState, error) {
	if _, err := c.sessions.Get(ctx, sessionID); err != nil {
		return types.SessionState{}, err
	}
	c.pipeMu.Lock()
	defer c.pipeMu.Unlock()

	st := types.SessionState{SessionID: sessionID.String(), State: types.ReplyIdle}
	if p, ok := c.pipelines[sessionID]; ok {
		st.State = p.state
		st.Queued = p.pending
	}
	return st, nil
}

// Close stops accepting reply jobs and waits for running ones. When ctx ends first,
// the remaining jobs are cancelled.
func (c *ChatController) Close(ctx context.Context) error {
	c.pipeMu.Lock()
	c.closed = true
	c.pipeMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

type refLock struct {
	sync.Mutex
	refs int
}

// sessionLocks hands out one mutex per session and frees it when unused.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*refLock
}

func (l *sessionLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &refLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
