package controllers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"inspo/inspo/config"
	"inspo/inspo/services/broker"
	"inspo/inspo/sources/psql"
	"inspo/inspo/sources/psql/dao"
	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type responderFunc func(ctx context.Context, session *models.ChatSession, history []models.ChatMessage, pc types.ProjectContext) (string, error)

func (f responderFunc) Respond(ctx context.Context, session *models.ChatSession, history []models.ChatMessage, pc types.ProjectContext) (string, error) {
	return f(ctx, session, history, pc)
}

type recordingSub struct {
	id     string
	mu     sync.Mutex
	events []types.Event
	closed bool
	onMsg  func(ev types.Event)
}

func (s *recordingSub) ID() string { return s.id }

func (s *recordingSub) Deliver(ev types.Event) bool {
	if s.onMsg != nil && ev.Type == types.EventMessage {
		s.onMsg(ev)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSub) messageSeqs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var seqs []int64
	for _, ev := range s.events {
		if ev.Type == types.EventMessage {
			seqs = append(seqs, ev.Seq)
		}
	}
	return seqs
}

func (s *recordingSub) replyStates() []types.ReplyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var states []types.ReplyState
	for _, ev := range s.events {
		if ev.Type == types.EventReply {
			states = append(states, ev.Data.(types.SessionState).State)
		}
	}
	return states
}

type fakeArchiver struct {
	mu   sync.Mutex
	keys map[string]string
}

func (a *fakeArchiver) UploadTranscript(ctx context.Context, key, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[key] = text
	return nil
}

type fixture struct {
	ctrl     *ChatController
	messages *dao.ChatMessageDAO
	broker   *broker.Broker
	project  *models.Project
}

func newFixture(t *testing.T, responder Responder) *fixture {
	t.Helper()
	database, err := psql.NewDatabase(context.Background(), config.DBConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "chat.db"),
	})
	require.NoError(t, err)
	t.Cleanup(database.Close)

	project := &models.Project{Name: "Solar Kiln", Description: "Dry lumber with sunlight"}
	require.NoError(t, database.DB.Create(project).Error)

	messages := dao.NewChatMessageDAO(database.DB)
	b := broker.New()
	ctrl := NewChatController(messages, dao.NewChatSessionDAO(database.DB), dao.NewProjectDAO(database.DB),
		responder, b, config.ChatConfig{MaxContentLength: 50, SubscriberBuffer: 16})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctrl.Close(ctx)
	})
	return &fixture{ctrl: ctrl, messages: messages, broker: b, project: project}
}

func echoResponder() Responder {
	return responderFunc(func(ctx context.Context, _ *models.ChatSession, history []models.ChatMessage, _ types.ProjectContext) (string, error) {
		return "re: " + history[len(history)-1].Content, nil
	})
}

func TestSendBroadcastsToEverySubscriberAndReplies(t *testing.T) {
	f := newFixture(t, echoResponder())
	ctx := context.Background()

	session, err := f.ctrl.OpenSession(ctx, f.project.ID)
	require.NoError(t, err)

	a := &recordingSub{id: "a"}
	b := &recordingSub{id: "b"}
	histA, err := f.ctrl.Subscribe(ctx, session.ID, a, 0)
	require.NoError(t, err)
	require.Len(t, histA, 1)
	_, err = f.ctrl.Subscribe(ctx, session.ID, b, 1)
	require.NoError(t, err)

	msg, err := f.ctrl.Send(ctx, session.ID, types.RoleUser, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(2), msg.Seq)

	for _, sub := range []*recordingSub{a, b} {
		require.Eventually(t, func() bool {
			return len(sub.messageSeqs()) == 2
		}, 3*time.Second, 10*time.Millisecond)
		assert.Equal(t, []int64{2, 3}, sub.messageSeqs())
	}
	require.Eventually(t, func() bool {
		states := a.replyStates()
		return len(states) > 0 && states[len(states)-1] == types.ReplyIdle
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, types.ReplyAwaiting, a.replyStates()[0])

	history, err := f.ctrl.History(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, types.RoleAssistant, history[2].Role)
	assert.Equal(t, "re: hello", history[2].Content)
}

func TestReplyTimeoutPersistsSystemMessage(t *testing.T) {
	f := newFixture(t, responderFunc(func(ctx context.Context, _ *models.ChatSession, _ []models.ChatMessage, _ types.ProjectContext) (string, error) {
		return "", fmt.Errorf("%w after 45s", errs.ErrGenerationTimeout)
	}))
	ctx := context.Background()
	session, err := f.ctrl.OpenSession(ctx, f.project.ID)
	require.NoError(t, err)
	sub := &recordingSub{id: "watcher"}
	_, err = f.ctrl.Subscribe(ctx, session.ID, sub, 0)
	require.NoError(t, err)

	_, err = f.ctrl.Send(ctx, session.ID, "", "are you there?")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sub.messageSeqs()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	history, err := f.ctrl.History(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, types.RoleUser, history[1].Role)
	assert.Equal(t, types.RoleSystem, history[2].Role)
	assert.Contains(t, history[2].Content, "generation timed out")

	require.Eventually(t, func() bool {
		states := sub.replyStates()
		return len(states) > 0 && states[len(states)-1] == types.ReplyIdle
	}, 3*time.Second, 10*time.Millisecond)
	assert.Contains(t, sub.replyStates(), types.ReplyFailed)
}

func TestPublishHappensAfterAppendIsVisible(t *testing.T) {
	f := newFixture(t, echoResponder())
	ctx := context.Background()
	session, err := f.ctrl.OpenSession(ctx, f.project.ID)
	require.NoError(t, err)

	var missing atomic.Int32
	sub := &recordingSub{id: "checker", onMsg: func(ev types.Event) {
		msgs, err := f.messages.ListSince(ctx, session.ID, ev.Seq-1, 1)
		if err != nil || len(msgs) != 1 || msgs[0].Seq != ev.Seq {
			missing.Add(1)
		}
	}}
	_, err = f.ctrl.Subscribe(ctx, session.ID, sub, 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.ctrl.Send(ctx, session.ID, types.RoleUser, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return len(sub.messageSeqs()) == 6
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, missing.Load())
	assert.Equal(t, []int64{2, 3, 4, 5, 6, 7}, sortedCopy(sub.messageSeqs()))
}

func sortedCopy(in []int64) []int64 {
	out := append([]int64(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func TestQueuedRepliesKeepSendOrder(t *testing.T) {
	gate := make(chan struct{})
	var inFlight, maxInFlight, calls atomic.Int32
	f := newFixture(t, responderFunc(func(ctx context.Context, _ *models.ChatSession, history []models.ChatMessage, _ types.ProjectContext) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		call := calls.Add(1)
		if call == 1 {
			<-gate
		}
		return fmt.Sprintf("reply %d", call), nil
	}))
	ctx := context.Background()
	session, err := f.ctrl.OpenSession(ctx, f.project.ID)
	require.NoError(t, err)

	_, err = f.ctrl.Send(ctx, session.ID, types.RoleUser, "first")
	require.NoError(t, err)
	_, err = f.ctrl.Send(ctx, session.ID, types.RoleUser, "second")
	require.NoError(t, err)

	// both user messages are stored while the first reply is still outstanding
	history, err := f.ctrl.History(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	state, err := f.ctrl.State(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReplyAwaiting, state.State)
	assert.Equal(t, 2, state.Queued)

	close(gate)
	require.Eventually(t, func() bool {
		h, err := f.ctrl.History(ctx, session.ID)
		return err == nil && len(h) == 5
	}, 3*time.Second, 10*time.Millisecond)

	history, err = f.ctrl.History(ctx, session.ID)
	require.NoError(t, err)
	var contents []string
	for _, m := range history[1:] {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"first", "second", "reply 1", "reply 2"}, contents)
	assert.Equal(t, int32(1), maxInFlight.Load())

	require.Eventually(t, func() bool {
		st, err := f.ctrl.State(ctx, session.ID)
		return err == nil && st.State == types.ReplyIdle && st.Queued == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSendValidationHasNoSideEffects(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, responderFunc(func(context.Context, *models.ChatSession, []models.ChatMessage, types.ProjectContext) (string, error) {
		calls.Add(1)
		return "x", nil
	}))
	ctx := context.Background()
	session, err := f.ctrl.OpenSession(ctx, f.project.ID)
	require.NoError(t, err)
	sub := &recordingSub{id: "s"}
	_, err = f.ctrl.Subscribe(ctx, session.ID, sub, 0)
	require.NoError(t, err)

	for _, content := range []string{"", "   \n\t", strings.Repeat("x", 51)} {
		_, err := f.ctrl.Send(ctx, session.ID, types.RoleUser, content)
		assert.ErrorIs(t, err, errs.ErrValidation)
	}
	_, err = f.ctrl.Send(ctx, session.ID, types.Role("moderator"), "hi")
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.ctrl.Send(ctx, uuid.New(), types.RoleUser, "hi")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	history, err := f.ctrl.History(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Empty(t, sub.messageSeqs())
	assert.Zero(t, calls.Load())
}

func TestAssistantAndSystemSendsDoNotTriggerReplies(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, responderFunc(func(context.Context, *models.ChatSession, []models.ChatMessage, types.ProjectContext) (string, error) {
		calls.Add(1)
		return "x", nil
	}))
	ctx := context.Background()
	session, err := f.ctrl.OpenSession(ctx, f.project.ID)
	require.NoError(t, err)

	_, err = f.ctrl.Send(ctx, session.ID, types.RoleAssistant, "note from a tool")
	require.NoError(t, err)
	_, err = f.ctrl.Send(ctx, session.ID, types.RoleSystem, "maintenance")
	require.NoError(t, err)

	st, err := f.ctrl.State(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReplyIdle, st.State)
	assert.Zero(t, calls.Load())
}

func TestOpenSessionUnknownProject(t *testing.T) {
	f := newFixture(t, echoResponder())
	_, err := f.ctrl.OpenSession(context.Background(), 404)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCreateListExportArchive(t *testing.T) {
	f := newFixture(t, echoResponder())
	archiver := &fakeArchiver{keys: map[string]string{}}
	f.ctrl.SetArchiver(archiver)
	ctx := context.Background()

	first, err := f.ctrl.OpenSession(ctx, f.project.ID)
	require.NoError(t, err)
	second, err := f.ctrl.CreateSession(ctx, types.CreateSessionRequest{
		ProjectID:      f.project.ID,
		Title:          "Glazing",
		InitialMessage: "Which glass?",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		h, err := f.ctrl.History(ctx, second.ID)
		return err == nil && len(h) == 3
	}, 3*time.Second, 10*time.Millisecond)

	summaries, err := f.ctrl.ListSessions(ctx, f.project.ID, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, second.ID.String(), summaries[0].SessionID)
	assert.Equal(t, "Glazing", summaries[0].Title)
	assert.Equal(t, int64(3), summaries[0].MessageCount)
	assert.Equal(t, "re: Which glass?", summaries[0].LastMessage)
	assert.Equal(t, types.RoleAssistant, summaries[0].LastMessageRole)
	assert.Equal(t, first.ID.String(), summaries[1].SessionID)

	text, err := f.ctrl.Export(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Chat Session: Glazing\nProject: Solar Kiln\n"))
	assert.Contains(t, text, "Messages: 3\n")
	assert.Contains(t, text, strings.Repeat("=", 50))
	assert.Contains(t, text, "] You:\nWhich glass?\n")
	assert.Contains(t, text, "] Assistant:\nre: Which glass?\n")

	watcher := &recordingSub{id: "w"}
	_, err = f.ctrl.Subscribe(ctx, second.ID, watcher, 3)
	require.NoError(t, err)

	archived, err := f.ctrl.Archive(ctx, second.ID)
	require.NoError(t, err)
	require.True(t, archived.Archived())
	require.Contains(t, archiver.keys, archived.ArchiveKey)
	assert.Equal(t, text, archiver.keys[archived.ArchiveKey])
	assert.Zero(t, f.broker.Count(second.ID))

	_, err = f.ctrl.Send(ctx, second.ID, types.RoleUser, "still there?")
	assert.ErrorIs(t, err, errs.ErrValidation)

	current, err := f.ctrl.OpenSession(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)
}

func TestArchiveDropsReplyInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, responderFunc(func(ctx context.Context, _ *models.ChatSession, _ []models.ChatMessage, _ types.ProjectContext) (string, error) {
		close(started)
		<-release
		return "late reply", nil
	}))
	archiver := &fakeArchiver{keys: map[string]string{}}
	f.ctrl.SetArchiver(archiver)
	ctx := context.Background()

	session, err := f.ctrl.OpenSession(ctx, f.project.ID)
	require.NoError(t, err)
	_, err = f.ctrl.Send(ctx, session.ID, types.RoleUser, "hi")
	require.NoError(t, err)
	<-started

	archived, err := f.ctrl.Archive(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, archived.Archived())

	close(release)
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.ctrl.Close(closeCtx))

	history, err := f.ctrl.History(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.RoleUser, history[1].Role)
	assert.Equal(t, "hi", history[1].Content)

	text, err := f.ctrl.Export(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, text, archiver.keys[archived.ArchiveKey])
	assert.NotContains(t, text, "late reply")
}

func TestSessionLocksAreReleased(t *testing.T) {
	l := sessionLocks{locks: make(map[uuid.UUID]*refLock)}
	id := uuid.New()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock(id)
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
	assert.Empty(t, l.locks)
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "The assistant could not reply: generation timed out. Send another message to try again.",
		FailureMessage(errs.ErrGenerationTimeout))
	assert.Contains(t, FailureMessage(fmt.Errorf("boom")), "generation unavailable")
}
