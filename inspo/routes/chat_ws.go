package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"inspo/inspo/config"
	"inspo/inspo/controllers"
	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/logging"
	"inspo/inspo/utils/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// wsClient is the broker's view of one socket. Events are queued on send and written
// by the connection's own writer; a full queue means the client is too slow and it
// gets dropped.
type wsClient struct {
	id        string
	send      chan types.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(buffer int) *wsClient {
	if buffer <= 0 {
		buffer = 64
	}
	return &wsClient{
		id:   uuid.NewString(),
		send: make(chan types.Event, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Deliver(ev types.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *wsClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// chatSocket upgrades to a live chat channel. On connect the client gets a connected
// status, every message after ?after_seq, and the reply state; live events follow.
func chatSocket(ctrl *controllers.ChatController, cfg config.ChatConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := sessionIDParam(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		afterSeq, err := queryInt64(r, "after_seq", 0)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		if _, err := ctrl.GetSession(r.Context(), sessionID); err != nil {
			writeError(w, r, errs.HTTPStatus(err), err)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			logging.AppLogger.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		client := newWSClient(cfg.SubscriberBuffer)
		history, err := ctrl.Subscribe(ctx, sessionID, client, afterSeq)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "subscribe failed")
			return
		}
		defer ctrl.Unsubscribe(client)

		lastSeq, err := writeBacklog(ctx, conn, ctrl, sessionID, history, afterSeq)
		if err != nil {
			return
		}

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			writePump(ctx, cancel, conn, client, lastSeq)
		}()

		readLoop(ctx, conn, ctrl, sessionID)
		cancel()
		<-writerDone
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func writeBacklog(ctx context.Context, conn *websocket.Conn, ctrl *controllers.ChatController,
	sessionID uuid.UUID, history []models.ChatMessage, afterSeq int64) (int64, error) {
	lastSeq := afterSeq
	if err := writeEvent(ctx, conn, types.StatusEvent(sessionID.String(), types.StatusConnected)); err != nil {
		return 0, err
	}
	for i := range history {
		if err := writeEvent(ctx, conn, controllers.MessageEvent(&history[i])); err != nil {
			return 0, err
		}
		lastSeq = history[i].Seq
	}
	if st, err := ctrl.State(ctx, sessionID); err == nil {
		if err := writeEvent(ctx, conn, types.ReplyEvent(st.SessionID, st.State, st.Queued)); err != nil {
			return 0, err
		}
	}
	return lastSeq, nil
}

// writePump writes queued events and is the only reader of client.send. Message events at or
// below lastSeq were already sent as backlog and are skipped.
func writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *wsClient, lastSeq int64) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer cancel()

	send := func(ev types.Event) bool {
		if ev.Type == types.EventMessage {
			if ev.Seq <= lastSeq {
				return true
			}
			lastSeq = ev.Seq
		}
		return writeEvent(ctx, conn, ev) == nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			// flush what was queued before the close, e.g. the disconnected status
			for len(client.send) > 0 {
				if !send(<-client.send) {
					return
				}
			}
			conn.Close(websocket.StatusGoingAway, "session closed")
			return
		case ev := <-client.send:
			if !send(ev) {
				return
			}
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				return
			}
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, ctrl *controllers.ChatController, sessionID uuid.UUID) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				logging.AppLogger.Info("chat socket closed", zap.String("session_id", sessionID.String()), zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var in types.InboundEvent
		if err := json.Unmarshal(data, &in); err != nil {
			writeEvent(ctx, conn, types.ErrorEvent(sessionID.String(), "invalid json"))
			continue
		}
		switch in.Type {
		case types.EventMessage:
			role := types.RoleUser
			if in.Role != "" {
				parsed, err := types.ParseRole(in.Role)
				if err != nil {
					writeEvent(ctx, conn, types.ErrorEvent(sessionID.String(), errs.Validation("%v", err).Error()))
					continue
				}
				role = parsed
			}
			if _, err := ctrl.Send(ctx, sessionID, role, in.Content); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				writeEvent(ctx, conn, types.ErrorEvent(sessionID.String(), err.Error()))
			}
		case types.EventPing:
			writeEvent(ctx, conn, types.Event{Type: types.EventPong, SessionID: sessionID.String()})
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev types.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return wsjson.Write(writeCtx, conn, ev)
}
