package routes

import (
	"net/http"

	"inspo/inspo/config"
	"inspo/inspo/controllers"
	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/types"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

func ChatRoutes(ctrl *controllers.ChatController, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.Group(func(gr chi.Router) {
		if cfg.Server.RequestTimeout > 0 {
			gr.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		}

		// current session of a project, created on first use
		gr.Post("/projects/{project_id}/session", handleJSON(func(r *http.Request) (any, int, error) {
			projectID, err := projectIDParam(r)
			if err != nil {
				return nil, 0, err
			}
			session, err := ctrl.OpenSession(r.Context(), projectID)
			if err != nil {
				return nil, 0, err
			}
			return session, http.StatusOK, nil
		}))

		gr.Get("/projects/{project_id}/sessions", handleJSON(func(r *http.Request) (any, int, error) {
			projectID, err := projectIDParam(r)
			if err != nil {
				return nil, 0, err
			}
			limit, err := queryInt64(r, "limit", 0)
			if err != nil {
				return nil, 0, err
			}
			sessions, err := ctrl.ListSessions(r.Context(), projectID, int(limit))
			if err != nil {
				return nil, 0, err
			}
			return sessions, http.StatusOK, nil
		}))

		gr.Post("/sessions", handleJSON(func(r *http.Request) (any, int, error) {
			var req types.CreateSessionRequest
			if err := decodeJSON(r, &req); err != nil {
				return nil, 0, err
			}
			session, err := ctrl.CreateSession(r.Context(), req)
			if err != nil {
				return nil, 0, err
			}
			return session, http.StatusCreated, nil
		}))

		gr.Get("/sessions/{session_id}", handleJSON(func(r *http.Request) (any, int, error) {
			id, err := sessionIDParam(r)
			if err != nil {
				return nil, 0, err
			}
			session, err := ctrl.GetSession(r.Context(), id)
			if err != nil {
				return nil, 0, err
			}
			return session, http.StatusOK, nil
		}))

		gr.Get("/sessions/{session_id}/messages", handleJSON(func(r *http.Request) (any, int, error) {
			id, err := sessionIDParam(r)
			if err != nil {
				return nil, 0, err
			}
			afterSeq, err := queryInt64(r, "after_seq", 0)
			if err != nil {
				return nil, 0, err
			}
			limit, err := queryInt64(r, "limit", 0)
			if err != nil {
				return nil, 0, err
			}
			msgs, err := ctrl.HistorySince(r.Context(), id, afterSeq, int(limit))
			if err != nil {
				return nil, 0, err
			}
			return msgs, http.StatusOK, nil
		}))

		gr.Post("/sessions/{session_id}/messages", handleJSON(func(r *http.Request) (any, int, error) {
			id, err := sessionIDParam(r)
			if err != nil {
				return nil, 0, err
			}
			var req types.ChatRequest
			if err := decodeJSON(r, &req); err != nil {
				return nil, 0, err
			}
			return send(r, ctrl, id, req)
		}))

		// same as above with the session id in the body
		gr.Post("/messages", handleJSON(func(r *http.Request) (any, int, error) {
			var req types.ChatRequest
			if err := decodeJSON(r, &req); err != nil {
				return nil, 0, err
			}
			id, err := uuid.Parse(req.SessionID)
			if err != nil {
				return nil, 0, errs.Validation("invalid session_id")
			}
			return send(r, ctrl, id, req)
		}))

		gr.Get("/sessions/{session_id}/state", handleJSON(func(r *http.Request) (any, int, error) {
			id, err := sessionIDParam(r)
			if err != nil {
				return nil, 0, err
			}
			st, err := ctrl.State(r.Context(), id)
			if err != nil {
				return nil, 0, err
			}
			return st, http.StatusOK, nil
		}))

		gr.Post("/sessions/{session_id}/archive", handleJSON(func(r *http.Request) (any, int, error) {
			id, err := sessionIDParam(r)
			if err != nil {
				return nil, 0, err
			}
			session, err := ctrl.Archive(r.Context(), id)
			if err != nil {
				return nil, 0, err
			}
			return session, http.StatusOK, nil
		}))

		gr.Get("/sessions/{session_id}/export", func(w http.ResponseWriter, r *http.Request) {
			id, err := sessionIDParam(r)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, err)
				return
			}
			text, err := ctrl.Export(r.Context(), id)
			if err != nil {
				writeError(w, r, errs.HTTPStatus(err), err)
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Content-Disposition", attachmentName(id))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(text))
		})
	})

	// sockets live as long as the client wants, so no request timeout
	r.Get("/sessions/{session_id}/ws", chatSocket(ctrl, cfg.Chat))
	return r
}

func send(r *http.Request, ctrl *controllers.ChatController, id uuid.UUID, req types.ChatRequest) (any, int, error) {
	msg, err := ctrl.Send(r.Context(), id, req.Role, req.Content)
	if err != nil {
		return nil, 0, err
	}
	return msg, http.StatusCreated, nil
}
