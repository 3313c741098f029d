// inspo/routes/json.go
package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// handleJSON runs handler and writes its result as JSON. Errors are mapped onto a
// status code by their kind; a non-zero status returned alongside an error wins.
func handleJSON(handler func(r *http.Request) (any, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, status, err := handler(r)
		if err != nil {
			if status == 0 {
				status = errs.HTTPStatus(err)
			}
			writeError(w, r, status, err)
			return
		}
		respondJSON(w, status, res)
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		logging.ErrorLogger.Error("request failed",
			zap.String("trace_id", logging.TraceID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("invalid request body: %v", err)
	}
	return nil
}

func sessionIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		return uuid.Nil, errs.Validation("invalid session id")
	}
	return id, nil
}

func projectIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "project_id"), 10, 64)
	if err != nil {
		return 0, errs.Validation("invalid project id")
	}
	return id, nil
}

func queryInt64(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errs.Validation("invalid %s", key)
	}
	return v, nil
}

func attachmentName(sessionID uuid.UUID) string {
	return fmt.Sprintf("attachment; filename=chat_session_%s.txt", sessionID)
}
