package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sonia-labs/turngate/session"
	"github.com/sonia-labs/turngate/telemetry"
	"github.com/sonia-labs/turngate/toolpolicy"
	"github.com/sonia-labs/turngate/turn"
)

type handlers struct {
	deps Deps
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Store.DB().PingContext(ctx); err != nil {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "time": time.Now().UTC().Format(time.RFC3339)})
}

func (h *handlers) postTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &turn.Error{Code: turn.CodeInvalidArgument, Message: "malformed request body"})
		return
	}
	if req.SessionID == "" || req.ClientID == "" {
		writeError(w, &turn.Error{Code: turn.CodeInvalidArgument, Message: "session_id and client_id are required"})
		return
	}

	frames := make([]turn.VisionFrame, len(req.VisionFrames))
	for i, f := range req.VisionFrames {
		frames[i] = turn.VisionFrame{MIMEType: f.MIMEType, Data: f.Data}
	}

	result, err := h.deps.Pipeline.Run(r.Context(), turn.Input{
		SessionID:     req.SessionID,
		ClientID:      req.ClientID,
		Text:          req.Text,
		VisionFrames:  frames,
		CorrelationID: req.CorrelationID,
		TaskType:      req.TaskType,
	})
	if err != nil {
		var terr *turn.Error
		if errors.As(err, &terr) {
			if terr.Code == turn.CodeRateLimited {
				if ra, ok := terr.Details["retry_after_seconds"].(float64); ok {
					w.Header().Set("Retry-After", strconv.Itoa(int(ra)+1))
				}
			}
			writeError(w, terr)
			return
		}
		writeError(w, &turn.Error{Code: turn.CodeInternal, Message: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, toTurnResponse(result))
}

type createSessionRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Profile        string `json:"profile"`
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &turn.Error{Code: turn.CodeInvalidArgument, Message: "malformed request body"})
		return
	}
	profile := session.Profile(req.Profile)
	if profile == "" {
		profile = session.ProfileLowLatencyChat
	}
	sess, err := h.deps.Sessions.Create(r.Context(), req.UserID, req.ConversationID, profile)
	if err != nil {
		writeError(w, &turn.Error{Code: turn.CodeMaxSessions, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.deps.Sessions.Get(id)
	if err != nil {
		writeError(w, &turn.Error{Code: turn.CodeSessionNotFound, Message: "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handlers) closeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Sessions.Close(r.Context(), id); err != nil {
		writeError(w, &turn.Error{Code: turn.CodeSessionNotFound, Message: "session not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listPendingConfirmations(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	writeJSON(w, http.StatusOK, map[string]any{"pending": h.deps.Gate.Pending(sessionID)})
}

func (h *handlers) approveConfirmation(w http.ResponseWriter, r *http.Request) {
	h.decideConfirmation(w, r, h.deps.Gate.Approve)
}

func (h *handlers) denyConfirmation(w http.ResponseWriter, r *http.Request) {
	h.decideConfirmation(w, r, h.deps.Gate.Deny)
}

func (h *handlers) decideConfirmation(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, id string) toolpolicy.Decision) {
	id := chi.URLParam(r, "id")
	dec := decide(r.Context(), id)
	if !dec.OK {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "status": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": dec.Status, "idempotent": dec.Idempotent})
}

func (h *handlers) diagnosticsSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]any{
		"correlation_id": telemetry.NewCorrelationID(),
		"breakers":       h.deps.Breakers.SnapshotAll(),
		"dead_letters":   h.deps.DLQ.List(0, 50),
		"queue":          h.deps.Queue.Snapshot(),
	}
	if h.deps.Gate != nil {
		snapshot["pending_confirmations"] = h.deps.Gate.Pending("")
	}
	writeJSON(w, http.StatusOK, snapshot)
}
