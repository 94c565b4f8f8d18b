package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/retroplay/netplay-service/internal/http/middleware"
	"github.com/retroplay/netplay-service/internal/http/response"
	"github.com/retroplay/netplay-service/internal/observability"
	"github.com/retroplay/netplay-service/internal/service"
)

type SessionHandler struct {
	svc *service.NetplayService
}

func NewSessionHandler(svc *service.NetplayService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type createSessionRequest struct {
	RomID       string  `json:"rom_id"`
	SaveStateID *string `json:"save_state_id"`
}

type inviteRequest struct {
	UserID string `json:"user_id"`
}

type heartbeatRequest struct {
	PeerToken string `json:"peer_token"`
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token")
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RomID == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "rom_id is required")
		return
	}
	result, err := h.svc.CreateSession(r.Context(), claims.UserID(), req.RomID, req.SaveStateID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	observability.Audit(r, "session.created",
		"session_id", result.Session.ID, "host_id", claims.UserID(), "rom_id", req.RomID)
	response.JSON(w, r, http.StatusCreated, result)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token")
		return
	}
	sessions, err := h.svc.ListActiveSessions(r.Context(), claims.UserID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *SessionHandler) Invite(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token")
		return
	}
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "user_id is required")
		return
	}
	participant, err := h.svc.Invite(r.Context(), chi.URLParam(r, "session_id"), claims.UserID(), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, participant)
}

func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token")
		return
	}
	result, err := h.svc.Join(r.Context(), chi.URLParam(r, "session_id"), claims.UserID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token")
		return
	}
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PeerToken == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "peer_token is required")
		return
	}
	if err := h.svc.Heartbeat(r.Context(), chi.URLParam(r, "session_id"), claims.UserID(), req.PeerToken); err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token")
		return
	}
	if err := h.svc.Close(r.Context(), chi.URLParam(r, "session_id"), claims.UserID()); err != nil {
		writeError(w, r, err)
		return
	}
	observability.Audit(r, "session.closed",
		"session_id", chi.URLParam(r, "session_id"), "closed_by", claims.UserID())
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "closed"})
}
