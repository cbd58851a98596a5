// Package handlers exposes the safety-monitoring core over HTTP for
// the companion chat UI.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/everkeep/companion-platform/internal/audit"
	"github.com/everkeep/companion-platform/internal/observability/metrics"
	"github.com/everkeep/companion-platform/internal/safety"
	"github.com/everkeep/companion-platform/internal/session"
	"github.com/everkeep/companion-platform/pkg/logging"
)

// AISessionHandler wires the classifier, session tracker, escalation
// policy, and resource directory to the chat UI. The handler owns
// classification so the UI never has to call it separately.
type AISessionHandler struct {
	tracker       *session.Tracker
	classifier    *safety.Classifier
	thresholds    session.Thresholds
	defaultRegion string
	logger        *logging.Logger
	metrics       *metrics.SafetyMetrics
}

// NewAISessionHandler creates the handler.
func NewAISessionHandler(
	tracker *session.Tracker,
	classifier *safety.Classifier,
	thresholds session.Thresholds,
	defaultRegion string,
	logger *logging.Logger,
	m *metrics.SafetyMetrics,
) *AISessionHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if defaultRegion == "" {
		defaultRegion = safety.DefaultRegion
	}
	return &AISessionHandler{
		tracker:       tracker,
		classifier:    classifier,
		thresholds:    thresholds,
		defaultRegion: defaultRegion,
		logger:        logger.Component("ai-sessions"),
		metrics:       m,
	}
}

type startSessionRequest struct {
	UserID    string `json:"user_id"`
	SubjectID string `json:"subject_id"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Region  string `json:"region,omitempty"`
}

type messageResponse struct {
	Message           *session.Message     `json:"message"`
	Crisis            *safety.CrisisResult `json:"crisis,omitempty"`
	Dismissing        bool                 `json:"dismissing,omitempty"`
	ShowBreakReminder bool                 `json:"show_break_reminder"`
	EscalateCrisis    bool                 `json:"escalate_crisis"`
	Resources         []safety.Resource    `json:"resources,omitempty"`
}

// StartSession handles POST /ai/sessions.
func (h *AISessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	sess, err := h.tracker.StartSession(r.Context(), req.UserID, req.SubjectID, requestMeta(r))
	if err != nil {
		h.logger.Error("failed to start session", "error", err)
		http.Error(w, "failed to start session", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, sess)
}

// PostMessage handles POST /ai/sessions/{sessionID}/messages. User
// messages are classified before recording; the response carries the
// crisis result and the re-evaluated escalation decisions.
func (h *AISessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	role := session.Role(req.Role)
	if !role.Valid() {
		role = session.RoleUser
	}

	var crisis *safety.CrisisResult
	dismissing := false
	if role == session.RoleUser {
		start := time.Now()
		result := h.classifier.Classify(r.Context(), req.Content)
		h.metrics.ObserveClassifyLatency(time.Since(start).Seconds())
		h.metrics.ObserveClassified(int(result.Tier))
		crisis = &result
		dismissing = h.classifier.IsDismissingCrisis(req.Content)
	}

	msg, err := h.tracker.AddMessage(r.Context(), sessionID, role, req.Content, crisis, requestMeta(r))
	if err != nil {
		h.logger.Error("failed to add message", "session_id", sessionID, "error", err)
		http.Error(w, "failed to record message", http.StatusInternalServerError)
		return
	}
	if msg == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	snapshot, err := h.tracker.GetSession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to load session snapshot", "session_id", sessionID, "error", err)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	resp := messageResponse{
		Message:           msg,
		Crisis:            crisis,
		Dismissing:        dismissing,
		ShowBreakReminder: session.ShouldShowBreakReminder(snapshot, h.thresholds),
		EscalateCrisis:    session.ShouldEscalateCrisis(snapshot, h.thresholds),
	}
	if crisis != nil && (crisis.Action == safety.ActionShowResources || crisis.Action == safety.ActionOfferResources) {
		region := req.Region
		if region == "" {
			region = h.defaultRegion
		}
		resp.Resources = safety.CrisisResources(region)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetSession handles GET /ai/sessions/{sessionID}.
func (h *AISessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.tracker.GetSession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to get session", "session_id", sessionID, "error", err)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, sess)
}

// EndSession handles POST /ai/sessions/{sessionID}/end.
func (h *AISessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.tracker.EndSession(r.Context(), sessionID, requestMeta(r))
	if err != nil {
		h.logger.Error("failed to end session", "session_id", sessionID, "error", err)
		http.Error(w, "failed to end session", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, sess)
}

// MarkBreakReminder handles POST /ai/sessions/{sessionID}/break-reminder.
// Always 204: marking a missing session is a no-op by contract.
func (h *AISessionHandler) MarkBreakReminder(w http.ResponseWriter, r *http.Request) {
	h.tracker.MarkBreakReminderShown(r.Context(), chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

// MarkResourcesShown handles POST /ai/sessions/{sessionID}/resources-shown.
func (h *AISessionHandler) MarkResourcesShown(w http.ResponseWriter, r *http.Request) {
	h.tracker.MarkResourcesShown(r.Context(), chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

// MarkCrisisHandled handles POST /ai/sessions/{sessionID}/crisis-handled.
func (h *AISessionHandler) MarkCrisisHandled(w http.ResponseWriter, r *http.Request) {
	h.tracker.MarkCrisisHandled(r.Context(), chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

// GetStats handles GET /ai/stats?user_id=&subject_id=.
func (h *AISessionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id parameter required", http.StatusBadRequest)
		return
	}

	stats, err := h.tracker.GetSessionStats(r.Context(), userID, r.URL.Query().Get("subject_id"))
	if err != nil {
		h.logger.Error("failed to compute stats", "user_id", userID, "error", err)
		http.Error(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// GetCrisisResources handles GET /crisis-resources?region=.
func (h *AISessionHandler) GetCrisisResources(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	if region == "" {
		region = h.defaultRegion
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"region":    strings.ToUpper(strings.TrimSpace(region)),
		"resources": safety.CrisisResources(region),
	})
}

// HealthCheck handles GET /health.
func (h *AISessionHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AISessionHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

// requestMeta extracts audit attribution from the request. RealIP
// middleware has already rewritten RemoteAddr when present.
func requestMeta(r *http.Request) *audit.RequestMeta {
	return &audit.RequestMeta{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}
