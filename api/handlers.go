package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arlojex/tradepipe/cache"
	"github.com/arlojex/tradepipe/lifecycle"
	"github.com/arlojex/tradepipe/store"
)

// Handler holds the read-only HTTP handlers backing the Operator Surface.
type Handler struct {
	conditions *store.ConditionStore
	sessions   *store.SessionStore
	health     *cache.HealthCache
}

// NewHandler wires the Operator Surface's handlers against the
// Condition Store, Session Store, and Health Cache. health may be nil,
// in which case HealthHandler reports every component as unknown.
func NewHandler(conditions *store.ConditionStore, sessions *store.SessionStore, health *cache.HealthCache) *Handler {
	return &Handler{conditions: conditions, sessions: sessions, health: health}
}

var supervisedComponents = []string{
	lifecycle.ComponentGateway,
	lifecycle.ComponentStrategy,
	lifecycle.ComponentOrderExecutor,
}

// HealthHandler returns the last known status of every supervised
// component, as mirrored into the Health Cache by the Lifecycle Manager.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(supervisedComponents))
	healthy := true

	if h.health == nil {
		for _, name := range supervisedComponents {
			components[name] = "unknown"
		}
		healthy = false
	} else {
		statuses, err := h.health.GetAllStatuses(r.Context(), supervisedComponents)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "Failed to read health cache")
			return
		}
		for _, name := range supervisedComponents {
			status, ok := statuses[name]
			if !ok {
				components[name] = "unknown"
				healthy = false
				continue
			}
			components[name] = string(status)
			if status != "RUNNING" {
				healthy = false
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy":    healthy,
		"components": components,
		"timestamp":  time.Now(),
	})
}

// ConditionsHandler returns the current Condition Store snapshot.
func (h *Handler) ConditionsHandler(w http.ResponseWriter, r *http.Request) {
	conditions, err := h.conditions.GetAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read condition store")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conditions": conditions,
	})
}

// SessionHandler returns the current Session record (account, login flag,
// expiry, order account, item code); the record holds no credentials.
func (h *Handler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.sessions.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read session store")
		return
	}
	if snapshot == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"logged_in": false})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string, code ...string) {
	errCode := "UNKNOWN_ERROR"
	if len(code) > 0 {
		errCode = code[0]
	} else {
		switch status {
		case http.StatusBadRequest:
			errCode = "BAD_REQUEST"
		case http.StatusUnauthorized:
			errCode = "UNAUTHORIZED"
		case http.StatusForbidden:
			errCode = "FORBIDDEN"
		case http.StatusNotFound:
			errCode = "NOT_FOUND"
		case http.StatusServiceUnavailable:
			errCode = "SERVICE_UNAVAILABLE"
		case http.StatusInternalServerError:
			errCode = "INTERNAL_ERROR"
		}
	}

	writeJSON(w, status, APIError{Error: message, Code: errCode})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
