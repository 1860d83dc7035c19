package httpapi

import (
	"net/http"
	"strings"

	"raha.health/internal/analytics"
)

type trackRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (a *API) routeAnalytics() {
	a.mux.HandleFunc("POST /v1/analytics/events", a.trackEvent)
	a.mux.HandleFunc("GET /v1/analytics/summary", a.getSummary)
	a.mux.HandleFunc("POST /v1/analytics/summary", a.addToSummary)
}

func (a *API) trackEvent(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		writeError(w, r, http.StatusBadRequest, "event type is required")
		return
	}
	a.deps.Analytics.TrackEvent(req.Type, req.Data)
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) getSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Analytics.Summary())
}

func (a *API) addToSummary(w http.ResponseWriter, r *http.Request) {
	var delta analytics.Delta
	if err := decodeJSON(r, &delta); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.deps.Analytics.UpdateAnalytics(delta)
	writeJSON(w, http.StatusOK, a.deps.Analytics.Summary())
}
