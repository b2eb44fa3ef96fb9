package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hazyhaar/pagesense/privacy"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	body := map[string]any{
		"mode":  string(a.cfg.Provider.Mode()),
		"ready": a.cfg.Provider.IsReady(),
	}
	if a.cfg.Network != nil {
		h := a.cfg.Network.Health()
		body["network"] = h
		if h.Degraded {
			status = "degraded"
		}
	}
	if a.cfg.DOM != nil {
		body["observerRunning"] = a.cfg.DOM.Running()
	}
	body["status"] = status
	writeJSON(w, http.StatusOK, body)
}

func (a *API) handleContext(w http.ResponseWriter, r *http.Request) {
	c, err := a.cfg.Provider.CurrentContext(r.Context())
	if err != nil {
		a.cfg.Logger.Warn("context fetch failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"available": false,
			"error":     err.Error(),
		})
		return
	}
	if c == nil {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": true,
		"context":   c,
	})
}

func (a *API) handleFormattedContext(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	maxTokens := 0
	if v := r.URL.Query().Get("max_tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonErr(w, "max_tokens must be a non-negative integer", http.StatusBadRequest)
			return
		}
		maxTokens = n
	}
	fc := a.cfg.Provider.AIFormattedContext(r.Context(), query, maxTokens)
	writeJSON(w, http.StatusOK, fc)
}

func (a *API) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions":     orEmpty(a.cfg.Provider.Suggestions(ctx)),
		"insights":        orEmpty(a.cfg.Provider.ProactiveInsights(ctx)),
		"recommendations": orEmpty(a.cfg.Provider.WorkflowRecommendations(ctx)),
	})
}

func (a *API) handleInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"insights": orEmpty(a.cfg.Provider.ProactiveInsights(r.Context())),
	})
}

func (a *API) handleNetworkStats(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Network == nil {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available":  true,
		"statistics": a.cfg.Network.Statistics(),
		"health":     a.cfg.Network.Health(),
	})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.cfg.History == nil {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	entries, err := a.cfg.History.Recent(r.Context(), limit)
	if err != nil {
		a.cfg.Logger.Warn("history query failed", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": true,
		"entries":   orEmpty(entries),
	})
}

func (a *API) handleGetPrivacy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg.Privacy.Current().Config())
}

func (a *API) handleUpdatePrivacy(w http.ResponseWriter, r *http.Request) {
	var cfg privacy.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a.cfg.Provider.UpdatePrivacyConfig(cfg)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"config": a.cfg.Privacy.Current().Config(),
	})
}

// handleClearData purges everything the pipeline retains: persisted
// history, buffered DOM data, and captured network records.
func (a *API) handleClearData(w http.ResponseWriter, r *http.Request) {
	cleared := []string{}
	if a.cfg.History != nil {
		if err := a.cfg.History.PurgeAll(r.Context()); err != nil {
			a.cfg.Logger.Warn("history purge failed", "error", err)
			jsonErr(w, "internal error", http.StatusInternalServerError)
			return
		}
		cleared = append(cleared, "history")
	}
	if a.cfg.DOM != nil {
		a.cfg.DOM.ClearData()
		cleared = append(cleared, "dom")
	}
	if a.cfg.Network != nil {
		a.cfg.Network.ClearData()
		cleared = append(cleared, "network")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"cleared": cleared,
	})
}

// orEmpty keeps nil slices out of JSON responses so clients always see
// an array.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
