package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jathq/jat-sentinel/internal/automation"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"readOnly": s.cfg.ReadOnly,
		"enabled":  s.engine.Config().Enabled,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRules serves GET /api/rules (list) and POST /api/rules (create).
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !s.guard(w, r, false) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": s.engine.Rules()})
	case http.MethodPost:
		if !s.guard(w, r, true) {
			return
		}
		var rule automation.Rule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			writeAPIError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
		if rule.ID == "" {
			created := automation.NewRule(rule.Name, rule.Category)
			rule.ID = created.ID
			rule.CreatedAt = created.CreatedAt
		}
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = time.Now().UTC()
		}
		if err := s.engine.SaveRule(&rule); err != nil {
			writeAPIError(w, http.StatusUnprocessableEntity, "INVALID_RULE", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, &rule)
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

// handleRuleByID serves GET/PUT/DELETE /api/rules/{id}.
func (s *Server) handleRuleByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/rules/")
	if id == "" || strings.Contains(id, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "rule id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !s.guard(w, r, false) {
			return
		}
		rule, err := s.engine.Store().GetRule(id)
		if err != nil {
			writeRuleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	case http.MethodPut:
		if !s.guard(w, r, true) {
			return
		}
		existing, err := s.engine.Store().GetRule(id)
		if err != nil {
			writeRuleError(w, err)
			return
		}
		var rule automation.Rule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			writeAPIError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
		rule.ID = id
		rule.CreatedAt = existing.CreatedAt
		if err := s.engine.SaveRule(&rule); err != nil {
			writeAPIError(w, http.StatusUnprocessableEntity, "INVALID_RULE", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, &rule)
	case http.MethodDelete:
		if !s.guard(w, r, true) {
			return
		}
		if err := s.engine.DeleteRule(id); err != nil {
			writeRuleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func writeRuleError(w http.ResponseWriter, err error) {
	if errors.Is(err, automation.ErrNotFound) {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "rule not found")
		return
	}
	writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

// handleConfig serves GET/PUT /api/config.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !s.guard(w, r, false) {
			return
		}
		writeJSON(w, http.StatusOK, s.engine.Config())
	case http.MethodPut:
		if !s.guard(w, r, true) {
			return
		}
		var cfg automation.GlobalConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeAPIError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
		if err := s.engine.SaveConfig(cfg); err != nil {
			writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.guard(w, r, false) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presets": automation.Presets()})
}

func (s *Server) handlePresetInstall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.guard(w, r, true) {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	rule, err := automation.InstallPreset(s.engine.Store(), req.ID)
	if err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "INSTALL_FAILED", err.Error())
		return
	}
	if err := s.engine.ReloadRules(); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.guard(w, r, false) {
		return
	}
	doc, err := automation.Export(s.engine.Store())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.guard(w, r, true) {
		return
	}
	var req struct {
		Mode automation.ImportMode `json:"mode"`
		Doc  *automation.ExportDoc `json:"doc"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = automation.ImportMerge
	}
	imported, err := automation.Import(s.engine.Store(), req.Doc, req.Mode)
	if err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "IMPORT_FAILED", err.Error())
		return
	}
	if err := s.engine.ReloadRules(); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported})
}

// handleActivity serves GET /api/activity?limit=N and DELETE /api/activity.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !s.guard(w, r, false) {
			return
		}
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": s.engine.Activity().Recent(limit)})
	case http.MethodDelete:
		if !s.guard(w, r, true) {
			return
		}
		s.engine.Activity().Clear()
		if err := s.engine.Store().ClearActivity(); err != nil {
			writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

// handleTest runs a dry-run evaluation of sample text for the dashboard's
// pattern tester. Nothing fires and no rate-limit slot is spent.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.guard(w, r, false) {
		return
	}
	if !s.testLimiter.Allow() {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many test requests")
		return
	}

	var req struct {
		Session string                  `json:"session"`
		Text    string                  `json:"text"`
		State   automation.SessionState `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if req.Session == "" {
		req.Session = "jat_test"
	}
	if req.State == "" {
		req.State = automation.StateWorking
	}

	matches := s.engine.TestEvaluate(req.Session, req.Text, req.State)
	type testMatch struct {
		RuleID   string   `json:"rule_id"`
		RuleName string   `json:"rule_name"`
		Priority int      `json:"priority"`
		Matched  string   `json:"matched_text"`
		Captures []string `json:"captures,omitempty"`
		Actions  []string `json:"interpolated_actions"`
	}
	out := make([]testMatch, 0, len(matches))
	for _, m := range matches {
		tm := testMatch{
			RuleID:   m.Rule.ID,
			RuleName: m.Rule.Name,
			Priority: m.Rule.Priority,
			Matched:  m.Context.MatchedText,
			Captures: m.Context.Captures,
		}
		for _, a := range m.Rule.Actions {
			tm.Actions = append(tm.Actions, string(a.Type)+": "+automation.Interpolate(a.Value, m.Context))
		}
		out = append(out, tm)
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": out})
}
