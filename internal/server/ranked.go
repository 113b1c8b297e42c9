package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/opslens/vdiag/internal/query"
)

// clusterBoost is the flat score bonus for event clusters; every cluster
// the repeat-issue view surfaces belongs to a monitored collection.
const clusterBoost = 20

const (
	defaultLookbackDays = 7
	maxLookbackDays     = 90
	defaultRankLimit    = 25
	maxSearchLen        = 128
)

// repeatIssuesPayload is the /tools/repeat_issues_cluster request body.
type repeatIssuesPayload struct {
	Schema string `json:"schema"`
	Search string `json:"search"`
	Days   int    `json:"days"`
	Limit  int    `json:"limit"`
}

// handleRepeatIssues serves the scored repeat-issue view: clusters from
// the lookback window, ranked by the composite recency/duplicate score,
// best first. This is the ranked counterpart of running the raw
// repeat_issues_cluster template, which returns unscored rows.
func (s *Server) handleRepeatIssues(w http.ResponseWriter, r *http.Request) {
	payload := repeatIssuesPayload{Days: defaultLookbackDays, Limit: defaultRankLimit}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON payload: "+err.Error())
			return
		}
	}

	if payload.Days < 1 || payload.Days > maxLookbackDays {
		s.writeError(w, http.StatusBadRequest, "invalid_input", "days must be between 1 and 90")
		return
	}
	if len(payload.Search) > maxSearchLen {
		s.writeError(w, http.StatusBadRequest, "invalid_input", "search is too long")
		return
	}
	if payload.Schema == "" {
		payload.Schema = s.settings.DefaultSchema()
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultRankLimit
	}

	likeExpr := "%"
	if payload.Search != "" {
		likeExpr = "%" + payload.Search + "%"
	}

	now := time.Now().UTC()
	since := now.Add(-time.Duration(payload.Days) * 24 * time.Hour)
	boost := func(string) float64 { return clusterBoost }

	issues, err := query.RepeatIssues(r.Context(), s.executor, payload.Schema,
		since, now, likeExpr, boost, payload.Limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"results":   issues,
		"row_count": len(issues),
	})
}

// searchObjectsPayload is the /tools/search_schema_objects request body.
type searchObjectsPayload struct {
	Schema string `json:"schema"`
	Term   string `json:"term"`
	Limit  int    `json:"limit"`
}

// handleSearchObjects merges the table-name and column-name searches into
// one list ranked by best match score.
func (s *Server) handleSearchObjects(w http.ResponseWriter, r *http.Request) {
	var payload searchObjectsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON payload: "+err.Error())
		return
	}

	if payload.Term == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_input", "term is required")
		return
	}
	if len(payload.Term) > maxSearchLen {
		s.writeError(w, http.StatusBadRequest, "invalid_input", "term is too long")
		return
	}
	if payload.Schema == "" {
		payload.Schema = s.settings.DefaultSchema()
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultRankLimit
	}

	matches, err := query.SearchCatalog(r.Context(), s.executor, payload.Schema,
		"%"+payload.Term+"%", payload.Limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"results":   matches,
		"row_count": len(matches),
	})
}
