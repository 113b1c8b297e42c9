package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
	"github.com/opslens/vdiag/internal/query"

	"github.com/go-chi/chi/v5"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.With().Err(err).Logger().Error("writing response")
	}
}

type errorBody struct {
	OK     bool                `json:"ok"`
	Code   string              `json:"code"`
	Error  string              `json:"error"`
	Fields []config.FieldError `json:"fields,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, errorBody{Code: code, Error: msg})
}

// writeErr maps a subsystem error to an HTTP response. Validation errors
// carry their full field list so one round trip reports every problem.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	body := errorBody{Code: errs.KindOf(err).String(), Error: err.Error()}

	var verr *config.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}

	s.writeJSON(w, httpStatus(err), body)
}

func httpStatus(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindValidation, errs.ErrKindInvalidInput, errs.ErrKindMissingParameter:
		return http.StatusBadRequest
	case errs.ErrKindNotFound, errs.ErrKindUnknownTemplate:
		return http.StatusNotFound
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindAcquireTimeout:
		return http.StatusServiceUnavailable
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case errs.ErrKindConnectionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// --- informational endpoints ---

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "vdiag",
		"version": Version,
		"health":  "/healthz",
		"endpoints": []string{
			"/healthz", "/status", "/diagnostics", "/metrics",
			"/db/configure", "/query", "/tools", "/tools/{template}",
		},
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"ok":   true,
		"pool": s.pool.Stats(),
	}

	if r.URL.Query().Get("ping-vertica") == "true" {
		start := time.Now()
		err := s.pool.Ping(r.Context())
		payload["latency_ms"] = float64(time.Since(start).Microseconds()) / 1000
		payload["target"] = s.pool.CurrentProfile().Summary()
		if err != nil {
			payload["ok"] = false
			payload["error"] = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, payload)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, payload)
}

// handleStatus is the always-cheap liveness view: it never touches the
// database.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"uptime_s": int(time.Since(s.started).Seconds()),
		"listen": map[string]any{
			"host":             ResolveListenHost(s.settings.ListenHost, s.log),
			"port":             ResolveListenPort(s.settings.ListenPort, s.log),
			"loopback_allowed": AllowLoopbackListen(),
		},
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"runtime": map[string]any{
			"go":              runtime.Version(),
			"os":              runtime.GOOS,
			"arch":            runtime.GOARCH,
			"pid":             os.Getpid(),
			"service_version": Version,
		},
		"config": map[string]any{
			"database": s.pool.CurrentProfile().Summary(),
			"pool": map[string]any{
				"size":              s.settings.PoolSize,
				"acquire_timeout_s": s.settings.AcquireTimeout.Seconds(),
				"stats":             s.pool.Stats(),
			},
			"query": map[string]any{
				"timeout_s": s.settings.QueryTimeout.Seconds(),
				"max_rows":  s.settings.MaxRows,
			},
			"schemas": s.settings.AllowedSchemas,
			"auth": map[string]any{
				"http_token_configured": s.settings.HTTPToken != "",
			},
			"cors": s.settings.CORSOrigins,
		},
	})
}

// --- reconfiguration ---

// configurePayload is the /db/configure request body. Absent fields fall
// through to the startup configuration layers; backup_nodes accepts the
// same host[:port] CSV as DB_BACKUP_NODES, or a JSON array of entries.
type configurePayload struct {
	Host        *string          `json:"host"`
	Port        *int             `json:"port"`
	User        *string          `json:"user"`
	Password    *string          `json:"password"`
	Database    *string          `json:"database"`
	BackupNodes *json.RawMessage `json:"backup_nodes"`
	TLSMode     *string          `json:"tls_mode"`
	TLSCAFile   *string          `json:"tls_ca_file"`
	TLSCertFile *string          `json:"tls_cert_file"`
	TLSKeyFile  *string          `json:"tls_key_file"`
	LegacySSL   *bool            `json:"legacy_ssl_flag"`
}

func (p *configurePayload) overlay() (*config.Overlay, error) {
	o := &config.Overlay{
		Host:        p.Host,
		Port:        p.Port,
		User:        p.User,
		Password:    p.Password,
		Database:    p.Database,
		TLSMode:     p.TLSMode,
		TLSCAFile:   p.TLSCAFile,
		TLSCertFile: p.TLSCertFile,
		TLSKeyFile:  p.TLSKeyFile,
		LegacySSL:   p.LegacySSL,
	}

	if p.BackupNodes != nil {
		raw := *p.BackupNodes
		var csv string
		if err := json.Unmarshal(raw, &csv); err != nil {
			var entries []string
			if err := json.Unmarshal(raw, &entries); err != nil {
				return nil, errs.New(errs.ErrKindInvalidInput,
					"backup_nodes must be a host[:port] CSV string or array")
			}
			csv = strings.Join(entries, ",")
		}
		nodes, err := config.ParseBackupNodes(csv, config.DefaultPort)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "backup_nodes", err)
		}
		o.SetBackupNodes(nodes)
	}
	return o, nil
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var payload configurePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON payload: "+err.Error())
		return
	}

	overlay, err := payload.overlay()
	if err != nil {
		s.writeErr(w, err)
		return
	}

	result, err := s.gate.Apply(r.Context(), overlay)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"result": result,
	})
}

// --- query execution ---

type queryPayload struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var payload queryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON payload: "+err.Error())
		return
	}

	res, err := s.executor.ExecuteRaw(r.Context(), payload.Query)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeResult(w, res)
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "template")

	params := map[string]any{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON params: "+err.Error())
			return
		}
	}

	res, err := s.executor.Execute(r.Context(), name, params)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeResult(w, res)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"templates": s.executor.Catalog().Describe(),
		"ranked": []map[string]string{
			{
				"name":        "repeat_issues_cluster",
				"description": "Repeated event clusters scored by recency, duplicates, and cluster boost, best first.",
			},
			{
				"name":        "search_schema_objects",
				"description": "Tables and columns matching a term, merged and ranked by best score.",
			},
		},
	})
}

func (s *Server) writeResult(w http.ResponseWriter, res *query.Result) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"columns":    res.Columns,
		"rows":       res.Rows,
		"row_count":  res.Provenance.RowCount,
		"truncated":  res.Provenance.Truncated,
		"latency_ms": float64(res.Provenance.Elapsed.Microseconds()) / 1000,
		"provenance": res.Provenance,
	})
}
