package query

import (
	"context"
	"strings"
	"time"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
	"github.com/opslens/vdiag/internal/logger"
	"github.com/opslens/vdiag/internal/pool"
)

// QueryObserver is notified after every template execution, successful or
// not. Implementations must be fast and non-blocking.
type QueryObserver interface {
	QueryExecuted(template string, elapsed time.Duration, rows int, err error)
}

// Provenance records where and how a result was produced.
type Provenance struct {
	Template   string        `json:"template"`
	Generation uint64        `json:"generation"`
	Target     string        `json:"target"`
	Elapsed    time.Duration `json:"elapsed"`
	RowCount   int           `json:"row_count"`

	// Truncated is set when the row cap cut the result short.
	Truncated bool `json:"truncated,omitempty"`
}

// Result is a fully materialized result set. Rows are detached from the
// connection before the executor returns, so callers never hold a pooled
// connection.
type Result struct {
	Columns    []string   `json:"columns"`
	Rows       [][]any    `json:"rows"`
	Provenance Provenance `json:"provenance"`
}

// Executor runs catalog templates against the pool. All SQL reaching the
// driver comes from the catalog or passes the read-only guard; parameter
// values travel only as driver arguments.
type Executor struct {
	pool     *pool.Pool
	catalog  *Catalog
	settings *config.Settings
	observer QueryObserver
	log      *logger.Logger
}

// NewExecutor wires the executor. observer may be nil.
func NewExecutor(p *pool.Pool, catalog *Catalog, settings *config.Settings, observer QueryObserver, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.New(nil)
	}
	return &Executor{
		pool:     p,
		catalog:  catalog,
		settings: settings,
		observer: observer,
		log:      log.Component("query"),
	}
}

// Catalog exposes the template catalog for listing endpoints.
func (e *Executor) Catalog() *Catalog {
	return e.catalog
}

// Execute resolves, binds, and runs one named template. Unknown templates
// and missing parameters fail before any pool interaction.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]any) (*Result, error) {
	tmpl, err := e.catalog.Get(name)
	if err != nil {
		return nil, err
	}

	params = e.applyDefaults(tmpl, params)

	bound, err := bindTemplate(tmpl, params, e.settings.SchemaAllowed)
	if err != nil {
		return nil, err
	}

	if !declaresLimit(tmpl) {
		bound = capRows(bound, e.settings.MaxRows)
	}

	return e.run(ctx, name, bound)
}

// ExecuteRaw runs one ad-hoc read-only statement. Anything but a single
// SELECT (or WITH) is rejected before touching the pool, and the result
// is capped at the configured row limit.
func (e *Executor) ExecuteRaw(ctx context.Context, sql string) (*Result, error) {
	if err := checkReadOnly(sql); err != nil {
		return nil, err
	}
	bound := capRows(&boundStatement{sql: sql}, e.settings.MaxRows)
	return e.run(ctx, "raw", bound)
}

func (e *Executor) run(ctx context.Context, name string, bound *boundStatement) (*Result, error) {
	pc, err := e.pool.Acquire(ctx)
	if err != nil {
		e.observe(name, 0, 0, err)
		return nil, err
	}

	qctx := ctx
	var cancel context.CancelFunc
	if e.settings.QueryTimeout > 0 {
		qctx, cancel = context.WithTimeout(ctx, e.settings.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := pc.Query(qctx, bound.sql, bound.args...)
	if err != nil {
		elapsed := time.Since(start)
		e.finish(pc, err)
		e.observe(name, elapsed, 0, err)
		e.log.With().
			Str("template", name).
			Dur("elapsed", elapsed).
			Err(err).
			Logger().
			Warn("query failed")
		return nil, err
	}

	columns, data, truncated, err := materialize(rows, e.settings.MaxRows)
	elapsed := time.Since(start)
	e.finish(pc, err)
	e.observe(name, elapsed, len(data), err)
	if err != nil {
		return nil, err
	}

	e.log.With().
		Str("template", name).
		Str("target", pc.Target().String()).
		Dur("elapsed", elapsed).
		Int("rows", len(data)).
		Logger().
		Debug("query complete")

	return &Result{
		Columns: columns,
		Rows:    data,
		Provenance: Provenance{
			Template:   name,
			Generation: pc.Generation(),
			Target:     pc.Target().String(),
			Elapsed:    elapsed,
			RowCount:   len(data),
			Truncated:  truncated,
		},
	}, nil
}

// finish returns the connection to the pool, or discards it when the
// error suggests the physical connection is no longer trustworthy.
func (e *Executor) finish(pc *pool.PooledConn, err error) {
	if err != nil && (errs.IsConnectionFailed(err) || errs.IsTimeout(err)) {
		e.pool.Discard(pc)
		return
	}
	e.pool.Release(pc)
}

func (e *Executor) observe(name string, elapsed time.Duration, rows int, err error) {
	if e.observer != nil {
		e.observer.QueryExecuted(name, elapsed, rows, err)
	}
}

// applyDefaults fills the schema parameter from settings when the caller
// omits it, and clamps any declared limit to the configured row cap.
func (e *Executor) applyDefaults(tmpl *Template, params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+2)
	for k, v := range params {
		out[k] = v
	}

	for _, p := range tmpl.Params {
		switch p.Name {
		case "schema":
			if _, ok := out["schema"]; !ok {
				out["schema"] = e.settings.DefaultSchema()
			}
		case "limit":
			out["limit"] = clampLimit(out["limit"], e.settings.MaxRows)
		}
	}
	return out
}

func clampLimit(raw any, maxRows int) int64 {
	ceiling := int64(maxRows)
	var requested int64
	switch v := raw.(type) {
	case int:
		requested = int64(v)
	case int64:
		requested = v
	case float64:
		requested = int64(v)
	default:
		return ceiling
	}
	if requested < 1 || requested > ceiling {
		return ceiling
	}
	return requested
}

func declaresLimit(tmpl *Template) bool {
	for _, p := range tmpl.Params {
		if p.Name == "limit" {
			return true
		}
	}
	return false
}

// capRows wraps a statement without its own limit in a bounding subquery.
func capRows(bound *boundStatement, maxRows int) *boundStatement {
	sql := strings.TrimRight(strings.TrimSpace(bound.sql), ";")
	return &boundStatement{
		sql:  "SELECT * FROM (\n" + sql + "\n) AS bounded LIMIT ?",
		args: append(bound.args, int64(maxRows)),
	}
}

// checkReadOnly admits a single SELECT or WITH statement and nothing else.
func checkReadOnly(sql string) error {
	stripped := strings.TrimSpace(stripLiterals(sql))
	if stripped == "" {
		return errs.New(errs.ErrKindInvalidInput, "empty statement")
	}
	if strings.Contains(strings.TrimRight(stripped, "; \t\n"), ";") {
		return errs.New(errs.ErrKindInvalidInput, "multiple statements are not allowed")
	}

	first := strings.ToUpper(strings.Fields(stripped)[0])
	if first != "SELECT" && first != "WITH" {
		return errs.New(errs.ErrKindPermissionDenied, "only SELECT statements are allowed")
	}
	return nil
}

// materialize drains a result set into detached values. Byte slices are
// copied to strings so nothing references driver-owned buffers after the
// rows are closed.
func materialize(rows pool.Rows, maxRows int) (columns []string, data [][]any, truncated bool, err error) {
	defer rows.Close()

	columns, err = rows.Columns()
	if err != nil {
		return nil, nil, false, errs.Wrap(errs.ErrKindQueryFailed, "reading columns", err)
	}

	for rows.Next() {
		if maxRows > 0 && len(data) >= maxRows {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, false, errs.Wrap(errs.ErrKindQueryFailed, "scanning row", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, errs.Wrap(errs.ErrKindQueryFailed, "iterating rows", err)
	}
	return columns, data, truncated, nil
}
