// Package query binds named, parameterized SQL templates to typed inputs
// and executes them against the connection pool.
//
// Templates form a fixed catalog resolved once at startup. SQL text uses
// two placeholder forms:
//
//	:name   — a bound driver parameter; values are never concatenated
//	          into the statement text.
//	{name}  — a validated identifier substitution, used only for schema
//	          names, which cannot occupy a parameter position. Schema
//	          identifiers must match the identifier grammar and the
//	          configured allow-list before substitution.
package query

import (
	"embed"
	"sort"
	"strings"

	"github.com/opslens/vdiag/internal/errs"
)

//go:embed sql/*.sql
var templateFS embed.FS

// ParamType declares the expected Go-side type of a template parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeTime   ParamType = "timestamp"
)

// Param declares one template parameter.
type Param struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required"`

	// Identifier marks a schema-typed parameter substituted as a
	// validated identifier rather than bound as a value.
	Identifier bool `json:"identifier,omitempty"`

	// Default applies when an optional parameter is absent.
	Default any `json:"default,omitempty"`
}

// Template is one named, immutable, parameterized SQL statement.
type Template struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`

	sql string
}

// SQL returns the raw template text.
func (t *Template) SQL() string {
	return t.sql
}

// catalogSpec declares every template and its parameters. The SQL text
// loads from the embedded files (or an external source) keyed by
// <name>.sql.
var catalogSpec = []Template{
	{
		Name:        "ping",
		Description: "Connectivity probe.",
	},
	{
		Name:        "list_tables",
		Description: "All tables in a schema.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true},
		},
	},
	{
		Name:        "describe_table",
		Description: "Column definitions for one table.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true},
			{Name: "table", Type: TypeString, Required: true},
		},
	},
	{
		Name:        "search_tables_by_name",
		Description: "Tables whose name matches a pattern, with a match score.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true},
			{Name: "q", Type: TypeString, Required: true},
			{Name: "limit", Type: TypeInt, Required: false},
		},
	},
	{
		Name:        "search_columns_by_name",
		Description: "Columns whose name matches a pattern, with a match score.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true},
			{Name: "q", Type: TypeString, Required: true},
			{Name: "limit", Type: TypeInt, Required: false},
		},
	},
	{
		Name:        "get_event_ci",
		Description: "Configuration items ranked by event volume.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true, Identifier: true},
			{Name: "limit", Type: TypeInt, Required: false},
		},
	},
	{
		Name:        "repeat_issues_cluster",
		Description: "Repeated operational events grouped by fingerprint within a window.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true, Identifier: true},
			{Name: "since", Type: TypeTime, Required: true},
			{Name: "cutoff", Type: TypeTime, Required: true},
			{Name: "like_expr", Type: TypeString, Required: false, Default: "%"},
			{Name: "limit", Type: TypeInt, Required: false},
		},
	},
	{
		Name:        "gke_identify_application_pod",
		Description: "Pods matching an application keyword, most recently observed first.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true, Identifier: true},
			{Name: "q", Type: TypeString, Required: true},
			{Name: "limit", Type: TypeInt, Required: false},
		},
	},
	{
		Name:        "gke_pod_by_cmdb",
		Description: "Cluster owning a pod, by CMDB id.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true, Identifier: true},
			{Name: "pod_id", Type: TypeString, Required: true},
		},
	},
	{
		Name:        "gke_pod_node_by_cmdb",
		Description: "Node hosting a pod, by CMDB id.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true, Identifier: true},
			{Name: "pod_id", Type: TypeString, Required: true},
		},
	},
	{
		Name: "resolve_ci",
		Description: "Resolve a loosely-specified resource by exact id or fuzzy name " +
			"across pods, nodes, and containers; most recent observation wins.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true, Identifier: true},
			{Name: "ident", Type: TypeString, Required: true},
			{Name: "like_expr", Type: TypeString, Required: true},
		},
	},
	{
		Name:        "business_services_on_collection",
		Description: "Business services mapped onto a cluster.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true, Identifier: true},
			{Name: "cluster", Type: TypeString, Required: true},
		},
	},
	{
		Name:        "security_alert_counts",
		Description: "Security incidents per severity since a cutoff.",
		Params: []Param{
			{Name: "schema", Type: TypeString, Required: true, Identifier: true},
			{Name: "since", Type: TypeTime, Required: true},
		},
	},
}

// Catalog is the fixed set of named templates, loaded once at startup.
type Catalog struct {
	templates map[string]*Template
}

// TextSource supplies template SQL text keyed by file name. The embedded
// assets are the default; the templatestore package provides directory-
// and object-store-backed sources.
type TextSource interface {
	Text(name string) ([]byte, error)
}

type embeddedSource struct{}

func (embeddedSource) Text(name string) ([]byte, error) {
	return templateFS.ReadFile("sql/" + name)
}

// Load builds the catalog from the embedded template assets.
func Load() (*Catalog, error) {
	return LoadFrom(embeddedSource{})
}

// LoadFrom builds the catalog reading template text from src, falling
// back to the embedded assets for any file src does not provide.
func LoadFrom(src TextSource) (*Catalog, error) {
	catalog := &Catalog{templates: make(map[string]*Template, len(catalogSpec))}

	for i := range catalogSpec {
		tmpl := catalogSpec[i] // copy; the declaration table stays pristine
		file := tmpl.Name + ".sql"

		raw, err := src.Text(file)
		if err != nil {
			raw, err = embeddedSource{}.Text(file)
		}
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindUnknown, "template text missing for "+tmpl.Name, err)
		}

		tmpl.sql = strings.TrimSpace(string(raw))
		catalog.templates[tmpl.Name] = &tmpl
	}

	return catalog, nil
}

// Get returns the named template. An unknown name is a programming error
// on the caller's side, reported as ErrKindUnknownTemplate.
func (c *Catalog) Get(name string) (*Template, error) {
	tmpl, ok := c.templates[name]
	if !ok {
		return nil, errs.New(errs.ErrKindUnknownTemplate, "unknown template "+name)
	}
	return tmpl, nil
}

// Names lists the catalog's template names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the catalog's templates for the diagnostics endpoint.
func (c *Catalog) Describe() []Template {
	out := make([]Template, 0, len(c.templates))
	for _, name := range c.Names() {
		out = append(out, *c.templates[name])
	}
	return out
}
