package query

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opslens/vdiag/internal/errs"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// systemSchemas are Vertica's own catalog schemas, readable regardless of
// the configured allow-list.
var systemSchemas = map[string]bool{
	"v_catalog": true,
	"v_monitor": true,
}

// ValidIdent reports whether s is a bare SQL identifier.
func ValidIdent(s string) bool {
	return identPattern.MatchString(s)
}

// boundStatement is the outcome of binding a template: positional SQL
// text plus the driver arguments in occurrence order.
type boundStatement struct {
	sql  string
	args []any
}

// bindTemplate resolves a template invocation into a bound statement:
//
//  1. every required parameter must be present (missing ones are
//     reported before any connection is touched);
//  2. identifier parameters and schema-named value parameters are
//     validated as identifiers and checked against the schema allow-list;
//     identifiers are then substituted for their {name} markers;
//  3. value parameters replace their :name markers with positional
//     placeholders, the values travelling as driver arguments — never
//     concatenated into the SQL text.
func bindTemplate(tmpl *Template, params map[string]any, schemaAllowed func(string) bool) (*boundStatement, error) {
	values := make(map[string]any, len(tmpl.Params))
	idents := make(map[string]string)

	for _, p := range tmpl.Params {
		raw, present := params[p.Name]
		if !present || raw == nil {
			if p.Required {
				return nil, errs.New(errs.ErrKindMissingParameter, "missing parameter "+p.Name)
			}
			if p.Default == nil {
				continue
			}
			raw = p.Default
		}

		coerced, err := coerce(p, raw)
		if err != nil {
			return nil, err
		}

		// Schema names are held to identifier grammar and the allow-list
		// whether they substitute into the SQL or travel as driver values;
		// a schema bound as a plain value still selects what the query
		// reads.
		if p.Identifier || strings.HasSuffix(p.Name, "schema") {
			ident, ok := coerced.(string)
			if !ok || !ValidIdent(ident) {
				return nil, errs.New(errs.ErrKindInvalidInput,
					fmt.Sprintf("parameter %s is not a valid identifier", p.Name))
			}
			if !systemSchemas[strings.ToLower(ident)] && !schemaAllowed(ident) {
				return nil, errs.New(errs.ErrKindPermissionDenied, "schema not allowed: "+ident)
			}
			if p.Identifier {
				idents[p.Name] = ident
				continue
			}
		}

		values[p.Name] = coerced
	}

	// Reject parameters the template does not declare; silent extras hide
	// caller typos.
	declared := make(map[string]bool, len(tmpl.Params))
	for _, p := range tmpl.Params {
		declared[p.Name] = true
	}
	for name := range params {
		if !declared[name] {
			return nil, errs.New(errs.ErrKindInvalidInput,
				fmt.Sprintf("template %s has no parameter %s", tmpl.Name, name))
		}
	}

	text, err := substituteIdents(tmpl.sql, idents)
	if err != nil {
		return nil, err
	}

	if err := enforceSchemaRefs(text, schemaAllowed); err != nil {
		return nil, err
	}

	return bindNamed(text, values)
}

// coerce normalises a raw parameter value to the declared type. JSON
// payloads deliver numbers as float64; both are accepted for ints.
func coerce(p Param, raw any) (any, error) {
	switch p.Type {
	case TypeInt:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, badParam(p.Name, "must be an integer")
			}
			return int64(v), nil
		}
		return nil, badParam(p.Name, "must be an integer")

	case TypeFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
		return nil, badParam(p.Name, "must be a number")

	case TypeTime:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339), nil
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return nil, badParam(p.Name, "must be an RFC 3339 timestamp")
			}
			return v, nil
		}
		return nil, badParam(p.Name, "must be an RFC 3339 timestamp")

	default: // TypeString and identifiers
		v, ok := raw.(string)
		if !ok {
			return nil, badParam(p.Name, "must be a string")
		}
		return v, nil
	}
}

func badParam(name, reason string) error {
	return errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("parameter %s %s", name, reason))
}

// substituteIdents replaces {name} markers with validated identifiers.
// An undeclared marker is a catalog bug, reported loudly.
func substituteIdents(sql string, idents map[string]string) (string, error) {
	out := sql
	for name, ident := range idents {
		out = strings.ReplaceAll(out, "{"+name+"}", ident)
	}
	if idx := strings.IndexByte(out, '{'); idx >= 0 {
		end := strings.IndexByte(out[idx:], '}')
		marker := out[idx:]
		if end >= 0 {
			marker = out[idx : idx+end+1]
		}
		return "", errs.New(errs.ErrKindUnknown, "unresolved identifier marker "+marker)
	}
	return out, nil
}

var schemaRefPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\.`)

// enforceSchemaRefs checks every schema-qualified reference in the final
// SQL against the allow-list, so a template edit cannot quietly reach
// into a schema the deployment has not opened up.
func enforceSchemaRefs(sql string, schemaAllowed func(string) bool) error {
	var disallowed []string
	seen := make(map[string]bool)

	for _, match := range schemaRefPattern.FindAllStringSubmatch(stripLiterals(sql), -1) {
		schema := strings.ToLower(match[1])
		if seen[schema] {
			continue
		}
		seen[schema] = true
		if systemSchemas[schema] || schemaAllowed(schema) {
			continue
		}
		disallowed = append(disallowed, schema)
	}

	if len(disallowed) > 0 {
		return errs.New(errs.ErrKindPermissionDenied,
			"schemas not allowed: "+strings.Join(disallowed, ", "))
	}
	return nil
}

// stripLiterals blanks out single-quoted strings and line comments so the
// schema scan does not trip on their contents.
func stripLiterals(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	for i := 0; i < len(sql); i++ {
		switch {
		case sql[i] == '\'':
			b.WriteByte(' ')
			for i++; i < len(sql) && sql[i] != '\''; i++ {
				b.WriteByte(' ')
			}
			if i < len(sql) {
				b.WriteByte(' ')
			}
		case sql[i] == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for ; i < len(sql) && sql[i] != '\n'; i++ {
				b.WriteByte(' ')
			}
			if i < len(sql) {
				b.WriteByte('\n')
			}
		default:
			b.WriteByte(sql[i])
		}
	}
	return b.String()
}

// bindNamed rewrites :name markers into positional ? placeholders,
// collecting the argument values in occurrence order. A parameter may
// appear more than once; its value repeats per occurrence. The scanner
// leaves string literals, line comments, and :: casts untouched.
func bindNamed(sql string, values map[string]any) (*boundStatement, error) {
	var b strings.Builder
	b.Grow(len(sql))
	var args []any

	for i := 0; i < len(sql); i++ {
		ch := sql[i]

		switch {
		case ch == '\'':
			// Copy string literals verbatim.
			b.WriteByte(ch)
			for i++; i < len(sql); i++ {
				b.WriteByte(sql[i])
				if sql[i] == '\'' {
					break
				}
			}

		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for ; i < len(sql) && sql[i] != '\n'; i++ {
				b.WriteByte(sql[i])
			}
			if i < len(sql) {
				b.WriteByte('\n')
			}

		case ch == ':' && i+1 < len(sql) && sql[i+1] == ':':
			// Type cast, not a parameter.
			b.WriteString("::")
			i++

		case ch == ':' && i+1 < len(sql) && isIdentStart(sql[i+1]):
			start := i + 1
			end := start
			for end < len(sql) && isIdentByte(sql[end]) {
				end++
			}
			name := sql[start:end]
			value, ok := values[name]
			if !ok {
				return nil, errs.New(errs.ErrKindMissingParameter, "missing parameter "+name)
			}
			args = append(args, value)
			b.WriteByte('?')
			i = end - 1

		default:
			b.WriteByte(ch)
		}
	}

	return &boundStatement{sql: b.String(), args: args}, nil
}

func isIdentStart(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

func isIdentByte(b byte) bool {
	return isIdentStart(b) || ('0' <= b && b <= '9')
}
