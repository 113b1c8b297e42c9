package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opslens/vdiag/internal/errs"
)

// EventScore ranks a cluster of repeated events. Recency contributes up
// to 72 points and decays to zero for events older than three days; each
// duplicate adds five points; clusterBoost is added unchanged. Higher is
// more urgent.
func EventScore(ageHours float64, duplicateCount int, clusterBoost float64) float64 {
	recency := 72 - ageHours
	if recency < 0 {
		recency = 0
	}
	return recency + float64(duplicateCount)*5 + clusterBoost
}

// RepeatIssue is one scored event cluster.
type RepeatIssue struct {
	Fingerprint    string  `json:"fingerprint"`
	CMDBCI         string  `json:"cmdb_ci"`
	DuplicateCount int     `json:"duplicate_count"`
	AgeHours       float64 `json:"age_hours"`
	Score          float64 `json:"score"`
}

// BoostFunc supplies the per-CI cluster boost. A nil func means no boost.
type BoostFunc func(cmdbCI string) float64

// RepeatIssues runs the repeat_issues_cluster template over the window
// [since, cutoff], scores each cluster, and returns them best first.
// Score ties break on fingerprint so the ordering is deterministic.
func RepeatIssues(ctx context.Context, e *Executor, schema string, since, cutoff time.Time, likeExpr string, boost BoostFunc, limit int) ([]RepeatIssue, error) {
	params := map[string]any{
		"schema": schema,
		"since":  since,
		"cutoff": cutoff,
	}
	if likeExpr != "" {
		params["like_expr"] = likeExpr
	}
	if limit > 0 {
		params["limit"] = limit
	}

	res, err := e.Execute(ctx, "repeat_issues_cluster", params)
	if err != nil {
		return nil, err
	}

	cols, err := columnIndex(res, "fingerprint", "cmdb_ci", "duplicate_count", "age_hours")
	if err != nil {
		return nil, err
	}

	issues := make([]RepeatIssue, 0, len(res.Rows))
	for _, row := range res.Rows {
		issue := RepeatIssue{
			Fingerprint:    asString(row[cols["fingerprint"]]),
			CMDBCI:         asString(row[cols["cmdb_ci"]]),
			DuplicateCount: int(asInt(row[cols["duplicate_count"]])),
			AgeHours:       asFloat(row[cols["age_hours"]]),
		}
		var b float64
		if boost != nil {
			b = boost(issue.CMDBCI)
		}
		issue.Score = EventScore(issue.AgeHours, issue.DuplicateCount, b)
		issues = append(issues, issue)
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Score != issues[j].Score {
			return issues[i].Score > issues[j].Score
		}
		return issues[i].Fingerprint < issues[j].Fingerprint
	})
	return issues, nil
}

// CatalogMatch is one ranked hit from a catalog name search.
type CatalogMatch struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// SearchCatalog merges the table-name and column-name searches into one
// ranked list. A name hit by several sources keeps its best score; the
// merged list is sorted best first and capped at limit.
func SearchCatalog(ctx context.Context, e *Executor, schema, q string, limit int) ([]CatalogMatch, error) {
	best := make(map[string]float64)

	for _, tmpl := range []string{"search_tables_by_name", "search_columns_by_name"} {
		res, err := e.Execute(ctx, tmpl, map[string]any{
			"schema": schema,
			"q":      q,
			"limit":  limit,
		})
		if err != nil {
			return nil, err
		}
		cols, err := columnIndex(res, "name", "score")
		if err != nil {
			return nil, err
		}
		for _, row := range res.Rows {
			name := asString(row[cols["name"]])
			score := asFloat(row[cols["score"]])
			if score > best[name] {
				best[name] = score
			}
		}
	}

	merged := make([]CatalogMatch, 0, len(best))
	for name, score := range best {
		merged = append(merged, CatalogMatch{Name: name, Score: score})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Name < merged[j].Name
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// columnIndex maps the named columns to their positions in a result.
func columnIndex(res *Result, names ...string) (map[string]int, error) {
	idx := make(map[string]int, len(names))
	for i, col := range res.Columns {
		idx[strings.ToLower(col)] = i
	}
	out := make(map[string]int, len(names))
	for _, name := range names {
		i, ok := idx[name]
		if !ok {
			return nil, errs.New(errs.ErrKindQueryFailed,
				fmt.Sprintf("result of %s is missing column %s", res.Provenance.Template, name))
		}
		out[name] = i
	}
	return out, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(n), 64)
		return f
	default:
		return 0
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	default:
		return 0
	}
}
