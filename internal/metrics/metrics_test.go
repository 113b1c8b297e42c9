package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
)

func TestConnectAttemptOutcomes(t *testing.T) {
	m := New()
	target := config.Candidate{Host: "vertica-a", Port: 5433}

	m.ConnectAttempt(target, 1, 10*time.Millisecond, nil)
	m.ConnectAttempt(target, 2, 10*time.Millisecond, errs.New(errs.ErrKindConnectionFailed, "refused"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues("vertica-a:5433", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues("vertica-a:5433", "connection_failed")))
}

func TestQueryExecuted(t *testing.T) {
	m := New()

	m.QueryExecuted("ping", 5*time.Millisecond, 1, nil)
	m.QueryExecuted("ping", 5*time.Millisecond, 0, errs.New(errs.ErrKindQueryFailed, "boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.queriesTotal.WithLabelValues("ping", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queriesTotal.WithLabelValues("ping", "query_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queryRowsRead))
}

func TestReconfiguredTracksGeneration(t *testing.T) {
	m := New()

	m.Reconfigured(3, nil)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.generation))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconfigTotal.WithLabelValues("committed")))

	// A rejected apply never moves the generation gauge.
	m.Reconfigured(3, errs.New(errs.ErrKindValidation, "bad payload"))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.generation))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconfigTotal.WithLabelValues("rejected")))
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.QueryExecuted("ping", time.Millisecond, 1, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "vdiag_query_total")
}
