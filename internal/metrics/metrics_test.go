package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordHydration("journal", OutcomeReset)
	m.RecordHydration("journal", OutcomeReset)
	m.RecordRegeneration("decrees")
	m.RecordFlush("rewards")
	m.RecordJobFire("creature-decay")
	m.RecordOracleCall("owl", true)
	m.RecordOracleCall("owl", false)
	m.RecordHTTPRequest("/api/v1/state", "2xx")
	m.SetLedgerBalance(42)
	m.SetCreatureEnergy(70)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HydrationTotal.WithLabelValues("journal", OutcomeReset)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegenerationsTotal.WithLabelValues("decrees")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushesTotal.WithLabelValues("rewards")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobFiresTotal.WithLabelValues("creature-decay")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OracleCallsTotal.WithLabelValues("owl", "fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OracleCallsTotal.WithLabelValues("owl", "ok")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.LedgerBalance))
	assert.Equal(t, 70.0, testutil.ToFloat64(m.CreatureEnergy))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetLedgerBalance(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "grimoire_ledger_balance 7")
}
