package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r := New()

	r.Redemption(RedeemSuccess)
	r.Redemption(RedeemNotFound)
	r.Redemption(RedeemNotFound)
	r.FailedAttempt()
	r.Ban("hardware", CauseEscalation)
	r.KeyIssued("VIP")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.redemptions.WithLabelValues(RedeemSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.redemptions.WithLabelValues(RedeemNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failedAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.bans.WithLabelValues("hardware", CauseEscalation)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.keysIssued.WithLabelValues("VIP")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Redemption(RedeemSuccess)
		r.FailedAttempt()
		r.Ban("account", CauseAdmin)
		r.KeyIssued("SSVIP")
		r.GateDecision("denied")
	})
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.KeyIssued("INFINITY")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `magicart_keys_issued_total{tier="INFINITY"} 1`)
}
