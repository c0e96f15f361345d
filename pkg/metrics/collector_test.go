package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Proton-105/himera-lend/internal/flows"
)

type staticCounter map[flows.Kind]int

func (s staticCounter) CountByKind() map[flows.Kind]int {
	out := make(map[flows.Kind]int, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func TestSessionCollector_Collect(t *testing.T) {
	NewSessionCollector(staticCounter{flows.KindSupply: 2, flows.KindRepay: 1}, time.Second).Collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(activeSessions.WithLabelValues("supply")))
	assert.Equal(t, 1.0, testutil.ToFloat64(activeSessions.WithLabelValues("repay")))
	assert.Equal(t, 0.0, testutil.ToFloat64(activeSessions.WithLabelValues("borrow")))
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(actionOutcomesTotal.WithLabelValues("Supply", "failed", "none"))
	RecordActionOutcome("Supply", "failed", "", time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(actionOutcomesTotal.WithLabelValues("Supply", "failed", "none")))

	beforeHTTP := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unknown", "404"))
	RecordHTTPRequest("GET", "", 404, time.Millisecond)
	assert.Equal(t, beforeHTTP+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unknown", "404")))

	beforeTx := testutil.ToFloat64(txTransitionsTotal.WithLabelValues("Approve", "Pending"))
	RecordTxTransition("Approve", "Pending")
	assert.Equal(t, beforeTx+1, testutil.ToFloat64(txTransitionsTotal.WithLabelValues("Approve", "Pending")))
}
