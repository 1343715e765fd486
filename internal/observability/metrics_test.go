package observability

import (
	"testing"
	"time"

	"github.com/danmuck/wsctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("nukleusd", "GET", "/health", 200, 12*time.Millisecond)
	RecordCommandEncoded("ws", "ROUTE")
	RecordCommandFailure("ws", "ROUTE", "encode")
	RecordReply("succeeded")
	RecordNukleusCommand("ws", "FREEZE", true)

	before := testutil.ToFloat64(unknownCorrelations)
	RecordUnknownCorrelation()
	if got := testutil.ToFloat64(unknownCorrelations); got != before+1 {
		t.Fatalf("unknown correlations = %v, want %v", got, before+1)
	}

	base := testutil.ToFloat64(pendingCommands)
	AddPending(2)
	AddPending(-1)
	if got := testutil.ToFloat64(pendingCommands); got != base+1 {
		t.Fatalf("pending = %v, want %v", got, base+1)
	}
	AddPending(-1)

	log.Debug().Msg("observability/metrics: registration idempotent and recording paths executed")
}
