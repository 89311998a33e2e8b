package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danmuck/edgedlt/internal/engine"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("dltd", "GET", "/health", 200, 12*time.Millisecond)
	RecordLowerFrame("tx", "accepted")
	SetLowerPeers(2)

	if got := testutil.ToFloat64(lowerLayerPeers); got != 2 {
		t.Fatalf("unexpected peers gauge: got=%v want=2", got)
	}
	if got := testutil.ToFloat64(lowerLayerFrames.WithLabelValues("tx", "accepted")); got < 1 {
		t.Fatalf("frame counter not incremented: %v", got)
	}
}

type stubSource struct {
	stats engine.Stats
}

func (s stubSource) Stats() engine.Stats { return s.stats }

func TestEngineCollectorExportsChannelStats(t *testing.T) {
	src := stubSource{stats: engine.Stats{
		Mode:            engine.ModeOnline,
		Filtered:        3,
		ControlRequests: 7,
		Channels: []engine.ChannelStats{{
			Name:             "CH1",
			State:            engine.StateWaitForTxData,
			FramesWritten:    10,
			BytesTransmitted: 420,
			Overflows:        1,
			SendBuffered:     64,
		}},
	}}
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewEngineCollector(src)); err != nil {
		t.Fatalf("register collector: %v", err)
	}

	expected := `
# HELP edgedlt_engine_control_requests_total Control requests served.
# TYPE edgedlt_engine_control_requests_total counter
edgedlt_engine_control_requests_total 7
# HELP edgedlt_engine_frames_written_total Frames written into a channel buffer.
# TYPE edgedlt_engine_frames_written_total counter
edgedlt_engine_frames_written_total{channel="CH1"} 10
# HELP edgedlt_engine_online 1 while the engine communicates.
# TYPE edgedlt_engine_online gauge
edgedlt_engine_online 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"edgedlt_engine_control_requests_total",
		"edgedlt_engine_frames_written_total",
		"edgedlt_engine_online",
	)
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
	if n := testutil.CollectAndCount(NewEngineCollector(src)); n != 3+8 {
		t.Fatalf("unexpected metric count: got=%d want=%d", n, 3+8)
	}
}

type recordingSink struct {
	apis []string
}

func (s *recordingSink) Report(_, api string, _ engine.ErrorCode) {
	s.apis = append(s.apis, api)
}

func TestCountingSinkForwards(t *testing.T) {
	next := &recordingSink{}
	sink := CountingSink{Next: next}
	sink.Report("dlt", "SetLogLevel", engine.CodeInvalidArgument)
	CountingSink{}.Report("dlt", "SetLogLevel", engine.CodeInvalidArgument)

	if len(next.apis) != 1 || next.apis[0] != "SetLogLevel" {
		t.Fatalf("unexpected forwarded reports: %v", next.apis)
	}
	got := testutil.ToFloat64(contractViolations.WithLabelValues("SetLogLevel", engine.CodeInvalidArgument.String()))
	if got != 2 {
		t.Fatalf("unexpected violation count: got=%v want=2", got)
	}
}
