package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/edgedlt/internal/engine"
)

const namespace = "edgedlt"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	lowerLayerFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lower",
			Name:      "frames_total",
			Help:      "Frames moved by the lower layer, by direction and result.",
		},
		[]string{"direction", "result"},
	)
	lowerLayerPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lower",
			Name:      "peers",
			Help:      "Connected lower-layer peers.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, lowerLayerFrames, lowerLayerPeers, contractViolations)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordLowerFrame counts one frame passing the lower layer. direction is
// "tx" or "rx".
func RecordLowerFrame(direction, result string) {
	RegisterMetrics()
	lowerLayerFrames.WithLabelValues(direction, result).Inc()
}

func SetLowerPeers(n int) {
	RegisterMetrics()
	lowerLayerPeers.Set(float64(n))
}

// StatsSource is satisfied by *engine.Engine.
type StatsSource interface {
	Stats() engine.Stats
}

// EngineCollector exports engine counters at scrape time.
type EngineCollector struct {
	source StatsSource

	online          *prometheus.Desc
	filtered        *prometheus.Desc
	controlRequests *prometheus.Desc
	framesWritten   *prometheus.Desc
	bytesSent       *prometheus.Desc
	overflows       *prometheus.Desc
	txRejected      *prometheus.Desc
	timeouts        *prometheus.Desc
	buffered        *prometheus.Desc
	state           *prometheus.Desc
}

var _ prometheus.Collector = (*EngineCollector)(nil)

func NewEngineCollector(source StatsSource) *EngineCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", name), help, labels, nil)
	}
	return &EngineCollector{
		source:          source,
		online:          desc("online", "1 while the engine communicates."),
		filtered:        desc("filtered_total", "Messages dropped by the context log level or trace status."),
		controlRequests: desc("control_requests_total", "Control requests served."),
		framesWritten:   desc("frames_written_total", "Frames written into a channel buffer.", "channel"),
		bytesSent:       desc("bytes_transmitted_total", "Bytes accepted by the lower layer.", "channel"),
		overflows:       desc("overflows_total", "Frames lost to a full channel buffer.", "channel"),
		txRejected:      desc("tx_rejected_total", "Transmissions rejected by the lower layer.", "channel"),
		timeouts:        desc("timeouts_total", "Transmission timeouts that cleared the channel.", "channel"),
		buffered:        desc("buffered_bytes", "Bytes waiting in a channel buffer.", "channel", "buffer"),
		state:           desc("channel_state", "Current transmission state of a channel.", "channel", "state"),
	}
}

func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.online, c.filtered, c.controlRequests, c.framesWritten, c.bytesSent,
		c.overflows, c.txRejected, c.timeouts, c.buffered, c.state,
	} {
		ch <- d
	}
}

func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	online := 0.0
	if s.Mode == engine.ModeOnline {
		online = 1
	}
	ch <- prometheus.MustNewConstMetric(c.online, prometheus.GaugeValue, online)
	ch <- prometheus.MustNewConstMetric(c.filtered, prometheus.CounterValue, float64(s.Filtered))
	ch <- prometheus.MustNewConstMetric(c.controlRequests, prometheus.CounterValue, float64(s.ControlRequests))
	for _, cs := range s.Channels {
		ch <- prometheus.MustNewConstMetric(c.framesWritten, prometheus.CounterValue, float64(cs.FramesWritten), cs.Name)
		ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(cs.BytesTransmitted), cs.Name)
		ch <- prometheus.MustNewConstMetric(c.overflows, prometheus.CounterValue, float64(cs.Overflows), cs.Name)
		ch <- prometheus.MustNewConstMetric(c.txRejected, prometheus.CounterValue, float64(cs.TxRejected), cs.Name)
		ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(cs.Timeouts), cs.Name)
		ch <- prometheus.MustNewConstMetric(c.buffered, prometheus.GaugeValue, float64(cs.SendBuffered), cs.Name, "send")
		ch <- prometheus.MustNewConstMetric(c.buffered, prometheus.GaugeValue, float64(cs.ControlBuffered), cs.Name, "control")
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, 1, cs.Name, cs.State.String())
	}
}
