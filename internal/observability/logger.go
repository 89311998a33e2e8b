package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/edgedlt/internal/engine"
)

// InitLogger tags the global logger with the application name.
func InitLogger(app string) zerolog.Logger {
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

var contractViolations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "contract_violations_total",
		Help:      "Engine API calls rejected as programming errors.",
	},
	[]string{"api", "code"},
)

// CountingSink counts contract violations before handing them to Next.
type CountingSink struct {
	Next engine.ErrorSink
}

var _ engine.ErrorSink = CountingSink{}

func (s CountingSink) Report(component, api string, code engine.ErrorCode) {
	RegisterMetrics()
	contractViolations.WithLabelValues(api, code.String()).Inc()
	if s.Next != nil {
		s.Next.Report(component, api, code)
	}
}
