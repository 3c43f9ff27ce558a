package host

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"io"
	"time"
)

// hostMetrics are the server metrics, kept in a set per server so several servers can
// run in one process.
type hostMetrics struct {
	set        *metrics.Set
	propagated *metrics.Counter
	expired    *metrics.Counter
}

func newHostMetrics() *hostMetrics {
	set := metrics.NewSet()
	return &hostMetrics{
		set:        set,
		propagated: set.NewCounter("dkvmod_propagated_commands_total"),
		expired:    set.NewCounter("dkvmod_expired_keys_total"),
	}
}

// registerGauges adds the gauges that read server state. They take the loop lock, so
// WriteMetrics must not be called from inside a command.
func (m *hostMetrics) registerGauges(s *Server) {
	m.set.NewGauge("dkvmod_keys", func() float64 {
		return float64(s.KeyCount())
	})
	m.set.NewGauge("dkvmod_handles", func() float64 {
		return float64(s.Handles())
	})
	m.set.NewGauge("dkvmod_modules", func() float64 {
		return float64(len(s.Modules()))
	})
}

// observe records one command execution.
func (m *hostMetrics) observe(name string, start time.Time, failed bool) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`dkvmod_commands_total{cmd=%q}`, name)).Inc()
	if failed {
		m.set.GetOrCreateCounter(fmt.Sprintf(`dkvmod_command_errors_total{cmd=%q}`, name)).Inc()
	}
	m.set.GetOrCreateHistogram(fmt.Sprintf(`dkvmod_command_duration_seconds{cmd=%q}`, name)).UpdateDuration(start)
}

// WriteMetrics writes the server metrics in Prometheus text format.
func (s *Server) WriteMetrics(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}
