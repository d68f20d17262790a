package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder exports loop outcomes as Prometheus counters.
type Recorder struct {
	attempts *prometheus.CounterVec
	skips    *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outreach",
			Name:      "send_attempts_total",
			Help:      "Send attempts by loop and outcome.",
		}, []string{"loop", "result"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outreach",
			Name:      "skips_total",
			Help:      "Campaigns or leads skipped in a cycle by loop and reason.",
		}, []string{"loop", "reason"}),
	}
	reg.MustRegister(r.attempts, r.skips)
	return r
}

func (r *Recorder) Attempt(loop, result string) {
	r.attempts.WithLabelValues(loop, result).Inc()
}

func (r *Recorder) Skip(loop, reason string) {
	r.skips.WithLabelValues(loop, reason).Inc()
}
