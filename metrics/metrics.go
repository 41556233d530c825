package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var once sync.Once
var instance *Metrics

// Metrics holds the Prometheus collectors for the daemon. promauto registers
// with the default registry and panics on a duplicate registration, so the
// collectors are created once and shared through Get.
type Metrics struct {
	RecordsProcessed   prometheus.Counter
	RecordsAllowlisted prometheus.Counter
	Findings           *prometheus.CounterVec
	RuleMatches        prometheus.Counter
	ChainEpisodes      prometheus.Counter
	Bans               *prometheus.CounterVec
	Unbans             prometheus.Counter
	AlertsSent         prometheus.Counter
	PipelineErrors     *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
}

// Get returns the process-wide metrics instance, creating it on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			RecordsProcessed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "rampart_records_processed_total",
				Help: "Access log records run through the pipeline",
			}),

			RecordsAllowlisted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "rampart_records_allowlisted_total",
				Help: "Records dropped because their address is allow-listed",
			}),

			Findings: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rampart_findings_total",
					Help: "Threat findings persisted by the detector battery",
				},
				[]string{"threat_type"},
			),

			RuleMatches: promauto.NewCounter(prometheus.CounterOpts{
				Name: "rampart_rule_matches_total",
				Help: "Custom rule matches that added score",
			}),

			ChainEpisodes: promauto.NewCounter(prometheus.CounterOpts{
				Name: "rampart_chain_episodes_total",
				Help: "Identity chain creations and extensions",
			}),

			Bans: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rampart_bans_total",
					Help: "Bans installed, by tier",
				},
				[]string{"tier"},
			),

			Unbans: promauto.NewCounter(prometheus.CounterOpts{
				Name: "rampart_unbans_total",
				Help: "Bans lifted, manually or by the expiry sweep",
			}),

			AlertsSent: promauto.NewCounter(prometheus.CounterOpts{
				Name: "rampart_alerts_sent_total",
				Help: "Alert webhook deliveries attempted",
			}),

			PipelineErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rampart_pipeline_errors_total",
					Help: "Pipeline step failures that were logged and skipped",
				},
				[]string{"step"},
			),

			QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "rampart_queue_depth",
				Help: "Records waiting in the tailer queue",
			}),
		}
	})
	return instance
}
