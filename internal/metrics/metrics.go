// Package metrics exposes store contents and hook activity as Prometheus
// metrics.
//
// There is no listening port. The exposition is printed by "ctxlearn stats"
// or written to a node_exporter textfile after each hook invocation.
package metrics

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/hooks"
	"github.com/fyrsmithlabs/ctxlearn/internal/store"
)

const namespace = "ctxlearn"

// DefaultCollectTimeout bounds the store read made during a gather.
const DefaultCollectTimeout = 2 * time.Second

// StatsSource supplies store statistics.
type StatsSource interface {
	Stats(ctx context.Context) (store.Stats, error)
}

// Config configures metric export.
type Config struct {
	// Textfile is written after every hook invocation when set.
	Textfile string `koanf:"textfile" json:"textfile"`
}

// Collector reads Stats at gather time.
type Collector struct {
	src     StatsSource
	timeout time.Duration
	logger  *zap.Logger

	up             *prometheus.Desc
	patterns       *prometheus.Desc
	proven         *prometheus.Desc
	weak           *prometheus.Desc
	avgConfidence  *prometheus.Desc
	failures       *prometheus.Desc
	sessions       *prometheus.Desc
	causalLinks    *prometheus.Desc
	scrapeDuration *prometheus.Desc
}

// NewCollector returns a collector over src.
func NewCollector(src StatsSource, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		src:            src,
		timeout:        DefaultCollectTimeout,
		logger:         logger,
		up:             desc("store_up", "Whether the last store read succeeded (1) or not (0)"),
		patterns:       desc("patterns", "Number of stored patterns"),
		proven:         desc("patterns_proven", "Patterns with confidence above 0.8"),
		weak:           desc("patterns_weak", "Patterns with confidence below 0.5 seen more than once"),
		avgConfidence:  desc("pattern_confidence_avg", "Mean confidence across patterns"),
		failures:       desc("failures", "Number of recorded failures"),
		sessions:       desc("sessions", "Number of persisted sessions"),
		causalLinks:    desc("causal_links", "Number of causal links"),
		scrapeDuration: desc("store_scrape_duration_seconds", "Time spent reading store statistics"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.patterns
	ch <- c.proven
	ch <- c.weak
	ch <- c.avgConfidence
	ch <- c.failures
	ch <- c.sessions
	ch <- c.causalLinks
	ch <- c.scrapeDuration
}

// Collect implements prometheus.Collector. A failed read reports store_up 0
// and no content gauges.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	st, err := c.src.Stats(ctx)
	ch <- prometheus.MustNewConstMetric(c.scrapeDuration, prometheus.GaugeValue, time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn("collecting store stats failed", zap.Error(err))
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.patterns, prometheus.GaugeValue, float64(st.Patterns))
	ch <- prometheus.MustNewConstMetric(c.proven, prometheus.GaugeValue, float64(st.ProvenPatterns))
	ch <- prometheus.MustNewConstMetric(c.weak, prometheus.GaugeValue, float64(st.WeakPatterns))
	ch <- prometheus.MustNewConstMetric(c.avgConfidence, prometheus.GaugeValue, st.AverageConfidence)
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(st.Failures))
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(st.Sessions))
	ch <- prometheus.MustNewConstMetric(c.causalLinks, prometheus.GaugeValue, float64(st.CausalLinks))
}

// Registry owns a private Prometheus registry with the store collector and
// the hook counters.
type Registry struct {
	reg      *prometheus.Registry
	cfg      Config
	logger   *zap.Logger
	hooks    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New builds a Registry. Hook counters are process-local.
func New(src StatsSource, cfg Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		reg:    prometheus.NewRegistry(),
		cfg:    cfg,
		logger: logger,
		hooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hooks",
				Name:      "invocations_total",
				Help:      "Total number of hook invocations by verb and result",
			},
			[]string{"verb", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "hooks",
				Name:      "duration_seconds",
				Help:      "Duration of hook invocations in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"verb"},
		),
	}

	collectors := []prometheus.Collector{r.hooks, r.duration}
	if src != nil {
		collectors = append(collectors, NewCollector(src, logger))
	}
	for _, c := range collectors {
		if err := r.reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return r, nil
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveHook counts one hook invocation. It has the hooks.Handler
// signature so it can be registered on a Dispatcher.
func (r *Registry) ObserveHook(_ context.Context, ev hooks.Event) error {
	r.hooks.WithLabelValues(string(ev.Verb), string(ev.Result)).Inc()
	r.duration.WithLabelValues(string(ev.Verb)).Observe(ev.Duration.Seconds())
	if r.cfg.Textfile == "" {
		return nil
	}
	return r.WriteTextfile()
}

// WriteText writes the text exposition format to w.
func (r *Registry) WriteText(w io.Writer) error {
	families, err := r.reg.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encoding %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteTextfile atomically replaces the configured textfile.
func (r *Registry) WriteTextfile() error {
	if r.cfg.Textfile == "" {
		return fmt.Errorf("metrics.textfile is not configured")
	}
	if err := prometheus.WriteToTextfile(r.cfg.Textfile, r.reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
