package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects per-page metrics for a run. Each Recorder owns its
// registry so concurrent runs and tests never share collectors.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	pagesTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	textLength      *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec

	mu      sync.Mutex
	metrics []Metric
}

// NewRecorder creates a recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		pagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dococr_pages_total",
				Help: "Total number of pages processed",
			},
			[]string{"provider", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dococr_ocr_request_duration_seconds",
				Help:    "OCR request duration in seconds",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 600},
			},
			[]string{"provider"},
		),
		textLength: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dococr_ocr_text_length",
				Help:    "Length of extracted text",
				Buckets: []float64{0, 10, 50, 100, 500, 1000, 5000, 10000, 50000},
			},
			[]string{"provider"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dococr_tokens_total",
				Help: "Total tokens reported by the server",
			},
			[]string{"provider", "kind"}, // kind: prompt, completion
		),
	}
}

// Record stores a single page metric and updates the collectors.
func (r *Recorder) Record(m Metric) {
	if r == nil {
		return
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	r.pagesTotal.WithLabelValues(m.Provider, m.Status()).Inc()
	if m.ExecutionSeconds > 0 {
		r.requestDuration.WithLabelValues(m.Provider).Observe(m.ExecutionSeconds)
	}
	if m.Success {
		r.textLength.WithLabelValues(m.Provider).Observe(float64(m.Chars))
	}
	if m.PromptTokens > 0 {
		r.tokensTotal.WithLabelValues(m.Provider, "prompt").Add(float64(m.PromptTokens))
	}
	if m.CompletionTokens > 0 {
		r.tokensTotal.WithLabelValues(m.Provider, "completion").Add(float64(m.CompletionTokens))
	}

	r.mu.Lock()
	r.metrics = append(r.metrics, m)
	r.mu.Unlock()
}

// Metrics returns a copy of everything recorded so far.
func (r *Recorder) Metrics() []Metric {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Metric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

// Summary aggregates everything recorded so far.
func (r *Recorder) Summary() Summary {
	return Summarize(r.Metrics())
}

// Registry exposes the underlying Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// WriteTextfile writes the registry in the text exposition format, for
// node_exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
