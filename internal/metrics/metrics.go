// Package metrics counts copy outcomes, window enhancements and manifest
// builds on a private prometheus registry.
package metrics

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the registry and counters. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	copies         *prometheus.CounterVec
	enhancements   *prometheus.CounterVec
	manifestsBuilt prometheus.Counter
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		copies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_assist_copies_total",
				Help: "Clipboard copies by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		enhancements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_assist_enhancements_total",
				Help: "Form window enhancement attempts by result",
			},
			[]string{"result"},
		),
		manifestsBuilt: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "form_assist_manifests_built_total",
				Help: "Field manifests built",
			},
		),
	}
}

// CopyRecorded counts one copy.
func (r *Recorder) CopyRecorded(kind, outcome string) {
	if r == nil {
		return
	}
	r.copies.WithLabelValues(kind, outcome).Inc()
}

// EnhancementRecorded counts one enhancement attempt.
func (r *Recorder) EnhancementRecorded(result string) {
	if r == nil {
		return
	}
	r.enhancements.WithLabelValues(result).Inc()
}

// ManifestBuilt counts one manifest build.
func (r *Recorder) ManifestBuilt() {
	if r == nil {
		return
	}
	r.manifestsBuilt.Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Snapshot returns the current value of every form_assist counter, keyed by
// metric name plus sorted labels, e.g.
// form_assist_copies_total{kind="field",outcome="ok"}.
func (r *Recorder) Snapshot() map[string]float64 {
	out := map[string]float64{}
	if r == nil {
		return out
	}
	families, err := r.registry.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "form_assist_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+`="`+lp.GetValue()+`"`)
			}
			sort.Strings(labels)
			key := mf.GetName()
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out
}
