// Package metrics is a small process-local registry rendered in the
// Prometheus text format. Unregistered metric names are silently ignored
// so instrumentation call sites never fail a session.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

type metricType string

const (
	counterType   metricType = "counter"
	gaugeType     metricType = "gauge"
	histogramType metricType = "histogram"
)

type descriptor struct {
	Name    string
	Help    string
	Type    metricType
	Buckets []float64
}

type series struct {
	Labels       map[string]string
	Value        float64
	Count        uint64
	Sum          float64
	BucketCounts []uint64
}

type Registry struct {
	mu     sync.RWMutex
	descs  map[string]descriptor
	series map[string]map[string]*series
}

func NewRegistry() *Registry {
	r := &Registry{
		descs:  make(map[string]descriptor),
		series: make(map[string]map[string]*series),
	}
	r.registerDefaults()
	return r
}

func (r *Registry) registerDefaults() {
	durationBuckets := []float64{250, 500, 1000, 2500, 5000, 15000, 60000, 300000, 1800000, 7200000}
	r.RegisterCounter("meetingbot_joins_total", "Join attempts by platform and outcome.")
	r.RegisterCounter("meetingbot_sessions_ended_total", "Sessions ended by platform and end reason.")
	r.RegisterGauge("meetingbot_active_sessions", "Sessions currently between start and cleanup.")
	r.RegisterHistogram("meetingbot_join_duration_ms", "Time from session start to the joined signal by platform.", durationBuckets)
	r.RegisterHistogram("meetingbot_session_duration_ms", "Total session duration by platform and end reason.", durationBuckets)
	r.RegisterHistogram("meetingbot_capture_finalize_ms", "Encoder finalize latency by stop status.", []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000})
	r.RegisterCounter("meetingbot_callback_posts_total", "Callback deliveries by kind and status.")
	r.RegisterCounter("meetingbot_callback_retries_total", "Transient callback delivery retries by reason.")
	r.RegisterCounter("meetingbot_uploads_total", "Artifact uploads by provider and status.")
	r.RegisterCounter("meetingbot_heartbeats_total", "Heartbeat job runs by status.")
}

func (r *Registry) RegisterCounter(name, help string) {
	r.register(descriptor{Name: name, Help: help, Type: counterType})
}

func (r *Registry) RegisterGauge(name, help string) {
	r.register(descriptor{Name: name, Help: help, Type: gaugeType})
}

func (r *Registry) RegisterHistogram(name, help string, buckets []float64) {
	cp := append([]float64(nil), buckets...)
	sort.Float64s(cp)
	r.register(descriptor{Name: name, Help: help, Type: histogramType, Buckets: cp})
}

func (r *Registry) register(d descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs[d.Name] = d
}

func (r *Registry) IncCounter(name string, labels map[string]string) {
	r.AddCounter(name, 1, labels)
}

func (r *Registry) AddCounter(name string, delta float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seriesFor(name, counterType, labels)
	if !ok {
		return
	}
	s.Value += delta
}

func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seriesFor(name, gaugeType, labels)
	if !ok {
		return
	}
	s.Value = value
}

func (r *Registry) AddGauge(name string, delta float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seriesFor(name, gaugeType, labels)
	if !ok {
		return
	}
	s.Value += delta
}

func (r *Registry) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	desc, ok := r.descs[name]
	if !ok || desc.Type != histogramType {
		return
	}
	s, ok := r.seriesFor(name, histogramType, labels)
	if !ok {
		return
	}
	if s.BucketCounts == nil {
		s.BucketCounts = make([]uint64, len(desc.Buckets)+1)
	}
	bi := len(desc.Buckets)
	for i, bucket := range desc.Buckets {
		if value <= bucket {
			bi = i
			break
		}
	}
	s.BucketCounts[bi]++
	s.Count++
	s.Sum += value
}

// seriesFor returns the series for name+labels, creating it on first use.
// Caller holds r.mu.
func (r *Registry) seriesFor(name string, want metricType, labels map[string]string) (*series, bool) {
	desc, ok := r.descs[name]
	if !ok || desc.Type != want {
		return nil, false
	}
	byKey := r.series[name]
	if byKey == nil {
		byKey = make(map[string]*series)
		r.series[name] = byKey
	}
	key := labelsKey(labels)
	s := byKey[key]
	if s == nil {
		s = &series{Labels: cloneLabels(labels)}
		byKey[key] = s
	}
	return s, true
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.descs))
	for name := range r.descs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		d := r.descs[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", name, d.Help, name, d.Type)
		byKey := r.series[name]
		if len(byKey) == 0 {
			continue
		}
		keys := make([]string, 0, len(byKey))
		for key := range byKey {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			s := byKey[key]
			switch d.Type {
			case counterType, gaugeType:
				writeMetricLine(&b, name, s.Labels, trimFloat(s.Value))
			case histogramType:
				var cumulative uint64
				for i := range d.Buckets {
					if i < len(s.BucketCounts) {
						cumulative += s.BucketCounts[i]
					}
					withLE := cloneLabels(s.Labels)
					withLE["le"] = trimFloat(d.Buckets[i])
					writeMetricLine(&b, name+"_bucket", withLE, fmt.Sprintf("%d", cumulative))
				}
				if n := len(s.BucketCounts); n > 0 {
					cumulative += s.BucketCounts[n-1]
				}
				withLE := cloneLabels(s.Labels)
				withLE["le"] = "+Inf"
				writeMetricLine(&b, name+"_bucket", withLE, fmt.Sprintf("%d", cumulative))
				writeMetricLine(&b, name+"_sum", s.Labels, trimFloat(s.Sum))
				writeMetricLine(&b, name+"_count", s.Labels, fmt.Sprintf("%d", s.Count))
			}
		}
	}
	return b.String()
}

func writeMetricLine(b *strings.Builder, name string, labels map[string]string, value string) {
	b.WriteString(name)
	if len(labels) > 0 {
		keys := make([]string, 0, len(labels))
		for key := range labels {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, key := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(b, "%s=%q", key, labels[key])
		}
		b.WriteString("}")
	}
	b.WriteString(" ")
	b.WriteString(value)
	b.WriteString("\n")
}

func labelsKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(labels[key])
		b.WriteString(";")
	}
	return b.String()
}

func cloneLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" {
		return "0"
	}
	return s
}

var (
	defaultMu       sync.Mutex
	defaultRegistry = NewRegistry()
)

func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRegistry
}

func ResetDefaultForTest() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = NewRegistry()
}
