// Package metrics counts pipeline outcomes in process and mirrors every
// increment to an OpenTelemetry counter.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Counter names
const (
	ScanUploads      = "scan_uploads_total"
	ScanSyncs        = "scan_sync_total"
	ScanSyncSlots    = "scan_sync_slots_updated_total"
	KVQuotaEvictions = "kv_quota_evictions_total"
	ChatMessages     = "chat_messages_total"
)

// Sample is one labelled counter value
type Sample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  int64             `json:"value"`
}

type series struct {
	name   string
	labels map[string]string
	attrs  metric.MeasurementOption
	value  atomic.Int64
}

// Registry keeps one series per name and label set
type Registry struct {
	meter metric.Meter

	mu          sync.Mutex
	series      map[string]*series
	instruments map[string]metric.Int64Counter
}

func NewRegistry() *Registry {
	return &Registry{
		meter:       otel.GetMeterProvider().Meter("glowscan"),
		series:      make(map[string]*series),
		instruments: make(map[string]metric.Int64Counter),
	}
}

// seriesKey renders name{k=v,...} with labels sorted by key
func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// Inc adds n to the series. A nil Registry is a no-op.
func (r *Registry) Inc(ctx context.Context, name string, labels map[string]string, n int64) {
	if r == nil {
		return
	}
	s, inst := r.lookup(name, labels)
	s.value.Add(n)
	if inst != nil {
		inst.Add(ctx, n, s.attrs)
	}
}

func (r *Registry) lookup(name string, labels map[string]string) (*series, metric.Int64Counter) {
	key := seriesKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.series[key]
	if !ok {
		copied := make(map[string]string, len(labels))
		attrs := make([]attribute.KeyValue, 0, len(labels))
		for k, v := range labels {
			copied[k] = v
			attrs = append(attrs, attribute.String(k, v))
		}
		s = &series{name: name, labels: copied, attrs: metric.WithAttributes(attrs...)}
		r.series[key] = s
	}

	inst, ok := r.instruments[name]
	if !ok {
		// a failed instrument is remembered as nil, in-process counting still works
		inst, _ = r.meter.Int64Counter(name)
		r.instruments[name] = inst
	}
	return s, inst
}

// Value returns the current value of a series
func (r *Registry) Value(name string, labels map[string]string) int64 {
	r.mu.Lock()
	s := r.series[seriesKey(name, labels)]
	r.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.value.Load()
}

// Samples returns every series ordered by name then labels
func (r *Registry) Samples() []Sample {
	r.mu.Lock()
	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Sample, 0, len(keys))
	for _, k := range keys {
		s := r.series[k]
		sample := Sample{Name: s.name, Value: s.value.Load()}
		if len(s.labels) > 0 {
			sample.Labels = s.labels
		}
		out = append(out, sample)
	}
	r.mu.Unlock()
	return out
}

// ServeHTTP writes Samples as JSON
func (r *Registry) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(r.Samples())
}
