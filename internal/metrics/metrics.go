package metrics

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry collects process-local counters for the watch and stream
// subsystems and renders them in Prometheus text format.
type Registry struct {
	watchesActive   atomic.Int64
	refreshes       atomic.Int64
	refreshFailures atomic.Int64
	ollamaRequests  atomic.Int64
	ollamaFailures  atomic.Int64

	published   sync.Map // bus|type -> *atomic.Int64
	dropped     sync.Map // bus|type -> *atomic.Int64
	subscribers sync.Map // bus -> *atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncWatchActive() {
	if r == nil {
		return
	}
	r.watchesActive.Add(1)
}

func (r *Registry) DecWatchActive() {
	if r == nil {
		return
	}
	r.watchesActive.Add(-1)
}

func (r *Registry) RecordRefresh(err error) {
	if r == nil {
		return
	}
	r.refreshes.Add(1)
	if err != nil {
		r.refreshFailures.Add(1)
	}
}

func (r *Registry) RecordOllamaRequest(err error) {
	if r == nil {
		return
	}
	r.ollamaRequests.Add(1)
	if err != nil {
		r.ollamaFailures.Add(1)
	}
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	counter(&r.published, labelKey(bus, eventType)).Add(1)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	counter(&r.dropped, labelKey(bus, eventType)).Add(1)
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	counter(&r.subscribers, bus).Store(int64(count))
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeGauge(writer, "jsonwatch_watches_active", "Currently watched files", r.watchesActive.Load())
	writeCounter(writer, "jsonwatch_refreshes_total", "File refresh attempts", r.refreshes.Load())
	writeCounter(writer, "jsonwatch_refresh_failures_total", "File refresh failures", r.refreshFailures.Load())
	writeCounter(writer, "jsonwatch_ollama_requests_total", "Ollama passthrough requests", r.ollamaRequests.Load())
	writeCounter(writer, "jsonwatch_ollama_failures_total", "Ollama passthrough failures", r.ollamaFailures.Load())

	writeHelp(writer, "jsonwatch_events_published_total", "Events published per bus and type")
	fmt.Fprintln(writer, "# TYPE jsonwatch_events_published_total counter")
	writeLabeled(writer, "jsonwatch_events_published_total", &r.published)

	writeHelp(writer, "jsonwatch_events_dropped_total", "Events dropped per bus and type")
	fmt.Fprintln(writer, "# TYPE jsonwatch_events_dropped_total counter")
	writeLabeled(writer, "jsonwatch_events_dropped_total", &r.dropped)

	writeHelp(writer, "jsonwatch_event_subscribers", "Active subscribers per bus")
	fmt.Fprintln(writer, "# TYPE jsonwatch_event_subscribers gauge")
	for _, key := range sortedKeys(&r.subscribers) {
		fmt.Fprintf(writer, "jsonwatch_event_subscribers{bus=%s} %d\n", formatLabel(key), counter(&r.subscribers, key).Load())
	}

	return nil
}

func writeLabeled(writer io.Writer, metric string, values *sync.Map) {
	for _, key := range sortedKeys(values) {
		bus, eventType := splitLabelKey(key)
		fmt.Fprintf(writer, "%s{bus=%s,type=%s} %d\n", metric, formatLabel(bus), formatLabel(eventType), counter(values, key).Load())
	}
}

func counter(values *sync.Map, key string) *atomic.Int64 {
	value, _ := values.LoadOrStore(key, &atomic.Int64{})
	return value.(*atomic.Int64)
}

func sortedKeys(values *sync.Map) []string {
	var keys []string
	values.Range(func(key, _ any) bool {
		if name, ok := key.(string); ok {
			keys = append(keys, name)
		}
		return true
	})
	sort.Strings(keys)
	return keys
}

func labelKey(bus, eventType string) string {
	if bus == "" {
		bus = "event_bus"
	}
	if eventType == "" {
		eventType = "unknown"
	}
	return bus + "\x00" + eventType
}

func formatLabel(value string) string {
	return strconv.Quote(value)
}

func splitLabelKey(key string) (string, string) {
	parts := strings.SplitN(key, "\x00", 2)
	if len(parts) != 2 {
		return key, "unknown"
	}
	return parts[0], parts[1]
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}
