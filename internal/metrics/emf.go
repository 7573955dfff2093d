// Package metrics provides two metric surfaces for the triage service.
//
// emf.go writes CloudWatch Embedded Metrics Format (EMF) documents: one JSON line
// per external call (reasoning, transcription, synthesis, key validation). When
// stdout is shipped to CloudWatch Logs the metrics are extracted automatically;
// elsewhere they are ordinary log lines.
//
// prom.go holds the Prometheus collectors for live process state, served at /metrics.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// Namespace is the CloudWatch namespace used by every recorder in this service.
const Namespace = "PatientTriage"

// CloudWatch units used by the service.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type directive struct {
	Timestamp         int64       `json:"Timestamp"`
	CloudWatchMetrics []metricSet `json:"CloudWatchMetrics"`
}

type metricSet struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder collects one EMF document. Create one per call; it is not safe
// for concurrent use.
type Recorder struct {
	namespace  string
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]float64
	properties map[string]interface{}
}

var (
	// serviceName comes from TRIAGE_SERVICE_NAME, read once.
	serviceName string
	initOnce    sync.Once

	outMu sync.Mutex
	// Output receives flushed EMF lines. Tests may redirect it.
	Output io.Writer = os.Stdout
)

// New creates a recorder in namespace, tagged with a Service dimension when
// TRIAGE_SERVICE_NAME is set.
func New(namespace string) *Recorder {
	initOnce.Do(func() { serviceName = os.Getenv("TRIAGE_SERVICE_NAME") })
	r := &Recorder{
		namespace:  namespace,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]float64),
		properties: make(map[string]interface{}),
	}
	if serviceName != "" {
		r.dimensions["Service"] = serviceName
	}
	return r
}

// Call starts a recorder for one external call: an Operation dimension, its
// latency in prefix+"LatencyMs", and a prefix+"Calls" count, plus
// prefix+"Errors" when err is non-nil.
func Call(prefix, operation string, elapsed time.Duration, err error) *Recorder {
	r := New(Namespace).
		Dimension("Operation", operation).
		Latency(prefix+"LatencyMs", elapsed).
		Count(prefix + "Calls")
	if err != nil {
		r.Count(prefix + "Errors")
	}
	return r
}

// Dimension adds an indexed, filterable attribute.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records value under name with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records a count of one.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Latency records d in milliseconds.
func (r *Recorder) Latency(name string, d time.Duration) *Recorder {
	return r.Metric(name, float64(d.Milliseconds()), UnitMilliseconds)
}

// Property adds a field that is searchable in Logs Insights but is not a metric.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// document builds the EMF document. Dimension and metric order is sorted so
// output is stable.
func (r *Recorder) document(now time.Time) map[string]interface{} {
	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	defs := make([]metricDef, 0, len(r.metrics))
	for _, m := range r.metrics {
		defs = append(defs, m)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	doc := make(map[string]interface{}, 1+len(r.dimensions)+len(r.values)+len(r.properties))
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	doc["_aws"] = directive{
		Timestamp: now.UnixMilli(),
		CloudWatchMetrics: []metricSet{{
			Namespace:  r.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    defs,
		}},
	}
	return doc
}

// Flush writes the document as a single line to Output. A recorder without
// metrics writes nothing. Do not reuse a recorder after Flush.
func (r *Recorder) Flush() {
	if len(r.metrics) == 0 {
		return
	}
	data, err := json.Marshal(r.document(time.Now()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: marshal: %v\n", err)
		return
	}
	data = append(data, '\n')

	outMu.Lock()
	defer outMu.Unlock()
	Output.Write(data)
}
