// Package metric measures transforms of rfpipe runs. Counters are
// published with expvar and can be exported to prometheus with Collector.
package metric

import (
	"expvar"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const transformsLabel = "rfpipe.transforms"

const (
	// ChunkCounter measures number of processed chunks.
	ChunkCounter = "Chunks"
	// SampleCounter measures number of processed samples.
	SampleCounter = "Samples"
	// LatencyCounter measures processing time of the latest chunk.
	LatencyCounter = "Latency"
	// DurationCounter counts what's the duration of processed signal.
	DurationCounter = "Duration"
	// ComponentCounter counts number of metered transforms.
	ComponentCounter = "Components"
)

var (
	components = metrics{
		m: make(map[string]metric),
	}

	counters = []string{
		ChunkCounter,
		SampleCounter,
		LatencyCounter,
		DurationCounter,
		ComponentCounter,
	}
)

// Get metrics values for provided component type.
func Get(component interface{}) map[string]string {
	return getCounters(getType(component))
}

// GetAll returns counters for all measured components.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	components.Lock()
	defer components.Unlock()
	for component := range components.m {
		m[component] = getCounters(component)
	}
	return m
}

func getCounters(componentType string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(componentType, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// MeasureFunc captures metrics when a chunk of samples is processed.
type MeasureFunc func(samples int64, elapsed time.Duration)

// Meter creates new measure closure to capture component counters.
// dtSample is the duration of one sample in seconds.
func Meter(component interface{}, dtSample float64) MeasureFunc {
	t := getType(component)
	metric := components.get(t)
	metric.components.Add(1)
	var (
		chunkSize     int64
		chunkDuration time.Duration
	)
	return func(s int64, elapsed time.Duration) {
		metric.latency.set(elapsed)
		metric.chunks.Add(1)
		metric.samples.Add(s)
		// recalculate chunk duration only when chunk size has changed
		if chunkSize != s {
			chunkSize = s
			chunkDuration = DurationOf(dtSample, s)
		}
		metric.duration.add(chunkDuration)
	}
}

// DurationOf returns time duration of samples for the sample period.
func DurationOf(dtSample float64, samples int64) time.Duration {
	return time.Duration(dtSample * float64(samples) * float64(time.Second))
}

type metrics struct {
	sync.Mutex
	m map[string]metric
}

func (m *metrics) get(componentType string) metric {
	m.Lock()
	defer m.Unlock()
	if metric, ok := m.m[componentType]; ok {
		// return existing metric if available
		return metric
	}
	// create new metric
	metric := newMetric(componentType)
	m.m[componentType] = metric
	return metric
}

type metric struct {
	key        string
	components *expvar.Int
	chunks     *expvar.Int
	samples    *expvar.Int
	latency    *duration
	duration   *duration
}

func newMetric(componentType string) metric {
	m := metric{
		key:        componentType,
		components: expvar.NewInt(key(componentType, ComponentCounter)),
		chunks:     expvar.NewInt(key(componentType, ChunkCounter)),
		samples:    expvar.NewInt(key(componentType, SampleCounter)),
		latency:    &duration{},
		duration:   &duration{},
	}
	expvar.Publish(key(componentType, LatencyCounter), m.latency)
	expvar.Publish(key(componentType, DurationCounter), m.duration)
	return m
}

func key(componentType, counter string) string {
	return fmt.Sprintf("%s.%s.%s", transformsLabel, componentType, counter)
}

func getType(component interface{}) string {
	rv := reflect.ValueOf(component)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	return rv.Type().String()
}

// duration allows to format time.Duration metric values.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%v", v.value())
}

func (v *duration) value() time.Duration {
	return time.Duration(atomic.LoadInt64(&v.d))
}

func (v *duration) add(delta time.Duration) {
	atomic.AddInt64(&v.d, int64(delta))
}

func (v *duration) set(value time.Duration) {
	atomic.StoreInt64(&v.d, int64(value))
}

var (
	chunksDesc = prometheus.NewDesc(
		"rfpipe_transform_chunks_total",
		"Number of chunks processed by transform type.",
		[]string{"transform"}, nil,
	)
	samplesDesc = prometheus.NewDesc(
		"rfpipe_transform_samples_total",
		"Number of samples processed by transform type.",
		[]string{"transform"}, nil,
	)
	latencyDesc = prometheus.NewDesc(
		"rfpipe_transform_latency_seconds",
		"Processing time of the latest chunk by transform type.",
		[]string{"transform"}, nil,
	)
	durationDesc = prometheus.NewDesc(
		"rfpipe_transform_signal_seconds_total",
		"Duration of signal processed by transform type.",
		[]string{"transform"}, nil,
	)
	componentsDesc = prometheus.NewDesc(
		"rfpipe_transform_instances",
		"Number of metered transforms by type.",
		[]string{"transform"}, nil,
	)
)

// Collector returns a prometheus collector that exports the counters of
// all measured components.
func Collector() prometheus.Collector {
	return collector{}
}

type collector struct{}

func (collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- chunksDesc
	ch <- samplesDesc
	ch <- latencyDesc
	ch <- durationDesc
	ch <- componentsDesc
}

func (collector) Collect(ch chan<- prometheus.Metric) {
	components.Lock()
	defer components.Unlock()
	for t, m := range components.m {
		ch <- prometheus.MustNewConstMetric(chunksDesc, prometheus.CounterValue, float64(m.chunks.Value()), t)
		ch <- prometheus.MustNewConstMetric(samplesDesc, prometheus.CounterValue, float64(m.samples.Value()), t)
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, m.latency.value().Seconds(), t)
		ch <- prometheus.MustNewConstMetric(durationDesc, prometheus.CounterValue, m.duration.value().Seconds(), t)
		ch <- prometheus.MustNewConstMetric(componentsDesc, prometheus.GaugeValue, float64(m.components.Value()), t)
	}
}
