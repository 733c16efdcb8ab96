package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const metricNamespace = "intel_gpu_top"

// Prometheus prints a frame as a single text exposition snapshot.
type Prometheus struct {
	w io.Writer
}

// NewPrometheus returns a snapshot renderer writing to w.
func NewPrometheus(w io.Writer) *Prometheus {
	return &Prometheus{w: w}
}

// Render gathers every present metric of f and writes them in the text
// exposition format.
func (p *Prometheus) Render(f Frame) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(newFrameCollector(f)); err != nil {
		return fmt.Errorf("register frame collector: %w", err)
	}

	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(p.w, family); err != nil {
			return fmt.Errorf("write %s: %w", family.GetName(), err)
		}
	}
	return flush(p.w)
}

type frameCollector struct {
	metrics []frameMetric
}

type frameMetric struct {
	desc  *prometheus.Desc
	value float64
}

func newFrameCollector(f Frame) *frameCollector {
	c := &frameCollector{}
	add := func(group, item, help string, m Metric) {
		if !m.OK {
			return
		}
		c.metrics = append(c.metrics, frameMetric{
			desc:  prometheus.NewDesc(MetricName(group, item), help, nil, nil),
			value: m.Value,
		})
	}

	add("frequency", "requested", "Requested GPU frequency in MHz.", f.FreqRequested)
	add("frequency", "actual", "Actual GPU frequency in MHz.", f.FreqActual)
	add("interrupts", "count", "GPU interrupts per second.", f.Interrupts)
	add("rc6", "value", "Share of time the GPU spent in RC6 in percent.", f.RC6)
	add("power", "GPU", "GPU power draw in Watts.", f.PowerGPU)
	add("power", "Package", "Package power draw in Watts.", f.PowerPkg)
	add("imc-bandwidth", "reads", "Memory controller read bandwidth in "+f.IMCUnit+".", f.IMCReads)
	add("imc-bandwidth", "writes", "Memory controller write bandwidth in "+f.IMCUnit+".", f.IMCWrites)

	for _, e := range f.Engines {
		group := "engines_" + e.Name
		add(group, "busy", e.Name+" busy in percent.", e.Busy)
		add(group, "sema", e.Name+" time spent waiting on semaphores in percent.", e.Sema)
		add(group, "wait", e.Name+" time spent waiting on dependencies in percent.", e.Wait)
	}

	add("sampler", "clamped_total", "Percentages clamped to 100 since start.", Metric{Value: float64(f.Clamped), OK: true})
	return c
}

func (c *frameCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *frameCollector) Collect(ch chan<- prometheus.Metric) {
	for _, metric := range c.metrics {
		ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, metric.value)
	}
}

// MetricName builds intel_gpu_top_<group>_<item>, lower-cased with every
// other non-alphanumeric byte turned into an underscore.
func MetricName(group, item string) string {
	return prometheus.BuildFQName(metricNamespace, sanitize(group), sanitize(item))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, s)
}
