package render

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/intelgputop/internal/engine"
)

func promFrame() Frame {
	return Frame{
		Period:        time.Second,
		FreqActual:    Metric{Value: 1200, OK: true},
		FreqRequested: Metric{Value: 1300, OK: true},
		Interrupts:    Metric{Value: 250, OK: true},
		RC6:           Metric{Value: 25, OK: true},
		PowerPkg:      Metric{Value: 4.5, OK: true},
		IMCUnit:       "MiB/s",
		Engines: []EngineRow{
			{Name: "Render/3D/0", Short: "RCS/0", Class: engine.Render, Busy: Metric{Value: 100, OK: true}},
			{Name: "VideoEnhance/0", Short: "VECS/0", Class: engine.VideoEnhance, Busy: Metric{Value: 3, OK: true}, Wait: Metric{Value: 1, OK: true}},
		},
		Clamped: 2,
	}
}

func TestMetricName(t *testing.T) {
	assert.Equal(t, "intel_gpu_top_imc_bandwidth_reads", MetricName("imc-bandwidth", "reads"))
	assert.Equal(t, "intel_gpu_top_engines_render_3d_0_busy", MetricName("engines_Render/3D/0", "busy"))
	assert.Equal(t, "intel_gpu_top_power_gpu", MetricName("power", "GPU"))
}

func TestFrameCollector(t *testing.T) {
	collector := newFrameCollector(promFrame())

	// 4 device values, package power, 3 engine values and the clamp counter.
	assert.Equal(t, 9, testutil.CollectAndCount(collector))

	expected := `
# HELP intel_gpu_top_frequency_actual Actual GPU frequency in MHz.
# TYPE intel_gpu_top_frequency_actual gauge
intel_gpu_top_frequency_actual 1200
# HELP intel_gpu_top_engines_videoenhance_0_wait VideoEnhance/0 time spent waiting on dependencies in percent.
# TYPE intel_gpu_top_engines_videoenhance_0_wait gauge
intel_gpu_top_engines_videoenhance_0_wait 1
# HELP intel_gpu_top_sampler_clamped_total Percentages clamped to 100 since start.
# TYPE intel_gpu_top_sampler_clamped_total gauge
intel_gpu_top_sampler_clamped_total 2
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"intel_gpu_top_frequency_actual",
		"intel_gpu_top_engines_videoenhance_0_wait",
		"intel_gpu_top_sampler_clamped_total",
	)
	require.NoError(t, err)
}

func TestPrometheusRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrometheus(&buf).Render(promFrame()))

	help := make(map[string]int)
	types := make(map[string]int)
	samples := make(map[string]int)
	name := regexp.MustCompile(`^intel_gpu_top_[a-z0-9_]+$`)

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		fields := strings.Fields(line)
		switch {
		case strings.HasPrefix(line, "# HELP "):
			help[fields[2]]++
		case strings.HasPrefix(line, "# TYPE "):
			require.Equal(t, "gauge", fields[3])
			types[fields[2]]++
		default:
			require.Len(t, fields, 2, "sample line %q", line)
			samples[fields[0]]++
		}
	}

	require.Len(t, samples, 9)
	for metric, n := range samples {
		assert.Regexp(t, name, metric)
		assert.Equal(t, 1, n, metric)
		assert.Equal(t, 1, help[metric], metric)
		assert.Equal(t, 1, types[metric], metric)
	}
	assert.NotContains(t, samples, "intel_gpu_top_power_gpu", "absent counters are not exported")
	assert.NotContains(t, samples, "intel_gpu_top_engines_render_3d_0_sema")
	assert.Contains(t, samples, "intel_gpu_top_power_package")
}
