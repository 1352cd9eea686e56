package datadog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/bms-acquisition/internal/config"
	"github.com/thatsimonsguy/bms-acquisition/internal/env"
)

type metric struct {
	name  string
	value float64
	tags  []string
}

type fakeClient struct {
	gauges []metric
	counts []metric
	err    error
}

func (f *fakeClient) Gauge(name string, value float64, tags []string, rate float64) error {
	f.gauges = append(f.gauges, metric{name, value, tags})
	return f.err
}

func (f *fakeClient) Count(name string, value int64, tags []string, rate float64) error {
	f.counts = append(f.counts, metric{name, float64(value), tags})
	return f.err
}

func TestGaugeAndCount(t *testing.T) {
	fake := &fakeClient{}
	SetClient(fake)
	defer SetClient(nil)

	Gauge("cell.voltage_code", 37000, "device:0", "cell:1")
	Count("cycle.errors", 2)

	assert.Equal(t, []metric{{"cell.voltage_code", 37000, []string{"device:0", "cell:1"}}}, fake.gauges)
	assert.Equal(t, []metric{{"cycle.errors", 2, nil}}, fake.counts)
}

func TestEmitErrorsAreSwallowed(t *testing.T) {
	fake := &fakeClient{err: errors.New("agent down")}
	SetClient(fake)
	defer SetClient(nil)

	assert.NotPanics(t, func() {
		Gauge("cycle.fault", 1)
		Count("cycle.errors", 1)
	})
	assert.Len(t, fake.gauges, 1)
}

func TestNoClientIsNoop(t *testing.T) {
	SetClient(nil)
	assert.False(t, Enabled())
	assert.NotPanics(t, func() { Gauge("cycle.duration_ms", 12) })
}

func TestInitMetrics_Disabled(t *testing.T) {
	cfg := config.Default()
	env.Cfg = &cfg
	defer func() { env.Cfg = nil }()
	SetClient(nil)

	InitMetrics()

	assert.False(t, Enabled())
}

func TestInitMetrics_Enabled(t *testing.T) {
	cfg := config.Default()
	cfg.Datadog.Enabled = true
	cfg.Datadog.AgentAddr = "127.0.0.1:8125"
	env.Cfg = &cfg
	defer func() { env.Cfg = nil }()
	defer SetClient(nil)

	InitMetrics()

	// UDP clients do not need a listening agent
	assert.True(t, Enabled())
}
