package temperature

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/bms-acquisition/internal/model"
)

type MockNotifier struct {
	messages []string
}

func (m *MockNotifier) Send(title, message string) error {
	m.messages = append(m.messages, title+": "+message)
	return nil
}

func newTestMonitor(n Notifier) *Monitor {
	return NewMonitor(MonitorConfig{
		MaxDelta:     5,
		MaxAnomalies: 3,
		HistorySize:  10,
		MinTemp:      -40,
		MaxTemp:      120,
	}, n)
}

var key = ChannelKey{Device: 1, Channel: 2}

func TestAnomalyScenarios(t *testing.T) {
	tests := []struct {
		name     string
		readings []float64
		accepted []bool
		disabled bool
	}{
		{
			name:     "steady readings all accepted",
			readings: []float64{25, 25.5, 26, 26.2},
			accepted: []bool{true, true, true, true},
		},
		{
			name:     "single spike rejected",
			readings: []float64{25, 60, 25.3},
			accepted: []bool{true, false, true},
		},
		{
			name:     "open circuit at low clamp",
			readings: []float64{25, -40, 25},
			accepted: []bool{true, false, true},
		},
		{
			name:     "shorted thermistor disables channel",
			readings: []float64{25, 120, 120, 120},
			accepted: []bool{true, false, false, false},
			disabled: true,
		},
		{
			name:     "stable step change becomes new baseline",
			readings: []float64{25, 40, 40.2, 40.1},
			accepted: []bool{true, false, false, true},
		},
		{
			name:     "erratic channel disabled",
			readings: []float64{25, 50, 10, 70},
			accepted: []bool{true, false, false, false},
			disabled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &MockNotifier{}
			m := newTestMonitor(notifier)
			now := time.Now()

			for i, r := range tt.readings {
				got := m.processReading(key, r, now.Add(time.Duration(i)*time.Second))
				assert.Equal(t, tt.accepted[i], got, "reading %d (%.1f)", i, r)
			}

			assert.Equal(t, tt.disabled, m.history[key].Disabled)
			if tt.disabled {
				require.Len(t, notifier.messages, 1)
				assert.Contains(t, notifier.messages[0], "Thermistor Disabled")
				assert.Contains(t, notifier.messages[0], "device 1 channel 2")
			} else {
				assert.Empty(t, notifier.messages)
			}
		})
	}
}

func TestRecoveryAfterDisable(t *testing.T) {
	notifier := &MockNotifier{}
	m := newTestMonitor(notifier)
	now := time.Now()

	for i, r := range []float64{25, 120, 120, 120} {
		m.processReading(key, r, now.Add(time.Duration(i)*time.Second))
	}
	require.True(t, m.history[key].Disabled)
	assert.Equal(t, 1, m.DisabledChannels())

	for i, r := range []float64{25.1, 25.2, 25.3} {
		assert.True(t, m.processReading(key, r, now.Add(time.Duration(10+i)*time.Second)))
	}

	assert.False(t, m.history[key].Disabled)
	assert.Equal(t, 0, m.DisabledChannels())
	require.Len(t, notifier.messages, 2)
	assert.Contains(t, notifier.messages[1], "Thermistor Recovered")
}

func TestRecoveryResetsOnBadReading(t *testing.T) {
	m := newTestMonitor(nil)
	now := time.Now()

	for _, r := range []float64{25, 120, 120, 120, 25.1, 25.2, 120, 25.1, 25.2} {
		m.processReading(key, r, now)
	}
	assert.True(t, m.history[key].Disabled)
	assert.Equal(t, 2, m.history[key].RecoveryCount)
}

func TestHistoryIsBounded(t *testing.T) {
	m := newTestMonitor(nil)
	for i := 0; i < 25; i++ {
		m.processReading(key, 25, time.Now())
	}
	assert.Len(t, m.history[key].Readings, 10)
}

func TestPublish_TracksEveryChannel(t *testing.T) {
	m := newTestMonitor(nil)
	cycle := model.Cycle{
		Seq:          1,
		StartedAt:    time.Now(),
		Temperatures: model.NewTemperatureMatrix(2, 3),
	}
	for d := range cycle.Temperatures {
		for ch := range cycle.Temperatures[d] {
			cycle.Temperatures[d][ch] = 250
		}
	}
	cycle.Temperatures[1][0] = 1200

	require.NoError(t, m.Publish(context.Background(), cycle))

	status := m.Status()
	require.Len(t, status, 6)
	assert.Equal(t, ChannelKey{Device: 0, Channel: 0}, status[0].ChannelKey)
	assert.Equal(t, ChannelKey{Device: 1, Channel: 2}, status[5].ChannelKey)
	assert.Equal(t, 25.0, status[0].LastGood)
	assert.Equal(t, 1, status[3].Anomalies)
	assert.False(t, status[3].Disabled)
}

func TestNewMonitor_Defaults(t *testing.T) {
	m := NewMonitor(MonitorConfig{MaxDelta: 5}, nil)
	assert.Equal(t, 20, m.cfg.HistorySize)
	assert.Equal(t, 6, m.cfg.MaxAnomalies)
}
