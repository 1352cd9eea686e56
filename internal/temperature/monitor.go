package temperature

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/bms-acquisition/internal/model"
)

// Notifier sends operator notifications.
type Notifier interface {
	Send(title, message string) error
}

type Reading struct {
	Temperature float64 // degrees C
	Timestamp   time.Time
	Valid       bool
}

// ChannelKey addresses one auxiliary channel in the chain.
type ChannelKey struct {
	Device  int `json:"device"`
	Channel int `json:"channel"`
}

func (k ChannelKey) String() string {
	return fmt.Sprintf("device %d channel %d", k.Device, k.Channel)
}

type ReadingHistory struct {
	Readings        []Reading
	MaxSize         int
	AnomalyCount    int
	RecoveryCount   int // consecutive good readings while disabled
	Disabled        bool
	DisabledAt      time.Time
	LastGoodReading Reading
}

type ChannelStatus struct {
	ChannelKey
	LastGood   float64   `json:"last_good"`
	Anomalies  int       `json:"anomalies"`
	Disabled   bool      `json:"disabled"`
	DisabledAt time.Time `json:"disabled_at,omitempty"`
}

type MonitorConfig struct {
	MaxDelta     float64 // largest accepted change between readings, degrees C
	MaxAnomalies int     // anomalies before a channel is disabled, and good readings before it recovers
	HistorySize  int
	MinTemp      float64 // readings at or beyond the converter's clamps mean an open or shorted thermistor
	MaxTemp      float64
}

// Monitor watches every thermistor channel for open circuits, shorts and jumps
// no real cell can make between cycles.
type Monitor struct {
	mutex    sync.RWMutex
	cfg      MonitorConfig
	history  map[ChannelKey]*ReadingHistory
	notifier Notifier
}

func NewMonitor(cfg MonitorConfig, notifier Notifier) *Monitor {
	if cfg.HistorySize < 3 {
		cfg.HistorySize = 20
	}
	if cfg.MaxAnomalies < 1 {
		cfg.MaxAnomalies = 6
	}
	return &Monitor{
		cfg:      cfg,
		history:  make(map[ChannelKey]*ReadingHistory),
		notifier: notifier,
	}
}

// Publish feeds every temperature of a cycle through anomaly detection.
func (m *Monitor) Publish(ctx context.Context, cycle model.Cycle) error {
	rejected := 0
	for d, row := range cycle.Temperatures {
		for ch, tenths := range row {
			key := ChannelKey{Device: d, Channel: ch}
			temp := float64(tenths) / 10
			if !m.processReading(key, temp, cycle.StartedAt) {
				rejected++
				log.Debug().
					Str("channel", key.String()).
					Float64("temp", temp).
					Msg("Temperature reading rejected as anomalous")
			}
		}
	}
	if rejected > 0 {
		log.Warn().Uint64("seq", cycle.Seq).Int("rejected", rejected).Msg("Anomalous temperature readings in cycle")
	}
	return nil
}

// processReading reports whether temp is accepted for key.
func (m *Monitor) processReading(key ChannelKey, temp float64, timestamp time.Time) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	history := m.history[key]
	if history == nil {
		history = &ReadingHistory{
			Readings: make([]Reading, 0, m.cfg.HistorySize),
			MaxSize:  m.cfg.HistorySize,
		}
		m.history[key] = history
	}

	reading := Reading{
		Temperature: temp,
		Timestamp:   timestamp,
		Valid:       temp > m.cfg.MinTemp && temp < m.cfg.MaxTemp,
	}

	if !reading.Valid {
		history.RecoveryCount = 0
		history.AnomalyCount++
		m.checkDisableThreshold(key, history, temp)
		return false
	}

	// first valid reading is the baseline
	if !history.LastGoodReading.Valid {
		history.LastGoodReading = reading
		m.addToHistory(history, reading)
		return true
	}

	if history.Disabled {
		if !m.isAnomalousReading(history, temp) || m.detectStableNewBaseline(history, reading) {
			history.RecoveryCount++
			history.LastGoodReading = reading
			m.addToHistory(history, reading)
			if history.RecoveryCount >= m.cfg.MaxAnomalies {
				history.Disabled = false
				history.AnomalyCount = 0
				history.RecoveryCount = 0
				m.sendRecoveryNotification(key, temp)
				log.Info().Str("channel", key.String()).Msg("Thermistor channel recovered and re-enabled")
			}
			return true
		}
		history.RecoveryCount = 0
		m.addToHistory(history, reading)
		return false
	}

	if m.isAnomalousReading(history, temp) {
		m.addToHistory(history, reading)

		if m.detectStableNewBaseline(history, reading) {
			history.AnomalyCount = 0
			history.LastGoodReading = reading
			log.Info().
				Str("channel", key.String()).
				Float64("temp", temp).
				Msg("Stable new baseline detected, accepting temperature")
			return true
		}

		history.AnomalyCount++
		m.checkDisableThreshold(key, history, temp)
		return false
	}

	history.AnomalyCount = 0
	history.LastGoodReading = reading
	m.addToHistory(history, reading)
	return true
}

func (m *Monitor) isAnomalousReading(history *ReadingHistory, temp float64) bool {
	return math.Abs(temp-history.LastGoodReading.Temperature) > m.cfg.MaxDelta
}

// detectStableNewBaseline accepts a step change once the last three readings
// agree with each other, even though they disagree with the old baseline.
func (m *Monitor) detectStableNewBaseline(history *ReadingHistory, latest Reading) bool {
	const samples = 3
	n := len(history.Readings)
	if n < samples {
		return false
	}

	recent := history.Readings[n-samples:]
	var sum float64
	for _, r := range recent {
		if !r.Valid {
			return false
		}
		sum += r.Temperature
	}
	mean := sum / samples

	var variance float64
	for _, r := range recent {
		variance += (r.Temperature - mean) * (r.Temperature - mean)
	}
	stdDev := math.Sqrt(variance / samples)

	if stdDev < m.cfg.MaxDelta/4 {
		log.Debug().
			Float64("mean", mean).
			Float64("stddev", stdDev).
			Float64("latest", latest.Temperature).
			Msg("Stable baseline detected")
		return true
	}
	return false
}

func (m *Monitor) addToHistory(history *ReadingHistory, reading Reading) {
	if len(history.Readings) >= history.MaxSize {
		history.Readings = history.Readings[1:]
	}
	history.Readings = append(history.Readings, reading)
}

func (m *Monitor) checkDisableThreshold(key ChannelKey, history *ReadingHistory, temp float64) {
	if history.AnomalyCount < m.cfg.MaxAnomalies || history.Disabled {
		return
	}
	history.Disabled = true
	history.DisabledAt = time.Now()

	log.Error().
		Str("channel", key.String()).
		Float64("temp", temp).
		Float64("last_good", history.LastGoodReading.Temperature).
		Msg("Thermistor channel disabled")
	m.sendDisableNotification(key, temp, history.LastGoodReading.Temperature)
}

func (m *Monitor) sendDisableNotification(key ChannelKey, currentTemp, lastGoodTemp float64) {
	if m.notifier == nil {
		return
	}
	message := fmt.Sprintf("[Thermistor Disabled] %s: %.1f°C (%d anomalies, last good: %.1f°C)",
		key, currentTemp, m.cfg.MaxAnomalies, lastGoodTemp)
	if err := m.notifier.Send("BMS Thermistor Failure", message); err != nil {
		log.Error().Err(err).Msg("Failed to send thermistor failure notification")
	}
}

func (m *Monitor) sendRecoveryNotification(key ChannelKey, temp float64) {
	if m.notifier == nil {
		return
	}
	message := fmt.Sprintf("[Thermistor Recovered] %s: %.1f°C (%d consecutive good readings)",
		key, temp, m.cfg.MaxAnomalies)
	if err := m.notifier.Send("BMS Thermistor Recovery", message); err != nil {
		log.Error().Err(err).Msg("Failed to send thermistor recovery notification")
	}
}

// Status returns every tracked channel, ordered by device then channel.
func (m *Monitor) Status() []ChannelStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]ChannelStatus, 0, len(m.history))
	for key, h := range m.history {
		out = append(out, ChannelStatus{
			ChannelKey: key,
			LastGood:   h.LastGoodReading.Temperature,
			Anomalies:  h.AnomalyCount,
			Disabled:   h.Disabled,
			DisabledAt: h.DisabledAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}

// DisabledChannels counts channels currently disabled.
func (m *Monitor) DisabledChannels() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	n := 0
	for _, h := range m.history {
		if h.Disabled {
			n++
		}
	}
	return n
}
