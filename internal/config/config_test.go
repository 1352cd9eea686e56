package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/bms-acquisition/internal/chain"
	"github.com/thatsimonsguy/bms-acquisition/internal/model"
	"github.com/thatsimonsguy/bms-acquisition/internal/thermistor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFile_DefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, model.Dims{Devices: 2, Cells: 12, Aux: 6}, cfg.Dims())
	assert.Equal(t, 500*time.Millisecond, cfg.Acquisition.Period)
	assert.Equal(t, 10*time.Millisecond, cfg.Acquisition.PollInterval)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, chain.ModeNormal, cfg.ADCMode())
	assert.Len(t, cfg.Chain.DeviceConfigs, 2)
	assert.True(t, cfg.Chain.DeviceConfigs[1].ReferenceOn)
	assert.True(t, cfg.Channels.Enabled)
	assert.Equal(t, 5.0, cfg.Channels.MaxDelta)

	cal, err := cfg.Calibration()
	require.NoError(t, err)
	assert.Equal(t, thermistor.Default().LUT, cal.LUT)

	assert.NotPanics(t, func() { cfg.validate() })
}

func TestLoadFile_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
api_port: 9090
heartbeat_gpio:
  number: 22
  active_high: false
chain:
  devices: 3
  cells_per_device: 18
  aux_per_device: 5
  adc_mode: filtered
  discharge_permitted: true
acquisition:
  period: 2s
  poll_interval: 5ms
  poll_retries: 7
channel_monitor:
  enabled: false
  max_delta: 0
datadog:
  enabled: true
  tags: ["pack:a", "site:lab"]
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, model.GPIOPin{Number: 22, ActiveHigh: false}, cfg.Heartbeat)
	assert.Equal(t, model.Dims{Devices: 3, Cells: 18, Aux: 5}, cfg.Dims())
	assert.Equal(t, chain.ModeFiltered, cfg.ADCMode())
	assert.True(t, cfg.Chain.DischargePermitted)
	assert.Equal(t, 2*time.Second, cfg.Acquisition.Period)
	assert.Equal(t, 5*time.Millisecond, cfg.Acquisition.PollInterval)
	assert.Equal(t, 7, cfg.Acquisition.PollRetries)
	assert.Equal(t, []string{"pack:a", "site:lab"}, cfg.Datadog.Tags)
	assert.Len(t, cfg.Chain.DeviceConfigs, 3)
	assert.False(t, cfg.Channels.Enabled)
	assert.NotPanics(t, func() { cfg.validate() }, "disabled monitor settings are not checked")

	// untouched keys keep their defaults
	assert.Equal(t, "sim", cfg.Chain.Driver)
	assert.Equal(t, "data/bms.db", cfg.DBPath)
	assert.Equal(t, 3.0, cfg.Thermistor.Supply)
}

func TestLoadFile_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "api_port: 9090\nchain:\n  devices: 3\n")
	t.Setenv("BMS_API_PORT", "7070")
	t.Setenv("BMS_CHAIN__DEVICES", "4")
	t.Setenv("BMS_SAFE_MODE", "true")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.APIPort)
	assert.Equal(t, 4, cfg.Chain.Devices)
	assert.True(t, cfg.SafeMode)
	assert.Len(t, cfg.Chain.DeviceConfigs, 4)
}

func TestLoadFile_BadYAML(t *testing.T) {
	path := writeConfig(t, "chain: [unterminated")

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestCalibration_LUTOverride(t *testing.T) {
	cfg := Default()
	cfg.Thermistor = ThermistorConfig{
		Supply: 3.3, FixedResistor: 10, MinTemp: 0, MaxTemp: 20, Increment: 10,
		LUT: []float64{30, 10, 5},
	}

	cal, err := cfg.Calibration()
	require.NoError(t, err)
	assert.Equal(t, []float32{30, 10, 5}, cal.LUT)
	assert.Equal(t, float32(3.3), cal.Supply)

	cfg.Thermistor.LUT = []float64{5, 10, 30}
	_, err = cfg.Calibration()
	assert.ErrorIs(t, err, thermistor.ErrInvalidCalibration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no devices", func(c *Config) { c.Chain.Devices = 0 }},
		{"no cells", func(c *Config) { c.Chain.CellsPerDevice = 0 }},
		{"too many aux", func(c *Config) { c.Chain.AuxPerDevice = 7 }},
		{"bad adc mode", func(c *Config) { c.Chain.ADCMode = "turbo" }},
		{"device config count", func(c *Config) { c.Chain.DeviceConfigs = DefaultDeviceConfigs(1) }},
		{"negative period", func(c *Config) { c.Acquisition.Period = -time.Second }},
		{"negative retries", func(c *Config) { c.Acquisition.PollRetries = -1 }},
		{"bad calibration", func(c *Config) { c.Thermistor.Supply = 0 }},
		{"bad port", func(c *Config) { c.APIPort = 70000 }},
		{"negative retention", func(c *Config) { c.RetentionCycles = -1 }},
		{"zero channel delta", func(c *Config) { c.Channels.MaxDelta = 0 }},
		{"zero channel anomalies", func(c *Config) { c.Channels.MaxAnomalies = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Chain.DeviceConfigs = DefaultDeviceConfigs(cfg.Chain.Devices)
			tt.mutate(&cfg)
			assert.Panics(t, func() { cfg.validate() })
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "api_port", envKey("BMS_API_PORT"))
	assert.Equal(t, "chain.cells_per_device", envKey("BMS_CHAIN__CELLS_PER_DEVICE"))
	assert.Equal(t, "acquisition.poll_retries", envKey("BMS_ACQUISITION__POLL_RETRIES"))
}
