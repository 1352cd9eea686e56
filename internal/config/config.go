package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/bms-acquisition/internal/chain"
	"github.com/thatsimonsguy/bms-acquisition/internal/model"
	"github.com/thatsimonsguy/bms-acquisition/internal/registers"
	"github.com/thatsimonsguy/bms-acquisition/internal/thermistor"
)

const EnvPrefix = "BMS_"

type ChainConfig struct {
	Driver             string               `koanf:"driver" yaml:"driver"`
	Devices            int                  `koanf:"devices" yaml:"devices"`
	CellsPerDevice     int                  `koanf:"cells_per_device" yaml:"cells_per_device"`
	AuxPerDevice       int                  `koanf:"aux_per_device" yaml:"aux_per_device"`
	ADCMode            string               `koanf:"adc_mode" yaml:"adc_mode"`
	DischargePermitted bool                 `koanf:"discharge_permitted" yaml:"discharge_permitted"`
	DeviceConfigs      []chain.DeviceConfig `koanf:"device_configs" yaml:"device_configs,omitempty"`

	// simulator only
	SimTemperature float64 `koanf:"sim_temperature" yaml:"sim_temperature"`
	SimReadyAfter  int     `koanf:"sim_ready_after" yaml:"sim_ready_after"`
}

type AcquisitionConfig struct {
	Period       time.Duration `koanf:"period" yaml:"period"`
	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	PollRetries  int           `koanf:"poll_retries" yaml:"poll_retries"`
}

type ThermistorConfig struct {
	Supply        float64 `koanf:"supply" yaml:"supply"`
	FixedResistor float64 `koanf:"fixed_resistor" yaml:"fixed_resistor"`
	MinTemp       float64 `koanf:"min_temp" yaml:"min_temp"`
	MaxTemp       float64 `koanf:"max_temp" yaml:"max_temp"`
	Increment     float64 `koanf:"increment" yaml:"increment"`
	// empty selects the built-in cell module table
	LUT []float64 `koanf:"lut" yaml:"lut,omitempty"`
}

type ChannelMonitorConfig struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`
	// degrees C between consecutive readings of one channel
	MaxDelta     float64 `koanf:"max_delta" yaml:"max_delta"`
	MaxAnomalies int     `koanf:"max_anomalies" yaml:"max_anomalies"`
}

type DatadogConfig struct {
	Enabled   bool     `koanf:"enabled" yaml:"enabled"`
	AgentAddr string   `koanf:"agent_addr" yaml:"agent_addr"`
	Namespace string   `koanf:"namespace" yaml:"namespace"`
	Tags      []string `koanf:"tags" yaml:"tags"`
}

type ServiceConfig struct {
	Name       string `koanf:"name" yaml:"name"`
	BinaryPath string `koanf:"binary_path" yaml:"binary_path"`
	User       string `koanf:"user" yaml:"user"`
	UnitDir    string `koanf:"unit_dir" yaml:"unit_dir"`
	BootScript string `koanf:"boot_script" yaml:"boot_script"`
}

type Config struct {
	ConfigFile string        `koanf:"-" yaml:"-"`
	LogLevel   zerolog.Level `koanf:"-" yaml:"-"`

	LogLevelName string        `koanf:"log_level" yaml:"log_level"`
	LogFile      string        `koanf:"log_file" yaml:"log_file"`
	DBPath       string        `koanf:"db_path" yaml:"db_path"`
	APIPort      int           `koanf:"api_port" yaml:"api_port"`
	SafeMode     bool          `koanf:"safe_mode" yaml:"safe_mode"`
	Heartbeat    model.GPIOPin `koanf:"heartbeat_gpio" yaml:"heartbeat_gpio"`

	NtfyURL   string `koanf:"ntfy_url" yaml:"ntfy_url"`
	NtfyTopic string `koanf:"ntfy_topic" yaml:"ntfy_topic"`

	// 0 keeps every cycle
	RetentionCycles int `koanf:"retention_cycles" yaml:"retention_cycles"`

	Chain       ChainConfig          `koanf:"chain" yaml:"chain"`
	Acquisition AcquisitionConfig    `koanf:"acquisition" yaml:"acquisition"`
	Thermistor  ThermistorConfig     `koanf:"thermistor" yaml:"thermistor"`
	Channels    ChannelMonitorConfig `koanf:"channel_monitor" yaml:"channel_monitor"`
	Datadog     DatadogConfig        `koanf:"datadog" yaml:"datadog"`
	Service     ServiceConfig        `koanf:"service" yaml:"service"`
}

// Default returns the configuration used when neither file nor environment set a key.
func Default() Config {
	cal := thermistor.Default()

	return Config{
		LogLevelName:    "info",
		LogFile:         "/var/log/bms-acquisition.log",
		DBPath:          "data/bms.db",
		APIPort:         8080,
		Heartbeat:       model.GPIOPin{Number: 17, ActiveHigh: true},
		NtfyURL:         "https://ntfy.sh",
		RetentionCycles: 10000,
		Chain: ChainConfig{
			Driver:         "sim",
			Devices:        2,
			CellsPerDevice: 12,
			AuxPerDevice:   2 * registers.BankWidth,
			ADCMode:        "normal",
			SimTemperature: 25,
		},
		Acquisition: AcquisitionConfig{
			Period:       500 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
			PollRetries:  50,
		},
		Thermistor: ThermistorConfig{
			Supply:        float64(cal.Supply),
			FixedResistor: float64(cal.FixedResistor),
			MinTemp:       float64(cal.MinTemp),
			MaxTemp:       float64(cal.MaxTemp),
			Increment:     float64(cal.Increment),
		},
		Channels: ChannelMonitorConfig{
			Enabled:      true,
			MaxDelta:     5,
			MaxAnomalies: 6,
		},
		Datadog: DatadogConfig{
			AgentAddr: "127.0.0.1:8125",
			Namespace: "bms.",
		},
		Service: ServiceConfig{
			Name:       "bms-acquisition",
			BinaryPath: "/usr/local/bin/bms-acquisition",
			User:       "root",
			UnitDir:    "/etc/systemd/system",
			BootScript: "/usr/local/bin/bms-gpio-init.sh",
		},
	}
}

// Load parses the command line flags and loads the configuration they point at.
// Invalid configuration panics.
func Load() Config {
	var configFile, logLevel string

	flag.StringVar(&configFile, "config-file", "config.yaml", "Path to acquisition config file")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	flag.Parse()

	cfg, err := LoadFile(configFile)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}
	if logLevel != "" {
		cfg.LogLevelName = logLevel
		cfg.LogLevel = parseLogLevel(logLevel)
	}

	cfg.validate()
	return cfg
}

// LoadFile layers defaults, the YAML file at path (if it exists) and BMS_ environment
// variables. A double underscore in a variable name separates nesting levels, so
// BMS_CHAIN__DEVICES sets chain.devices.
func LoadFile(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigFile = path
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)

	if len(cfg.Chain.DeviceConfigs) == 0 {
		cfg.Chain.DeviceConfigs = DefaultDeviceConfigs(cfg.Chain.Devices)
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// DefaultDeviceConfigs returns one configuration per device with the reference on and
// every GPIO pull-down off, so the thermistor dividers read unloaded.
func DefaultDeviceConfigs(devices int) []chain.DeviceConfig {
	if devices < 0 {
		devices = 0
	}
	cfgs := make([]chain.DeviceConfig, devices)
	for i := range cfgs {
		cfgs[i] = chain.DeviceConfig{
			GPIOPullDownOff: [5]bool{true, true, true, true, true},
			ReferenceOn:     true,
		}
	}
	return cfgs
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Dims is the matrix shape every cycle publishes.
func (cfg *Config) Dims() model.Dims {
	return model.Dims{
		Devices: cfg.Chain.Devices,
		Cells:   cfg.Chain.CellsPerDevice,
		Aux:     cfg.Chain.AuxPerDevice,
	}
}

// ADCMode returns the parsed conversion mode. validate has already rejected bad names.
func (cfg *Config) ADCMode() chain.ADCMode {
	mode, _ := chain.ParseADCMode(cfg.Chain.ADCMode)
	return mode
}

// Calibration builds the thermistor calibration from the configured set.
func (cfg *Config) Calibration() (thermistor.Calibration, error) {
	t := cfg.Thermistor
	lut := thermistor.DefaultLUT
	if len(t.LUT) > 0 {
		lut = make([]float32, len(t.LUT))
		for i, r := range t.LUT {
			lut[i] = float32(r)
		}
	}
	return thermistor.New(float32(t.Supply), float32(t.FixedResistor), float32(t.MinTemp), float32(t.MaxTemp), float32(t.Increment), lut)
}

func (cfg *Config) validate() {
	var problems []string
	c := cfg.Chain

	if c.Devices <= 0 {
		problems = append(problems, fmt.Sprintf("chain.devices must be positive, got %d", c.Devices))
	}
	if c.CellsPerDevice <= 0 {
		problems = append(problems, fmt.Sprintf("chain.cells_per_device must be positive, got %d", c.CellsPerDevice))
	}
	if c.AuxPerDevice <= 0 || c.AuxPerDevice > 2*registers.BankWidth {
		problems = append(problems, fmt.Sprintf("chain.aux_per_device must be between 1 and %d, got %d", 2*registers.BankWidth, c.AuxPerDevice))
	}
	if _, err := chain.ParseADCMode(c.ADCMode); err != nil {
		problems = append(problems, "chain.adc_mode: "+err.Error())
	}
	if len(c.DeviceConfigs) != c.Devices {
		problems = append(problems, fmt.Sprintf("chain.device_configs has %d entries for %d devices", len(c.DeviceConfigs), c.Devices))
	}

	a := cfg.Acquisition
	if a.Period < 0 {
		problems = append(problems, "acquisition.period must not be negative")
	}
	if a.PollInterval < 0 {
		problems = append(problems, "acquisition.poll_interval must not be negative")
	}
	if a.PollRetries < 0 {
		problems = append(problems, "acquisition.poll_retries must not be negative")
	}

	if _, err := cfg.Calibration(); err != nil {
		problems = append(problems, "thermistor: "+err.Error())
	}

	if cfg.Channels.Enabled {
		if cfg.Channels.MaxDelta <= 0 {
			problems = append(problems, "channel_monitor.max_delta must be positive")
		}
		if cfg.Channels.MaxAnomalies < 1 {
			problems = append(problems, "channel_monitor.max_anomalies must be at least 1")
		}
	}

	if cfg.APIPort < 0 || cfg.APIPort > 65535 {
		problems = append(problems, fmt.Sprintf("api_port %d out of range", cfg.APIPort))
	}
	if cfg.RetentionCycles < 0 {
		problems = append(problems, "retention_cycles must not be negative")
	}
	if cfg.Heartbeat.Number < 0 {
		problems = append(problems, fmt.Sprintf("heartbeat_gpio.number %d is not a pin", cfg.Heartbeat.Number))
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, "; "))
	}
}
