package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/bms-acquisition/db"
	"github.com/thatsimonsguy/bms-acquisition/internal/config"
	"github.com/thatsimonsguy/bms-acquisition/internal/pinctrl"
	"github.com/thatsimonsguy/bms-acquisition/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, configFile, out string
	var limit, keep, raw, pin int
	flag.StringVar(&dbPath, "db", "data/bms.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: latest, history, convert, mkconf, install-service, prune, pin")
	flag.StringVar(&configFile, "config-file", "config.yaml", "Path to acquisition config file")
	flag.StringVar(&out, "out", "config.yaml", "Output path for mkconf")
	flag.IntVar(&limit, "limit", 10, "Number of cycles for history")
	flag.IntVar(&keep, "keep", 1000, "Cycles to keep for prune")
	flag.IntVar(&raw, "raw", -1, "Raw auxiliary code for convert")
	flag.IntVar(&pin, "pin", -1, "GPIO pin for pin (defaults to the heartbeat pin)")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of bms-debug:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	var err error
	switch command {
	case "latest":
		err = showLatest(dbPath)
	case "history":
		err = showHistory(dbPath, limit)
	case "convert":
		if raw < 0 || raw > 65535 {
			pterm.Error.Println("-raw must be a code between 0 and 65535")
			os.Exit(1)
		}
		err = convert(configFile, uint16(raw))
	case "mkconf":
		err = writeDefaultConfig(out)
	case "install-service":
		err = installService(configFile)
	case "prune":
		err = db.PruneCLI(dbPath, keep)
	case "pin":
		err = showPin(configFile, pin)
	default:
		pterm.Error.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		pterm.Error.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	pterm.Success.Printf("Command %s completed successfully\n", command)
}

func showLatest(dbPath string) error {
	cycle, err := db.LatestCycleCLI(dbPath)
	if err != nil {
		return err
	}

	pterm.Info.Printf("Cycle %d at %s (%s, fault=%v, errors=%d)\n",
		cycle.Seq, cycle.StartedAt.Format("2006-01-02 15:04:05.000"), cycle.Duration, cycle.Fault, cycle.Errors)
	if err := pterm.DefaultTable.WithHasHeader().WithData(voltageTable(cycle)).Render(); err != nil {
		return err
	}
	return pterm.DefaultTable.WithHasHeader().WithData(temperatureTable(cycle)).Render()
}

func showHistory(dbPath string, limit int) error {
	cycles, err := db.HistoryCLI(dbPath, limit)
	if err != nil {
		return err
	}
	return pterm.DefaultTable.WithHasHeader().WithData(historyTable(cycles)).Render()
}

func convert(configFile string, raw uint16) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	cal, err := cfg.Calibration()
	if err != nil {
		return err
	}

	r := cal.Resistance(raw)
	temp := cal.Convert(raw)
	return pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"raw", "volts", "resistance", "tenths", "celsius"},
		{
			fmt.Sprint(raw),
			fmt.Sprintf("%.4f", float64(raw)/10000),
			fmt.Sprintf("%.3f", r),
			fmt.Sprint(temp),
			fmt.Sprintf("%.1f", float64(temp)/10),
		},
	}).Render()
}

func writeDefaultConfig(path string) error {
	cfg := config.Default()
	cfg.Chain.DeviceConfigs = config.DefaultDeviceConfigs(cfg.Chain.Devices)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	pterm.Info.Printf("Wrote default config to %s\n", path)
	return nil
}

func installService(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	return startup.InstallServices(&cfg)
}

func showPin(configFile string, pin int) error {
	if pin < 0 {
		cfg, err := config.LoadFile(configFile)
		if err != nil {
			return err
		}
		pin = cfg.Heartbeat.Number
	}

	state, err := pinctrl.ReadPin(pin)
	if err != nil {
		return err
	}
	level, err := pinctrl.ReadLevel(pin)
	if err != nil {
		return err
	}
	return pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"pin", "mode", "pull", "drive", "level"},
		{fmt.Sprint(pin), state.Mode, state.Pull, state.Drive, fmt.Sprint(level)},
	}).Render()
}
