package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/bms-acquisition/internal/config"
	"github.com/thatsimonsguy/bms-acquisition/internal/model"
)

const gpioUnitName = "bms-gpio-init.service"

// BootScript returns a shell script that claims pin as an output at its inactive level.
func BootScript(pin model.GPIOPin) string {
	drive := "dl"
	if !pin.ActiveHigh {
		drive = "dh"
	}
	lines := []string{
		"#!/bin/bash",
		"",
		"# BMS acquisition GPIO configuration at boot",
		"",
		"# heartbeat",
		fmt.Sprintf("pinctrl set %d op pn %s", pin.Number, drive),
		"",
	}
	return strings.Join(lines, "\n")
}

func WriteBootScript(cfg *config.Config) error {
	if err := os.WriteFile(cfg.Service.BootScript, []byte(BootScript(cfg.Heartbeat)), 0755); err != nil {
		return fmt.Errorf("write boot script: %w", err)
	}
	return nil
}

func GPIOUnit(cfg *config.Config) string {
	return fmt.Sprintf(`[Unit]
Description=Configure BMS GPIO pins at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, cfg.Service.BootScript)
}

func MainUnit(cfg *config.Config) string {
	execCmd := cfg.Service.BinaryPath
	if cfg.ConfigFile != "" {
		configPath, err := filepath.Abs(cfg.ConfigFile)
		if err != nil {
			configPath = cfg.ConfigFile
		}
		execCmd += " -config-file " + configPath
	}

	return fmt.Sprintf(`[Unit]
Description=BMS acquisition service
After=%s
Requires=%s

[Service]
Type=simple
User=%s
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, cfg.Service.User, execCmd)
}

// InstallServices writes the boot script and both systemd units.
func InstallServices(cfg *config.Config) error {
	if err := WriteBootScript(cfg); err != nil {
		return err
	}

	units := map[string]string{
		gpioUnitName:                  GPIOUnit(cfg),
		cfg.Service.Name + ".service": MainUnit(cfg),
	}
	for name, contents := range units {
		path := filepath.Join(cfg.Service.UnitDir, name)
		if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
			return fmt.Errorf("write unit %s: %w", name, err)
		}
		log.Info().Str("path", path).Msg("Installed systemd unit")
	}
	return nil
}

// RunBootScript applies the boot script now, without waiting for a reboot.
func RunBootScript(cfg *config.Config) error {
	cmd := exec.Command("/bin/bash", cfg.Service.BootScript)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
