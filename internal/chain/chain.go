package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/thatsimonsguy/bms-acquisition/internal/model"
)

var ErrUnknownDriver = errors.New("unknown chain driver")

// Client is the monitor chain collaborator. It owns the wire protocol and addresses
// every device in the chain at once; calls must not overlap.
type Client interface {
	// WakeUp is advisory: devices that are already awake may report an error.
	WakeUp(ctx context.Context) error
	StartConversion(ctx context.Context, mode ADCMode, sel ChannelSelection, dischargePermitted bool) error
	ConversionReady(ctx context.Context) (bool, error)
	ReadVoltages(ctx context.Context, sel ChannelSelection) (model.VoltageMatrix, error)
	// ReadRegister returns one row of register values per device.
	ReadRegister(ctx context.Context, reg Register) ([][]uint16, error)
	WriteConfiguration(ctx context.Context, cfgs []DeviceConfig) error
}

type ADCMode int

const (
	ModeNormal ADCMode = iota
	ModeFast
	ModeFiltered
	ModeOther
)

func (m ADCMode) String() string {
	switch m {
	case ModeFast:
		return "fast"
	case ModeFiltered:
		return "filtered"
	case ModeOther:
		return "other"
	default:
		return "normal"
	}
}

func ParseADCMode(s string) (ADCMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return ModeNormal, nil
	case "fast":
		return ModeFast, nil
	case "filtered":
		return ModeFiltered, nil
	case "other":
		return ModeOther, nil
	default:
		return ModeNormal, fmt.Errorf("unknown adc mode %q", s)
	}
}

type ChannelKind int

const (
	KindCells ChannelKind = iota
	KindGPIO
)

// ChannelSelection picks a channel group. Group 0 selects every group of Kind.
type ChannelSelection struct {
	Kind  ChannelKind
	Group int
}

var (
	AllCells = ChannelSelection{Kind: KindCells}
	AllGPIO  = ChannelSelection{Kind: KindGPIO}
)

func CellGroup(n int) ChannelSelection {
	return ChannelSelection{Kind: KindCells, Group: n}
}

func (s ChannelSelection) String() string {
	kind := "cells"
	if s.Kind == KindGPIO {
		kind = "gpio"
	}
	if s.Group == 0 {
		return kind + ":all"
	}
	return fmt.Sprintf("%s:%d", kind, s.Group)
}

type Register int

const (
	RegisterAuxA Register = iota
	RegisterAuxB
	RegisterConfig
	RegisterStatus
)

func (r Register) String() string {
	switch r {
	case RegisterAuxA:
		return "aux_a"
	case RegisterAuxB:
		return "aux_b"
	case RegisterConfig:
		return "config"
	case RegisterStatus:
		return "status"
	default:
		return fmt.Sprintf("register(%d)", int(r))
	}
}

// DeviceConfig is the per-device configuration register content written at startup.
type DeviceConfig struct {
	GPIOPullDownOff  [5]bool `koanf:"gpio_pull_down_off" json:"gpio_pull_down_off" yaml:"gpio_pull_down_off"`
	ReferenceOn      bool    `koanf:"reference_on" json:"reference_on" yaml:"reference_on"`
	ADCOption        bool    `koanf:"adc_option" json:"adc_option" yaml:"adc_option"`
	UnderVoltageCode uint16  `koanf:"under_voltage_code" json:"under_voltage_code" yaml:"under_voltage_code"`
	OverVoltageCode  uint16  `koanf:"over_voltage_code" json:"over_voltage_code" yaml:"over_voltage_code"`
	DischargeCells   uint16  `koanf:"discharge_cells" json:"discharge_cells" yaml:"discharge_cells"`
	DischargeTimeout uint8   `koanf:"discharge_timeout" json:"discharge_timeout" yaml:"discharge_timeout"`
}
