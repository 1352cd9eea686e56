package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/thatsimonsguy/bms-acquisition/internal/model"
	"github.com/thatsimonsguy/bms-acquisition/internal/registers"
	"github.com/thatsimonsguy/bms-acquisition/internal/thermistor"
)

// SimConfig shapes the simulated chain.
type SimConfig struct {
	Dims         model.Dims
	BaseCellCode int32   // cell code of device 0, cell 0
	Temperature  float32 // aux temperature of device 0, channel 0 (degrees)
	ReadyAfter   int     // polls answered "not ready" after each conversion start
}

// Simulator is an in-process chain that answers like a healthy device string.
// Operations can be made to fail with Fail.
type Simulator struct {
	mu sync.Mutex

	cfg SimConfig
	cal thermistor.Calibration

	converting bool
	polls      int
	seq        int32
	configs    []DeviceConfig
	failures   map[string]error
	calls      map[string]int
}

var _ Client = (*Simulator)(nil)

func NewSimulator(cfg SimConfig, cal thermistor.Calibration) *Simulator {
	if cfg.BaseCellCode == 0 {
		cfg.BaseCellCode = 37000
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 25
	}
	return &Simulator{
		cfg:      cfg,
		cal:      cal,
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Fail makes every later call of op ("wake", "start", "ready", "voltages",
// "aux_a", "aux_b", "config", "write_config") return err. A nil err clears it.
func (s *Simulator) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls reports how many times op has been invoked.
func (s *Simulator) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Simulator) Configs() []DeviceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceConfig(nil), s.configs...)
}

func (s *Simulator) enter(op string) error {
	s.calls[op]++
	return s.failures[op]
}

func (s *Simulator) WakeUp(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enter("wake")
}

func (s *Simulator) StartConversion(ctx context.Context, mode ADCMode, sel ChannelSelection, dischargePermitted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("start"); err != nil {
		return err
	}
	s.converting = true
	s.polls = 0
	if sel.Kind == KindCells {
		s.seq++
	}
	return nil
}

func (s *Simulator) ConversionReady(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ready"); err != nil {
		return false, err
	}
	if !s.converting {
		return true, nil
	}
	s.polls++
	if s.polls <= s.cfg.ReadyAfter {
		return false, nil
	}
	s.converting = false
	return true, nil
}

func (s *Simulator) ReadVoltages(ctx context.Context, sel ChannelSelection) (model.VoltageMatrix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("voltages"); err != nil {
		return nil, err
	}

	m := model.NewVoltageMatrix(s.cfg.Dims.Devices, s.cfg.Dims.Cells)
	for d := range m {
		for c := range m[d] {
			m[d][c] = s.cfg.BaseCellCode + int32(d)*100 + int32(c)*10 + s.seq%5
		}
	}
	return m, nil
}

func (s *Simulator) ReadRegister(ctx context.Context, reg Register) ([][]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(reg.String()); err != nil {
		return nil, err
	}

	var bank int
	switch reg {
	case RegisterAuxA:
		bank = 0
	case RegisterAuxB:
		bank = 1
	default:
		return nil, fmt.Errorf("simulator: register %s not readable", reg)
	}

	aux := model.NewRawAuxMatrix(s.cfg.Dims.Devices, s.cfg.Dims.Aux)
	for d := range aux {
		for ch := range aux[d] {
			temp := s.cfg.Temperature + float32(d)*0.5 + float32(ch)*0.3
			aux[d][ch] = s.cal.RawCode(s.cal.ResistanceAt(temp))
		}
	}
	return registers.Bank(aux, bank), nil
}

func (s *Simulator) WriteConfiguration(ctx context.Context, cfgs []DeviceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("write_config"); err != nil {
		return err
	}
	if len(cfgs) != s.cfg.Dims.Devices {
		return fmt.Errorf("simulator: got %d device configs for %d devices", len(cfgs), s.cfg.Dims.Devices)
	}
	s.configs = append([]DeviceConfig(nil), cfgs...)
	return nil
}

// NewClient builds the chain client named by driver.
func NewClient(driver string, cfg SimConfig, cal thermistor.Calibration) (Client, error) {
	switch driver {
	case "sim", "simulator":
		return NewSimulator(cfg, cal), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
