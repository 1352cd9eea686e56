package gpio

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/bms-acquisition/internal/model"
	"github.com/thatsimonsguy/bms-acquisition/internal/pinctrl"
)

var safeMode bool

func SetSafeMode(enabled bool) {
	safeMode = enabled
}

func SafeMode() bool {
	return safeMode
}

var Activate = func(pin model.GPIOPin) error {
	if safeMode {
		return nil
	}
	if err := pinctrl.SetPin(pin.Number, "op", "pn", drive(pin, true)); err != nil {
		return fmt.Errorf("failed to activate pin %d: %w", pin.Number, err)
	}
	return nil
}

var Deactivate = func(pin model.GPIOPin) error {
	if safeMode {
		return nil
	}
	if err := pinctrl.SetPin(pin.Number, "op", "pn", drive(pin, false)); err != nil {
		return fmt.Errorf("failed to deactivate pin %d: %w", pin.Number, err)
	}
	return nil
}

func drive(pin model.GPIOPin, active bool) string {
	if pin.ActiveHigh == active {
		return "dh"
	}
	return "dl"
}

// ValidateOutputPin fails when pin is configured as anything but an output.
// A pin that is still unclaimed ("no") is accepted; Activate will claim it.
var ValidateOutputPin = func(pin model.GPIOPin) error {
	state, err := pinctrl.ReadPin(pin.Number)
	if err != nil {
		return err
	}
	if state.Mode != "no" && !state.Output() {
		return fmt.Errorf("pin %d is configured as %q, expected an output", pin.Number, state.Mode)
	}
	return nil
}

// Heartbeat is the status LED: each Toggle flips it.
type Heartbeat struct {
	mu  sync.Mutex
	pin model.GPIOPin
	on  bool
}

func NewHeartbeat(pin model.GPIOPin) *Heartbeat {
	return &Heartbeat{pin: pin}
}

func (h *Heartbeat) Toggle() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := !h.on
	set := Deactivate
	if next {
		set = Activate
	}
	if err := set(h.pin); err != nil {
		return err
	}
	h.on = next

	log.Debug().Int("pin", h.pin.Number).Bool("on", next).Msg("Heartbeat toggled")
	return nil
}

// Off leaves the LED dark, for shutdown.
func (h *Heartbeat) Off() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := Deactivate(h.pin); err != nil {
		return err
	}
	h.on = false
	return nil
}

func (h *Heartbeat) On() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.on
}
