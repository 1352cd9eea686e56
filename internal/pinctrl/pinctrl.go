package pinctrl

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

type PinState struct {
	Pin     int
	Mode    string // "ip", "op", "no"
	Pull    string // "pu", "pd", "pn"
	Drive   string // "dh", "dl", ""
	Level   string // "hi", "lo", "--"
	Comment string // typically includes GPIO#
}

// Output reports whether the pin is configured as an output.
func (s PinState) Output() bool {
	return s.Mode == "op"
}

var pinLineRegex = regexp.MustCompile(`^\s*(\d+):\s+(\S+)\s+(.*?)\s+\|\s+(\S+)\s+//\s+(.*GPIO(\d+).*)$`)

// run executes pinctrl with args. Tests replace it.
var run = func(args ...string) ([]byte, error) {
	out, err := exec.Command("pinctrl", args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("pinctrl %s: %w (output: %s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// ReadAllPins returns the parsed result of `pinctrl get`, keyed by pin number.
func ReadAllPins() (map[int]PinState, error) {
	out, err := run("get")
	if err != nil {
		return nil, fmt.Errorf("failed to execute pinctrl get: %w", err)
	}
	return parseGetOutput(bytes.NewReader(out))
}

// ReadPin returns the PinState for a specific GPIO pin.
func ReadPin(pin int) (*PinState, error) {
	all, err := ReadAllPins()
	if err != nil {
		return nil, err
	}
	state, ok := all[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d not found in pinctrl output", pin)
	}
	return &state, nil
}

// ReadLevel performs a fast read of the logic level of a pin using `pinctrl lev <pin>`.
func ReadLevel(pin int) (bool, error) {
	out, err := run("lev", strconv.Itoa(pin))
	if err != nil {
		return false, fmt.Errorf("failed to read level for pin %d: %w", pin, err)
	}
	return parseLevel(string(out))
}

// SetPin applies pinctrl set options to a pin.
// SetPin(10, "op", "pn", "dh") makes pin 10 an output with no pull, driven high.
func SetPin(pin int, opts ...string) error {
	args := append([]string{"set", strconv.Itoa(pin)}, opts...)
	if _, err := run(args...); err != nil {
		return fmt.Errorf("pinctrl set failed: %w", err)
	}
	return nil
}

func parseGetOutput(r io.Reader) (map[int]PinState, error) {
	result := make(map[int]PinState)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		matches := pinLineRegex.FindStringSubmatch(scanner.Text())
		if len(matches) != 7 {
			continue
		}

		index, _ := strconv.Atoi(matches[1])
		state := PinState{
			Pin:     index,
			Mode:    matches[2],
			Level:   matches[4],
			Comment: matches[5],
		}

		for _, opt := range strings.Fields(matches[3]) {
			if state.Pull == "" && (opt == "pu" || opt == "pd" || opt == "pn") {
				state.Pull = opt
			} else if state.Drive == "" && (opt == "dh" || opt == "dl") {
				state.Drive = opt
			}
		}

		result[state.Pin] = state
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning pinctrl output: %w", err)
	}
	return result, nil
}

func parseLevel(output string) (bool, error) {
	trimmed := strings.TrimSpace(output)
	switch trimmed {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected output from pinctrl lev: %q", trimmed)
	}
}
