package thermistor

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chewxy/math32"
)

// CodesPerVolt is the auxiliary ADC scale: one code is 100 µV.
const CodesPerVolt = 10000

var ErrInvalidCalibration = errors.New("invalid thermistor calibration")

// DefaultLUT is the NTC cell-module table in kΩ, -20 °C to 80 °C in 1 °C steps.
var DefaultLUT = []float32{
	74.89, 71.1, 67.53, 64.16, 60.98, 57.98, 55.15, 52.48, 49.95, 47.57, 45.31, 43.18, 41.16, 39.24, 37.43,
	35.72, 34.09, 32.55, 31.09, 29.7, 28.38, 27.13, 25.94, 24.81, 23.74, 22.72, 21.75, 20.83, 19.95, 19.12,
	18.32, 17.57, 16.84, 16.16, 15.5, 14.88, 14.28, 13.71, 13.17, 12.65, 12.16, 11.69, 11.24, 10.81, 10.39,
	10.0, 9.623, 9.263, 8.918, 8.588, 8.272, 7.97, 7.68, 7.402, 7.136, 6.881, 6.636, 6.402, 6.177, 5.961,
	5.754, 5.555, 5.365, 5.182, 5.006, 4.837, 4.674, 4.518, 4.368, 4.224, 4.085, 3.952, 3.823, 3.7, 3.581,
	3.466, 3.356, 3.25, 3.148, 3.05, 2.955, 2.863, 2.775, 2.691, 2.609, 2.53, 2.454, 2.38, 2.309, 2.241,
	2.174, 2.111, 2.049, 1.989, 1.931, 1.876, 1.822, 1.77, 1.72, 1.671, 1.624,
}

// Calibration describes a thermistor in the low side of a divider fed from Supply
// through FixedResistor. LUT resistances share FixedResistor's unit and must be
// strictly decreasing; LUT[i] is the resistance at MinTemp + i*Increment.
type Calibration struct {
	Supply        float32
	FixedResistor float32
	MinTemp       float32
	MaxTemp       float32
	Increment     float32
	Length        int
	LUT           []float32
}

// Default returns the calibration for DefaultLUT on a 3 V, 10 kΩ divider.
func Default() Calibration {
	return Calibration{
		Supply:        3.0,
		FixedResistor: 10.0,
		MinTemp:       -20,
		MaxTemp:       80,
		Increment:     1,
		Length:        len(DefaultLUT),
		LUT:           append([]float32(nil), DefaultLUT...),
	}
}

// New copies lut and validates the resulting calibration.
func New(supply, fixedResistor, minTemp, maxTemp, increment float32, lut []float32) (Calibration, error) {
	c := Calibration{
		Supply:        supply,
		FixedResistor: fixedResistor,
		MinTemp:       minTemp,
		MaxTemp:       maxTemp,
		Increment:     increment,
		Length:        len(lut),
		LUT:           append([]float32(nil), lut...),
	}
	if err := c.Validate(); err != nil {
		return Calibration{}, err
	}
	return c, nil
}

func (c Calibration) Validate() error {
	switch {
	case c.Supply <= 0:
		return fmt.Errorf("%w: supply voltage %v must be positive", ErrInvalidCalibration, c.Supply)
	case c.FixedResistor <= 0:
		return fmt.Errorf("%w: fixed resistor %v must be positive", ErrInvalidCalibration, c.FixedResistor)
	case c.Increment <= 0:
		return fmt.Errorf("%w: temperature increment %v must be positive", ErrInvalidCalibration, c.Increment)
	case c.MinTemp*10 < math32.MinInt16 || c.MaxTemp*10 > math32.MaxInt16:
		return fmt.Errorf("%w: range %v..%v does not fit int16 tenths", ErrInvalidCalibration, c.MinTemp, c.MaxTemp)
	case c.Length < 2 || c.Length != len(c.LUT):
		return fmt.Errorf("%w: lut length %d does not match %d entries (need at least 2)", ErrInvalidCalibration, c.Length, len(c.LUT))
	}

	for i := 0; i < c.Length-1; i++ {
		if c.LUT[i] <= c.LUT[i+1] {
			return fmt.Errorf("%w: lut not strictly decreasing at index %d (%v <= %v)", ErrInvalidCalibration, i, c.LUT[i], c.LUT[i+1])
		}
	}

	span := c.MinTemp + float32(c.Length-1)*c.Increment
	if math32.Abs(span-c.MaxTemp) > 1e-3 {
		return fmt.Errorf("%w: min %v + %d steps of %v gives %v, not max %v", ErrInvalidCalibration, c.MinTemp, c.Length-1, c.Increment, span, c.MaxTemp)
	}
	return nil
}

// Resistance infers the thermistor resistance from a raw auxiliary code.
// A divider ratio at or above 1 has no finite solution and reads as +Inf.
func (c Calibration) Resistance(raw uint16) float32 {
	ratio := float32(raw) / CodesPerVolt / c.Supply
	if ratio >= 1 {
		return math32.Inf(1)
	}
	return ratio * c.FixedResistor / (1 - ratio)
}

// Temperature maps a resistance onto the LUT, clamped to [MinTemp, MaxTemp].
func (c Calibration) Temperature(r float32) float32 {
	last := c.Length - 1
	if r <= c.LUT[last] {
		return c.MaxTemp
	}
	if r >= c.LUT[0] {
		return c.MinTemp
	}

	// first index whose resistance is at or below r; 1 <= i <= last after the clamps
	i := sort.Search(c.Length, func(j int) bool { return r >= c.LUT[j] })

	frac := (r - c.LUT[i]) / (c.LUT[i-1] - c.LUT[i])
	return c.MinTemp + float32(i-1)*c.Increment + c.Increment*(1-frac)
}

// Convert returns the temperature for a raw auxiliary code in tenths of a degree.
func (c Calibration) Convert(raw uint16) int16 {
	return int16(math32.Round(c.Temperature(c.Resistance(raw)) * 10))
}

// ResistanceAt is the inverse of Temperature inside the tabulated range.
func (c Calibration) ResistanceAt(temp float32) float32 {
	if temp <= c.MinTemp {
		return c.LUT[0]
	}
	if temp >= c.MaxTemp {
		return c.LUT[c.Length-1]
	}
	pos := (temp - c.MinTemp) / c.Increment
	i := int(pos)
	if i >= c.Length-1 {
		return c.LUT[c.Length-1]
	}
	frac := pos - float32(i)
	return c.LUT[i] - frac*(c.LUT[i]-c.LUT[i+1])
}

// RawCode returns the auxiliary code the divider produces for resistance r.
func (c Calibration) RawCode(r float32) uint16 {
	v := r / (r + c.FixedResistor) * c.Supply * CodesPerVolt
	if v >= 65535 {
		return 65535
	}
	return uint16(math32.Round(v))
}
