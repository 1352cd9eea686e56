package thermistor

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// codeForRatio returns the raw code that puts the divider at ratio of a 3 V supply.
func codeForRatio(ratio float64) uint16 {
	return uint16(ratio * 3.0 * CodesPerVolt)
}

func TestConvert_KnownPoints(t *testing.T) {
	cal := Default()
	require.NoError(t, cal.Validate())
	require.Equal(t, float32(10.0), cal.LUT[45])

	tests := []struct {
		name     string
		raw      uint16
		expected int16
	}{
		{"exact lut hit at 25C", codeForRatio(0.5), 250},
		{"zero input", 0, 800},
		{"ratio of one", 30000, -200},
		{"ratio just below one", 29999, -200},
		{"above supply", 65535, -200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cal.Convert(tt.raw))
		})
	}
}

func TestConvert_ClampsAtTableEnds(t *testing.T) {
	cal := Default()

	for raw := 0; raw <= 30000; raw += 37 {
		r := cal.Resistance(uint16(raw))
		got := cal.Convert(uint16(raw))
		if r >= cal.LUT[0] {
			assert.Equal(t, int16(-200), got, "raw %d (r=%v) should clamp cold", raw, r)
		}
		if r <= cal.LUT[cal.Length-1] {
			assert.Equal(t, int16(800), got, "raw %d (r=%v) should clamp hot", raw, r)
		}
	}
}

func TestConvert_Monotonic(t *testing.T) {
	cal := Default()

	prevR := cal.Resistance(0)
	prevT := cal.Convert(0)
	for raw := 1; raw <= 30000; raw++ {
		r := cal.Resistance(uint16(raw))
		temp := cal.Convert(uint16(raw))
		require.GreaterOrEqual(t, r, prevR, "resistance must not drop as the code rises (raw %d)", raw)
		require.LessOrEqual(t, temp, prevT, "temperature rose from %d to %d at raw %d", prevT, temp, raw)
		prevR, prevT = r, temp
	}
}

func TestTemperature_TabulatedPoints(t *testing.T) {
	cal := Default()

	for i, r := range cal.LUT {
		expected := cal.MinTemp + float32(i)*cal.Increment
		assert.InDelta(t, expected, cal.Temperature(r), 1e-3, "lut index %d", i)
	}
}

func TestTemperature_Interpolates(t *testing.T) {
	cal := Default()

	// halfway between 25 C (10.0) and 26 C (9.623)
	mid := (cal.LUT[45] + cal.LUT[46]) / 2
	assert.InDelta(t, 25.5, cal.Temperature(mid), 1e-3)
}

func TestTemperature_MatchesLinearScan(t *testing.T) {
	cal := Default()

	linear := func(r float32) float32 {
		if r <= cal.LUT[cal.Length-1] {
			return cal.MaxTemp
		}
		if r >= cal.LUT[0] {
			return cal.MinTemp
		}
		temp := cal.MinTemp
		for i := 0; i < cal.Length; i++ {
			if r >= cal.LUT[i] {
				temp += float32(i-1) * cal.Increment
				temp += cal.Increment * (1 - (r-cal.LUT[i])/(cal.LUT[i-1]-cal.LUT[i]))
				break
			}
		}
		return temp
	}

	for r := float32(0.5); r < 80; r += 0.0137 {
		assert.InDelta(t, linear(r), cal.Temperature(r), 1e-4, "r=%v", r)
	}
}

func TestResistance_DegenerateRatio(t *testing.T) {
	cal := Default()

	assert.True(t, math32.IsInf(cal.Resistance(30000), 1))
	assert.Equal(t, float32(0), cal.Resistance(0))
}

func TestNew_CopiesLUT(t *testing.T) {
	lut := []float32{30, 20, 10}
	cal, err := New(3, 10, 0, 10, 5, lut)
	require.NoError(t, err)

	lut[0] = 1
	assert.Equal(t, float32(30), cal.LUT[0])
	assert.Equal(t, 3, cal.Length)
}

func TestDefault_OwnsLUT(t *testing.T) {
	cal := Default()
	cal.LUT[0] = 0

	assert.NotEqual(t, float32(0), DefaultLUT[0])
	assert.Equal(t, DefaultLUT[0], Default().LUT[0])
}

func TestValidate_RangeFitsTenths(t *testing.T) {
	lut := []float32{30, 20, 10}

	_, err := New(3, 10, -3300, -3290, 5, lut)
	assert.ErrorIs(t, err, ErrInvalidCalibration)

	_, err = New(3, 10, 3270, 3280, 5, lut)
	assert.ErrorIs(t, err, ErrInvalidCalibration)

	cal, err := New(3, 10, 3266, 3276, 5, lut)
	require.NoError(t, err)
	assert.Equal(t, int16(32760), cal.Convert(0))
	assert.Equal(t, int16(32660), cal.Convert(29999))
}

func TestValidate_Rejects(t *testing.T) {
	good := Default()

	tests := []struct {
		name   string
		mutate func(c *Calibration)
	}{
		{"zero supply", func(c *Calibration) { c.Supply = 0 }},
		{"negative resistor", func(c *Calibration) { c.FixedResistor = -1 }},
		{"zero increment", func(c *Calibration) { c.Increment = 0 }},
		{"length mismatch", func(c *Calibration) { c.Length = 50 }},
		{"single entry", func(c *Calibration) { c.LUT = c.LUT[:1]; c.Length = 1 }},
		{"max temp mismatch", func(c *Calibration) { c.MaxTemp = 90 }},
		{"not decreasing", func(c *Calibration) {
			c.LUT = append([]float32(nil), c.LUT...)
			c.LUT[10] = c.LUT[9]
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := good
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidCalibration)
		})
	}
}

func TestRawCode_RoundTrip(t *testing.T) {
	cal := Default()

	for _, temp := range []float32{-15, 0, 12.5, 25, 40.3, 75} {
		raw := cal.RawCode(cal.ResistanceAt(temp))
		// one code step is worth well under half a tenth across this range
		assert.InDelta(t, temp*10, float32(cal.Convert(raw)), 1, "temp %v raw %d", temp, raw)
	}
}

func TestResistanceAt_Clamps(t *testing.T) {
	cal := Default()

	assert.Equal(t, cal.LUT[0], cal.ResistanceAt(-40))
	assert.Equal(t, cal.LUT[cal.Length-1], cal.ResistanceAt(120))
	assert.Equal(t, float32(10.0), cal.ResistanceAt(25))
}
