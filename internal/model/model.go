package model

import "time"

// Dims fixes the shape of every matrix for the lifetime of a chain.
type Dims struct {
	Devices int `json:"devices"`
	Cells   int `json:"cells"`
	Aux     int `json:"aux"`
}

type VoltageMatrix [][]int32 // [device][cell], native ADC codes

type RawAuxMatrix [][]uint16 // [device][aux channel]

type TemperatureMatrix [][]int16 // [device][aux channel], tenths of a degree

type Cycle struct {
	Seq          uint64            `json:"seq"`
	StartedAt    time.Time         `json:"started_at"`
	Duration     time.Duration     `json:"duration"`
	Fault        bool              `json:"fault"`
	Errors       int               `json:"errors"`
	Voltages     VoltageMatrix     `json:"voltages"`
	RawAux       RawAuxMatrix      `json:"raw_aux"`
	Temperatures TemperatureMatrix `json:"temperatures"`
}

type GPIOPin struct {
	Number     int  `json:"number" koanf:"number" yaml:"number"`
	ActiveHigh bool `json:"active_high" koanf:"active_high" yaml:"active_high"`
}

func NewVoltageMatrix(devices, cells int) VoltageMatrix {
	m := make(VoltageMatrix, devices)
	for i := range m {
		m[i] = make([]int32, cells)
	}
	return m
}

func NewRawAuxMatrix(devices, aux int) RawAuxMatrix {
	m := make(RawAuxMatrix, devices)
	for i := range m {
		m[i] = make([]uint16, aux)
	}
	return m
}

func NewTemperatureMatrix(devices, aux int) TemperatureMatrix {
	m := make(TemperatureMatrix, devices)
	for i := range m {
		m[i] = make([]int16, aux)
	}
	return m
}

func (m VoltageMatrix) Clone() VoltageMatrix {
	out := make(VoltageMatrix, len(m))
	for i, row := range m {
		out[i] = append([]int32(nil), row...)
	}
	return out
}

func (m RawAuxMatrix) Clone() RawAuxMatrix {
	out := make(RawAuxMatrix, len(m))
	for i, row := range m {
		out[i] = append([]uint16(nil), row...)
	}
	return out
}

func (m TemperatureMatrix) Clone() TemperatureMatrix {
	out := make(TemperatureMatrix, len(m))
	for i, row := range m {
		out[i] = append([]int16(nil), row...)
	}
	return out
}

// Clone returns a deep copy that shares no backing arrays with c.
func (c Cycle) Clone() Cycle {
	c.Voltages = c.Voltages.Clone()
	c.RawAux = c.RawAux.Clone()
	c.Temperatures = c.Temperatures.Clone()
	return c
}
