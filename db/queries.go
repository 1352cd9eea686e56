package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thatsimonsguy/bms-acquisition/internal/model"
)

var ErrNoCycles = errors.New("no cycles stored")

// GetLatestCycle returns the most recently stored cycle.
func GetLatestCycle(db *sql.DB) (model.Cycle, error) {
	cycles, err := GetRecentCycles(db, 1)
	if err != nil {
		return model.Cycle{}, err
	}
	if len(cycles) == 0 {
		return model.Cycle{}, ErrNoCycles
	}
	return cycles[0], nil
}

// GetRecentCycles returns up to limit cycles, newest first.
func GetRecentCycles(db *sql.DB, limit int) ([]model.Cycle, error) {
	rows, err := db.Query(`SELECT id, seq, started_at, duration_us, fault, errors, devices, cells, aux FROM cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}

	type header struct {
		id   int64
		c    model.Cycle
		dims model.Dims
	}
	var headers []header
	for rows.Next() {
		var (
			h         header
			startedAt string
			durUS     int64
		)
		if err := rows.Scan(&h.id, &h.c.Seq, &startedAt, &durUS, &h.c.Fault, &h.c.Errors, &h.dims.Devices, &h.dims.Cells, &h.dims.Aux); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		h.c.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		h.c.Duration = time.Duration(durUS) * time.Microsecond
		headers = append(headers, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cycles: %w", err)
	}

	// matrices are loaded after the cursor closes; the pool holds one connection
	cycles := make([]model.Cycle, 0, len(headers))
	for _, h := range headers {
		if err := loadMatrices(db, h.id, h.dims, &h.c); err != nil {
			return nil, err
		}
		cycles = append(cycles, h.c)
	}
	return cycles, nil
}

// CountCycles returns the number of stored cycles.
func CountCycles(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cycles: %w", err)
	}
	return n, nil
}

func loadMatrices(db *sql.DB, id int64, dims model.Dims, c *model.Cycle) error {
	c.Voltages = model.NewVoltageMatrix(dims.Devices, dims.Cells)
	c.RawAux = model.NewRawAuxMatrix(dims.Devices, dims.Aux)
	c.Temperatures = model.NewTemperatureMatrix(dims.Devices, dims.Aux)

	rows, err := db.Query(`SELECT device, cell, code FROM cell_voltages WHERE cycle_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to query voltages for cycle %d: %w", c.Seq, err)
	}
	for rows.Next() {
		var d, cell int
		var code int32
		if err := rows.Scan(&d, &cell, &code); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan voltage: %w", err)
		}
		if d < dims.Devices && cell < dims.Cells {
			c.Voltages[d][cell] = code
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate voltages: %w", err)
	}

	rows, err = db.Query(`SELECT device, channel, raw, tenths FROM temperatures WHERE cycle_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to query temperatures for cycle %d: %w", c.Seq, err)
	}
	defer rows.Close()
	for rows.Next() {
		var d, ch int
		var raw uint16
		var tenths int16
		if err := rows.Scan(&d, &ch, &raw, &tenths); err != nil {
			return fmt.Errorf("failed to scan temperature: %w", err)
		}
		if d < dims.Devices && ch < dims.Aux {
			c.RawAux[d][ch] = raw
			c.Temperatures[d][ch] = tenths
		}
	}
	return rows.Err()
}
