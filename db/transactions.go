package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/bms-acquisition/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// InsertCycle stores a cycle and its matrices atomically and returns the row id.
func InsertCycle(db *sql.DB, c model.Cycle) (int64, error) {
	tx, err := StartTransaction(db)
	if err != nil {
		return 0, err
	}
	id, err := InsertCycleWithTx(tx, c)
	if err != nil {
		RollbackTransaction(tx)
		return 0, err
	}
	return id, CommitTransaction(tx)
}

func InsertCycleWithTx(tx *sql.Tx, c model.Cycle) (int64, error) {
	dims := dimsOf(c)
	res, err := tx.Exec(`INSERT INTO cycles (seq, started_at, duration_us, fault, errors, devices, cells, aux) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Seq, c.StartedAt.UTC().Format(time.RFC3339Nano), c.Duration.Microseconds(), c.Fault, c.Errors, dims.Devices, dims.Cells, dims.Aux)
	if err != nil {
		return 0, fmt.Errorf("insert cycle %d: %w", c.Seq, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("cycle %d row id: %w", c.Seq, err)
	}

	voltStmt, err := tx.Prepare(`INSERT INTO cell_voltages (cycle_id, device, cell, code) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare voltage insert: %w", err)
	}
	defer voltStmt.Close()
	for d, row := range c.Voltages {
		for cell, code := range row {
			if _, err := voltStmt.Exec(id, d, cell, code); err != nil {
				return 0, fmt.Errorf("insert voltage device %d cell %d: %w", d, cell, err)
			}
		}
	}

	tempStmt, err := tx.Prepare(`INSERT INTO temperatures (cycle_id, device, channel, raw, tenths) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare temperature insert: %w", err)
	}
	defer tempStmt.Close()
	for d, row := range c.Temperatures {
		for ch, tenths := range row {
			var raw uint16
			if d < len(c.RawAux) && ch < len(c.RawAux[d]) {
				raw = c.RawAux[d][ch]
			}
			if _, err := tempStmt.Exec(id, d, ch, raw, tenths); err != nil {
				return 0, fmt.Errorf("insert temperature device %d channel %d: %w", d, ch, err)
			}
		}
	}

	return id, nil
}

// PruneCycles deletes all but the newest keep cycles and returns how many were removed.
func PruneCycles(db *sql.DB, keep int) (int64, error) {
	tx, err := StartTransaction(db)
	if err != nil {
		return 0, err
	}
	n, err := PruneCyclesWithTx(tx, keep)
	if err != nil {
		RollbackTransaction(tx)
		return 0, err
	}
	return n, CommitTransaction(tx)
}

func PruneCyclesWithTx(tx *sql.Tx, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	const cutoff = `(SELECT id FROM cycles ORDER BY id DESC LIMIT -1 OFFSET ?)`

	// explicit child deletes keep this correct without the foreign_keys pragma
	if _, err := tx.Exec(`DELETE FROM cell_voltages WHERE cycle_id IN `+cutoff, keep); err != nil {
		return 0, fmt.Errorf("prune cell voltages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM temperatures WHERE cycle_id IN `+cutoff, keep); err != nil {
		return 0, fmt.Errorf("prune temperatures: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM cycles WHERE id IN `+cutoff, keep)
	if err != nil {
		return 0, fmt.Errorf("prune cycles: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func dimsOf(c model.Cycle) model.Dims {
	d := model.Dims{Devices: len(c.Voltages)}
	if len(c.Voltages) > 0 {
		d.Cells = len(c.Voltages[0])
	}
	if len(c.Temperatures) > d.Devices {
		d.Devices = len(c.Temperatures)
	}
	if len(c.Temperatures) > 0 {
		d.Aux = len(c.Temperatures[0])
	}
	return d
}
