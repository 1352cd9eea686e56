package db

import (
	"fmt"

	"github.com/thatsimonsguy/bms-acquisition/internal/model"
)

// LatestCycleCLI opens the database at dbPath and returns its newest cycle.
func LatestCycleCLI(dbPath string) (cycle model.Cycle, err error) {
	conn, err := Open(dbPath)
	if err != nil {
		return cycle, err
	}
	defer conn.Close()
	return GetLatestCycle(conn)
}

func HistoryCLI(dbPath string, limit int) ([]model.Cycle, error) {
	conn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return GetRecentCycles(conn, limit)
}

func PruneCLI(dbPath string, keep int) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	n, err := PruneCycles(conn, keep)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d cycles, kept at most %d\n", n, keep)
	return nil
}
