package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/bms-acquisition/internal/model"
)

func testCycle(seq uint64) model.Cycle {
	c := model.Cycle{
		Seq:          seq,
		StartedAt:    time.Date(2026, 3, 1, 12, 0, 0, int(seq)*1000, time.UTC),
		Duration:     1500 * time.Microsecond,
		Errors:       int(seq % 2),
		Fault:        seq%3 == 0,
		Voltages:     model.NewVoltageMatrix(2, 12),
		RawAux:       model.NewRawAuxMatrix(2, 6),
		Temperatures: model.NewTemperatureMatrix(2, 6),
	}
	for d := 0; d < 2; d++ {
		for cell := 0; cell < 12; cell++ {
			c.Voltages[d][cell] = 37000 + int32(d*100+cell) + int32(seq)
		}
		for ch := 0; ch < 6; ch++ {
			c.RawAux[d][ch] = 15000 + uint16(d*10+ch)
			c.Temperatures[d][ch] = int16(250 - d*10 - ch)
		}
	}
	c.Temperatures[1][5] = -200
	return c
}

func TestOpen_InMemory(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	n, err := CountCycles(conn)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// schema is idempotent
	require.NoError(t, InitSchema(conn))
}

func TestInsertAndGetLatestCycle(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	_, err = GetLatestCycle(conn)
	assert.ErrorIs(t, err, ErrNoCycles)

	want := testCycle(7)
	id, err := InsertCycle(conn, want)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := GetLatestCycle(conn)
	require.NoError(t, err)
	assert.Equal(t, want.Seq, got.Seq)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, want.Duration, got.Duration)
	assert.Equal(t, want.Errors, got.Errors)
	assert.Equal(t, want.Fault, got.Fault)
	assert.Equal(t, want.Voltages, got.Voltages)
	assert.Equal(t, want.RawAux, got.RawAux)
	assert.Equal(t, want.Temperatures, got.Temperatures)
}

func TestGetRecentCycles_NewestFirst(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	for seq := uint64(1); seq <= 5; seq++ {
		_, err := InsertCycle(conn, testCycle(seq))
		require.NoError(t, err)
	}

	cycles, err := GetRecentCycles(conn, 3)
	require.NoError(t, err)
	require.Len(t, cycles, 3)
	assert.Equal(t, uint64(5), cycles[0].Seq)
	assert.Equal(t, uint64(4), cycles[1].Seq)
	assert.Equal(t, uint64(3), cycles[2].Seq)
	assert.Len(t, cycles[2].Voltages, 2)
	assert.Len(t, cycles[2].Voltages[1], 12)
}

func TestPruneCycles(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	for seq := uint64(1); seq <= 10; seq++ {
		_, err := InsertCycle(conn, testCycle(seq))
		require.NoError(t, err)
	}

	n, err := PruneCycles(conn, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	count, err := CountCycles(conn)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	var orphans int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM cell_voltages WHERE cycle_id NOT IN (SELECT id FROM cycles)`).Scan(&orphans))
	assert.Zero(t, orphans)
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM temperatures WHERE cycle_id NOT IN (SELECT id FROM cycles)`).Scan(&orphans))
	assert.Zero(t, orphans)

	latest, err := GetLatestCycle(conn)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), latest.Seq)

	// nothing left to prune
	n, err = PruneCycles(conn, 4)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCLIHelpers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bms.db")

	conn, err := Open(path)
	require.NoError(t, err)
	for seq := uint64(1); seq <= 3; seq++ {
		_, err := InsertCycle(conn, testCycle(seq))
		require.NoError(t, err)
	}
	require.NoError(t, conn.Close())

	latest, err := LatestCycleCLI(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest.Seq)

	require.NoError(t, PruneCLI(path, 1))

	history, err := HistoryCLI(path, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, uint64(3), history[0].Seq)
}
