package registers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssemble(t *testing.T) {
	a := [][]uint16{{1, 2, 3}, {11, 12, 13}}
	b := [][]uint16{{4, 5, 6}, {14, 15, 16}}

	got := Assemble(a, b)

	assert.Equal(t, [][]uint16{{1, 2, 3, 4, 5, 6}, {11, 12, 13, 14, 15, 16}}, got)
}

func TestAssemble_DoesNotAliasInputs(t *testing.T) {
	a := [][]uint16{make([]uint16, 3, 8)}
	b := [][]uint16{{7, 8, 9}}

	got := Assemble(a, b)
	got[0][0] = 42
	got[0][3] = 43

	assert.Equal(t, uint16(0), a[0][0])
	assert.Equal(t, uint16(7), b[0][0])
	assert.Equal(t, 3, len(a[0]))
}

func TestAssemble_NoDevices(t *testing.T) {
	assert.Empty(t, Assemble(nil, nil))
}

func TestBank(t *testing.T) {
	m := [][]uint16{{1, 2, 3, 4, 5, 6}, {7, 8, 9, 10, 11, 12}}

	assert.Equal(t, [][]uint16{{1, 2, 3}, {7, 8, 9}}, Bank(m, 0))
	assert.Equal(t, [][]uint16{{4, 5, 6}, {10, 11, 12}}, Bank(m, 1))
	assert.Equal(t, [][]uint16{{}, {}}, Bank(m, 2))
}

func TestBank_RoundTrip(t *testing.T) {
	m := [][]uint16{{100, 200, 300, 400, 500, 600}}

	assert.Equal(t, m, Assemble(Bank(m, 0), Bank(m, 1)))
}
