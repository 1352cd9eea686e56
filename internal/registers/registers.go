// Package registers rebuilds per-device channel arrays from banked register reads.
package registers

// BankWidth is the number of auxiliary channels carried by one register bank.
const BankWidth = 3

// Assemble concatenates bank A and bank B for each device, preserving channel order:
// a[i] fills channels [0, len(a[i])) and b[i] follows it.
//
// Callers must pass the same number of devices in both banks; a and b are not
// modified and the result shares no memory with them.
func Assemble(a, b [][]uint16) [][]uint16 {
	out := make([][]uint16, len(a))
	for i := range a {
		row := make([]uint16, 0, len(a[i])+len(b[i]))
		row = append(row, a[i]...)
		out[i] = append(row, b[i]...)
	}
	return out
}

// Bank returns a copy of bank k (channels [k*BankWidth, (k+1)*BankWidth)) of every row.
func Bank(m [][]uint16, k int) [][]uint16 {
	out := make([][]uint16, len(m))
	for i, row := range m {
		lo, hi := k*BankWidth, (k+1)*BankWidth
		if hi > len(row) {
			hi = len(row)
		}
		if lo > hi {
			lo = hi
		}
		out[i] = make([]uint16, hi-lo)
		copy(out[i], row[lo:hi])
	}
	return out
}
