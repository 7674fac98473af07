// Package tally combines per-device tally vectors into one on-air vector and
// maps it onto the configured users.
package tally

// Tally values. Both is only produced by devices that report program and
// preview on the same input, or by re-combining a combined vector.
const (
	Off     = 0
	Program = 1
	Preview = 2
	Both    = 3
)

// Combine merges tally vectors keyed by device name.
//
// The result is as long as the longest input. At each position, Program wins
// if any device reports it; otherwise the highest value is used. Missing and
// negative entries count as Off. The result does not depend on map order,
// and Combine of an empty map is an empty, non-nil vector.
func Combine(vectors map[string][]int) []int {
	n := 0
	for _, v := range vectors {
		n = max(n, len(v))
	}

	out := make([]int, n)
	onProgram := make([]bool, n)

	for _, v := range vectors {
		for i, value := range v {
			switch {
			case value == Program:
				onProgram[i] = true
			case value > out[i]:
				out[i] = value
			}
		}
	}

	for i := range out {
		if onProgram[i] {
			out[i] = Program
		}
	}
	return out
}

// At returns the value at the 1-based position n, or Off when n is out of
// range.
func At(vector []int, n int) int {
	if n < 1 || n > len(vector) {
		return Off
	}
	return vector[n-1]
}
