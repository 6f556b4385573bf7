package resolve

import "github.com/antzucaro/matchr"

// Similarity returns the Jaro similarity of two normalized strings in [0,1].
// It is reflexive and symmetric: arguments are put in a fixed order before
// scoring so floating-point differences between (a,b) and (b,a) cannot occur.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	if a > b {
		a, b = b, a
	}
	s := matchr.Jaro(a, b)
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
