package matrix

import "math/bits"

// Grounded on mergeforest-sim/math_utils.{hpp,cpp}: the handful of
// integer helpers every address/size computation in this package and
// in internal/baseline, internal/forest builds on.

func roundUpMultiple(v, m uint32) uint32 {
	if v%m == 0 {
		return v
	}
	return (v/m + 1) * m
}

func roundDownMultiple(v, m uint64) uint64 {
	return (v / m) * m
}

func divCeil(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// log2Ceil returns ceil(log2(v)) for v >= 1.
func log2Ceil(v uint32) uint32 {
	if v <= 1 {
		return 0
	}
	return uint32(bits.Len32(v - 1))
}

// logCeil returns ceil(log_base(v)) for v >= 1, base >= 2.
func logCeil(v, base uint32) uint32 {
	if v <= 1 {
		return 0
	}
	var levels uint32
	cap := uint64(1)
	for cap < uint64(v) {
		cap *= uint64(base)
		levels++
	}
	return levels
}

// pow returns base^exp for small nonnegative exp.
func pow(base, exp uint32) uint32 {
	r := uint32(1)
	for i := uint32(0); i < exp; i++ {
		r *= base
	}
	return r
}

// nearestPowFloor returns the largest power of base that is <= v.
func nearestPowFloor(v, base uint32) uint32 {
	if v == 0 {
		return 0
	}
	r := uint32(1)
	for r*base <= v {
		r *= base
	}
	return r
}

func almostEqual(a, b, epsScale float64) bool {
	const machineEpsilon = 2.220446049250313e-16
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	maxAbs := a
	if maxAbs < 0 {
		maxAbs = -maxAbs
	}
	if bAbs := b; bAbs < 0 {
		if -bAbs > maxAbs {
			maxAbs = -bAbs
		}
	} else if bAbs > maxAbs {
		maxAbs = bAbs
	}
	return diff <= epsScale*machineEpsilon*maxAbs || diff <= epsScale*machineEpsilon
}

func reqsToMB(numTransactions uint64) float64 {
	return float64(numTransactions*32) * 1e-6
}

func ratio(num, den uint64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func unusedBytesRatio(numTransactions uint64, usefulBytes uint64) float64 {
	total := numTransactions * 32
	if total == 0 {
		return 0
	}
	if usefulBytes > total {
		usefulBytes = total
	}
	return float64(total-usefulBytes) / float64(total) * 100.0
}
