package coeffs

// Layout of the IGRF-12 series: main-field snapshots every five years from
// 1900.0, truncated at degree 10 before 1995.0 and at degree 13 from then on,
// followed by one secular-variation block at degree 13.
const (
	FirstEpoch          = 1900.0
	EpochInterval       = 5.0
	ExtendedDegreeEpoch = 1995.0

	LowDegree = 10
	MaxDegree = 13
)

const (
	lowStride  = LowDegree * (LowDegree + 2) // 120
	highStride = MaxDegree * (MaxDegree + 2) // 195

	// lowSnapshots is the number of snapshots truncated at LowDegree.
	lowSnapshots = int((ExtendedDegreeEpoch - FirstEpoch) / EpochInterval) // 19
)

// Kind distinguishes the cosine (g) and sine (h) Gauss coefficients.
type Kind byte

const (
	G Kind = 'g'
	H Kind = 'h'
)

func (k Kind) String() string { return string(k) }

// HarmonicIndex returns the position of coefficient (kind, n, m) inside a
// snapshot block: g(1,0), g(1,1), h(1,1), g(2,0), g(2,1), h(2,1), ...
// It returns -1 for combinations that do not exist.
func HarmonicIndex(kind Kind, n, m int) int {
	if n < 1 || m < 0 || m > n {
		return -1
	}
	base := n*n - 1
	switch {
	case m == 0 && kind == G:
		return base
	case m == 0:
		return -1
	case kind == G:
		return base + 2*m - 1
	case kind == H:
		return base + 2*m
	default:
		return -1
	}
}

// CoefficientCount returns how many g/h values a snapshot truncated at
// degree n holds.
func CoefficientCount(n int) int {
	return n * (n + 2)
}

// snapshotDegree is the truncation degree of snapshot i.
func snapshotDegree(i int) int {
	if i < lowSnapshots {
		return LowDegree
	}
	return MaxDegree
}

// snapshotStride is the number of table entries used by snapshot i.
func snapshotStride(i int) int {
	return CoefficientCount(snapshotDegree(i))
}

// snapshotOffset is the table offset of the first entry of snapshot i. The
// stride switches from lowStride to highStride at lowSnapshots.
func snapshotOffset(i int) int {
	if i <= lowSnapshots {
		return i * lowStride
	}
	return lowSnapshots*lowStride + (i-lowSnapshots)*highStride
}
