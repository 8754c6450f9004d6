// Package coeffstest builds coefficient files with the IGRF-12 layout for
// tests: 195 rows up to degree 13 and 25 value columns (1900.0 ... 2015.0
// followed by the 2015-20 secular-variation rate).
package coeffstest

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/signalsfoundry/geomag/coeffs"
)

// Columns is the number of value columns in an IGRF-12 file.
const Columns = 25

// RateColumn is the index of the secular-variation column.
const RateColumn = Columns - 1

// ValueFunc returns the coefficient for (kind, n, m) in column col.
type ValueFunc func(kind coeffs.Kind, n, m, col int) float64

// ColumnEpoch returns the epoch of a main-field column.
func ColumnEpoch(col int) float64 {
	return coeffs.FirstEpoch + coeffs.EpochInterval*float64(col)
}

// Text renders a coefficient file, header lines included.
func Text(fn ValueFunc) string {
	var b strings.Builder
	b.WriteString("# synthetic coefficients, IGRF-12 layout\n")
	b.WriteString("c/s deg ord")
	for col := 0; col < RateColumn; col++ {
		b.WriteString(" IGRF")
	}
	b.WriteString(" SV\n")
	b.WriteString("g/h n m")
	for col := 0; col < RateColumn; col++ {
		b.WriteString(" " + strconv.FormatFloat(ColumnEpoch(col), 'f', 1, 64))
	}
	b.WriteString(" 2015-20\n")

	for n := 1; n <= coeffs.MaxDegree; n++ {
		for m := 0; m <= n; m++ {
			writeRow(&b, fn, coeffs.G, n, m)
			if m > 0 {
				writeRow(&b, fn, coeffs.H, n, m)
			}
		}
	}
	return b.String()
}

func writeRow(b *strings.Builder, fn ValueFunc, kind coeffs.Kind, n, m int) {
	b.WriteString(kind.String() + " " + strconv.Itoa(n) + " " + strconv.Itoa(m))
	for col := 0; col < Columns; col++ {
		b.WriteString(" " + strconv.FormatFloat(fn(kind, n, m, col), 'g', -1, 64))
	}
	b.WriteByte('\n')
}

// Store loads a table built from fn, failing the test on error.
func Store(tb testing.TB, fn ValueFunc) *coeffs.Store {
	tb.Helper()
	s, err := coeffs.Load(strings.NewReader(Text(fn)))
	if err != nil {
		tb.Fatalf("coeffstest: load: %v", err)
	}
	return s
}

// WriteFile writes a table built from fn into dir and returns its path.
func WriteFile(tb testing.TB, dir string, fn ValueFunc) string {
	tb.Helper()
	path := filepath.Join(dir, "coeffs.txt")
	if err := os.WriteFile(path, []byte(Text(fn)), 0o644); err != nil {
		tb.Fatalf("coeffstest: write %s: %v", path, err)
	}
	return path
}

// AxialDipole is a field made only of a constant g10 with no secular change.
func AxialDipole(g10 float64) ValueFunc {
	return TiltedDipole(g10, 0, 0)
}

// TiltedDipole is a constant first-degree field with no secular change.
func TiltedDipole(g10, g11, h11 float64) ValueFunc {
	return func(kind coeffs.Kind, n, m, col int) float64 {
		if n != 1 || col == RateColumn {
			return 0
		}
		switch {
		case kind == coeffs.G && m == 0:
			return g10
		case kind == coeffs.G:
			return g11
		default:
			return h11
		}
	}
}

// DriftingDipole is an axial dipole whose g10 changes linearly by rate nT/yr
// from g10 at 1900.0. The rate column holds the same rate.
func DriftingDipole(g10, rate float64) ValueFunc {
	return func(kind coeffs.Kind, n, m, col int) float64 {
		if n != 1 || m != 0 || kind != coeffs.G {
			return 0
		}
		if col == RateColumn {
			return rate
		}
		return g10 + rate*(ColumnEpoch(col)-coeffs.FirstEpoch)
	}
}

// Single sets one harmonic to value in every main-field column.
func Single(kind coeffs.Kind, n, m int, value float64) ValueFunc {
	return func(k coeffs.Kind, nn, mm, col int) float64 {
		if k == kind && nn == n && mm == m && col != RateColumn {
			return value
		}
		return 0
	}
}

// Earthlike is a deterministic table with a dominant dipole, energy falling
// off with degree, a slow drift per snapshot and degrees above 10 present
// only from 1995.0, the way the published series is laid out.
func Earthlike() ValueFunc {
	return func(kind coeffs.Kind, n, m, col int) float64 {
		if n > coeffs.LowDegree && col < 19 {
			return 0
		}
		idx := coeffs.HarmonicIndex(kind, n, m)
		amp := 30000 / math.Pow(2.6, float64(n-1))
		base := amp * math.Cos(1.7*float64(idx)+0.3)
		if idx == 0 {
			base = -31500
		}
		drift := 0.004 * amp * math.Sin(0.9*float64(idx)+1.1)
		if col == RateColumn {
			return math.Round(drift/coeffs.EpochInterval*10) / 10
		}
		return math.Round((base+drift*float64(col))*10) / 10
	}
}
