// Package coeffs loads the IGRF Gauss coefficient series and serves it as an
// immutable, offset-addressable table.
//
// A Store is built once and never mutated afterwards, so a single instance
// can be shared by any number of concurrent readers without locking.
package coeffs

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// Mode selects between absolute field values and their annual rate of change.
type Mode int

const (
	Field Mode = iota
	SecularVariation
)

func (m Mode) String() string {
	switch m {
	case Field:
		return "field"
	case SecularVariation:
		return "secular-variation"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the String form of a Mode, plus "sv" for
// SecularVariation.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "field", "":
		return Field, nil
	case "secular-variation", "sv":
		return SecularVariation, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// Record is one parsed coefficient row: a harmonic and its value at every
// model epoch, the secular-variation rate last.
type Record struct {
	Kind   Kind
	Degree int
	Order  int
	Values []float64
}

// Dipole holds the degree-1 coefficients of one snapshot.
type Dipole struct {
	G10, G11, H11 float64
}

// Store is the flattened coefficient table.
type Store struct {
	table       []float64
	epochs      []float64 // main-field snapshot epochs
	dipoles     []Dipole  // one per snapshot, rate block last
	fingerprint uint64
}

// LoadFile reads a coefficient file from disk.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open coefficient file %q: %w", path, err)
	}
	defer f.Close()

	s, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load coefficient file %q: %w", path, err)
	}
	return s, nil
}

// Load parses coefficient rows from r. Lines that do not start with a "g " or
// "h " marker are ignored. Rows must appear in harmonic order up to degree
// MaxDegree and carry the same number of values.
func Load(r io.Reader) (*Store, error) {
	records, err := parseRecords(r)
	if err != nil {
		return nil, err
	}
	return build(records)
}

func parseRecords(r io.Reader) ([]Record, error) {
	var records []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if !strings.HasPrefix(text, "g ") && !strings.HasPrefix(text, "h ") {
			continue
		}
		rec, reason := parseRecord(text)
		if reason != "" {
			return nil, &RecordError{Line: line, Text: text, Reason: reason}
		}
		if want := len(records); HarmonicIndex(rec.Kind, rec.Degree, rec.Order) != want {
			return nil, &RecordError{Line: line, Text: text, Reason: fmt.Sprintf("out of order, expected harmonic #%d", want)}
		}
		if len(records) > 0 && len(rec.Values) != len(records[0].Values) {
			return nil, &RecordError{
				Line:   line,
				Text:   text,
				Reason: fmt.Sprintf("has %d values, previous rows have %d", len(rec.Values), len(records[0].Values)),
			}
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read coefficients: %w", err)
	}
	return records, nil
}

func parseRecord(text string) (Record, string) {
	fields := strings.Fields(text)
	if len(fields) < 4 {
		return Record{}, "need type, degree, order and at least one value"
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return Record{}, "bad degree"
	}
	m, err := strconv.Atoi(fields[2])
	if err != nil {
		return Record{}, "bad order"
	}
	kind := Kind(fields[0][0])
	if HarmonicIndex(kind, n, m) < 0 {
		return Record{}, fmt.Sprintf("no harmonic %s(%d,%d)", kind, n, m)
	}
	values := make([]float64, 0, len(fields)-3)
	for _, f := range fields[3:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Record{}, fmt.Sprintf("bad value %q", f)
		}
		values = append(values, v)
	}
	return Record{Kind: kind, Degree: n, Order: m, Values: values}, ""
}

func build(records []Record) (*Store, error) {
	if len(records) != highStride {
		return nil, &RecordError{Reason: fmt.Sprintf("got %d coefficient rows, want %d", len(records), highStride)}
	}
	columns := len(records[0].Values)
	mainSnapshots := columns - 1
	if mainSnapshots <= lowSnapshots {
		return nil, &RecordError{Reason: fmt.Sprintf("got %d epochs, need more than %d main-field snapshots", columns, lowSnapshots)}
	}

	// The rate block sits right after the last main snapshot.
	table := make([]float64, snapshotOffset(mainSnapshots+1))
	dipoles := make([]Dipole, mainSnapshots+1)
	epochs := make([]float64, mainSnapshots)
	for i := 0; i <= mainSnapshots; i++ {
		off := snapshotOffset(i)
		for j := 0; j < snapshotStride(i); j++ {
			table[off+j] = records[j].Values[i]
		}
		dipoles[i] = Dipole{G10: table[off], G11: table[off+1], H11: table[off+2]}
		if i < mainSnapshots {
			epochs[i] = FirstEpoch + EpochInterval*float64(i)
		}
	}

	return &Store{
		table:       table,
		epochs:      epochs,
		dipoles:     dipoles,
		fingerprint: fingerprint(table),
	}, nil
}

func fingerprint(table []float64) uint64 {
	buf := make([]byte, 8*len(table))
	for i, v := range table {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return xxh3.Hash(buf)
}

// Fingerprint is an xxh3 hash of the flattened table. Two stores built from
// identical coefficients share a fingerprint.
func (s *Store) Fingerprint() uint64 { return s.fingerprint }

// Len is the number of entries in the flattened table.
func (s *Store) Len() int { return len(s.table) }

// Epochs returns the main-field snapshot epochs.
func (s *Store) Epochs() []float64 {
	out := make([]float64, len(s.epochs))
	copy(out, s.epochs)
	return out
}

// FirstEpoch is the earliest supported epoch.
func (s *Store) FirstEpoch() float64 { return s.epochs[0] }

// LastEpoch is the epoch of the last main-field snapshot; later epochs are
// extrapolated with the secular-variation rates.
func (s *Store) LastEpoch() float64 { return s.epochs[len(s.epochs)-1] }

// ValidUntil is the end of the interval covered by the secular-variation
// model. Epochs after it are computed with reduced accuracy.
func (s *Store) ValidUntil() float64 { return s.LastEpoch() + EpochInterval }

// Limit is the latest epoch the store will evaluate.
func (s *Store) Limit() float64 { return s.LastEpoch() + 2*EpochInterval }

// ReducedAccuracy reports whether epoch lies past ValidUntil.
func (s *Store) ReducedAccuracy(epoch float64) bool { return epoch > s.ValidUntil() }

// Snapshot returns a copy of snapshot i's coefficients in harmonic order. The
// secular-variation block is index len(Epochs()).
func (s *Store) Snapshot(i int) []float64 {
	if i < 0 || i > len(s.epochs) {
		return nil
	}
	out := make([]float64, snapshotStride(i))
	copy(out, s.table[snapshotOffset(i):])
	return out
}

// SnapshotDegree returns the truncation degree of snapshot i.
func (s *Store) SnapshotDegree(i int) int { return snapshotDegree(i) }

// Coefficient returns a single value of snapshot i, or 0 when the harmonic is
// beyond the snapshot's degree.
func (s *Store) Coefficient(kind Kind, n, m, i int) float64 {
	h := HarmonicIndex(kind, n, m)
	if h < 0 || i < 0 || i > len(s.epochs) || h >= snapshotStride(i) {
		return 0
	}
	return s.table[snapshotOffset(i)+h]
}

func (s *Store) checkEpoch(epoch float64) error {
	if math.IsNaN(epoch) || epoch < s.FirstEpoch() || epoch > s.Limit() {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrEpochOutOfRange, epoch, s.FirstEpoch(), s.Limit())
	}
	return nil
}

// snapshot returns the index of the main-field snapshot that opens the
// interpolation interval containing epoch, and the fractional position of
// epoch inside it. Epochs past the last snapshot clamp to it.
func (s *Store) snapshot(epoch float64) (int, float64) {
	last := len(s.epochs) - 1
	if epoch >= s.LastEpoch() {
		return last, 0
	}
	pos := (epoch - FirstEpoch) / EpochInterval
	i := int(pos)
	if i < 0 {
		i = 0
	}
	return i, pos - float64(i)
}

// offsetFor is the only place that turns an epoch and a harmonic index into a
// table offset. The block following the returned one starts exactly
// snapshotStride(i) entries later, which for the last main snapshot is the
// secular-variation block.
func (s *Store) offsetFor(epoch float64, harmonic int) int {
	i, _ := s.snapshot(epoch)
	return snapshotOffset(i) + harmonic
}

// window gives the snapshot index and blending weights for epoch: a value is
// wBase*snapshot(i) + wNext*snapshot(i+1).
func (s *Store) window(epoch float64, mode Mode) (i int, wBase, wNext float64, err error) {
	if err := s.checkEpoch(epoch); err != nil {
		return 0, 0, 0, err
	}
	i, frac := s.snapshot(epoch)
	if epoch >= s.LastEpoch() {
		if mode == SecularVariation {
			return i, 0, 1, nil
		}
		return i, 1, epoch - s.LastEpoch(), nil
	}
	if mode == SecularVariation {
		return i, -1 / EpochInterval, 1 / EpochInterval, nil
	}
	return i, 1 - frac, frac, nil
}

// Resolved is a coefficient vector evaluated at one epoch.
type Resolved struct {
	Epoch  float64
	Mode   Mode
	Degree int
	// Coeffs holds CoefficientCount(Degree) values in harmonic order.
	Coeffs []float64
}

// Resolve blends the snapshots around epoch into a single coefficient vector.
// In Field mode values are interpolated between the bracketing snapshots, or
// extrapolated from the last one with the secular-variation rates. In
// SecularVariation mode the per-year rate is returned.
func (s *Store) Resolve(epoch float64, mode Mode) (Resolved, error) {
	i, wBase, wNext, err := s.window(epoch, mode)
	if err != nil {
		return Resolved{}, err
	}
	degree := snapshotDegree(i)
	base := s.offsetFor(epoch, 0)
	next := base + snapshotStride(i)

	out := make([]float64, CoefficientCount(degree))
	for k := range out {
		out[k] = wBase*s.table[base+k] + wNext*s.table[next+k]
	}
	return Resolved{Epoch: epoch, Mode: mode, Degree: degree, Coeffs: out}, nil
}

// Dipole returns the degree-1 coefficients at epoch using the same blending
// as Resolve in Field mode.
func (s *Store) Dipole(epoch float64) (Dipole, error) {
	i, wBase, wNext, err := s.window(epoch, Field)
	if err != nil {
		return Dipole{}, err
	}
	a, b := s.dipoles[i], s.dipoles[i+1]
	return Dipole{
		G10: wBase*a.G10 + wNext*b.G10,
		G11: wBase*a.G11 + wNext*b.G11,
		H11: wBase*a.H11 + wNext*b.H11,
	}, nil
}
