// Package orbit samples the geomagnetic field along a satellite orbit
// propagated from a two-line element set with SGP4.
package orbit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/geomag/coord"
	"github.com/signalsfoundry/geomag/synth"
)

// ErrInvalidTLE is returned for element sets that fail the format or
// checksum checks.
var ErrInvalidTLE = errors.New("invalid TLE")

// ErrPropagation is returned when SGP4 yields no usable position.
var ErrPropagation = errors.New("orbit propagation failed")

const tleLineLength = 69

// DecimalYear converts t to a decimal-year epoch, the fraction being the
// elapsed share of t's calendar year in UTC.
func DecimalYear(t time.Time) float64 {
	t = t.UTC()
	start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	return float64(t.Year()) + float64(t.Sub(start))/float64(end.Sub(start))
}

// Sample is the field at one point of the orbit.
type Sample struct {
	Time  time.Time
	Epoch float64
	// Position is Earth-fixed, in km.
	Position coord.Vec3
	// Latitude and Longitude are geocentric, in degrees.
	Latitude  float64
	Longitude float64
	Radius    float64
	// Field is in the local geocentric north/east/down frame.
	Field synth.FieldVector
	// Cartesian is Field rotated into the Earth-fixed frame.
	Cartesian coord.Vec3
}

// Sampler propagates one satellite and evaluates the field along its path.
type Sampler struct {
	synth *synth.Synthesizer
	sat   satellite.Satellite
}

// NewSampler parses a TLE and prepares it for propagation.
func NewSampler(s *synth.Synthesizer, line1, line2 string) (*Sampler, error) {
	line1, line2 = strings.TrimRight(line1, "\r\n "), strings.TrimRight(line2, "\r\n ")
	if err := checkTLELine(line1, '1'); err != nil {
		return nil, err
	}
	if err := checkTLELine(line2, '2'); err != nil {
		return nil, err
	}
	if err := checkTLEFields(line1, line2); err != nil {
		return nil, err
	}
	return &Sampler{
		synth: s,
		sat:   satellite.TLEToSat(line1, line2, satellite.GravityWGS72),
	}, nil
}

func checkTLELine(line string, number byte) error {
	if len(line) != tleLineLength {
		return fmt.Errorf("%w: line %c has %d characters, want %d", ErrInvalidTLE, number, len(line), tleLineLength)
	}
	if line[0] != number || line[1] != ' ' {
		return fmt.Errorf("%w: line %c does not start with %q", ErrInvalidTLE, number, string(number)+" ")
	}
	sum := 0
	for i := 0; i < tleLineLength-1; i++ {
		switch c := line[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	want := line[tleLineLength-1]
	if want < '0' || want > '9' || int(want-'0') != sum%10 {
		return fmt.Errorf("%w: line %c checksum %c, computed %d", ErrInvalidTLE, number, want, sum%10)
	}
	return nil
}

// tleField is one fixed-column numeric field, assembled the way SGP4
// initialisation reads it.
type tleField struct {
	name    string
	line    int
	integer bool
	text    func(line string) string
}

// implied formats a field with an implied leading decimal point and an
// exponent, e.g. " 12345-4" for 0.12345e-4.
func implied(sign, mantissa, exponent int) func(string) string {
	return func(l string) string {
		return strings.Replace(l[sign:mantissa]+"."+l[mantissa:exponent]+"e"+l[exponent:exponent+2], " ", "", 2)
	}
}

func columns(from, to int) func(string) string {
	return func(l string) string { return strings.Replace(l[from:to], " ", "", 2) }
}

var tleFields = []tleField{
	{name: "catalogue number", line: 1, integer: true, text: func(l string) string { return strings.TrimSpace(l[2:7]) }},
	{name: "epoch year", line: 1, integer: true, text: func(l string) string { return l[18:20] }},
	{name: "epoch day", line: 1, text: func(l string) string { return l[20:32] }},
	{name: "first derivative of mean motion", line: 1, text: columns(33, 43)},
	{name: "second derivative of mean motion", line: 1, text: implied(44, 45, 50)},
	{name: "drag term", line: 1, text: implied(53, 54, 59)},
	{name: "inclination", line: 2, text: columns(8, 16)},
	{name: "right ascension of the ascending node", line: 2, text: columns(17, 25)},
	{name: "eccentricity", line: 2, text: func(l string) string { return "." + l[26:33] }},
	{name: "argument of perigee", line: 2, text: columns(34, 42)},
	{name: "mean anomaly", line: 2, text: columns(43, 51)},
	{name: "mean motion", line: 2, text: columns(52, 63)},
}

// checkTLEFields parses every numeric field SGP4 initialisation reads, so a
// malformed element set is reported as ErrInvalidTLE instead of reaching
// the propagator. The checksum alone ignores letters.
func checkTLEFields(line1, line2 string) error {
	for _, f := range tleFields {
		line := line1
		if f.line == 2 {
			line = line2
		}
		text := f.text(line)
		var err error
		if f.integer {
			_, err = strconv.Atoi(text)
		} else {
			_, err = strconv.ParseFloat(text, 64)
		}
		if err != nil {
			return fmt.Errorf("%w: line %d %s %q is not a number", ErrInvalidTLE, f.line, f.name, text)
		}
	}
	return nil
}

// Position returns the Earth-fixed position (km) of the satellite at t.
// Propagation has one-second resolution.
func (s *Sampler) Position(t time.Time) (coord.Vec3, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(s.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	pos := coord.Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
	if r := pos.Norm(); math.IsNaN(r) || r == 0 {
		return coord.Vec3{}, fmt.Errorf("%w at %s", ErrPropagation, t.Format(time.RFC3339))
	}
	return pos, nil
}

// Sample evaluates the main field at the satellite position at t.
func (s *Sampler) Sample(ctx context.Context, t time.Time) (Sample, error) {
	pos, err := s.Position(t)
	if err != nil {
		return Sample{}, err
	}
	epoch := DecimalYear(t)
	fv, cart, err := s.synth.FieldAt(ctx, pos, epoch)
	if err != nil {
		return Sample{}, fmt.Errorf("field at %s: %w", t.UTC().Format(time.RFC3339), err)
	}
	lat, lon, r := coord.CartesianToSpherical(pos)
	return Sample{
		Time:      t.UTC(),
		Epoch:     epoch,
		Position:  pos,
		Latitude:  lat * coord.RadToDeg,
		Longitude: lon * coord.RadToDeg,
		Radius:    r,
		Field:     fv,
		Cartesian: cart,
	}, nil
}

// Track samples count points spaced by step, starting at start.
func (s *Sampler) Track(ctx context.Context, start time.Time, step time.Duration, count int) ([]Sample, error) {
	if count < 0 {
		return nil, fmt.Errorf("track: negative sample count %d", count)
	}
	out := make([]Sample, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		smp, err := s.Sample(ctx, start.Add(time.Duration(i)*step))
		if err != nil {
			return out, err
		}
		out = append(out, smp)
	}
	return out, nil
}
