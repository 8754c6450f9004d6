// Package synth evaluates the geomagnetic field vector from the Gauss
// coefficient series with the recursive spherical-harmonic synthesis used by
// the IGRF reference routines.
//
// A Synthesizer holds no mutable state of its own; it reads an immutable
// coeffs.Store and may be shared across goroutines.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/geomag/coeffs"
	"github.com/signalsfoundry/geomag/coord"
	"github.com/signalsfoundry/geomag/internal/logging"
)

// System is the coordinate system a request position is expressed in.
type System int

const (
	// Geodetic positions are a colatitude on the WGS84 spheroid and an
	// altitude above it.
	Geodetic System = iota
	// Geocentric positions are a spherical colatitude and a radius from the
	// Earth's centre.
	Geocentric
)

func (s System) String() string {
	switch s {
	case Geodetic:
		return "geodetic"
	case Geocentric:
		return "geocentric"
	default:
		return fmt.Sprintf("system(%d)", int(s))
	}
}

// ParseSystem accepts "geodetic" (the default for an empty string) or
// "geocentric".
func ParseSystem(s string) (System, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "geodetic", "":
		return Geodetic, nil
	case "geocentric":
		return Geocentric, nil
	default:
		return 0, fmt.Errorf("unknown coordinate system %q", s)
	}
}

// Request describes one field evaluation. Angles are in degrees.
type Request struct {
	Mode   coeffs.Mode
	Epoch  float64
	System System
	// Altitude is the height above the spheroid in km for Geodetic requests
	// and the geocentric radius in km for Geocentric ones.
	Altitude   float64
	Colatitude float64
	Longitude  float64 // east
}

// FieldVector is the field at one point: nT in Field mode, nT/yr in
// SecularVariation mode. North/East/Vertical are the X/Y/Z components of the
// frame the request was expressed in; Vertical is positive downwards.
type FieldVector struct {
	North    float64
	East     float64
	Vertical float64
	Total    float64
	// ReducedAccuracy is set for epochs past the end of the
	// secular-variation model.
	ReducedAccuracy bool
}

// OutOfRange is the value returned alongside ErrEpochOutOfRange.
var OutOfRange = FieldVector{Total: 1}

// Synthesis outcomes reported to a Recorder.
const (
	OutcomeOK              = "ok"
	OutcomeReducedAccuracy = "reduced_accuracy"
	OutcomeOutOfRange      = "out_of_range"
)

// Recorder receives one observation per synthesis.
type Recorder interface {
	ObserveSynthesis(mode, outcome string)
}

// Option customises a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger used for epoch warnings.
func WithLogger(l logging.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecorder attaches an optional metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Synthesizer) {
		s.rec = r
	}
}

// Synthesizer evaluates FieldVectors from a coefficient store.
type Synthesizer struct {
	store *coeffs.Store
	log   logging.Logger
	rec   Recorder
}

// New returns a Synthesizer reading from store.
func New(store *coeffs.Store, opts ...Option) *Synthesizer {
	s := &Synthesizer{store: store, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the coefficient store the synthesizer reads from.
func (s *Synthesizer) Store() *coeffs.Store { return s.store }

// Synthesize evaluates the field described by req. For epochs outside the
// model span it returns OutOfRange together with an error wrapping
// coeffs.ErrEpochOutOfRange. Epochs past the secular-variation interval are
// evaluated normally and flagged with ReducedAccuracy.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (FieldVector, error) {
	res, err := s.store.Resolve(req.Epoch, req.Mode)
	if err != nil {
		if errors.Is(err, coeffs.ErrEpochOutOfRange) {
			s.log.Warn(ctx, "epoch outside model span",
				logging.Epoch(req.Epoch),
				logging.Mode(req.Mode.String()),
				logging.Float64("first_epoch", s.store.FirstEpoch()),
				logging.Float64("limit", s.store.Limit()),
			)
			s.observe(req.Mode, OutcomeOutOfRange)
			return OutOfRange, err
		}
		return FieldVector{}, err
	}

	x, y, z := evaluate(res.Coeffs, res.Degree, req.System, req.Altitude, req.Colatitude, req.Longitude)
	out := FieldVector{
		North:    x,
		East:     y,
		Vertical: z,
		Total:    math.Sqrt(x*x + y*y + z*z),
	}

	if s.store.ReducedAccuracy(req.Epoch) {
		out.ReducedAccuracy = true
		s.log.Warn(ctx, "epoch past secular-variation interval, reduced accuracy",
			logging.Epoch(req.Epoch),
			logging.Float64("valid_until", s.store.ValidUntil()),
		)
		s.observe(req.Mode, OutcomeReducedAccuracy)
		return out, nil
	}
	s.observe(req.Mode, OutcomeOK)
	return out, nil
}

func (s *Synthesizer) observe(mode coeffs.Mode, outcome string) {
	if s.rec != nil {
		s.rec.ObserveSynthesis(mode.String(), outcome)
	}
}

// FieldAt evaluates the main field at a cartesian position (km) and returns
// both the local vector, in the geocentric north/east/down frame, and the same
// vector rotated into the cartesian frame.
func (s *Synthesizer) FieldAt(ctx context.Context, pos coord.Vec3, epoch float64) (FieldVector, coord.Vec3, error) {
	lat, lon, r := coord.CartesianToSpherical(pos)
	fv, err := s.Synthesize(ctx, Request{
		Mode:       coeffs.Field,
		Epoch:      epoch,
		System:     Geocentric,
		Altitude:   r,
		Colatitude: 90 - lat*coord.RadToDeg,
		Longitude:  lon * coord.RadToDeg,
	})
	if err != nil {
		return fv, coord.Vec3{}, err
	}
	return fv, coord.RotateLocalToCartesian(fv.North, fv.East, fv.Vertical, lon, lat), nil
}

// evaluate runs the recursive synthesis over gh, a coefficient vector in
// harmonic order truncated at nmax. It returns the north, east and vertical
// components in the frame of the input system.
func evaluate(gh []float64, nmax int, system System, altitude, colatitude, longitude float64) (x, y, z float64) {
	var (
		p, q   [coeffs.MaxDegree + 1][coeffs.MaxDegree + 1]float64
		cl, sl [coeffs.MaxDegree + 1]float64
	)

	clat := colatitude * coord.DegToRad
	ct, st := math.Cos(clat), math.Sin(clat)
	if colatitude == 0 || colatitude == 180 {
		// Pin the poles so the east component takes the closed-form branch.
		st = 0
		ct = math.Copysign(1, 90-colatitude)
	}
	elon := longitude * coord.DegToRad
	cl[0], sl[0] = 1, 0
	cl[1], sl[1] = math.Cos(elon), math.Sin(elon)

	r := altitude
	cd, sd := 1.0, 0.0
	if system == Geodetic {
		red := coord.Reduce(clat, altitude)
		r = red.Radius
		if st != 0 {
			ct, st = red.CosColatitude, red.SinColatitude
			cd, sd = red.CosDelta, red.SinDelta
		}
	}

	ratio := coord.ReferenceRadius / r
	rr := ratio * ratio

	p[0][0], q[0][0] = 1, 0
	p[1][1], q[1][1] = st, ct

	l := 0
	for n := 1; n <= nmax; n++ {
		rr *= ratio
		fn := float64(n)
		for m := 0; m <= n; m++ {
			fm := float64(m)
			switch {
			case m == n && n == 1:
				// seeded above
			case m == n:
				one := math.Sqrt(1 - 0.5/fm)
				p[n][m] = one * st * p[n-1][m-1]
				q[n][m] = one * (st*q[n-1][m-1] + ct*p[n-1][m-1])
				cl[m] = cl[m-1]*cl[1] - sl[m-1]*sl[1]
				sl[m] = sl[m-1]*cl[1] + cl[m-1]*sl[1]
			default:
				gmm := fm * fm
				one := math.Sqrt(fn*fn - gmm)
				two := math.Sqrt((fn-1)*(fn-1)-gmm) / one
				three := (2*fn - 1) / one
				var p2, q2 float64
				if n-2 >= m {
					p2, q2 = p[n-2][m], q[n-2][m]
				}
				p[n][m] = three*ct*p[n-1][m] - two*p2
				q[n][m] = three*(ct*q[n-1][m]-st*p[n-1][m]) - two*q2
			}

			one := gh[l] * rr
			if m == 0 {
				x += one * q[n][m]
				z -= (fn + 1) * one * p[n][m]
				l++
				continue
			}
			two := gh[l+1] * rr
			three := one*cl[m] + two*sl[m]
			x += three * q[n][m]
			z -= (fn + 1) * three * p[n][m]
			if st == 0 {
				y += (one*sl[m] - two*cl[m]) * q[n][m] * ct
			} else {
				y += (one*sl[m] - two*cl[m]) * fm * p[n][m] / st
			}
			l += 2
		}
	}

	if system == Geodetic {
		x, z = x*cd+z*sd, z*cd-x*sd
	}
	return x, y, z
}
