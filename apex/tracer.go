package apex

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/geomag/coord"
	"github.com/signalsfoundry/geomag/internal/logging"
	"github.com/signalsfoundry/geomag/synth"
)

// MaxSteps is the iteration cap of a single trace.
const MaxSteps = 100

// Step-length constants (km). The step is
// radius*stepScale/max(1-s^2, minCosSquared) - stepOffset, where s is the
// sine of the quasi-dipole latitude of the current point.
const (
	stepScale     = 0.06
	stepOffset    = 370.0
	minCosSquared = 0.25
)

// ErrTraceDidNotConverge is returned when MaxSteps steps complete without
// the geocentric radius starting to decrease.
var ErrTraceDidNotConverge = errors.New("field-line trace did not converge")

// NotConvergedError carries the partial path of a trace that hit the
// iteration cap. The path is diagnostic only; it contains no apex.
type NotConvergedError struct {
	Steps int
	Path  []coord.Vec3
}

func (e *NotConvergedError) Error() string {
	return fmt.Sprintf("%s after %d steps", ErrTraceDidNotConverge, e.Steps)
}

func (e *NotConvergedError) Unwrap() error { return ErrTraceDidNotConverge }

// Trace is the outcome of a converged trace.
type Trace struct {
	// Path holds every visited cartesian position (km), the launch point
	// first and the point past the apex last.
	Path []coord.Vec3
	// Apex is the accepted apex point, Path[ApexIndex].
	Apex      coord.Vec3
	ApexIndex int
	Steps     int
}

// ApexRadius is the geocentric radius of the apex in km.
func (t Trace) ApexRadius() float64 { return t.Apex.Norm() }

// Trace outcomes reported to a Recorder.
const (
	OutcomeConverged    = "converged"
	OutcomeNotConverged = "not_converged"
	OutcomeError        = "error"
)

// Recorder receives one observation per trace.
type Recorder interface {
	ObserveTrace(outcome string, steps int)
}

// Option customises a Tracer.
type Option func(*Tracer)

// WithLogger sets the tracer's logger.
func WithLogger(l logging.Logger) Option {
	return func(t *Tracer) {
		if l != nil {
			t.log = l
		}
	}
}

// WithRecorder attaches an optional metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(t *Tracer) {
		t.rec = r
	}
}

// Tracer follows field lines through the field of a Synthesizer. It keeps
// no per-trace state and is safe for concurrent use.
type Tracer struct {
	synth    *synth.Synthesizer
	log      logging.Logger
	rec      Recorder
	maxSteps int
}

// NewTracer returns a Tracer evaluating the field with s.
func NewTracer(s *synth.Synthesizer, opts ...Option) *Tracer {
	t := &Tracer{synth: s, log: logging.Noop(), maxSteps: MaxSteps}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FindApex traces the field line through the geodetic position (degrees,
// km) at epoch until it passes its apex. If the iteration cap is reached
// first the error is a *NotConvergedError wrapping ErrTraceDidNotConverge.
func (t *Tracer) FindApex(ctx context.Context, lat, lon, alt, epoch float64) (Trace, error) {
	tr, err := t.findApex(ctx, lat, lon, alt, epoch)
	switch {
	case err == nil:
		t.log.Debug(ctx, "field line traced",
			logging.Epoch(epoch),
			logging.Int("steps", tr.Steps),
			logging.Float64("apex_radius_km", tr.ApexRadius()),
		)
		t.observe(OutcomeConverged, tr.Steps)
	case errors.Is(err, ErrTraceDidNotConverge):
		t.log.Debug(ctx, "field line trace hit the step cap",
			logging.Epoch(epoch),
			logging.Float64("lat", lat),
			logging.Float64("lon", lon),
			logging.Err(err),
		)
		t.observe(OutcomeNotConverged, t.maxSteps)
	default:
		t.observe(OutcomeError, 0)
	}
	return tr, err
}

func (t *Tracer) observe(outcome string, steps int) {
	if t.rec != nil {
		t.rec.ObserveTrace(outcome, steps)
	}
}

func (t *Tracer) findApex(ctx context.Context, lat, lon, alt, epoch float64) (Trace, error) {
	poleLat, poleLon, err := LocateNorthPole(t.synth.Store(), epoch)
	if err != nil {
		return Trace{}, err
	}
	sinPole := math.Sin(poleLat * coord.DegToRad)
	cosPole := math.Cos(poleLat * coord.DegToRad)
	poleLon *= coord.DegToRad

	gcColat, _, radius := coord.GeodeticToGeocentric((90-lat)*coord.DegToRad, alt)
	start := coord.SphericalToCartesian(math.Pi/2-gcColat, lon*coord.DegToRad, radius)

	launch, _, err := t.synth.FieldAt(ctx, start, epoch)
	if err != nil {
		return Trace{}, fmt.Errorf("field at launch point: %w", err)
	}
	st := traceState{y: start, sign: 1}
	if launch.Vertical > 0 {
		st.sign = -1
	}

	path := make([]coord.Vec3, 0, t.maxSteps+1)
	path = append(path, start)
	for step := 1; step <= t.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return Trace{}, err
		}

		gcLat, gcLon, r := coord.CartesianToSpherical(st.y)
		s := sinPole*math.Sin(gcLat) + cosPole*math.Cos(gcLat)*math.Cos(gcLon-poleLon)
		ds := r*stepScale/math.Max(1-s*s, minCosSquared) - stepOffset

		fv, b, err := t.synth.FieldAt(ctx, st.y, epoch)
		if err != nil {
			return Trace{}, fmt.Errorf("field at step %d: %w", step, err)
		}

		done, apexIndex := st.advance(step, ds, b.Scale(st.sign/fv.Total), len(path))
		path = append(path, st.y)
		if done {
			return Trace{Path: path, Apex: path[apexIndex], ApexIndex: apexIndex, Steps: step}, nil
		}
	}
	return Trace{}, &NotConvergedError{Steps: t.maxSteps, Path: path}
}

// traceState is the multistep integrator. yp holds the unit-field
// derivative history, yp[3] being the derivative at the current point;
// yapx holds the last three points considered for the apex test.
type traceState struct {
	y, yold coord.Vec3
	yp      [4]coord.Vec3
	yapx    [3]coord.Vec3
	sign    float64

	// index in the path of each yapx entry
	apxIndex [3]int
}

// advance moves y by one step of length ds given the unit derivative at y.
// next is the path index the new point will occupy. It reports whether the
// apex has been passed and, if so, the path index of the apex.
//
// Steps 1-7 bootstrap the derivative history with one-sided formulas of
// increasing order, three points being fully resolved by step 7. From step
// 8 on a four-point Adams-Bashforth predictor advances one point per step.
func (st *traceState) advance(step int, ds float64, deriv coord.Vec3, next int) (bool, int) {
	st.yp[3] = deriv
	d2, d6, d12, d24 := ds/2, ds/6, ds/12, ds/24
	yp := &st.yp

	switch step {
	case 1:
		yp[0] = yp[3]
		st.yold = st.y
		st.yapx[0], st.apxIndex[0] = st.y, next-1
		st.y = st.yold.Add(yp[0].Scale(ds))
	case 2:
		yp[1] = yp[3]
		st.y = st.yold.Add(yp[1].Add(yp[0]).Scale(d2))
	case 3:
		st.y = st.yold.Add(combine(2, yp[3], 1, yp[1], 3, yp[0]).Scale(d6))
	case 4:
		yp[1] = yp[3]
		st.yapx[1], st.apxIndex[1] = st.y, next-1
		st.yold = st.y
		st.y = st.yold.Add(combine(3, yp[1], -1, yp[0], 0, coord.Vec3{}).Scale(d2))
	case 5:
		st.y = st.yold.Add(combine(5, yp[3], 8, yp[1], -1, yp[0]).Scale(d12))
	case 6:
		yp[2] = yp[3]
		st.yold = st.y
		st.yapx[2], st.apxIndex[2] = st.y, next-1
		st.y = st.yold.Add(combine(23, yp[2], -16, yp[1], 5, yp[0]).Scale(d12))
	case 7:
		st.yapx[0], st.apxIndex[0] = st.yapx[1], st.apxIndex[1]
		st.yapx[1], st.apxIndex[1] = st.yapx[2], st.apxIndex[2]
		st.y = st.yold.Add(combine(9, yp[3], 19, yp[2], -5, yp[1]).Add(yp[0]).Scale(d24))
		st.yapx[2], st.apxIndex[2] = st.y, next
	default:
		st.yapx[0], st.apxIndex[0] = st.yapx[1], st.apxIndex[1]
		st.yapx[1], st.apxIndex[1] = st.y, next-1
		st.yold = st.y
		st.y = st.yold.Add(combine(55, yp[3], -59, yp[2], 37, yp[1]).Add(yp[0].Scale(-9)).Scale(d24))
		st.yapx[2], st.apxIndex[2] = st.y, next
		yp[0], yp[1], yp[2] = yp[1], yp[2], yp[3]
		if st.y.Norm() < st.yold.Norm() {
			return true, next - 1
		}
		return false, 0
	}

	if (step == 6 || step == 7) && st.yapx[2].Norm() < st.yapx[1].Norm() {
		return true, st.apxIndex[1]
	}
	return false, 0
}

func combine(a float64, u coord.Vec3, b float64, v coord.Vec3, c float64, w coord.Vec3) coord.Vec3 {
	return u.Scale(a).Add(v.Scale(b)).Add(w.Scale(c))
}
