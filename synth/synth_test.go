package synth

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/geomag/coeffs"
	"github.com/signalsfoundry/geomag/coeffs/coeffstest"
	"github.com/signalsfoundry/geomag/coord"
)

type fakeRecorder struct {
	outcomes map[string]int
}

func (f *fakeRecorder) ObserveSynthesis(mode, outcome string) {
	if f.outcomes == nil {
		f.outcomes = make(map[string]int)
	}
	f.outcomes[mode+"/"+outcome]++
}

func newSynth(t *testing.T, fn coeffstest.ValueFunc, opts ...Option) *Synthesizer {
	t.Helper()
	return New(coeffstest.Store(t, fn), opts...)
}

func mustSynthesize(t *testing.T, s *Synthesizer, req Request) FieldVector {
	t.Helper()
	fv, err := s.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("Synthesize(%+v): %v", req, err)
	}
	return fv
}

func closeTo(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol*math.Max(1, math.Abs(want))
}

func TestAxialDipoleMatchesClosedForm(t *testing.T) {
	const g10 = -30000.0
	s := newSynth(t, coeffstest.AxialDipole(g10))

	for _, tc := range []struct {
		radius, colat, lon float64
	}{
		{6371.2, 90, 0},
		{7000, 60, 30},
		{9000, 135, -120},
		{6500, 10, 200},
	} {
		fv := mustSynthesize(t, s, Request{
			Mode: coeffs.Field, Epoch: 2000, System: Geocentric,
			Altitude: tc.radius, Colatitude: tc.colat, Longitude: tc.lon,
		})
		ratio3 := math.Pow(coord.ReferenceRadius/tc.radius, 3)
		theta := tc.colat * coord.DegToRad
		wantX := -g10 * ratio3 * math.Sin(theta)
		wantZ := -2 * g10 * ratio3 * math.Cos(theta)
		if !closeTo(fv.North, wantX, 1e-12) || !closeTo(fv.Vertical, wantZ, 1e-12) || math.Abs(fv.East) > 1e-9 {
			t.Errorf("%+v: got (%v, %v, %v), want (%v, 0, %v)", tc, fv.North, fv.East, fv.Vertical, wantX, wantZ)
		}
	}
}

func TestDegreeTwoHarmonics(t *testing.T) {
	const (
		v      = 1000.0
		radius = 7200.0
		colat  = 50.0
		lon    = 40.0
	)
	ratio4 := math.Pow(coord.ReferenceRadius/radius, 4)
	c, st := math.Cos(colat*coord.DegToRad), math.Sin(colat*coord.DegToRad)
	req := Request{Mode: coeffs.Field, Epoch: 2005, System: Geocentric, Altitude: radius, Colatitude: colat, Longitude: lon}

	t.Run("g20", func(t *testing.T) {
		fv := mustSynthesize(t, newSynth(t, coeffstest.Single(coeffs.G, 2, 0, v)), req)
		p20 := (3*c*c - 1) / 2
		wantX := v * ratio4 * (-3 * c * st)
		wantZ := -3 * v * ratio4 * p20
		if !closeTo(fv.North, wantX, 1e-12) || !closeTo(fv.Vertical, wantZ, 1e-12) || math.Abs(fv.East) > 1e-9 {
			t.Fatalf("got (%v, %v, %v), want (%v, 0, %v)", fv.North, fv.East, fv.Vertical, wantX, wantZ)
		}
	})

	t.Run("g22", func(t *testing.T) {
		fv := mustSynthesize(t, newSynth(t, coeffstest.Single(coeffs.G, 2, 2, v)), req)
		twoLon := 2 * lon * coord.DegToRad
		p22 := math.Sqrt(3) / 2 * st * st
		dp22 := math.Sqrt(3) * st * c
		wantX := v * ratio4 * math.Cos(twoLon) * dp22
		wantY := v * ratio4 * math.Sin(twoLon) * 2 * p22 / st
		wantZ := -3 * v * ratio4 * math.Cos(twoLon) * p22
		if !closeTo(fv.North, wantX, 1e-12) || !closeTo(fv.East, wantY, 1e-12) || !closeTo(fv.Vertical, wantZ, 1e-12) {
			t.Fatalf("got (%v, %v, %v), want (%v, %v, %v)", fv.North, fv.East, fv.Vertical, wantX, wantY, wantZ)
		}
	})

	t.Run("h21", func(t *testing.T) {
		fv := mustSynthesize(t, newSynth(t, coeffstest.Single(coeffs.H, 2, 1, v)), req)
		l := lon * coord.DegToRad
		p21 := math.Sqrt(3) * st * c
		dp21 := math.Sqrt(3) * (c*c - st*st)
		wantX := v * ratio4 * math.Sin(l) * dp21
		wantY := -v * ratio4 * math.Cos(l) * p21 / st
		wantZ := -3 * v * ratio4 * math.Sin(l) * p21
		if !closeTo(fv.North, wantX, 1e-12) || !closeTo(fv.East, wantY, 1e-12) || !closeTo(fv.Vertical, wantZ, 1e-12) {
			t.Fatalf("got (%v, %v, %v), want (%v, %v, %v)", fv.North, fv.East, fv.Vertical, wantX, wantY, wantZ)
		}
	})
}

func TestEastComponentAtPoleUsesLimit(t *testing.T) {
	const g11, h11, lon = 1500.0, -4500.0, 70.0
	s := newSynth(t, coeffstest.TiltedDipole(0, g11, h11))
	l := lon * coord.DegToRad

	for _, colat := range []float64{0, 180} {
		fv := mustSynthesize(t, s, Request{
			Mode: coeffs.Field, Epoch: 1960, System: Geocentric,
			Altitude: coord.ReferenceRadius, Colatitude: colat, Longitude: lon,
		})
		ct := math.Copysign(1, 90-colat)
		wantX := (g11*math.Cos(l) + h11*math.Sin(l)) * ct
		wantY := (g11*math.Sin(l) - h11*math.Cos(l)) * ct * ct
		if math.IsNaN(fv.East) || math.IsInf(fv.East, 0) {
			t.Fatalf("colat %v: east component not finite: %v", colat, fv.East)
		}
		if !closeTo(fv.North, wantX, 1e-12) || !closeTo(fv.East, wantY, 1e-12) || math.Abs(fv.Vertical) > 1e-9 {
			t.Fatalf("colat %v: got (%v, %v, %v), want (%v, %v, 0)", colat, fv.North, fv.East, fv.Vertical, wantX, wantY)
		}
	}

	// The limit agrees with the general formula just off the pole.
	pole := mustSynthesize(t, s, Request{Mode: coeffs.Field, Epoch: 1960, System: Geodetic, Colatitude: 0, Longitude: lon})
	near := mustSynthesize(t, s, Request{Mode: coeffs.Field, Epoch: 1960, System: Geodetic, Colatitude: 1e-7, Longitude: lon})
	if !closeTo(pole.East, near.East, 1e-6) || !closeTo(pole.North, near.North, 1e-6) {
		t.Fatalf("pole %+v differs from near-pole %+v", pole, near)
	}
}

func TestTotalIsNormOfComponents(t *testing.T) {
	s := newSynth(t, coeffstest.Earthlike())
	for _, req := range []Request{
		{Mode: coeffs.Field, Epoch: 1900, System: Geodetic, Altitude: 0, Colatitude: 45, Longitude: 10},
		{Mode: coeffs.Field, Epoch: 1993.3, System: Geodetic, Altitude: 550, Colatitude: 120, Longitude: -75},
		{Mode: coeffs.SecularVariation, Epoch: 2011.7, System: Geocentric, Altitude: 6800, Colatitude: 5, Longitude: 190},
		{Mode: coeffs.Field, Epoch: 2024, System: Geocentric, Altitude: 20000, Colatitude: 179, Longitude: 0},
	} {
		fv := mustSynthesize(t, s, req)
		if want := math.Sqrt(fv.North*fv.North + fv.East*fv.East + fv.Vertical*fv.Vertical); fv.Total != want {
			t.Errorf("%+v: total %v != norm %v", req, fv.Total, want)
		}
	}
}

func TestSnapshotEpochMatchesDirectEvaluation(t *testing.T) {
	store := coeffstest.Store(t, coeffstest.Earthlike())
	s := New(store)

	for _, idx := range []int{0, 18, 19, 21, 23} {
		epoch := store.Epochs()[idx]
		req := Request{Mode: coeffs.Field, Epoch: epoch, System: Geodetic, Altitude: 120, Colatitude: 33, Longitude: 250}
		fv := mustSynthesize(t, s, req)
		x, y, z := evaluate(store.Snapshot(idx), store.SnapshotDegree(idx), Geodetic, 120, 33, 250)
		if fv.North != x || fv.East != y || fv.Vertical != z {
			t.Errorf("epoch %v: got (%v, %v, %v), direct (%v, %v, %v)", epoch, fv.North, fv.East, fv.Vertical, x, y, z)
		}
	}
}

func TestSecularVariationMatchesFiniteDifference(t *testing.T) {
	s := newSynth(t, coeffstest.Earthlike())
	base := Request{System: Geodetic, Altitude: 300, Colatitude: 40, Longitude: 116}

	for _, tc := range []struct {
		epoch, later float64
	}{
		{2005, 2008},
		{1987.5, 1989},
		{2016, 2019},
	} {
		sv := base
		sv.Mode, sv.Epoch = coeffs.SecularVariation, tc.epoch
		rate := mustSynthesize(t, s, sv)

		a, b := base, base
		a.Mode, a.Epoch = coeffs.Field, tc.epoch
		b.Mode, b.Epoch = coeffs.Field, tc.later
		fa, fb := mustSynthesize(t, s, a), mustSynthesize(t, s, b)
		dt := tc.later - tc.epoch

		for _, c := range []struct {
			name       string
			got, delta float64
		}{
			{"north", rate.North, fb.North - fa.North},
			{"east", rate.East, fb.East - fa.East},
			{"vertical", rate.Vertical, fb.Vertical - fa.Vertical},
		} {
			if want := c.delta / dt; math.Abs(c.got-want) > 1e-6 {
				t.Errorf("epoch %v %s: sv %v, finite difference %v", tc.epoch, c.name, c.got, want)
			}
		}
	}
}

func TestGeodeticMatchesRotatedGeocentric(t *testing.T) {
	s := newSynth(t, coeffstest.Earthlike())
	const colat, alt, lon = 62.0, 400.0, -33.0

	red := coord.Reduce(colat*coord.DegToRad, alt)
	gd := mustSynthesize(t, s, Request{Mode: coeffs.Field, Epoch: 2001, System: Geodetic, Altitude: alt, Colatitude: colat, Longitude: lon})
	gc := mustSynthesize(t, s, Request{
		Mode: coeffs.Field, Epoch: 2001, System: Geocentric,
		Altitude: red.Radius, Colatitude: red.Colatitude() * coord.RadToDeg, Longitude: lon,
	})

	wantX := gc.North*red.CosDelta + gc.Vertical*red.SinDelta
	wantZ := gc.Vertical*red.CosDelta - gc.North*red.SinDelta
	if !closeTo(gd.North, wantX, 1e-9) || !closeTo(gd.East, gc.East, 1e-9) || !closeTo(gd.Vertical, wantZ, 1e-9) {
		t.Fatalf("geodetic %+v, rotated geocentric (%v, %v, %v)", gd, wantX, gc.East, wantZ)
	}
	if math.Abs(gd.Total-gc.Total) > 1e-6*gc.Total {
		t.Fatalf("rotation changed the intensity: %v vs %v", gd.Total, gc.Total)
	}
}

func TestReducedAccuracyWindow(t *testing.T) {
	rec := &fakeRecorder{}
	s := newSynth(t, coeffstest.Earthlike(), WithRecorder(rec))
	req := Request{Mode: coeffs.Field, System: Geodetic, Colatitude: 80, Longitude: 0}

	req.Epoch = 2020
	if fv := mustSynthesize(t, s, req); fv.ReducedAccuracy {
		t.Fatalf("2020.0 flagged as reduced accuracy")
	}
	req.Epoch = 2022.5
	fv := mustSynthesize(t, s, req)
	if !fv.ReducedAccuracy || fv.Total <= 1 {
		t.Fatalf("2022.5: got %+v, want a flagged real field", fv)
	}
	if rec.outcomes["field/ok"] != 1 || rec.outcomes["field/reduced_accuracy"] != 1 {
		t.Fatalf("recorded outcomes %v", rec.outcomes)
	}
}

func TestEpochOutOfRangeReturnsSentinel(t *testing.T) {
	rec := &fakeRecorder{}
	s := newSynth(t, coeffstest.Earthlike(), WithRecorder(rec))

	for _, epoch := range []float64{1899.5, 2025.5} {
		fv, err := s.Synthesize(context.Background(), Request{Mode: coeffs.SecularVariation, Epoch: epoch, Colatitude: 45})
		if !errors.Is(err, coeffs.ErrEpochOutOfRange) {
			t.Fatalf("epoch %v: err = %v, want ErrEpochOutOfRange", epoch, err)
		}
		if fv != OutOfRange {
			t.Fatalf("epoch %v: got %+v, want %+v", epoch, fv, OutOfRange)
		}
	}
	if rec.outcomes["secular-variation/out_of_range"] != 2 {
		t.Fatalf("recorded outcomes %v", rec.outcomes)
	}
}

func TestFieldAtRotatesIntoCartesian(t *testing.T) {
	const g10 = -30000.0
	s := newSynth(t, coeffstest.AxialDipole(g10))
	const r = 7000.0

	fv, cart, err := s.FieldAt(context.Background(), coord.Vec3{X: r}, 2010)
	if err != nil {
		t.Fatalf("FieldAt: %v", err)
	}
	want := -g10 * math.Pow(coord.ReferenceRadius/r, 3)
	if !closeTo(cart.Z, want, 1e-12) || math.Abs(cart.X) > 1e-9 || math.Abs(cart.Y) > 1e-9 {
		t.Fatalf("cartesian field %+v, want (0, 0, %v)", cart, want)
	}
	if !closeTo(cart.Norm(), fv.Total, 1e-12) {
		t.Fatalf("rotation changed the norm: %v vs %v", cart.Norm(), fv.Total)
	}

	if _, _, err := s.FieldAt(context.Background(), coord.Vec3{X: r}, 1800); !errors.Is(err, coeffs.ErrEpochOutOfRange) {
		t.Fatalf("FieldAt(1800) err = %v", err)
	}
}
