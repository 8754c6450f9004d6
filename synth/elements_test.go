package synth

import (
	"math"
	"testing"

	"github.com/signalsfoundry/geomag/coeffs"
	"github.com/signalsfoundry/geomag/coeffs/coeffstest"
	"github.com/signalsfoundry/geomag/coord"
)

func TestElements(t *testing.T) {
	e := FieldVector{North: 3, East: 4, Vertical: 12, Total: 13}.Elements()
	if e.Horizontal != 5 || e.Total != 13 {
		t.Fatalf("H=%v F=%v, want 5 and 13", e.Horizontal, e.Total)
	}
	if want := math.Atan2(4, 3) * coord.RadToDeg; math.Abs(e.Declination-want) > 1e-12 {
		t.Fatalf("D = %v, want %v", e.Declination, want)
	}
	if want := math.Atan2(12, 5) * coord.RadToDeg; math.Abs(e.Inclination-want) > 1e-12 {
		t.Fatalf("I = %v, want %v", e.Inclination, want)
	}
}

func TestSecularElementsMatchElementDrift(t *testing.T) {
	s := newSynth(t, coeffstest.Earthlike())
	req := Request{System: Geodetic, Altitude: 300, Colatitude: 40, Longitude: 116}

	at := func(mode coeffs.Mode, epoch float64) FieldVector {
		r := req
		r.Mode, r.Epoch = mode, epoch
		return mustSynthesize(t, s, r)
	}

	const epoch, dt = 2006.0, 1e-3
	got := SecularElements(at(coeffs.Field, epoch), at(coeffs.SecularVariation, epoch))
	before := at(coeffs.Field, epoch-dt).Elements()
	after := at(coeffs.Field, epoch+dt).Elements()

	for _, c := range []struct {
		name      string
		got, a, b float64
		tolerance float64
	}{
		{"declination", got.Declination, before.Declination, after.Declination, 1e-6},
		{"inclination", got.Inclination, before.Inclination, after.Inclination, 1e-6},
		{"horizontal", got.Horizontal, before.Horizontal, after.Horizontal, 1e-4},
		{"total", got.Total, before.Total, after.Total, 1e-4},
	} {
		if want := (c.b - c.a) / (2 * dt); math.Abs(c.got-want) > c.tolerance {
			t.Errorf("%s rate = %v, finite difference %v", c.name, c.got, want)
		}
	}
}

func TestSecularElementsOnDipPole(t *testing.T) {
	e := SecularElements(FieldVector{Vertical: 50000}, FieldVector{North: 3, East: 1, Vertical: -20})
	if e.Total != -20 {
		t.Fatalf("dF = %v, want -20", e.Total)
	}
	if !math.IsNaN(e.Declination) || !math.IsNaN(e.Inclination) {
		t.Fatalf("angular rates on the dip pole should be NaN, got %+v", e)
	}
}
