package synth

import (
	"math"

	"github.com/signalsfoundry/geomag/coord"
)

// Elements are the derived magnetic elements of a field vector. Angles are
// in degrees; intensities in nT. When returned by SecularElements the same
// fields carry rates (degrees/yr, nT/yr).
type Elements struct {
	Declination float64
	Inclination float64
	Horizontal  float64
	Total       float64
}

// Elements derives declination, inclination, horizontal and total intensity.
func (f FieldVector) Elements() Elements {
	h := math.Hypot(f.North, f.East)
	return Elements{
		Declination: math.Atan2(f.East, f.North) * coord.RadToDeg,
		Inclination: math.Atan2(f.Vertical, h) * coord.RadToDeg,
		Horizontal:  h,
		Total:       math.Sqrt(f.North*f.North + f.East*f.East + f.Vertical*f.Vertical),
	}
}

// SecularElements returns the annual change of the elements given the main
// field and its secular variation at the same point and epoch. Rates that
// are undefined (declination where the horizontal field vanishes) are NaN.
func SecularElements(main, sv FieldVector) Elements {
	x, y, z := main.North, main.East, main.Vertical
	dx, dy, dz := sv.North, sv.East, sv.Vertical

	h2 := x*x + y*y
	h := math.Sqrt(h2)
	f2 := h2 + z*z
	f := math.Sqrt(f2)
	if f == 0 {
		return Elements{Declination: math.NaN(), Inclination: math.NaN(), Horizontal: math.NaN(), Total: math.NaN()}
	}

	out := Elements{
		Total:       (x*dx + y*dy + z*dz) / f,
		Declination: math.NaN(),
		Horizontal:  math.NaN(),
	}
	if h > 0 {
		dh := (x*dx + y*dy) / h
		out.Horizontal = dh
		out.Declination = (x*dy - y*dx) / h2 * coord.RadToDeg
		out.Inclination = (h*dz - z*dh) / f2 * coord.RadToDeg
	} else {
		// On the dip pole only the vertical change is defined.
		out.Inclination = math.NaN()
	}
	return out
}
