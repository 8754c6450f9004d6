// Package apex traces geomagnetic field lines from a point on or above the
// Earth to their apex, the point of greatest geocentric radius along the
// line, and locates the first-order dipole pole used to size trace steps.
package apex

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/geomag/coeffs"
	"github.com/signalsfoundry/geomag/coord"
)

// DipoleSource yields the degree-1 Gauss coefficients at an epoch.
// *coeffs.Store satisfies it.
type DipoleSource interface {
	Dipole(epoch float64) (coeffs.Dipole, error)
}

// LocateNorthPole returns the geocentric latitude and east longitude, in
// degrees, of the northern pole of the centred-dipole approximation at epoch.
func LocateNorthPole(src DipoleSource, epoch float64) (lat, lon float64, err error) {
	d, err := src.Dipole(epoch)
	if err != nil {
		return 0, 0, fmt.Errorf("locate north pole: %w", err)
	}
	norm := math.Sqrt(d.G10*d.G10 + d.G11*d.G11 + d.H11*d.H11)
	if norm == 0 {
		return 0, 0, fmt.Errorf("locate north pole at %v: dipole terms are all zero", epoch)
	}
	colat := math.Acos(d.G10/norm) * coord.RadToDeg
	elong := math.Atan2(d.H11, d.G11) * coord.RadToDeg
	// The dipole axis points at the southern geomagnetic pole; flip it.
	return colat - 90, coord.WrapLongitude(elong - 180), nil
}
