// Package coord holds the geometric conversions shared by the field
// synthesizer and the field-line tracer: the WGS84 geodetic/geocentric
// reduction, spherical<->cartesian conversion and the rotation of a local
// north/east/down vector into the Earth-centred cartesian frame.
//
// Angles are radians and distances kilometres unless a name says otherwise.
// Every function is pure.
package coord

import "math"

// WGS84 squared semi-axes in km^2 as used by the IGRF synthesis routines.
const (
	SemiMajorSquared = 40680631.6
	SemiMinorSquared = 40408296.0
)

// ReferenceRadius is the IGRF reference radius in km. It is not the mean
// Earth radius (6371.0 km); the Gauss coefficients are defined against it.
const ReferenceRadius = 6371.2

// CoreRadius is the core-mantle boundary in km. The internal-field expansion
// is only valid above it.
const CoreRadius = 3485.0

const (
	// DegToRad converts degrees to radians.
	DegToRad = math.Pi / 180
	// RadToDeg converts radians to degrees.
	RadToDeg = 180 / math.Pi
)

// Reduction is the result of reducing a geodetic colatitude/altitude to the
// geocentric sphere. It keeps the sines and cosines so callers that need the
// rotation back to the geodetic frame do not have to recompute them.
type Reduction struct {
	// CosColatitude and SinColatitude are those of the geocentric colatitude.
	CosColatitude float64
	SinColatitude float64
	// Radius is the geocentric radius in km.
	Radius float64
	// CosDelta and SinDelta describe the angle between the geodetic and the
	// geocentric vertical.
	CosDelta float64
	SinDelta float64
}

// Colatitude returns the geocentric colatitude in radians.
func (r Reduction) Colatitude() float64 {
	return math.Atan2(r.SinColatitude, r.CosColatitude)
}

// Delta returns the geodetic-to-geocentric rotation angle in radians.
func (r Reduction) Delta() float64 {
	return math.Atan2(r.SinDelta, r.CosDelta)
}

// Reduce applies the WGS84 oblate-spheroid reduction to a geodetic
// colatitude (radians) and altitude above the spheroid (km).
func Reduce(colatitude, altitude float64) Reduction {
	ct := math.Cos(colatitude)
	st := math.Sin(colatitude)
	return reduceTrig(ct, st, altitude)
}

func reduceTrig(ct, st, altitude float64) Reduction {
	one := SemiMajorSquared * st * st
	two := SemiMinorSquared * ct * ct
	three := one + two
	rho := math.Sqrt(three)
	r := math.Sqrt(altitude*(altitude+2.0*rho) + (SemiMajorSquared*one+SemiMinorSquared*two)/three)
	cd := (altitude + rho) / r
	sd := (SemiMajorSquared - SemiMinorSquared) / rho * ct * st / r
	return Reduction{
		CosColatitude: ct*cd - st*sd,
		SinColatitude: st*cd + ct*sd,
		Radius:        r,
		CosDelta:      cd,
		SinDelta:      sd,
	}
}

// GeodeticToGeocentric converts a geodetic colatitude (radians) and altitude
// (km) into the geocentric colatitude, the geodetic-to-geocentric rotation
// angle, and the geocentric radius.
func GeodeticToGeocentric(colatitude, altitude float64) (gcColatitude, delta, radius float64) {
	red := Reduce(colatitude, altitude)
	return red.Colatitude(), red.Delta(), red.Radius
}

const (
	inverseMaxIterations = 32
	inverseTolerance     = 1e-15
)

// GeocentricToGeodetic inverts GeodeticToGeocentric: given a geocentric
// colatitude (radians) and radius (km) it returns the geodetic colatitude
// (radians) and the altitude above the WGS84 spheroid (km).
func GeocentricToGeodetic(gcColatitude, radius float64) (colatitude, altitude float64) {
	a := math.Sqrt(SemiMajorSquared)
	e2 := 1 - SemiMinorSquared/SemiMajorSquared

	p := radius * math.Sin(gcColatitude) // distance from the rotation axis
	z := radius * math.Cos(gcColatitude)
	if p < 0 {
		p = -p
	}

	if p == 0 {
		b := math.Sqrt(SemiMinorSquared)
		if z >= 0 {
			return 0, z - b
		}
		return math.Pi, -z - b
	}

	lat := math.Atan2(z, p*(1-e2))
	var h float64
	for i := 0; i < inverseMaxIterations; i++ {
		sinLat, cosLat := math.Sin(lat), math.Cos(lat)
		n := a / math.Sqrt(1-e2*sinLat*sinLat)
		if math.Abs(cosLat) > math.Abs(sinLat) {
			h = p/cosLat - n
		} else {
			h = z/sinLat - n*(1-e2)
		}
		next := math.Atan2(z, p*(1-e2*n/(n+h)))
		if math.Abs(next-lat) < inverseTolerance {
			lat = next
			break
		}
		lat = next
	}

	// Refresh the altitude for the converged latitude.
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := a / math.Sqrt(1-e2*sinLat*sinLat)
	if math.Abs(cosLat) > math.Abs(sinLat) {
		h = p/cosLat - n
	} else {
		h = z/sinLat - n*(1-e2)
	}
	return math.Pi/2 - lat, h
}
