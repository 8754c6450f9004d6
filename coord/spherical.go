package coord

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// SphericalToCartesian converts geocentric latitude and longitude (radians)
// and radius (km) into a cartesian position.
func SphericalToCartesian(latitude, longitude, radius float64) Vec3 {
	cosLat := math.Cos(latitude)
	return Vec3{
		X: radius * cosLat * math.Cos(longitude),
		Y: radius * cosLat * math.Sin(longitude),
		Z: radius * math.Sin(latitude),
	}
}

// CartesianToSpherical is the inverse of SphericalToCartesian. Longitude is
// returned in (-pi, pi].
func CartesianToSpherical(v Vec3) (latitude, longitude, radius float64) {
	radius = v.Norm()
	longitude = math.Atan2(v.Y, v.X)
	latitude = math.Atan2(v.Z, math.Sqrt(v.X*v.X+v.Y*v.Y))
	return latitude, longitude, radius
}

// localFrame returns the matrix whose columns are the north, east and down
// unit vectors at the given longitude and latitude.
func localFrame(longitude, latitude float64) *mat.Dense {
	ca, sa := math.Cos(longitude), math.Sin(longitude)
	cb, sb := math.Cos(latitude), math.Sin(latitude)
	return mat.NewDense(3, 3, []float64{
		-sb * ca, -sa, -cb * ca,
		-sb * sa, ca, -cb * sa,
		cb, 0, -sb,
	})
}

// RotateLocalToCartesian rotates a vector given by its local north, east and
// down components at (longitude, latitude) into the cartesian frame.
func RotateLocalToCartesian(north, east, down, longitude, latitude float64) Vec3 {
	var out mat.VecDense
	out.MulVec(localFrame(longitude, latitude), mat.NewVecDense(3, []float64{north, east, down}))
	return Vec3{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// RotateCartesianToLocal is the transpose of RotateLocalToCartesian; it
// returns the north, east and down components of v at (longitude, latitude).
func RotateCartesianToLocal(v Vec3, longitude, latitude float64) (north, east, down float64) {
	var out mat.VecDense
	out.MulVec(localFrame(longitude, latitude).T(), mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return out.AtVec(0), out.AtVec(1), out.AtVec(2)
}

// WrapLongitude maps an angle in degrees into (-180, 180].
func WrapLongitude(deg float64) float64 {
	y := math.Mod(deg+180, 360)
	if y < 0 {
		y += 360
	}
	y -= 180
	if y == -180 {
		return 180
	}
	return y
}
