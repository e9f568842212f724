package geo

import "math"

const (
	earthRadiusM = 6371000.0

	// Meters per degree of latitude; longitude shrinks with cos(lat).
	metersPerDegree = 111320.0
)

// Coordinate is a geographic point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies within latitude [-90,90] and
// longitude [-180,180].
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return earthRadiusM * c
}

// Bearing returns the initial bearing from a to b in degrees [0,360).
// The bearing is undefined when a == b; 0 is returned in that case.
func Bearing(a, b Coordinate) float64 {
	if a == b {
		return 0
	}
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// InterpolatePoint returns the point at the given fraction along the straight
// segment from a to b. Linear interpolation in lat/lon space, which is fine
// for the short segments routes are made of.
func InterpolatePoint(a, b Coordinate, fraction float64) Coordinate {
	return Coordinate{
		Lat: a.Lat + (b.Lat-a.Lat)*fraction,
		Lon: a.Lon + (b.Lon-a.Lon)*fraction,
	}
}

// Offset moves c the given number of meters along a compass bearing, using the
// meters-per-degree approximation. Accurate enough for the few-meter offsets
// GPS jitter needs.
func Offset(c Coordinate, bearingDeg, meters float64) Coordinate {
	rad := bearingDeg * math.Pi / 180
	dNorth := meters * math.Cos(rad)
	dEast := meters * math.Sin(rad)
	lonMetersPerDeg := metersPerDegree * math.Cos(c.Lat*math.Pi/180)
	out := Coordinate{Lat: c.Lat + dNorth/metersPerDegree, Lon: c.Lon}
	if lonMetersPerDeg != 0 {
		out.Lon += dEast / lonMetersPerDeg
	}
	return out
}
