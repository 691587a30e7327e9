package dns

import (
	"fmt"
	"math"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Location is a point on the globe plus the country/region codes used for
// same-region bias, resolved from a MaxMind GeoIP2 City database.
type Location struct {
	Latitude float64
	Longitude float64
	CountryCode string
	RegionCode string
}

// GeoLookup resolves IPs to Locations via a MaxMind City database. It is
// safe for concurrent use; the underlying maxminddb reader memory-maps the
// file and serves concurrent lookups without locking.
type GeoLookup struct {
	reader *geoip2.Reader
}

// OpenGeoLookup loads a GeoIP2 City database from path. Per the design a
// configured-but-missing database disables geo sorting rather than failing
// startup; callers should treat a non-nil error as "proceed without geo
// sorting", not as a fatal condition.
func OpenGeoLookup(path string) (*GeoLookup, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening geoip database %s: %w", path, err)
	}
	return &GeoLookup{reader: reader}, nil
}

func (g *GeoLookup) Close() error {
	return g.reader.Close()
}

// Lookup resolves a single IP to a Location.
func (g *GeoLookup) Lookup(ip net.IP) (Location, error) {
	city, err := g.reader.City(ip)
	if err != nil {
		return Location{}, err
	}
	if city.Location.Latitude == 0 && city.Location.Longitude == 0 {
		return Location{}, fmt.Errorf("no location data for %s", ip)
	}
	loc := Location{
		Latitude: city.Location.Latitude,
		Longitude: city.Location.Longitude,
		CountryCode: city.Country.IsoCode,
	}
	if len(city.Subdivisions) > 0 {
		loc.RegionCode = city.Subdivisions[0].IsoCode
	}
	return loc, nil
}

// haversineKM returns the great-circle distance between two locations in
// kilometers.
func haversineKM(a, b Location) float64 {
	const earthRadiusKM = 6371.0

	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	deltaLat := (b.Latitude - a.Latitude) * math.Pi / 180
	deltaLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKM * c
}

// sameRegion reports whether two locations share both country and region
// code; an empty code never matches, even against another empty code.
func sameRegion(a, b Location) bool {
	return a.CountryCode != "" && a.CountryCode == b.CountryCode &&
		a.RegionCode != "" && a.RegionCode == b.RegionCode
}
