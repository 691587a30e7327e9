package dns

import (
	"math"
	"net"
	"sort"

	"github.com/cuemby/formation/pkg/log"
)

// WeightStrategy shapes how raw Haversine distance maps to a sort score.
type WeightStrategy string

const (
	WeightLinear WeightStrategy = "linear"
	WeightQuadratic WeightStrategy = "quadratic"
	WeightLogarithmic WeightStrategy = "logarithmic"
	WeightStepped WeightStrategy = "stepped"
)

// steppedBucketsKM are the distance breakpoints for WeightStepped, chosen so
// same-metro, same-country, same-continent, and intercontinental candidates
// each land in their own bucket.
var steppedBucketsKM = []float64{100, 500, 1500, 5000}

func weighDistance(strategy WeightStrategy, km float64) float64 {
	switch strategy {
	case WeightQuadratic:
		return km * km
	case WeightLogarithmic:
		return math.Log1p(km)
	case WeightStepped:
		for i, bound := range steppedBucketsKM {
			if km <= bound {
				return float64(i)
			}
		}
		return float64(len(steppedBucketsKM))
	default: // WeightLinear
		return km
	}
}

// GeoResolverConfig configures a GeoDnsResolver.
type GeoResolverConfig struct {
	DBPath string
	Enabled bool
	Strategy WeightStrategy
	RegionBias float64 // [0,1]; 0 disables same-region preference
	MaxResults int
}

// DefaultGeoResolverConfig matches the original's defaults.
func DefaultGeoResolverConfig() GeoResolverConfig {
	return GeoResolverConfig{
		DBPath: "/etc/formation/geo/GeoLite2-City.mmdb",
		Enabled: true,
		Strategy: WeightLinear,
		RegionBias: 0.3,
		MaxResults: 0, // 0 = no cap
	}
}

// GeoDnsResolver sorts candidate answer IPs by proximity to a querying
// client. A disabled or unopenable database degrades to a no-op sorter
// rather than failing lookups.
type GeoDnsResolver struct {
	lookup *GeoLookup
	cfg GeoResolverConfig
}

// NewGeoDnsResolver opens cfg.DBPath if cfg.Enabled; a failed open logs and
// disables sorting instead of propagating the error.
func NewGeoDnsResolver(cfg GeoResolverConfig) *GeoDnsResolver {
	r := &GeoDnsResolver{cfg: cfg}
	if !cfg.Enabled {
		return r
	}
	lookup, err := OpenGeoLookup(cfg.DBPath)
	if err != nil {
		log.WithComponent("dns.geo").Warn().Err(err).Msg("geo sorting disabled: database unavailable")
		return r
	}
	r.lookup = lookup
	return r
}

// SortByProximity reorders ips by distance to clientIP, nearest first. When
// geo sorting is disabled, the database is absent, or clientIP's location
// can't be resolved, ips is returned unchanged (silent fallback per
// the design).
func (r *GeoDnsResolver) SortByProximity(clientIP net.IP, ips []net.IP) []net.IP {
	if r.lookup == nil || clientIP == nil || len(ips) < 2 {
		return ips
	}
	clientLoc, err := r.lookup.Lookup(clientIP)
	if err != nil {
		return ips
	}

	type scored struct {
		ip net.IP
		score float64
		ok bool
	}
	candidates := make([]scored, len(ips))
	for i, ip := range ips {
		loc, err := r.lookup.Lookup(ip)
		if err != nil {
			candidates[i] = scored{ip: ip, ok: false}
			continue
		}
		dist := haversineKM(clientLoc, loc)
		score := weighDistance(r.cfg.Strategy, dist)
		if r.cfg.RegionBias > 0 && sameRegion(clientLoc, loc) {
			score *= 1 - r.cfg.RegionBias
		}
		candidates[i] = scored{ip: ip, score: score, ok: true}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ok != candidates[j].ok {
			return candidates[i].ok // resolved locations sort before unresolved
		}
		return candidates[i].score < candidates[j].score
	})

	out := make([]net.IP, len(candidates))
	for i, c := range candidates {
		out[i] = c.ip
	}
	if r.cfg.MaxResults > 0 && len(out) > r.cfg.MaxResults {
		out = out[:r.cfg.MaxResults]
	}
	return out
}

func (r *GeoDnsResolver) Close() error {
	if r.lookup == nil {
		return nil
	}
	return r.lookup.Close()
}
