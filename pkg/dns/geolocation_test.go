package dns

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKMNewYorkToLosAngeles(t *testing.T) {
	newYork := Location{Latitude: 40.7128, Longitude: -74.0060, CountryCode: "US", RegionCode: "NY"}
	losAngeles := Location{Latitude: 34.0522, Longitude: -118.2437, CountryCode: "US", RegionCode: "CA"}

	dist := haversineKM(newYork, losAngeles)
	assert.InDelta(t, 3940.0, dist, 50.0)
}

func TestHaversineKMSamePointIsZero(t *testing.T) {
	loc := Location{Latitude: 10, Longitude: 20}
	assert.Equal(t, 0.0, haversineKM(loc, loc))
}

func TestSameRegion(t *testing.T) {
	a := Location{CountryCode: "US", RegionCode: "CA"}
	b := Location{CountryCode: "US", RegionCode: "CA"}
	c := Location{CountryCode: "US", RegionCode: "NY"}
	empty := Location{}

	assert.True(t, sameRegion(a, b))
	assert.False(t, sameRegion(a, c))
	assert.False(t, sameRegion(empty, empty), "empty region codes never match")
}

func TestWeighDistanceStrategies(t *testing.T) {
	const km = 10.0

	assert.Equal(t, km, weighDistance(WeightLinear, km))
	assert.Equal(t, km*km, weighDistance(WeightQuadratic, km))
	assert.Equal(t, math.Log1p(km), weighDistance(WeightLogarithmic, km))
}

func TestWeighDistanceSteppedBuckets(t *testing.T) {
	assert.Equal(t, 0.0, weighDistance(WeightStepped, 50))
	assert.Equal(t, 1.0, weighDistance(WeightStepped, 200))
	assert.Equal(t, 2.0, weighDistance(WeightStepped, 1000))
	assert.Equal(t, 3.0, weighDistance(WeightStepped, 3000))
	assert.Equal(t, 4.0, weighDistance(WeightStepped, 10000))
}
