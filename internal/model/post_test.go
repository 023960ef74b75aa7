package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	paris := Location{Lat: 48.8566, Lng: 2.3522}
	london := Location{Lat: 51.5074, Lng: -0.1278}

	// Paris to London is roughly 344 km.
	assert.InDelta(t, 344, paris.DistanceKm(london), 3)
	assert.InDelta(t, paris.DistanceKm(london), london.DistanceKm(paris), 1e-9)
	assert.Equal(t, 0.0, paris.DistanceKm(paris))
}

func TestBoundingBox_ContainsRadius(t *testing.T) {
	center := Location{Lat: 32.0853, Lng: 34.7818}
	minLat, maxLat, minLng, maxLng := center.BoundingBox(10)

	assert.Less(t, minLat, center.Lat)
	assert.Greater(t, maxLat, center.Lat)
	assert.Less(t, minLng, center.Lng)
	assert.Greater(t, maxLng, center.Lng)

	// A point 9 km north must fall inside the box.
	north := Location{Lat: center.Lat + 9/earthRadiusKm*180/math.Pi, Lng: center.Lng}
	assert.True(t, north.Lat >= minLat && north.Lat <= maxLat)
}

func TestBoundingBox_NearPoleSpansAllLongitudes(t *testing.T) {
	_, maxLat, minLng, maxLng := Location{Lat: 89.99, Lng: 10}.BoundingBox(50)

	assert.Equal(t, 90.0, maxLat)
	assert.Equal(t, -180.0, minLng)
	assert.Equal(t, 180.0, maxLng)
}

func TestPostIsPublic(t *testing.T) {
	assert.True(t, (&Post{}).IsPublic())
	assert.False(t, (&Post{AccessGroups: []string{"friends"}}).IsPublic())
}
