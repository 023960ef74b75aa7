package model

import (
	"math"
	"time"
)

// Location is a WGS84 point. Lat is in [-90, 90], Lng in [-180, 180].
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0

// DistanceKm returns the haversine distance between two points.
func (l Location) DistanceKm(other Location) float64 {
	lat1 := l.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - l.Lat) * math.Pi / 180
	dLng := (other.Lng - l.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// BoundingBox returns the lat/lng rectangle that contains every point within
// radiusKm of l. It is used as a cheap index-friendly prefilter before the
// exact distance check.
func (l Location) BoundingBox(radiusKm float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	minLat = math.Max(-90, l.Lat-dLat)
	maxLat = math.Min(90, l.Lat+dLat)

	// Near the poles the longitude span covers everything.
	cosLat := math.Cos(l.Lat * math.Pi / 180)
	if cosLat < 1e-9 || maxLat >= 90 || minLat <= -90 {
		return minLat, maxLat, -180, 180
	}
	dLng := dLat / cosLat
	if dLng >= 180 {
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, l.Lng - dLng, l.Lng + dLng
}

// Post is a geotagged entry owned by a single user.
//
// Participants are the public ids of tagged users. AccessGroups restricts
// who may discover the post through nearby search; an empty list means the
// post is public.
type Post struct {
	ID           int64     `json:"id"`
	RecordID     string    `json:"-"`
	OwnerID      int64     `json:"ownerId"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Location     Location  `json:"location"`
	Date         time.Time `json:"date"`
	Participants []int64   `json:"participants"`
	AccessGroups []string  `json:"accessGroups"`
	Picture      string    `json:"picture"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsPublic reports whether the post has no access restrictions.
func (p *Post) IsPublic() bool {
	return len(p.AccessGroups) == 0
}
