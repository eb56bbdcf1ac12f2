// Package model defines the core data types shared across the search engine:
// geographic areas, query units, WiFi observations, classified devices, and
// the final result set.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
)

// AreaKind identifies the class of a selectable geographic area.
type AreaKind string

const (
	KindCountry      AreaKind = "country"
	KindState        AreaKind = "state"
	KindProvince     AreaKind = "province"
	KindCounty       AreaKind = "county"
	KindStaticZIPSet AreaKind = "static-zip-set"
)

// AreaSource identifies where an area's geometry comes from.
type AreaSource string

const (
	SourceDynamicOSM     AreaSource = "dynamic-osm"
	SourceStaticRegistry AreaSource = "static-registry"
)

// GeoArea is a selectable administrative or postal region used to scope a
// search. Areas are loaded once per run and treated as read-only afterwards.
//
// Invariant: an area with Kind == KindStaticZIPSet carries a non-empty
// ZIPCodes list and no Geometry; dynamic areas carry Geometry and no ZIPCodes.
type GeoArea struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Kind        AreaKind   `json:"kind"`
	Source      AreaSource `json:"source"`

	// Geometry is the administrative boundary polygon (or multipolygon).
	// Nil for static ZIP-set areas.
	Geometry geom.T `json:"-"`

	// ZIPCodes lists the member postal codes for static ZIP-set areas.
	ZIPCodes []string `json:"zip_codes,omitempty"`
}

// IsStatic reports whether the area is resolved from the static registry.
func (a *GeoArea) IsStatic() bool {
	return a.Kind == KindStaticZIPSet
}

// BBox is a geographic bounding box in decimal degrees.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Area returns the box area in square degrees. Crude, but all we need to
// decide whether a box must be split before querying.
func (b BBox) Area() float64 {
	return (b.MaxLat - b.MinLat) * (b.MaxLon - b.MinLon)
}

// Contains reports whether the point lies inside the box (edges inclusive).
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Valid reports whether the box has positive extent and plausible bounds.
func (b BBox) Valid() bool {
	if b.MaxLat <= b.MinLat || b.MaxLon <= b.MinLon {
		return false
	}
	if b.MaxLat > 90 || b.MinLat < -90 {
		return false
	}
	if b.MaxLon > 180 || b.MinLon < -180 {
		return false
	}
	return true
}

// Quadrants splits the box into its four quadrants at the midpoint.
func (b BBox) Quadrants() [4]BBox {
	midLat := (b.MinLat + b.MaxLat) / 2
	midLon := (b.MinLon + b.MaxLon) / 2
	return [4]BBox{
		{MinLat: b.MinLat, MinLon: b.MinLon, MaxLat: midLat, MaxLon: midLon},
		{MinLat: b.MinLat, MinLon: midLon, MaxLat: midLat, MaxLon: b.MaxLon},
		{MinLat: midLat, MinLon: b.MinLon, MaxLat: b.MaxLat, MaxLon: midLon},
		{MinLat: midLat, MinLon: midLon, MaxLat: b.MaxLat, MaxLon: b.MaxLon},
	}
}

// Union returns the smallest box covering both b and other.
func (b BBox) Union(other BBox) BBox {
	u := b
	if other.MinLat < u.MinLat {
		u.MinLat = other.MinLat
	}
	if other.MinLon < u.MinLon {
		u.MinLon = other.MinLon
	}
	if other.MaxLat > u.MaxLat {
		u.MaxLat = other.MaxLat
	}
	if other.MaxLon > u.MaxLon {
		u.MaxLon = other.MaxLon
	}
	return u
}

// Key returns a stable string form of the box, used as a cache key.
func (b BBox) Key() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// QueryUnit is one bounded geographic query sent to the WiFi-observation API.
// Units are sized to stay under the API's per-query result cap; an oversized
// area is split into several units covering its bounding box.
type QueryUnit struct {
	ID   string `json:"id"`
	BBox BBox   `json:"bbox"`

	// Area is a non-owning back-reference to the GeoArea this unit covers.
	Area *GeoArea `json:"-"`

	// Polygon is the exact boundary for dynamic areas. When set, the match
	// engine discards observations outside it to correct bbox over-fetch.
	Polygon geom.T `json:"-"`
}

// Observation is a single WiFi network record returned by the observation
// API. Immutable once fetched.
type Observation struct {
	BSSID     string         `json:"bssid"`
	SSID      string         `json:"ssid,omitempty"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	FirstSeen time.Time      `json:"first_seen,omitempty"`
	LastSeen  time.Time      `json:"last_seen"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// MatchReason records which signature rule classified an observation.
type MatchReason string

const (
	ReasonBSSIDPrefix MatchReason = "bssid-prefix"
	ReasonSSIDPattern MatchReason = "ssid-pattern"
)

// CandidateDevice is a deduplicated, classified observation believed to be a
// surveillance camera's WiFi radio.
type CandidateDevice struct {
	Observation
	MatchReason      MatchReason `json:"match_reason"`
	MatchedSignature string      `json:"matched_signature"`
	UnitID           string      `json:"unit_id"`

	// City and County carry registry metadata for static ZIP-set searches.
	City   string `json:"city,omitempty"`
	County string `json:"county,omitempty"`

	// MapURL links the device back to its page on the observation service.
	MapURL string `json:"map_url,omitempty"`
}

// NormalizeBSSID converts a MAC address to the canonical uppercase
// colon-delimited form used as the deduplication key. Input delimited by
// colons, dashes, or nothing at all is accepted.
func NormalizeBSSID(bssid string) string {
	hex := make([]byte, 0, 12)
	for i := 0; i < len(bssid); i++ {
		c := bssid[i]
		switch {
		case c >= '0' && c <= '9':
			hex = append(hex, c)
		case c >= 'a' && c <= 'f':
			hex = append(hex, c-'a'+'A')
		case c >= 'A' && c <= 'F':
			hex = append(hex, c)
		case c == ':' || c == '-' || c == '.':
			// delimiter, skip
		default:
			return strings.ToUpper(bssid)
		}
	}
	if len(hex) != 12 {
		return strings.ToUpper(bssid)
	}
	var sb strings.Builder
	sb.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.Write(hex[i : i+2])
	}
	return sb.String()
}

// UnitOutcome is the terminal state of a QueryUnit within one search.
type UnitOutcome string

const (
	UnitCompleted UnitOutcome = "completed"
	UnitFailed    UnitOutcome = "failed"
	UnitSkipped   UnitOutcome = "skipped"
)

// UnitFailure records a unit that did not complete, so coverage of the final
// result set is auditable.
type UnitFailure struct {
	UnitID  string      `json:"unit_id"`
	AreaID  string      `json:"area_id"`
	BBox    BBox        `json:"bbox"`
	Outcome UnitOutcome `json:"outcome"`
	Reason  string      `json:"reason,omitempty"`
}

// SearchStats holds the observation and unit counts for one search, letting
// a user sanity-check the match rate and spot silent data loss.
type SearchStats struct {
	RawObservations int `json:"raw_observations"`
	Malformed       int `json:"malformed"`
	Matched         int `json:"matched"`
	Deduplicated    int `json:"deduplicated"`

	UnitsRequested int `json:"units_requested"`
	UnitsCompleted int `json:"units_completed"`
	UnitsFailed    int `json:"units_failed"`
	UnitsSkipped   int `json:"units_skipped"`
}

// SearchResultSet is the final output of one search invocation: the
// deduplicated device list, in first-seen insertion order, plus run
// metadata. Built once and read-only thereafter.
type SearchResultSet struct {
	RunID       string            `json:"run_id"`
	Areas       []string          `json:"areas"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Devices     []CandidateDevice `json:"devices"`
	Stats       SearchStats       `json:"stats"`
	FailedUnits []UnitFailure     `json:"failed_units,omitempty"`
}
