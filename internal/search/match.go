// Package search runs the query orchestration, classification, and
// deduplication pipeline that turns area identifiers into a result set of
// candidate surveillance devices.
package search

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/flockfinder/flockfinder/internal/model"
	"github.com/flockfinder/flockfinder/internal/signature"
)

// classifyObservations runs every observation of one unit through the
// signature store and the unit's polygon filter. Observations outside the
// polygon were over-fetched by the bounding box and are discarded; units
// without a polygon keep everything inside their box.
func classifyObservations(sigs *signature.Store, unit model.QueryUnit, obs []model.Observation) []model.CandidateDevice {
	var devices []model.CandidateDevice
	for _, o := range obs {
		reason, matched, ok := sigs.Classify(o)
		if !ok {
			continue
		}
		if unit.Polygon != nil && !pointInGeometry(unit.Polygon, o.Latitude, o.Longitude) {
			continue
		}
		devices = append(devices, model.CandidateDevice{
			Observation:      o,
			MatchReason:      reason,
			MatchedSignature: matched,
			UnitID:           unit.ID,
		})
	}
	return devices
}

// pointInGeometry reports whether the point lies inside a Polygon or
// MultiPolygon: inside an outer ring and outside that polygon's holes.
func pointInGeometry(g geom.T, lat, lon float64) bool {
	p := geom.Coord{lon, lat}
	switch t := g.(type) {
	case *geom.Polygon:
		return pointInPolygon(t, p)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if pointInPolygon(t.Polygon(i), p) {
				return true
			}
		}
		return false
	default:
		// Unknown geometry cannot be filtered against; keep the point
		// rather than silently dropping data.
		return true
	}
}

func pointInPolygon(poly *geom.Polygon, p geom.Coord) bool {
	if poly.NumLinearRings() == 0 {
		return false
	}
	if !xy.IsPointInRing(poly.Layout(), p, poly.LinearRing(0).FlatCoords()) {
		return false
	}
	for i := 1; i < poly.NumLinearRings(); i++ {
		if xy.IsPointInRing(poly.Layout(), p, poly.LinearRing(i).FlatCoords()) {
			return false
		}
	}
	return true
}

// dedupDevices collapses candidates observed by multiple overlapping units
// into one device per normalized BSSID. The most recent LastSeen wins;
// output order is the order each BSSID was first encountered.
func dedupDevices(devices []model.CandidateDevice) []model.CandidateDevice {
	index := make(map[string]int, len(devices))
	var out []model.CandidateDevice

	for _, d := range devices {
		key := model.NormalizeBSSID(d.BSSID)
		if i, seen := index[key]; seen {
			if d.LastSeen.After(out[i].LastSeen) {
				out[i] = d
			}
			continue
		}
		index[key] = len(out)
		out = append(out, d)
	}
	return out
}
