// Package boundary resolves geographic area identifiers into bounded query
// units. Dynamic areas come from OpenStreetMap administrative boundaries via
// the Overpass API; static areas come from the bundled ZIP registry.
package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flockfinder/flockfinder/internal/model"
	"github.com/flockfinder/flockfinder/internal/resilience"
)

const (
	// DefaultOverpassURL is the public Overpass API interpreter endpoint.
	DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

	overpassTimeout = 30 * time.Second
)

// Division is one administrative division returned by Overpass: a state or
// county with its assembled boundary geometry.
type Division struct {
	Code     string
	Name     string
	OSMID    int64
	Geometry *geom.MultiPolygon
}

// OverpassClient fetches administrative boundaries from the Overpass API.
// Requests are paced by a shared limiter; the public instance rate-limits
// aggressively.
type OverpassClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewOverpassClient creates a client for the given interpreter URL. An empty
// URL selects the public instance.
func NewOverpassClient(baseURL string) *OverpassClient {
	if baseURL == "" {
		baseURL = DefaultOverpassURL
	}
	return &OverpassClient{
		httpClient: &http.Client{Timeout: overpassTimeout},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		logger:     zap.L().With(zap.String("component", "overpass")),
	}
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type    string            `json:"type"`
	ID      int64             `json:"id"`
	Tags    map[string]string `json:"tags"`
	Members []overpassMember  `json:"members"`
}

type overpassMember struct {
	Type     string         `json:"type"`
	Role     string         `json:"role"`
	Geometry []overpassNode `json:"geometry"`
}

type overpassNode struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Countries lists all country-level boundaries known to OSM as an ISO
// alpha-2 code to English name mapping.
func (c *OverpassClient) Countries(ctx context.Context) (map[string]string, error) {
	const query = `[out:json][timeout:25];
(
  relation["admin_level"="2"]["boundary"="administrative"];
);
out tags;`

	resp, err := c.query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: list countries")
	}

	countries := make(map[string]string)
	for _, el := range resp.Elements {
		iso := el.Tags["ISO3166-1:alpha2"]
		name := el.Tags["name:en"]
		if name == "" {
			name = el.Tags["name"]
		}
		if iso != "" && name != "" {
			countries[iso] = name
		}
	}
	return countries, nil
}

// AdminDivisions lists the administrative divisions of a country at the
// given OSM admin level (4 = states/provinces, 6 = counties) with assembled
// boundary geometry. Only US queries are implemented; the ISO3166-2 tag
// scheme varies enough per country that each needs a tested query.
func (c *OverpassClient) AdminDivisions(ctx context.Context, countryCode string, adminLevel int) ([]Division, error) {
	countryCode = strings.ToUpper(countryCode)
	if countryCode != "US" {
		return nil, eris.Errorf("overpass: country %q not supported (only US)", countryCode)
	}

	query := fmt.Sprintf(`[out:json][timeout:25];
(
  relation["admin_level"="%d"]["boundary"="administrative"]["ISO3166-2"~"^US-"];
);
out geom;`, adminLevel)

	resp, err := c.query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "overpass: list %s admin level %d", countryCode, adminLevel)
	}

	divisions := make([]Division, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		code := strings.TrimPrefix(el.Tags["ISO3166-2"], "US-")
		if code == "" {
			code = el.Tags["ref"]
		}
		if code == "" {
			code = strconv.FormatInt(el.ID, 10)
		}
		name := el.Tags["name:en"]
		if name == "" {
			name = el.Tags["name"]
		}
		if name == "" {
			continue
		}

		mp := assembleRings(el.Members)
		if mp == nil {
			c.logger.Warn("division has no usable geometry",
				zap.String("code", code),
				zap.String("name", name))
			continue
		}
		divisions = append(divisions, Division{
			Code:     code,
			Name:     name,
			OSMID:    el.ID,
			Geometry: mp,
		})
	}
	return divisions, nil
}

// ErrDivisionNotFound reports that the boundary source answered but has no
// division matching the requested code. The identifier is wrong, as opposed
// to the source being unreachable.
var ErrDivisionNotFound = errors.New("division not found")

// Division fetches a single division, e.g. ("US", "TX", 4). The code is
// matched against the division code first, then the name, so county-level
// divisions without ISO codes still resolve. A well-formed code the source
// does not list returns an error wrapping ErrDivisionNotFound.
func (c *OverpassClient) Division(ctx context.Context, countryCode, code string, adminLevel int) (*Division, error) {
	divisions, err := c.AdminDivisions(ctx, countryCode, adminLevel)
	if err != nil {
		return nil, err
	}
	code = strings.ToUpper(code)
	for i := range divisions {
		if strings.ToUpper(divisions[i].Code) == code {
			return &divisions[i], nil
		}
	}
	for i := range divisions {
		name := strings.ToUpper(strings.ReplaceAll(divisions[i].Name, " ", "-"))
		if name == code || strings.TrimSuffix(name, "-COUNTY") == code {
			return &divisions[i], nil
		}
	}
	return nil, eris.Wrapf(ErrDivisionNotFound, "overpass: %s-%s at admin level %d", countryCode, code, adminLevel)
}

func (c *OverpassClient) query(ctx context.Context, ql string) (*overpassResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "overpass: limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(ql))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: build request")
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "overpass: request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "overpass: read response"), resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, resilience.NewRateLimitError(
			eris.New("overpass: rate limited"), retryAfter)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("overpass: http %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("overpass: http %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed overpassResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "overpass: decode response")
	}
	return &parsed, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// assembleRings stitches the way members of an OSM relation into closed
// rings and assembles them into a MultiPolygon. Ways arrive in arbitrary
// order and direction; segments are joined end to end by coordinate
// equality. Open chains that never close are dropped. Every closed ring is
// treated as an outer ring, which over-covers relations with holes; the
// bbox-then-polygon-filter pipeline only needs containment to be a superset
// of the true boundary at this stage.
func assembleRings(members []overpassMember) *geom.MultiPolygon {
	var segments [][]geom.Coord
	for _, m := range members {
		if m.Type != "way" || len(m.Geometry) < 2 {
			continue
		}
		seg := make([]geom.Coord, 0, len(m.Geometry))
		for _, n := range m.Geometry {
			seg = append(seg, geom.Coord{n.Lon, n.Lat})
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil
	}

	rings := stitchSegments(segments)
	if len(rings) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for _, ring := range rings {
		poly := geom.NewPolygon(geom.XY)
		if _, err := poly.SetCoords([][]geom.Coord{ring}); err != nil {
			continue
		}
		if err := mp.Push(poly); err != nil {
			continue
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func stitchSegments(segments [][]geom.Coord) [][]geom.Coord {
	used := make([]bool, len(segments))
	var rings [][]geom.Coord

	for i := range segments {
		if used[i] {
			continue
		}
		used[i] = true
		chain := append([]geom.Coord(nil), segments[i]...)

		for {
			if coordEqual(chain[0], chain[len(chain)-1]) {
				if len(chain) >= 4 {
					rings = append(rings, chain)
				}
				break
			}

			extended := false
			for j := range segments {
				if used[j] {
					continue
				}
				next := segments[j]
				switch {
				case coordEqual(chain[len(chain)-1], next[0]):
					chain = append(chain, next[1:]...)
				case coordEqual(chain[len(chain)-1], next[len(next)-1]):
					chain = append(chain, reverseCoords(next)[1:]...)
				default:
					continue
				}
				used[j] = true
				extended = true
				break
			}
			if !extended {
				// Open chain with no continuation. Drop it.
				break
			}
		}
	}
	return rings
}

func coordEqual(a, b geom.Coord) bool {
	return a[0] == b[0] && a[1] == b[1]
}

func reverseCoords(coords []geom.Coord) []geom.Coord {
	out := make([]geom.Coord, len(coords))
	for i, c := range coords {
		out[len(coords)-1-i] = c
	}
	return out
}

// BBoxOf computes the bounding box of any geometry's coordinates.
func BBoxOf(g geom.T) model.BBox {
	flat := g.FlatCoords()
	stride := g.Stride()
	if len(flat) < stride {
		return model.BBox{}
	}

	box := model.BBox{
		MinLat: flat[1], MaxLat: flat[1],
		MinLon: flat[0], MaxLon: flat[0],
	}
	for i := stride; i+1 < len(flat); i += stride {
		lon, lat := flat[i], flat[i+1]
		if lat < box.MinLat {
			box.MinLat = lat
		}
		if lat > box.MaxLat {
			box.MaxLat = lat
		}
		if lon < box.MinLon {
			box.MinLon = lon
		}
		if lon > box.MaxLon {
			box.MaxLon = lon
		}
	}
	return box
}
