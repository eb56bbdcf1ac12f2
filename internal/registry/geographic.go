// Package registry loads the static geographic registry: the curated
// state/county/ZIP files used as a pre-resolved alternative to dynamic
// boundary lookup. Registry data is loaded once at startup and read-only
// for the rest of the run.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/flockfinder/flockfinder/internal/model"
)

// ZIPInfo holds the registry metadata for one postal code.
type ZIPInfo struct {
	ZIP       string  `json:"zip"`
	City      string  `json:"city"`
	County    string  `json:"county"`
	State     string  `json:"state"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// registryFile is the top-level registry document shape.
type registryFile struct {
	AvailableRegions map[string]stateEntry `json:"available_regions"`
}

type stateEntry struct {
	StateCode string                 `json:"state_code"`
	Counties  map[string]countyEntry `json:"counties"`
}

type countyEntry struct {
	File        string   `json:"file"`
	MajorCities []string `json:"major_cities,omitempty"`
}

// countyFile is the per-county ZIP document shape.
type countyFile struct {
	County    string              `json:"county"`
	StateCode string              `json:"state_code"`
	ZIPCodes  map[string]zipEntry `json:"zip_codes"`
}

type zipEntry struct {
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Registry is the loaded static geographic registry.
type Registry struct {
	areas map[string]*model.GeoArea
	zips  map[string]ZIPInfo
	order []string
}

var titleCaser = cases.Title(language.AmericanEnglish)

// Load reads registry.json from dir plus every county file it references.
// County areas get IDs of the form "tx-collin"; each state additionally gets
// an aggregate area ("tx") covering all of its counties' ZIPs.
func Load(dir string) (*Registry, error) {
	data, err := os.ReadFile(filepath.Join(dir, "registry.json"))
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", filepath.Join(dir, "registry.json"))
	}

	var rf registryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, eris.Wrap(err, "registry: parse registry.json")
	}

	r := &Registry{
		areas: make(map[string]*model.GeoArea),
		zips:  make(map[string]ZIPInfo),
	}

	states := make([]string, 0, len(rf.AvailableRegions))
	for name := range rf.AvailableRegions {
		states = append(states, name)
	}
	sort.Strings(states)

	for _, stateName := range states {
		st := rf.AvailableRegions[stateName]
		code := strings.ToLower(st.StateCode)
		var stateZIPs []string

		counties := make([]string, 0, len(st.Counties))
		for name := range st.Counties {
			counties = append(counties, name)
		}
		sort.Strings(counties)

		for _, countyName := range counties {
			ce := st.Counties[countyName]
			cf, err := loadCountyFile(filepath.Join(dir, ce.File))
			if err != nil {
				return nil, err
			}

			id := fmt.Sprintf("%s-%s", code, slug(countyName))
			zipCodes := make([]string, 0, len(cf.ZIPCodes))
			for zip, ze := range cf.ZIPCodes {
				zipCodes = append(zipCodes, zip)
				r.zips[zip] = ZIPInfo{
					ZIP:       zip,
					City:      ze.City,
					County:    countyName,
					State:     st.StateCode,
					Latitude:  ze.Latitude,
					Longitude: ze.Longitude,
				}
			}
			sort.Strings(zipCodes)
			stateZIPs = append(stateZIPs, zipCodes...)

			r.add(&model.GeoArea{
				ID:          id,
				DisplayName: fmt.Sprintf("%s County, %s", titleCaser.String(countyName), st.StateCode),
				Kind:        model.KindStaticZIPSet,
				Source:      model.SourceStaticRegistry,
				ZIPCodes:    zipCodes,
			})
		}

		if len(stateZIPs) > 0 {
			sort.Strings(stateZIPs)
			r.add(&model.GeoArea{
				ID:          code,
				DisplayName: titleCaser.String(stateName),
				Kind:        model.KindStaticZIPSet,
				Source:      model.SourceStaticRegistry,
				ZIPCodes:    stateZIPs,
			})
		}
	}

	zap.L().Info("geographic registry loaded",
		zap.Int("areas", len(r.areas)),
		zap.Int("zip_codes", len(r.zips)),
	)
	return r, nil
}

func loadCountyFile(path string) (*countyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read county file %s", path)
	}
	var cf countyFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, eris.Wrapf(err, "registry: parse county file %s", path)
	}
	return &cf, nil
}

func (r *Registry) add(area *model.GeoArea) {
	if _, exists := r.areas[area.ID]; !exists {
		r.order = append(r.order, area.ID)
	}
	r.areas[area.ID] = area
}

// Area returns the registry area with the given identifier.
func (r *Registry) Area(id string) (*model.GeoArea, bool) {
	a, ok := r.areas[strings.ToLower(id)]
	return a, ok
}

// Areas returns all registry areas in load order (states and counties).
func (r *Registry) Areas() []*model.GeoArea {
	out := make([]*model.GeoArea, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.areas[id])
	}
	return out
}

// ZIP returns the metadata for a postal code, when known.
func (r *Registry) ZIP(zip string) (ZIPInfo, bool) {
	info, ok := r.zips[zip]
	return info, ok
}

// slug lowercases a name and replaces runs of non-alphanumerics with dashes.
func slug(name string) string {
	var sb strings.Builder
	lastDash := true
	for _, c := range strings.ToLower(name) {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			sb.WriteRune(c)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
