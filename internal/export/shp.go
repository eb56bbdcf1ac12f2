package export

import (
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/flockfinder/flockfinder/internal/model"
)

// shpFields is the DBF attribute schema; DBF field names are capped at 10
// characters.
var shpFields = []shp.Field{
	shp.StringField("BSSID", 17),
	shp.StringField("SSID", 32),
	shp.StringField("REASON", 16),
	shp.StringField("SIGNATURE", 32),
	shp.StringField("CITY", 32),
	shp.StringField("COUNTY", 32),
	shp.StringField("LAST_SEEN", 25),
	shp.StringField("MAP_URL", 64),
}

// WriteSHP writes a point shapefile (.shp plus the .shx/.dbf sidecars
// go-shp creates alongside it).
func WriteSHP(result *model.SearchResultSet, path string) error {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "export: create shapefile %s", path)
	}

	if err := w.SetFields(shpFields); err != nil {
		w.Close()
		return eris.Wrap(err, "export: set shapefile fields")
	}

	for i, d := range result.Devices {
		w.Write(&shp.Point{X: d.Longitude, Y: d.Latitude})
		attrs := []string{
			d.BSSID, d.SSID, string(d.MatchReason), d.MatchedSignature,
			d.City, d.County, formatSeen(d.LastSeen), d.MapURL,
		}
		for col, val := range attrs {
			if err := w.WriteAttribute(i, col, val); err != nil {
				w.Close()
				return eris.Wrapf(err, "export: shapefile attribute %d/%d", i, col)
			}
		}
	}
	w.Close()

	// go-shp names the attribute table "<base>dbf" with no dot; readers,
	// the library's own included, look for the standard "<base>.dbf".
	base := strings.TrimSuffix(path, ".shp")
	if _, err := os.Stat(base + "dbf"); err == nil {
		if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
			return eris.Wrap(err, "export: rename shapefile dbf")
		}
	}
	return nil
}
