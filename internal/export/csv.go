package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/flockfinder/flockfinder/internal/model"
)

// csvHeader is the column layout understood by Google My Maps, QGIS, and
// ArcGIS imports; WKT carries the point geometry.
var csvHeader = []string{
	"Name", "Description", "WKT", "SSID", "BSSID",
	"County", "City", "Latitude", "Longitude",
	"Match_Reason", "Matched_Signature",
	"First_Seen", "Last_Seen", "Map_URL",
}

// WriteCSV writes one row per device with a WKT POINT geometry column.
func WriteCSV(result *model.SearchResultSet, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return eris.Wrap(err, "export: write csv header")
	}

	for i, d := range result.Devices {
		row := []string{
			deviceName(d, i+1),
			fmt.Sprintf("ALPR Surveillance Camera - SSID: %s - BSSID: %s", d.SSID, d.BSSID),
			fmt.Sprintf("POINT(%g %g)", d.Longitude, d.Latitude),
			d.SSID,
			d.BSSID,
			d.County,
			d.City,
			strconv.FormatFloat(d.Latitude, 'f', -1, 64),
			strconv.FormatFloat(d.Longitude, 'f', -1, 64),
			string(d.MatchReason),
			d.MatchedSignature,
			formatSeen(d.FirstSeen),
			formatSeen(d.LastSeen),
			d.MapURL,
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return eris.Wrap(err, "export: write csv row")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return eris.Wrap(err, "export: flush csv")
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}
