package export

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/flockfinder/flockfinder/internal/model"
)

const kmlHeader = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <name>%s</name>
    <description>Discovered surveillance camera locations</description>
    <Style id="surveillanceCamera">
      <IconStyle>
        <scale>1.2</scale>
        <Icon>
          <href>http://maps.google.com/mapfiles/kml/shapes/camera.png</href>
        </Icon>
        <color>ff0000ff</color>
      </IconStyle>
      <LabelStyle>
        <scale>0.8</scale>
      </LabelStyle>
    </Style>
`

// WriteKML writes a Google Earth document with one placemark per device,
// each carrying the observation details as ExtendedData.
func WriteKML(result *model.SearchResultSet, path string) error {
	var sb strings.Builder
	title := "ALPR Surveillance Cameras"
	if len(result.Areas) > 0 {
		title += " - " + strings.Join(result.Areas, ", ")
	}
	fmt.Fprintf(&sb, kmlHeader, xmlEscape(title))

	for i, d := range result.Devices {
		sb.WriteString("    <Placemark>\n")
		fmt.Fprintf(&sb, "      <name>%s</name>\n", xmlEscape(deviceName(d, i+1)))
		sb.WriteString("      <styleUrl>#surveillanceCamera</styleUrl>\n")
		sb.WriteString("      <ExtendedData>\n")
		writeKMLData(&sb, "ssid", d.SSID)
		writeKMLData(&sb, "bssid", d.BSSID)
		writeKMLData(&sb, "match_reason", string(d.MatchReason))
		writeKMLData(&sb, "matched_signature", d.MatchedSignature)
		writeKMLData(&sb, "city", d.City)
		writeKMLData(&sb, "county", d.County)
		writeKMLData(&sb, "first_seen", formatSeen(d.FirstSeen))
		writeKMLData(&sb, "last_seen", formatSeen(d.LastSeen))
		writeKMLData(&sb, "map_url", d.MapURL)
		sb.WriteString("      </ExtendedData>\n")
		fmt.Fprintf(&sb, "      <Point>\n        <coordinates>%g,%g,0</coordinates>\n      </Point>\n", d.Longitude, d.Latitude)
		sb.WriteString("    </Placemark>\n")
	}

	sb.WriteString("  </Document>\n</kml>\n")
	return eris.Wrapf(os.WriteFile(path, []byte(sb.String()), 0o644), "export: write %s", path)
}

func writeKMLData(sb *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "        <Data name=%q><value>%s</value></Data>\n", name, xmlEscape(value))
}

func xmlEscape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
