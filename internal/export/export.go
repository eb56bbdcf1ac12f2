// Package export writes a finished search result set to the supported
// mapping and spreadsheet formats.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/flockfinder/flockfinder/internal/model"
)

// Format names one output file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatKML  Format = "kml"
	FormatSHP  Format = "shp"
	FormatXLSX Format = "xlsx"
)

// ParseFormats validates a comma-separated or pre-split format list.
func ParseFormats(names []string) ([]Format, error) {
	var formats []Format
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			switch f := Format(part); f {
			case FormatJSON, FormatCSV, FormatKML, FormatSHP, FormatXLSX:
				formats = append(formats, f)
			default:
				return nil, eris.Errorf("export: unknown format %q", part)
			}
		}
	}
	if len(formats) == 0 {
		formats = []Format{FormatJSON}
	}
	return formats, nil
}

// WriteAll writes the result set in each requested format under dir and
// returns the created file paths. File names carry the first area and the
// run timestamp so successive runs never clobber each other.
func WriteAll(result *model.SearchResultSet, dir string, formats []Format) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create output dir %s", dir)
	}

	base := baseName(result)
	logger := zap.L().With(zap.String("component", "export"))

	var paths []string
	for _, format := range formats {
		path := filepath.Join(dir, base+"."+string(format))
		var err error
		switch format {
		case FormatJSON:
			err = WriteJSON(result, path)
		case FormatCSV:
			err = WriteCSV(result, path)
		case FormatKML:
			err = WriteKML(result, path)
		case FormatSHP:
			err = WriteSHP(result, path)
		case FormatXLSX:
			err = WriteXLSX(result, path)
		default:
			err = eris.Errorf("export: unknown format %q", format)
		}
		if err != nil {
			return paths, err
		}
		logger.Info("export written",
			zap.String("format", string(format)),
			zap.String("path", path),
			zap.Int("devices", len(result.Devices)))
		paths = append(paths, path)
	}
	return paths, nil
}

func baseName(result *model.SearchResultSet) string {
	area := "search"
	if len(result.Areas) > 0 {
		area = strings.ReplaceAll(result.Areas[0], "/", "-")
	}
	return fmt.Sprintf("surveillance_%s_%s", area, result.StartedAt.Format("20060102_150405"))
}

// deviceName builds the human-readable marker label used across formats.
func deviceName(d model.CandidateDevice, n int) string {
	city := d.City
	if city == "" {
		city = "Unknown"
	}
	return fmt.Sprintf("ALPR Camera %d - %s", n, city)
}

func formatSeen(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
