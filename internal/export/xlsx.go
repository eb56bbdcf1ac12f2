package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/flockfinder/flockfinder/internal/model"
)

// WriteXLSX writes a two-sheet workbook: the device list and a summary of
// the run's statistics.
func WriteXLSX(result *model.SearchResultSet, path string) error {
	f := xlsx.NewFile()

	devices, err := f.AddSheet("Devices")
	if err != nil {
		return eris.Wrap(err, "export: add devices sheet")
	}
	header := devices.AddRow()
	for _, col := range []string{
		"BSSID", "SSID", "Match Reason", "Matched Signature",
		"City", "County", "Latitude", "Longitude",
		"First Seen", "Last Seen", "Map URL",
	} {
		header.AddCell().Value = col
	}

	for _, d := range result.Devices {
		row := devices.AddRow()
		row.AddCell().Value = d.BSSID
		row.AddCell().Value = d.SSID
		row.AddCell().Value = string(d.MatchReason)
		row.AddCell().Value = d.MatchedSignature
		row.AddCell().Value = d.City
		row.AddCell().Value = d.County
		row.AddCell().SetFloat(d.Latitude)
		row.AddCell().SetFloat(d.Longitude)
		row.AddCell().Value = formatSeen(d.FirstSeen)
		row.AddCell().Value = formatSeen(d.LastSeen)
		row.AddCell().Value = d.MapURL
	}

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	addSummaryRow(summary, "Run ID", result.RunID)
	addSummaryRow(summary, "Areas", joinAreas(result))
	addSummaryRow(summary, "Started", formatSeen(result.StartedAt))
	addSummaryRow(summary, "Completed", formatSeen(result.CompletedAt))
	addSummaryInt(summary, "Raw observations", result.Stats.RawObservations)
	addSummaryInt(summary, "Malformed dropped", result.Stats.Malformed)
	addSummaryInt(summary, "Matched", result.Stats.Matched)
	addSummaryInt(summary, "Unique devices", result.Stats.Deduplicated)
	addSummaryInt(summary, "Units requested", result.Stats.UnitsRequested)
	addSummaryInt(summary, "Units completed", result.Stats.UnitsCompleted)
	addSummaryInt(summary, "Units failed", result.Stats.UnitsFailed)
	addSummaryInt(summary, "Units skipped", result.Stats.UnitsSkipped)

	return eris.Wrapf(f.Save(path), "export: write %s", path)
}

func addSummaryRow(sheet *xlsx.Sheet, label, value string) {
	row := sheet.AddRow()
	row.AddCell().Value = label
	row.AddCell().Value = value
}

func addSummaryInt(sheet *xlsx.Sheet, label string, value int) {
	row := sheet.AddRow()
	row.AddCell().Value = label
	row.AddCell().SetInt(value)
}

func joinAreas(result *model.SearchResultSet) string {
	out := ""
	for i, a := range result.Areas {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}
