// Package export writes a run's results as files for offline analysis: an
// XLSX workbook of rank matrices, a point shapefile, and GeoJSON.
package export

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/rankgrid/internal/model"
)

const (
	summarySheet = "Summary"
	samplesSheet = "Samples"
	maxSheetName = 31

	// Matrix cell markers for samples without a rank.
	notRanked = "NR"
	failed    = "ERR"
)

// XLSX builds a workbook for a run: a summary sheet, one N x N rank matrix
// per keyword, and a sheet of every sample.
func XLSX(report *model.Report, run *model.Run, results []model.Result) (*xlsx.File, error) {
	f := xlsx.NewFile()

	if err := addSummary(f, report, run); err != nil {
		return nil, err
	}

	byKeyword := groupByKeyword(results)
	size := gridSize(report, results)
	used := map[string]bool{strings.ToLower(summarySheet): true, strings.ToLower(samplesSheet): true}
	for _, kw := range keywordOrder(report, byKeyword) {
		name := sheetName(kw, used)
		sheet, err := f.AddSheet(name)
		if err != nil {
			return nil, eris.Wrapf(err, "export: add sheet for keyword %q", kw)
		}
		addMatrix(sheet, size, byKeyword[kw])
	}

	sheet, err := f.AddSheet(samplesSheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add samples sheet")
	}
	addSamples(sheet, results)
	return f, nil
}

// WriteXLSX writes the run workbook to w.
func WriteXLSX(w io.Writer, report *model.Report, run *model.Run, results []model.Result) error {
	f, err := XLSX(report, run, results)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func addSummary(f *xlsx.File, report *model.Report, run *model.Run) error {
	sheet, err := f.AddSheet(summarySheet)
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	pairs := [][2]string{
		{"Report", report.Name},
		{"Business", report.BusinessName},
		{"Target place ID", report.Target()},
		{"Center", formatFloat(report.CenterLat, 7) + ", " + formatFloat(report.CenterLng, 7)},
		{"Radius (km)", formatFloat(report.RadiusKM, 2)},
		{"Grid size", strconv.Itoa(report.GridSize)},
		{"Keywords", strings.Join(report.Keywords, "; ")},
		{"Run ID", run.ID},
		{"Attempt", strconv.Itoa(run.Attempt)},
		{"Status", string(run.Status)},
		{"Started", run.StartedAt.Format("2006-01-02 15:04:05 MST")},
		{"Samples", strconv.Itoa(run.PointsCompleted) + " / " + strconv.Itoa(run.PointsTotal)},
		{"Average rank", optionalFloat(run.Stats.AvgRank)},
		{"Top 3 (%)", formatFloat(run.Stats.Top3Percent, 2)},
		{"Average score", optionalFloat(run.Stats.AvgScore)},
		{"Found", strconv.Itoa(run.Stats.FoundCount)},
		{"Failed", strconv.Itoa(run.Stats.FailedCount)},
	}
	if run.CompletedAt != nil {
		pairs = append(pairs, [2]string{"Completed", run.CompletedAt.Format("2006-01-02 15:04:05 MST")})
	}
	for _, p := range pairs {
		row := sheet.AddRow()
		row.AddCell().SetString(p[0])
		row.AddCell().SetString(p[1])
	}
	return nil
}

// addMatrix lays out ranks with row 0 at the top, matching grid row order.
func addMatrix(sheet *xlsx.Sheet, size int, results []model.Result) {
	cells := make(map[[2]int]model.Result, len(results))
	for _, r := range results {
		cells[[2]int{r.Row, r.Col}] = r
	}

	header := sheet.AddRow()
	header.AddCell().SetString("row \\ col")
	for c := range size {
		header.AddCell().SetInt(c)
	}

	for r := range size {
		row := sheet.AddRow()
		row.AddCell().SetInt(r)
		for c := range size {
			cell := row.AddCell()
			res, ok := cells[[2]int{r, c}]
			switch {
			case !ok:
			case res.Rank != nil:
				cell.SetInt(*res.Rank)
			case res.Failed():
				cell.SetString(failed)
			default:
				cell.SetString(notRanked)
			}
		}
	}
}

func addSamples(sheet *xlsx.Sheet, results []model.Result) {
	header := sheet.AddRow()
	for _, h := range []string{"keyword", "row", "col", "lat", "lng", "rank", "score", "total_results", "top_competitor", "error"} {
		header.AddCell().SetString(h)
	}
	for _, r := range results {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Keyword)
		row.AddCell().SetInt(r.Row)
		row.AddCell().SetInt(r.Col)
		row.AddCell().SetFloat(r.Lat)
		row.AddCell().SetFloat(r.Lng)
		optionalInt(row.AddCell(), r.Rank)
		optionalInt(row.AddCell(), r.Score)
		row.AddCell().SetInt(r.TotalResults)
		row.AddCell().SetString(r.TopCompetitor)
		row.AddCell().SetString(r.Error)
	}
}

func groupByKeyword(results []model.Result) map[string][]model.Result {
	out := make(map[string][]model.Result)
	for _, r := range results {
		out[r.Keyword] = append(out[r.Keyword], r)
	}
	return out
}

// keywordOrder lists the report's keywords first, then any keyword present
// only in the results, sorted.
func keywordOrder(report *model.Report, byKeyword map[string][]model.Result) []string {
	seen := make(map[string]bool, len(byKeyword))
	var out []string
	for _, kw := range report.Keywords {
		if !seen[kw] {
			seen[kw] = true
			out = append(out, kw)
		}
	}
	var extra []string
	for kw := range byKeyword {
		if !seen[kw] {
			extra = append(extra, kw)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func gridSize(report *model.Report, results []model.Result) int {
	size := report.GridSize
	for _, r := range results {
		size = max(size, r.Row+1, r.Col+1)
	}
	return size
}

// sheetName makes a sheet name within Excel's length and character limits,
// unique case-insensitively against used.
func sheetName(keyword string, used map[string]bool) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, keyword)
	name = strings.TrimSpace(name)
	if name == "" {
		name = "keyword"
	}
	name = truncate(name, maxSheetName)

	candidate := name
	for i := 2; used[strings.ToLower(candidate)]; i++ {
		suffix := " (" + strconv.Itoa(i) + ")"
		candidate = truncate(name, maxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func optionalInt(cell *xlsx.Cell, v *int) {
	if v != nil {
		cell.SetInt(*v)
	}
}

func optionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v, 2)
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
