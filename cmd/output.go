package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/rankgrid/internal/model"
)

// render writes v in the selected output format. table is called for the
// default tabular form.
func render(out io.Writer, format string, v any, table func(io.Writer)) error {
	switch format {
	case "", "table":
		table(out)
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so field names match the API.
		raw, err := json.Marshal(v)
		if err != nil {
			return eris.Wrap(err, "render yaml")
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return eris.Wrap(err, "render yaml")
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return eris.Wrap(err, "render yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unknown output format %q", format)
	}
}

// formatReportsList writes a tabular list of reports to w.
func formatReportsList(out io.Writer, reports []model.ReportSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tKEYWORDS\tGRID\tSCHEDULE\tSTATUS\tAVG_RANK\tTOP3%")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t----\t--------\t------\t--------\t-----")

	for _, r := range reports {
		name := r.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		freq := r.Schedule.Frequency
		if freq == "" {
			freq = "manual"
		}
		avg, top3 := "-", "-"
		if r.LatestRun != nil {
			avg = formatAvgRank(r.LatestRun.Stats.AvgRank)
			top3 = strconv.FormatFloat(r.LatestRun.Stats.Top3Percent, 'f', 2, 64)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%dx%d\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			name,
			len(r.Keywords),
			r.GridSize, r.GridSize,
			freq,
			r.Status,
			avg,
			top3,
		)
	}
	_ = w.Flush()
}

// formatReport writes a report and its latest run to w.
func formatReport(out io.Writer, r *model.Report, run *model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", r.ID)
	_, _ = fmt.Fprintf(w, "Name:\t%s\n", r.Name)
	_, _ = fmt.Fprintf(w, "Business:\t%s\n", r.BusinessName)
	_, _ = fmt.Fprintf(w, "Center:\t%.6f, %.6f\n", r.CenterLat, r.CenterLng)
	_, _ = fmt.Fprintf(w, "Grid:\t%dx%d over %.2f km\n", r.GridSize, r.GridSize, r.RadiusKM)
	_, _ = fmt.Fprintf(w, "Keywords:\t%d\n", len(r.Keywords))
	for _, kw := range r.Keywords {
		_, _ = fmt.Fprintf(w, "  \t%s\n", kw)
	}
	if target := r.Target(); target != "" {
		_, _ = fmt.Fprintf(w, "Target place:\t%s\n", target)
	}
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", r.Status)
	if r.LastRunAt != nil {
		_, _ = fmt.Fprintf(w, "Last run:\t%s\n", r.LastRunAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()

	if run != nil {
		_, _ = fmt.Fprintln(out)
		formatRun(out, run)
	}
}

// formatRun writes a run's progress and stats to w.
func formatRun(out io.Writer, run *model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s (attempt %d)\n", run.ID, run.Attempt)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", run.Status)
	_, _ = fmt.Fprintf(w, "Progress:\t%d/%d\n", run.PointsCompleted, run.PointsTotal)
	_, _ = fmt.Fprintf(w, "Avg rank:\t%s\n", formatAvgRank(run.Stats.AvgRank))
	_, _ = fmt.Fprintf(w, "Top 3:\t%.2f%%\n", run.Stats.Top3Percent)
	if run.Stats.AvgScore != nil {
		_, _ = fmt.Fprintf(w, "Avg score:\t%.2f\n", *run.Stats.AvgScore)
	}
	_, _ = fmt.Fprintf(w, "Found:\t%d\n", run.Stats.FoundCount)
	if run.Stats.FailedCount > 0 {
		_, _ = fmt.Fprintf(w, "Failed samples:\t%d\n", run.Stats.FailedCount)
	}
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", run.Error)
	}
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tATTEMPT\tSTATUS\tPROGRESS\tAVG_RANK\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t--------\t--------\t-------\t--------")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d/%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Attempt,
			r.Status,
			r.PointsCompleted, r.PointsTotal,
			formatAvgRank(r.Stats.AvgRank),
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatResults writes one line per sample to w.
func formatResults(out io.Writer, results []model.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEYWORD\tROW\tCOL\tRANK\tSCORE\tTOTAL\tTOP_COMPETITOR")
	_, _ = fmt.Fprintln(w, "-------\t---\t---\t----\t-----\t-----\t--------------")

	for _, r := range results {
		rank, score := "NR", "ERR"
		if r.Rank != nil {
			rank = strconv.Itoa(*r.Rank)
		}
		if r.Score != nil {
			score = strconv.Itoa(*r.Score)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%d\t%s\n",
			r.Keyword, r.Row, r.Col, rank, score, r.TotalResults, r.TopCompetitor)
	}
	_ = w.Flush()
}

func formatAvgRank(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
