package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/export"
	"github.com/sells-group/rankgrid/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect rank run history",
	Long:  "Commands for listing, viewing, and exporting the runs of a report.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list <report-id>",
	Short: "List the runs of a report, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := readOnlyService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := svc.ListRuns(ctx, args[0], limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 && outputFormat == "table" {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		return render(os.Stdout, outputFormat, runs, func(w io.Writer) {
			formatRunsList(w, runs)
		})
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show progress and stats of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := readOnlyService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := svc.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return render(os.Stdout, outputFormat, run, func(w io.Writer) {
			formatRun(w, run)
		})
	},
}

// -- runs results --

var runsResultsCmd = &cobra.Command{
	Use:   "results <run-id>",
	Short: "List the samples of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := readOnlyService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		keyword, _ := cmd.Flags().GetString("keyword")
		results, err := svc.GetRunResults(ctx, args[0], keyword)
		if err != nil {
			return eris.Wrap(err, "runs results")
		}
		return render(os.Stdout, outputFormat, results, func(w io.Writer) {
			formatResults(w, results)
		})
	},
}

// -- runs export --

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run as an Excel workbook, GeoJSON, or a point shapefile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := readOnlyService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := svc.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs export")
		}
		detail, err := svc.GetReport(ctx, run.ReportID)
		if err != nil {
			return eris.Wrap(err, "runs export")
		}
		results, err := svc.GetRunResults(ctx, run.ID, "")
		if err != nil {
			return eris.Wrap(err, "runs export")
		}

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		path, err := exportRun(format, out, detail.Report, run, results)
		if err != nil {
			return err
		}

		zap.L().Info("run exported",
			zap.String("run_id", run.ID),
			zap.String("format", format),
			zap.String("path", path),
			zap.Int("samples", len(results)),
		)
		return nil
	},
}

// exportRun writes the run in format to out and returns the primary file
// written. An empty out derives a name from the run ID.
func exportRun(format, out string, r *model.Report, run *model.Run, results []model.Result) (string, error) {
	if out == "" {
		out = "run-" + truncateID(run.ID)
	}

	switch format {
	case "xlsx":
		if filepath.Ext(out) != ".xlsx" {
			out += ".xlsx"
		}
		f, err := os.Create(out)
		if err != nil {
			return "", eris.Wrapf(err, "runs export: create %s", out)
		}
		bw := bufio.NewWriter(f)
		if err := export.WriteXLSX(bw, r, run, results); err != nil {
			_ = f.Close()
			return "", err
		}
		if err := bw.Flush(); err != nil {
			_ = f.Close()
			return "", eris.Wrapf(err, "runs export: write %s", out)
		}
		if err := f.Close(); err != nil {
			return "", eris.Wrapf(err, "runs export: close %s", out)
		}
		return out, nil
	case "geojson":
		if filepath.Ext(out) != ".geojson" {
			out += ".geojson"
		}
		f, err := os.Create(out)
		if err != nil {
			return "", eris.Wrapf(err, "runs export: create %s", out)
		}
		if err := export.WriteGeoJSON(f, r, results); err != nil {
			_ = f.Close()
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", eris.Wrapf(err, "runs export: close %s", out)
		}
		return out, nil
	case "shp":
		base := strings.TrimSuffix(out, ".shp")
		if err := export.WriteShapefile(base, r, results); err != nil {
			return "", err
		}
		return base + ".shp", nil
	default:
		return "", eris.Errorf("runs export: unknown format %q (want xlsx, geojson, or shp)", format)
	}
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsResultsCmd.Flags().String("keyword", "", "only show samples for this keyword")
	runsExportCmd.Flags().String("format", "xlsx", "export format: xlsx, geojson, or shp")
	runsExportCmd.Flags().String("out", "", "output path (default run-<id>.<ext>)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsResultsCmd)
	runsCmd.AddCommand(runsExportCmd)
	rootCmd.AddCommand(runsCmd)
}
