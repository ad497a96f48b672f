package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rankgrid/internal/grid"
)

// gridRow is a cell with its distance from the center, for display.
type gridRow struct {
	grid.Cell
	DistanceKM float64 `json:"distance_km"`
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Print the sample grid for a center, radius, and size",
	RunE: func(cmd *cobra.Command, _ []string) error {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lng, _ := cmd.Flags().GetFloat64("lng")
		radius, _ := cmd.Flags().GetFloat64("radius-km")
		size, _ := cmd.Flags().GetInt("size")

		rows, err := gridRows(lat, lng, radius, size)
		if err != nil {
			return eris.Wrap(err, "grid")
		}
		return render(os.Stdout, outputFormat, rows, func(w io.Writer) {
			formatGrid(w, rows)
		})
	},
}

func gridRows(lat, lng, radiusKM float64, size int) ([]gridRow, error) {
	cells, err := grid.Generate(lat, lng, radiusKM, size)
	if err != nil {
		return nil, err
	}
	rows := make([]gridRow, len(cells))
	for i, c := range cells {
		rows[i] = gridRow{Cell: c, DistanceKM: c.DistanceKM(lat, lng)}
	}
	return rows, nil
}

func formatGrid(out io.Writer, rows []gridRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tCOL\tLAT\tLNG\tDIST_KM")
	_, _ = fmt.Fprintln(w, "---\t---\t---\t---\t-------")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%.7f\t%.7f\t%.3f\n", r.Row, r.Col, r.Lat, r.Lng, r.DistanceKM)
	}
	_ = w.Flush()
}

func init() {
	gridCmd.Flags().Float64("lat", 0, "center latitude")
	gridCmd.Flags().Float64("lng", 0, "center longitude")
	gridCmd.Flags().Float64("radius-km", 3, "distance from center to the grid edge")
	gridCmd.Flags().Int("size", 5, "points per side")
	_ = gridCmd.MarkFlagRequired("lat")
	_ = gridCmd.MarkFlagRequired("lng")
	rootCmd.AddCommand(gridCmd)
}
