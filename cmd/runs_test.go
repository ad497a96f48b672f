//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/config"
	"github.com/sells-group/rankgrid/internal/model"
	"github.com/sells-group/rankgrid/internal/report"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func sampleResults(run *model.Run) []model.Result {
	results := []model.Result{
		{Keyword: "plumber near me", Row: 0, Col: 0, Lat: 30.24, Lng: -97.77, Rank: ptr(1), Score: ptr(100), TotalResults: 20},
		{Keyword: "plumber near me", Row: 0, Col: 1, Lat: 30.24, Lng: -97.74, Score: ptr(0), TotalResults: 20, TopCompetitor: "Rival"},
		{Keyword: "drain cleaning", Row: 0, Col: 0, Lat: 30.24, Lng: -97.77, Error: "status 500"},
	}
	for i := range results {
		results[i].RunID = run.ID
	}
	return results
}

func TestExportRun_XLSX(t *testing.T) {
	run := sampleRun()
	out := filepath.Join(t.TempDir(), "grid")

	path, err := exportRun("xlsx", out, sampleReport(), run, sampleResults(run))
	require.NoError(t, err)
	assert.Equal(t, out+".xlsx", path)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, f.Sheets)
}

func TestExportRun_Shapefile(t *testing.T) {
	run := sampleRun()
	out := filepath.Join(t.TempDir(), "grid.shp")

	path, err := exportRun("shp", out, sampleReport(), run, sampleResults(run))
	require.NoError(t, err)
	assert.Equal(t, out, path)

	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		_, err := os.Stat(filepath.Join(filepath.Dir(out), "grid"+ext))
		assert.NoError(t, err, "missing %s", ext)
	}

	r, err := shp.Open(path)
	require.NoError(t, err)
	defer r.Close()
	var n int
	for r.Next() {
		n++
	}
	assert.Equal(t, 3, n)
}

func TestExportRun_GeoJSON(t *testing.T) {
	run := sampleRun()
	out := filepath.Join(t.TempDir(), "grid")

	path, err := exportRun("geojson", out, sampleReport(), run, sampleResults(run))
	require.NoError(t, err)
	assert.Equal(t, out+".geojson", path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 3)
}

func TestExportRun_DefaultName(t *testing.T) {
	t.Chdir(t.TempDir())
	run := sampleRun()

	path, err := exportRun("xlsx", "", sampleReport(), run, sampleResults(run))
	require.NoError(t, err)
	assert.Equal(t, "run-abc12345.xlsx", path)
}

func TestExportRun_UnknownFormat(t *testing.T) {
	run := sampleRun()
	_, err := exportRun("csv", filepath.Join(t.TempDir(), "x"), sampleReport(), run, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestReadOnlyService_SQLite(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Store: config.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "cli.db"),
	}}

	ctx := context.Background()
	svc, st, err := readOnlyService(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	p, err := svc.CreateProfile(ctx, report.ProfileInput{Name: "Acme Plumbing", Lat: ptr(30.2672), Lng: ptr(-97.7431)})
	require.NoError(t, err)

	r := sampleReport()
	r.ID = ""
	r.ProfileID = p.ID
	require.NoError(t, st.CreateReport(ctx, r))

	reports, err := svc.ListReports(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "Downtown plumbing", reports[0].Name)
	assert.Nil(t, reports[0].LatestRun)

	run, err := st.CreateRun(ctx, r.ID, 1, r.TotalSamples())
	require.NoError(t, err)
	_, err = st.UpsertResults(ctx, sampleResults(run))
	require.NoError(t, err)

	results, err := svc.GetRunResults(ctx, run.ID, "  drain   cleaning ")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed())
}

func TestReadOnlyService_InvalidConfig(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	_, _, err := readOnlyService(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}

func TestRunningEnv_RequiresAPIKey(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "cli.db")}}

	_, err := runningEnv(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RANKGRID_GOOGLE_API_KEY")
}
