//go:build !integration

package main

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rankgrid/internal/model"
)

func ptr[T any](v T) *T { return &v }

func sampleRun() *model.Run {
	started := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := started.Add(90 * time.Second)
	return &model.Run{
		ID:              "abc12345-6789-0000-0000-000000000000",
		ReportID:        "rep12345-6789-0000-0000-000000000000",
		Attempt:         2,
		Status:          model.RunStatusCompleted,
		PointsTotal:     18,
		PointsCompleted: 18,
		Stats: model.RunStats{
			AvgRank:     ptr(1.53),
			Top3Percent: 94.44,
			AvgScore:    ptr(91.2),
			FoundCount:  17,
			FailedCount: 1,
		},
		StartedAt:   started,
		CompletedAt: &done,
	}
}

func sampleReport() *model.Report {
	return &model.Report{
		ID:            "rep12345-6789-0000-0000-000000000000",
		ProfileID:     "pro12345",
		Name:          "Downtown plumbing",
		BusinessName:  "Acme Plumbing",
		CenterLat:     30.2672,
		CenterLng:     -97.7431,
		TargetPlaceID: ptr("place-acme"),
		RadiusKM:      3,
		GridSize:      3,
		Keywords:      []string{"plumber near me", "drain cleaning"},
		Schedule:      model.Schedule{Frequency: "weekly", Day: 1, Hour: 6, Timezone: "UTC"},
		Status:        model.ReportStatusCompleted,
	}
}

func noTable(io.Writer) {}

func TestRender_Table(t *testing.T) {
	var buf bytes.Buffer
	called := false
	require.NoError(t, render(&buf, "table", sampleRun(), func(w io.Writer) {
		called = true
		_, _ = io.WriteString(w, "table")
	}))
	assert.True(t, called)
	assert.Equal(t, "table", buf.String())
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, "json", sampleRun(), noTable))

	out := buf.String()
	assert.Contains(t, out, `"points_total": 18`)
	assert.Contains(t, out, `"top3_percent": 94.44`)
	assert.Contains(t, out, `"avg_rank": 1.53`)
}

func TestRender_YAMLUsesJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, "yaml", sampleRun(), noTable))

	out := buf.String()
	assert.Contains(t, out, "points_total: 18")
	assert.Contains(t, out, "status: completed")
	assert.Contains(t, out, "  found_count: 17")
	assert.NotContains(t, out, "pointstotal")
}

func TestRender_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := render(&buf, "csv", sampleRun(), noTable)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"csv"`)
	assert.Empty(t, buf.String())
}

func TestFormatReportsList(t *testing.T) {
	r := sampleReport()
	pending := sampleReport()
	pending.ID = "new12345-0000"
	pending.Name = "A report name well over thirty characters long"
	pending.Schedule = model.Schedule{}
	pending.Status = model.ReportStatusPending

	var buf bytes.Buffer
	formatReportsList(&buf, []model.ReportSummary{
		{Report: *r, LatestRun: sampleRun()},
		{Report: *pending},
	})

	out := buf.String()
	assert.Contains(t, out, "AVG_RANK")
	assert.Contains(t, out, "rep12345")
	assert.Contains(t, out, "Downtown plumbing")
	assert.Contains(t, out, "3x3")
	assert.Contains(t, out, "weekly")
	assert.Contains(t, out, "1.53")
	assert.Contains(t, out, "94.44")
	assert.Contains(t, out, "A report name well over thir...")
	assert.Contains(t, out, "manual")
	assert.Contains(t, out, "pending")
}

func TestFormatReport(t *testing.T) {
	var buf bytes.Buffer
	formatReport(&buf, sampleReport(), sampleRun())

	out := buf.String()
	assert.Contains(t, out, "Acme Plumbing")
	assert.Contains(t, out, "30.267200, -97.743100")
	assert.Contains(t, out, "3x3 over 3.00 km")
	assert.Contains(t, out, "drain cleaning")
	assert.Contains(t, out, "place-acme")
	assert.Contains(t, out, "attempt 2")
	assert.Contains(t, out, "18/18")
	assert.Contains(t, out, "94.44%")
	assert.Contains(t, out, "Failed samples:")
}

func TestFormatRun_NoRankFound(t *testing.T) {
	run := sampleRun()
	run.Stats = model.RunStats{FailedCount: 0}
	run.Status = model.RunStatusFailed
	run.Error = "places: circuit open"

	var buf bytes.Buffer
	formatRun(&buf, run)

	out := buf.String()
	assert.Contains(t, out, "Avg rank:")
	assert.Contains(t, out, "-")
	assert.Contains(t, out, "places: circuit open")
	assert.NotContains(t, out, "Avg score:")
	assert.NotContains(t, out, "Failed samples:")
}

func TestFormatRunsList(t *testing.T) {
	running := sampleRun()
	running.ID = "def12345-6789"
	running.Status = model.RunStatusRunning
	running.PointsCompleted = 10
	running.CompletedAt = nil
	running.Stats = model.RunStats{}

	var buf bytes.Buffer
	formatRunsList(&buf, []model.Run{*sampleRun(), *running})

	out := buf.String()
	assert.Contains(t, out, "ATTEMPT")
	assert.Contains(t, out, "abc12345")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "def12345")
	assert.Contains(t, out, "10/18")
	assert.Contains(t, out, "2025-06-15 10:30")
}

func TestFormatResults(t *testing.T) {
	results := []model.Result{
		{Keyword: "plumber near me", Row: 0, Col: 1, Rank: ptr(2), Score: ptr(95), TotalResults: 20, TopCompetitor: "Rival Plumbing"},
		{Keyword: "plumber near me", Row: 1, Col: 1, Score: ptr(0), TotalResults: 20},
		{Keyword: "drain cleaning", Row: 1, Col: 1, Error: "timeout"},
	}

	var buf bytes.Buffer
	formatResults(&buf, results)

	out := buf.String()
	assert.Contains(t, out, "TOP_COMPETITOR")
	assert.Contains(t, out, "Rival Plumbing")
	assert.Contains(t, out, "95")
	assert.Contains(t, out, "NR")
	assert.Contains(t, out, "ERR")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
