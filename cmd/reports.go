package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/dispatch"
	"github.com/sells-group/rankgrid/internal/model"
	"github.com/sells-group/rankgrid/internal/report"
	"github.com/sells-group/rankgrid/internal/store"
)

// readOnlyService opens the store for commands that never geocode or
// dispatch.
func readOnlyService(ctx context.Context) (*report.Service, store.Store, error) {
	if err := cfg.Validate("cli"); err != nil {
		return nil, nil, err
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return report.NewService(st, nil, nil), st, nil
}

// runningEnv builds the full environment for commands that start runs.
func runningEnv(ctx context.Context) (*rankEnv, error) {
	if cfg.Google.APIKey == "" {
		return nil, eris.New("google api key is required (RANKGRID_GOOGLE_API_KEY)")
	}
	env, err := initRankEnv(ctx, "cli")
	if err != nil {
		return nil, err
	}
	if err := env.withDispatcher(); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// finishDispatch waits for in-process jobs and prints the report's latest
// run. With Temporal dispatch the job runs elsewhere and only a notice is
// printed.
func finishDispatch(ctx context.Context, out io.Writer, env *rankEnv, reportID string) error {
	if cfg.Dispatch.Mode == "temporal" {
		_, _ = fmt.Fprintf(out, "Run for report %s dispatched to Temporal (job %s).\n", reportID, dispatch.JobID(reportID))
		return nil
	}
	env.WaitLocal()

	detail, err := env.Service.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	return render(out, outputFormat, detail, func(w io.Writer) {
		formatReport(w, detail.Report, detail.LatestRun)
	})
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage business profiles",
}

var profilesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a business profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, st, err := readOnlyService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		in := report.ProfileInput{}
		in.Name, _ = cmd.Flags().GetString("name")
		in.Address, _ = cmd.Flags().GetString("address")
		in.PlaceID, _ = cmd.Flags().GetString("place-id")
		if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
			lat, _ := cmd.Flags().GetFloat64("lat")
			lng, _ := cmd.Flags().GetFloat64("lng")
			in.Lat, in.Lng = &lat, &lng
		}

		p, err := svc.CreateProfile(ctx, in)
		if err != nil {
			return eris.Wrap(err, "profiles create")
		}
		return render(os.Stdout, outputFormat, p, func(w io.Writer) {
			_, _ = fmt.Fprintln(w, p.ID)
		})
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Create, inspect, and run rank reports",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports with their latest run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, st, err := readOnlyService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		profileID, _ := cmd.Flags().GetString("profile")
		reports, err := svc.ListReports(ctx, profileID)
		if err != nil {
			return eris.Wrap(err, "reports list")
		}

		if len(reports) == 0 && outputFormat == "table" {
			fmt.Fprintln(os.Stderr, "No reports found.")
			return nil
		}
		return render(os.Stdout, outputFormat, reports, func(w io.Writer) {
			formatReportsList(w, reports)
		})
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show a report and its latest run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := readOnlyService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		detail, err := svc.GetReport(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "reports show")
		}
		return render(os.Stdout, outputFormat, detail, func(w io.Writer) {
			formatReport(w, detail.Report, detail.LatestRun)
		})
	},
}

var reportsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a report and run it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := runningEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r, err := env.Service.CreateReport(ctx, createInputFromFlags(cmd.Flags()))
		if err != nil {
			return eris.Wrap(err, "reports create")
		}
		zap.L().Info("report created", zap.String("report_id", r.ID), zap.Int("samples", r.TotalSamples()))

		return finishDispatch(ctx, os.Stdout, env, r.ID)
	},
}

var reportsRunCmd = &cobra.Command{
	Use:   "run <report-id>",
	Short: "Start a run for a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := runningEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Service.TriggerRun(ctx, args[0]); err != nil {
			return eris.Wrap(err, "reports run")
		}
		return finishDispatch(ctx, os.Stdout, env, args[0])
	},
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete <report-id>",
	Short: "Delete a report with its runs and results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := readOnlyService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		deleted, err := svc.DeleteReport(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "reports delete")
		}
		if !deleted {
			return eris.Wrapf(report.ErrNotFound, "reports delete %s", args[0])
		}
		fmt.Fprintf(os.Stderr, "Deleted report %s.\n", args[0])
		return nil
	},
}

func createInputFromFlags(fs *pflag.FlagSet) report.CreateInput {
	var in report.CreateInput
	in.ProfileID, _ = fs.GetString("profile")
	in.Name, _ = fs.GetString("name")
	in.BusinessName, _ = fs.GetString("business-name")
	in.Keywords, _ = fs.GetStringSlice("keyword")
	in.RadiusKM, _ = fs.GetFloat64("radius-km")
	in.GridSize, _ = fs.GetInt("grid-size")

	freq, _ := fs.GetString("frequency")
	day, _ := fs.GetInt("day")
	hour, _ := fs.GetInt("hour")
	tz, _ := fs.GetString("timezone")
	in.Schedule = model.Schedule{Frequency: freq, Day: day, Hour: hour, Timezone: tz}
	return in
}

func addCreateFlags(fs *pflag.FlagSet) {
	fs.String("profile", "", "profile ID (required)")
	fs.String("name", "", "report name")
	fs.String("business-name", "", "name matched in search results (default: profile name)")
	fs.StringSlice("keyword", nil, "search keyword (repeatable)")
	fs.Float64("radius-km", report.DefaultRadiusKM, "grid radius in kilometers")
	fs.Int("grid-size", report.DefaultGridSize, "grid points per side")
	fs.String("frequency", "manual", "schedule: manual, daily, weekly, or monthly")
	fs.Int("day", 0, "weekday 0-6 (weekly) or day of month 1-28 (monthly)")
	fs.Int("hour", 0, "hour of day the scheduled run starts")
	fs.String("timezone", "UTC", "IANA timezone of the schedule")
}

func init() {
	profilesCreateCmd.Flags().String("name", "", "business name")
	profilesCreateCmd.Flags().String("address", "", "street address, geocoded when coordinates are omitted")
	profilesCreateCmd.Flags().String("place-id", "", "Google place ID of the business, if known")
	profilesCreateCmd.Flags().Float64("lat", 0, "latitude")
	profilesCreateCmd.Flags().Float64("lng", 0, "longitude")
	profilesCmd.AddCommand(profilesCreateCmd)
	rootCmd.AddCommand(profilesCmd)

	reportsListCmd.Flags().String("profile", "", "only list reports of this profile")

	addCreateFlags(reportsCreateCmd.Flags())

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsCreateCmd)
	reportsCmd.AddCommand(reportsRunCmd)
	reportsCmd.AddCommand(reportsDeleteCmd)
	rootCmd.AddCommand(reportsCmd)
}
