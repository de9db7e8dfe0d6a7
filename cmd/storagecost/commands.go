package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rshade/storagecost/internal/forecast"
	"github.com/rshade/storagecost/internal/model"
)

func newRootCmd() *cobra.Command {
	var opts globalOptions
	root := &cobra.Command{
		Use:           "storagecost",
		Short:         "Estimate and forecast monthly storage cost for discovered volumes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file (default: ./storagecost.yaml when present)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.stateFile, "state-file", "", "JSON state file for the memory store backend")

	root.AddCommand(
		newImportCmd(&opts),
		newEstimateCmd(&opts),
		newEstimateJobCmd(&opts),
		newForecastCmd(&opts),
		newAssumptionsCmd(&opts),
		newRecalculateCmd(&opts),
	)
	return root
}

// run builds the app for cmd and invokes fn with it.
func run(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, *opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load volume records from a JSON array into the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read volumes: %w", err)
				}
				var records []model.VolumeRecord
				if err := json.Unmarshal(data, &records); err != nil {
					return fmt.Errorf("parse volumes %s: %w", file, err)
				}
				for _, rec := range records {
					if err := a.store.PutVolume(ctx, rec); err != nil {
						return fmt.Errorf("import volume %s: %w", rec.ID, err)
					}
				}
				_, err = fmt.Fprintf(a.out, "imported %d volumes\n", len(records))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file holding an array of volume records")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newEstimateCmd(opts *globalOptions) *cobra.Command {
	var jobID, volumeID string
	var save bool
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the monthly cost of one stored volume",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				rec, err := a.store.GetVolume(ctx, jobID, volumeID)
				if err != nil {
					return err
				}
				est, err := a.estimator.EstimateVolume(ctx, jobID, rec)
				if err != nil {
					return err
				}
				if save {
					if err := a.store.SaveCostAnalysis(ctx, jobID, volumeID, est); err != nil {
						return err
					}
				}
				return a.printJSON(est)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Job id")
	cmd.Flags().StringVar(&volumeID, "volume", "", "Volume id")
	cmd.Flags().BoolVar(&save, "save", false, "Persist the estimate on the volume record")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("volume")
	return cmd
}

type jobEstimate struct {
	VolumeID string                    `json:"volumeId"`
	Estimate *model.VolumeCostEstimate `json:"estimate,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

func newEstimateJobCmd(opts *globalOptions) *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "estimate-job",
		Short: "Estimate and save every volume of a job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				volumes, err := a.store.GetVolumesByJob(ctx, jobID)
				if err != nil {
					return err
				}
				results := a.estimator.EstimateJob(ctx, jobID, volumes)
				out := make([]jobEstimate, 0, len(results))
				for _, r := range results {
					item := jobEstimate{VolumeID: r.VolumeID}
					if r.Err == nil {
						r.Err = a.store.SaveCostAnalysis(ctx, jobID, r.VolumeID, r.Estimate)
					}
					if r.Err != nil {
						item.Error = r.Err.Error()
					} else {
						est := r.Estimate
						item.Estimate = &est
					}
					out = append(out, item)
				}
				return a.printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Job id")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func newForecastCmd(opts *globalOptions) *cobra.Command {
	var (
		jobID, volumeID string
		daysFile        string
		historyDSN      string
		days            int
		changes         []string
	)
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast the next 30 days of cost for a volume",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				rec, err := a.store.GetVolume(ctx, jobID, volumeID)
				if err != nil {
					return err
				}
				var analysis model.VolumeCostEstimate
				if rec.CostAnalysis != nil {
					analysis = *rec.CostAnalysis
				} else if analysis, err = a.estimator.EstimateVolume(ctx, jobID, rec); err != nil {
					return err
				}

				if historyDSN != "" {
					a.cfg.History.DSN = historyDSN
				}
				src, closeSrc, err := a.historySource(ctx, daysFile)
				if err != nil {
					return err
				}
				defer closeSrc()

				in := forecast.Input{
					Analysis:       analysis,
					RecentChanges:  changes,
					SnapshotCount:  rec.SnapshotCount,
					ProvisionedGiB: rec.ProvisionedGiB,
				}
				if rec.SnapshotSizeGiB != nil {
					in.SnapshotSizeGiB = *rec.SnapshotSizeGiB
				}
				if rec.UsedGiB != nil {
					in.UsedGiB = *rec.UsedGiB
				}
				if src != nil {
					resourceID := rec.ResourceID
					if resourceID == "" {
						resourceID = rec.ID
					}
					if in.DailyCosts, err = src.DailyCosts(ctx, resourceID, days, time.Now()); err != nil {
						return err
					}
				}
				return a.printJSON(a.forecaster.Forecast(in))
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Job id")
	cmd.Flags().StringVar(&volumeID, "volume", "", "Volume id")
	cmd.Flags().StringVar(&daysFile, "days-file", "", "JSON file of daily costs keyed by resource id (default: history.dsn)")
	cmd.Flags().StringVar(&historyDSN, "history-dsn", "", "PostgreSQL DSN of the daily cost table (overrides history.dsn)")
	cmd.Flags().IntVar(&days, "days", 30, "Number of historical days to use")
	cmd.Flags().StringArrayVar(&changes, "change", nil, "Recent change description, repeatable (e.g. \"capacity increase\")")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("volume")
	return cmd
}

func newAssumptionsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assumptions",
		Short: "Read and change cool data assumptions",
	}

	var getJob, getVolume string
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the assumptions in effect for a volume, job or globally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.assumptions.ResolveAssumptions(ctx, getJob, getVolume)
				if err != nil {
					return err
				}
				return a.printJSON(res)
			})
		},
	}
	getCmd.Flags().StringVar(&getJob, "job", "", "Job id")
	getCmd.Flags().StringVar(&getVolume, "volume", "", "Volume id (requires --job)")

	var (
		setJob, setVolume, setBy string
		cool, retrieval          float64
	)
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Set global, job or volume assumptions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if setVolume != "" && setJob == "" {
				return errors.New("--volume requires --job")
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				var (
					res model.CoolDataAssumptions
					err error
				)
				switch {
				case setVolume != "":
					res, err = a.assumptions.SetVolumeAssumptions(ctx, setJob, setVolume, cool, retrieval, setBy)
				case setJob != "":
					res, err = a.assumptions.SetJobAssumptions(ctx, setJob, cool, retrieval, setBy)
				default:
					res, err = a.assumptions.SetGlobalAssumptions(ctx, cool, retrieval, setBy)
				}
				if err != nil {
					return err
				}
				return a.printJSON(res)
			})
		},
	}
	setCmd.Flags().StringVar(&setJob, "job", "", "Job id")
	setCmd.Flags().StringVar(&setVolume, "volume", "", "Volume id (requires --job)")
	setCmd.Flags().StringVar(&setBy, "by", defaultActor(), "Recorded as the modifier")
	setCmd.Flags().Float64Var(&cool, "cool", 0, "Cool data percentage [0,100]")
	setCmd.Flags().Float64Var(&retrieval, "retrieval", 0, "Cool data retrieval percentage [0,100]")
	_ = setCmd.MarkFlagRequired("cool")
	_ = setCmd.MarkFlagRequired("retrieval")

	var clearJob, clearVolume string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove a job or volume override",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				if clearVolume != "" {
					return a.assumptions.ClearVolumeAssumptions(ctx, clearJob, clearVolume)
				}
				return a.assumptions.ClearJobAssumptions(ctx, clearJob)
			})
		},
	}
	clearCmd.Flags().StringVar(&clearJob, "job", "", "Job id")
	clearCmd.Flags().StringVar(&clearVolume, "volume", "", "Volume id")
	_ = clearCmd.MarkFlagRequired("job")

	cmd.AddCommand(getCmd, setCmd, clearCmd)
	return cmd
}

type recalcFailure struct {
	VolumeID string `json:"volumeId"`
	Error    string `json:"error"`
}

type recalcSummary struct {
	RunID        string          `json:"runId"`
	JobID        string          `json:"jobId"`
	Recalculated int             `json:"recalculated"`
	Skipped      []string        `json:"skipped"`
	Failed       []recalcFailure `json:"failed"`
}

func newRecalculateCmd(opts *globalOptions) *cobra.Command {
	var jobID, volumeID string
	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Recalculate a job's cool-access volumes, or one volume",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				if volumeID != "" {
					est, err := a.recalc.RecalculateVolume(ctx, jobID, volumeID)
					if err != nil {
						return err
					}
					return a.printJSON(est)
				}
				report, err := a.recalc.RecalculateJobResults(ctx, jobID)
				if err != nil {
					return err
				}
				summary := recalcSummary{
					RunID:        report.RunID,
					JobID:        report.JobID,
					Recalculated: report.Succeeded(),
					Skipped:      report.Skipped,
					Failed:       []recalcFailure{},
				}
				for _, f := range report.Failed() {
					summary.Failed = append(summary.Failed, recalcFailure{VolumeID: f.VolumeID, Error: f.Err.Error()})
				}
				return a.printJSON(summary)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Job id")
	cmd.Flags().StringVar(&volumeID, "volume", "", "Recalculate only this volume")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
