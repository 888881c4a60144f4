package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"syncd/internal/app"
	"syncd/internal/job"
	logx "syncd/pkg/logx"
)

const stopTimeout = 15 * time.Second

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "syncd",
		Short:         "Recurring sync job scheduler with a priority work queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	def := os.Getenv("SYNCD_CONFIG")
	if def == "" {
		def = "./config.yaml"
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", def, "path to config file (yaml or json); env SYNCD_CONFIG")

	root.AddCommand(
		serveCmd(&cfgPath),
		statusCmd(&cfgPath),
		schedulesCmd(&cfgPath),
		runsCmd(&cfgPath),
		resetCmd(&cfgPath),
		cleanupCmd(&cfgPath),
		versionCmd(),
	)
	return root
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, queue processor and admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *cfgPath)
		},
	}
}

func serve(parent context.Context, cfgPath string) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	log := a.Logger()
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	sdNotify(log, daemon.SdNotifyReady)

	g, gctx := errgroup.WithContext(ctx)
	if srv := a.HTTP(); srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-a.Done():
			return a.Err()
		}
	})
	runErr := g.Wait()

	reason := app.StopSignal
	switch {
	case runErr != nil:
		reason = app.StopFatalError
		log.Error("fatal", logx.Err(runErr))
	case ctx.Err() == nil:
		reason = app.StopAppStop
	}
	sdNotify(log, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return runErr
}

func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// withAdmin opens the configured store without starting timers or the processor.
func withAdmin(cfgPath string, fn func(ctx context.Context, a *app.Admin) error) error {
	a, err := app.OpenAdmin(cfgPath, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, a)
}

func statusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the automation status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(*cfgPath, func(ctx context.Context, a *app.Admin) error {
				st, err := a.AutomationStatus(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func schedulesCmd(cfgPath *string) *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "schedules",
		Short: "List persisted schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(*cfgPath, func(ctx context.Context, a *app.Admin) error {
				list, err := a.JobSchedules(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), list)
				}
				return printSchedules(cmd.OutOrStdout(), list)
			})
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return c
}

func runsCmd(cfgPath *string) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	c := &cobra.Command{
		Use:   "runs",
		Short: "List recent run records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(*cfgPath, func(ctx context.Context, a *app.Admin) error {
				runs, err := a.JobStatus(ctx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), runs)
				}
				return printRuns(cmd.OutOrStdout(), runs)
			})
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", 50, "number of records")
	c.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return c
}

func resetCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore canonical interval, priority, retries and activation on every schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(*cfgPath, func(ctx context.Context, a *app.Admin) error {
				n, err := a.ResetToDefaultSchedules(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "corrected %d schedule(s)\n", n)
				return nil
			})
		},
	}
}

func cleanupCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete duplicate schedules, keeping the first of each type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(*cfgPath, func(ctx context.Context, a *app.Admin) error {
				rep, err := a.CleanupDuplicateSchedules(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSchedules(w io.Writer, list []job.Schedule) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tINTERVAL\tACTIVE\tPRIORITY\tRETRIES\tLAST RUN\tNEXT RUN")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%dm\t%t\t%s\t%d/%d\t%s\t%s\n",
			s.ID, s.Type, s.Interval, s.IsActive, s.Priority, s.RetryCount, s.MaxRetries, fmtTime(s.LastRun), fmtTime(s.NextRun))
	}
	return tw.Flush()
}

func printRuns(w io.Writer, runs []job.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tTYPE\tSTATUS\tATTEMPT\tDURATION\tPROCESSED\tFAILED\tSOURCE\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
			r.StartTime.Format(time.RFC3339), r.Type, r.Status, r.Attempt, r.Duration.Round(time.Millisecond),
			r.RecordsProcessed, r.RecordsFailed, r.Source, oneLine(r.Error, 60))
	}
	return tw.Flush()
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func oneLine(s string, max int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
