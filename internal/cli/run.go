package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/gomint/internal/chooser"
	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/internal/logging"
	"github.com/me/gomint/internal/resource"
	"github.com/me/gomint/internal/scheduler"
	"github.com/me/gomint/internal/server"
	"github.com/me/gomint/internal/store"
	"github.com/me/gomint/pkg/model"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	StatusAddr string
	StatusOut  io.Writer
	Resources  resource.BuildOptions
}

func newRunCmd() *cobra.Command {
	var statusAddr string

	cmd := &cobra.Command{
		Use:   "run <experiment-dir>",
		Short: "Run the scheduler loop for an experiment",
		Long: "Run repeatedly asks the chooser for a new point and dispatches it to the\n" +
			"first resource with spare capacity. It runs until interrupted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runExperiment(ctx, args[0], runOptions{
				StatusAddr: statusAddr,
				StatusOut:  cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve the read-only status API on this address (e.g. :8090)")
	return cmd
}

func runExperiment(ctx context.Context, exptDir string, opts runOptions) error {
	exp, err := config.Load(exptDir, flagConfig)
	if err != nil {
		return err
	}
	log := logging.ForExperiment(logger, "run", exp.ExperimentName)

	trigger, err := triggerFor(exp)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, store.Options{Address: exp.Database.Address, Database: exp.Database.Name}, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	resources, err := resource.FromConfig(exp, opts.Resources, logger)
	if err != nil {
		return err
	}
	ch, err := chooser.NewRegistry(logger).New(exp.Chooser)
	if err != nil {
		return err
	}

	loop, err := scheduler.NewLoop(st, exp, resources.All(), ch, scheduler.Config{
		Experiment:    exp.ExperimentName,
		ExperimentDir: exp.ExperimentDir,
		StoreAddress:  exp.Database.Address,
		Trigger:       trigger,
		StatusOut:     opts.StatusOut,
	}, logger)
	if err != nil {
		return err
	}

	log.Info("experiment ready",
		"dir", exp.ExperimentDir,
		"chooser", ch.Name(),
		"store", exp.Database.Address,
		"resources", len(resources.All()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Start(gctx)
	})

	if opts.StatusAddr != "" {
		srv := server.New(server.Config{Addr: opts.StatusAddr, Experiment: exp.ExperimentName}, st, resources.All(), logger)
		httpServer := &http.Server{
			Addr:    opts.StatusAddr,
			Handler: srv.Handler(),
		}
		g.Go(func() error {
			log.Info("status API starting", "addr", opts.StatusAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		log.Info("scheduler stopped")
		return nil
	}
	return err
}

// triggerFor picks the cron schedule when one is configured, the polling
// interval otherwise.
func triggerFor(exp *config.Config) (scheduler.Trigger, error) {
	if exp.PollingSchedule != "" {
		t, err := scheduler.NewCronTrigger(exp.PollingSchedule)
		if err != nil {
			return nil, &model.ConfigurationError{Key: "polling-schedule", Message: "invalid cron expression", Err: err}
		}
		return t, nil
	}
	return scheduler.IntervalTrigger{Interval: exp.PollingInterval()}, nil
}
