package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"stagehand/internal/cli"
	"stagehand/internal/config"
	"stagehand/internal/logging"
	"stagehand/internal/observability"
	"stagehand/internal/promexport"
	"stagehand/internal/report"
	"stagehand/internal/runner"
	"stagehand/internal/stats"
	"stagehand/internal/threshold"
	"stagehand/internal/tui"
)

// loadPlan resolves flags, file and environment into a validated plan.
func loadPlan(cmd *cobra.Command) (*config.Config, *config.Plan, error) {
	v := viper.New()
	if err := applyFlags(cmd, v); err != nil {
		return nil, nil, &exitError{code: report.ExitInvalidConfig, err: err}
	}
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, nil, &exitError{code: report.ExitInvalidConfig, err: err}
	}
	plan, err := cfg.Compile()
	if err != nil {
		return cfg, nil, &exitError{code: report.ExitInvalidConfig, err: err}
	}
	return cfg, plan, nil
}

// stopper turns repeated interrupts into a graceful stop followed by an
// abort.
type stopper struct {
	n      atomic.Int32
	cancel context.CancelFunc
	abort  func()
	log    zerolog.Logger
}

func (s *stopper) Interrupt() {
	switch s.n.Add(1) {
	case 1:
		s.log.Warn().Msg("stopping: letting in-flight iterations finish (interrupt again to abort)")
		s.cancel()
	case 2:
		s.log.Warn().Msg("aborting in-flight requests")
		s.abort()
	}
}

// lockedBuffer holds log lines while the live view owns the terminal.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) WriteTo(w io.Writer) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.WriteTo(w)
}

func runLoad(cmd *cobra.Command, _ []string) error {
	live, _ := cmd.Flags().GetBool("live")

	cfg, plan, err := loadPlan(cmd)
	if err != nil {
		return err
	}

	var logOut io.Writer = os.Stderr
	held := &lockedBuffer{}
	if live {
		logOut = held
		defer held.WriteTo(os.Stderr)
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, logOut)
	if err != nil {
		return &exitError{code: report.ExitInvalidConfig, err: err}
	}

	runID := uuid.NewString()
	log = log.With().Str("run_id", runID).Logger()

	shutdownTracer, err := observability.InitTracer(observability.TracerOptions{
		Enabled:  cfg.Tracing.Enabled,
		Service:  "stagehand",
		Endpoint: cfg.Tracing.Endpoint,
		RunID:    runID,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn().Err(err).Msg("flush traces")
		}
	}()

	agg := stats.NewAggregator()
	updates := make(runner.ProgressChan, 16)
	r, err := runner.New(plan.Runner, plan.Schedule, plan.Selector, agg,
		runner.WithLogger(log),
		runner.WithProgress(updates),
		runner.WithAbortThresholds(plan.Thresholds),
		runner.WithRunID(runID),
	)
	if err != nil {
		return &exitError{code: report.ExitInvalidConfig, err: err}
	}

	g, gctx := errgroup.WithContext(cmd.Context())
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()
	stop := &stopper{cancel: cancelRun, abort: r.Abort, log: log}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-sigCh:
				stop.Interrupt()
			case <-done:
				return
			}
		}
	}()

	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	var sum runner.Summary
	g.Go(func() error {
		defer stopServe()
		sum = r.Run(runCtx)
		return nil
	})

	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return promexport.Serve(serveCtx, cfg.Metrics.Addr, agg, runID, log)
		})
	}

	header := cli.Header{
		RunID:   runID,
		BaseURL: plan.Runner.BaseURL,
		Stages:  plan.Schedule.Stages(),
		Mode:    plan.Schedule.Mode(),
		Weights: plan.Selector.Probabilities(),
		Timeout: plan.Runner.RequestTimeout,
		Pacing:  plan.Runner.Pacing,
	}
	g.Go(func() error {
		if live {
			err := tui.Run("STAGEHAND "+runID, plan.Runner.BaseURL, updates, stop.Interrupt, nil)
			if err == nil {
				return nil
			}
			log.Warn().Err(err).Msg("live view unavailable, falling back to progress lines")
		}
		cli.PrintHeader(os.Stdout, header)
		cli.Monitor(os.Stdout, updates)
		return nil
	})

	runErr := g.Wait()

	verdict := threshold.Evaluate(sum.Snapshot, plan.Thresholds)
	rep := report.New(sum, verdict)
	rep.BaseURL = plan.Runner.BaseURL
	fmt.Fprint(os.Stdout, rep.Render())

	paths, err := rep.Save(cfg.Report.Out, cfg.Report.Formats)
	if err != nil {
		log.Error().Err(err).Msg("write report")
		return &exitError{code: report.ExitError, err: err, quiet: true}
	}
	if len(paths) > 0 {
		log.Info().Strs("files", paths).Msg("report saved")
	}

	if runErr != nil {
		return &exitError{code: report.ExitError, err: runErr}
	}
	if code := rep.ExitCode(); code != report.ExitPass {
		for _, res := range verdict.Failed() {
			log.Warn().Str("threshold", res.Threshold.String()).Str("reason", res.Reason).Msg("threshold failed")
		}
		return &exitError{code: code, quiet: true}
	}
	return nil
}
