package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stagehand/internal/logging"
	"stagehand/internal/mock"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Serve a mock grocery gateway to practice against",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		addr, _ := f.GetString("addr")
		opts := mock.Options{}
		opts.Latency, _ = f.GetDuration("latency")
		opts.Jitter, _ = f.GetDuration("jitter")
		opts.FailRate, _ = f.GetFloat64("fail-rate")
		opts.ConflictRate, _ = f.GetFloat64("conflict-rate")

		format := logFormat
		if format == "" {
			format = logging.FormatConsole
		}
		log, err := logging.New(logLevel, format, os.Stderr)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return mock.New(opts, log).ListenAndServe(ctx, addr)
	},
}

func init() {
	f := mockCmd.Flags()
	f.StringP("addr", "a", ":8080", "listen address")
	f.Duration("latency", 0, "delay added to every API response")
	f.Duration("jitter", 0, "random extra delay in [0, jitter)")
	f.Float64("fail-rate", 0, "fraction of API calls answered with 500")
	f.Float64("conflict-rate", 0, "fraction of checkouts answered with 409")
}
