package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stagehand/internal/banner"
	"stagehand/internal/config"
	"stagehand/internal/report"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Stagehand - staged load generator and SLO gate",
	Long: `
Stagehand drives a pool of virtual users through a staged load profile,
picks a weighted behavior for every iteration, and checks the run against
SLO thresholds.

Exit status: 0 when every threshold passes, 99 when one fails,
104 for an invalid configuration and 1 for anything else.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runLoad,
}

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
	// quiet is set when the failure was already reported.
	quiet bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the command line and returns the process exit status.
func Execute() int {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	err := rootCmd.Execute()
	if err == nil {
		return report.ExitPass
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.quiet {
			fmt.Fprintln(os.Stderr, "Error:", ee.Error())
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		return report.ExitInvalidConfig
	}
	return report.ExitError
}

func init() {
	rootCmd.AddCommand(mockCmd, validateCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	pf.StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "log format (json or console)")

	addRunFlags(rootCmd)
	addRunFlags(validateCmd)
}
