package cmd

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"stagehand/internal/styles"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration without generating load",
	Long: `Resolves the configuration from file, STAGEHAND_* environment variables
and flags exactly like a run would, and reports every problem at once.
Exits 104 when the configuration is invalid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, plan, err := loadPlan(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if dump, _ := cmd.Flags().GetBool("print"); dump {
			b, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = out.Write(b)
			return err
		}

		fmt.Fprintln(out, styles.Success.Render("✓ configuration is valid"))
		fmt.Fprintf(out, "  target     : %s\n", plan.Runner.BaseURL)
		fmt.Fprintf(out, "  duration   : %s over %d stages (peak %d VUs, %s ramp)\n",
			plan.Schedule.Total(), len(plan.Schedule.Stages()), plan.Schedule.Max(), plan.Schedule.Mode())
		probs := plan.Selector.Probabilities()
		for _, name := range slices.Sorted(maps.Keys(probs)) {
			fmt.Fprintf(out, "  behavior   : %-12s %5.1f%%\n", name, probs[name]*100)
		}
		for _, th := range plan.Thresholds {
			abort := ""
			if th.AbortOnFail {
				abort = " (abort on fail)"
			}
			fmt.Fprintf(out, "  threshold  : %s%s\n", th, abort)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().Bool("print", false, "print the resolved configuration as YAML")
}
