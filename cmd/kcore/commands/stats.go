package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tinykern/kcore/config"
	"github.com/tinykern/kcore/internal/output"
)

var (
	statsDetailed bool
	statsCommands []string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Run a workload and print allocator statistics",
	Long: `Boot the kernel with metrics enabled, run the shell lines given with --command,
then print the allocator statistics as JSON followed by the allocator metrics.

Examples:
  kcore stats -c "echo hello > greeting" -c "mkdir a/b"
  kcore stats --detailed -c "touch empty"`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVarP(&statsDetailed, "detailed", "d", false, "list every range of the fallback arena")
	statsCmd.Flags().StringArrayVarP(&statsCommands, "command", "c", nil, "shell line to run before collecting statistics (repeatable)")
}

func runStats(cmd *cobra.Command, args []string) error {
	k, _, err := bootKernel(cmd.ErrOrStderr(), io.Discard, func(cfg *config.Config) {
		cfg.Metrics.Enabled = true
	})
	if err != nil {
		return err
	}

	for _, line := range statsCommands {
		k.TypeLine(line)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, k.Allocator().BuildStatsString(statsDetailed))
	fmt.Fprintln(out)

	if err := printMetrics(out, k.Registry()); err != nil {
		return errors.CombineErrors(err, k.Shutdown())
	}
	return k.Shutdown()
}

// printMetrics writes one row per series gathered from reg
func printMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}

	var rows [][]string
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			var labels []string
			for _, label := range metric.GetLabel() {
				labels = append(labels, label.GetName()+"="+label.GetValue())
			}
			sort.Strings(labels)

			value := metric.GetGauge().GetValue()
			if metric.GetCounter() != nil {
				value = metric.GetCounter().GetValue()
			}

			rows = append(rows, []string{family.GetName(), strings.Join(labels, ","), fmt.Sprintf("%g", value)})
		}
	}

	output.PrintTable(w, []string{"Metric", "Labels", "Value"}, rows)
	return nil
}
