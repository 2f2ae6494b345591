package commands

import (
	"bufio"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var shellCommands []string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Boot the kernel and run its shell",
	Long: `Boot the kernel and feed it lines from standard input, one keyboard line at a time,
until input ends or the exit command runs. With --command, run the given lines instead.

Examples:
  kcore shell
  kcore shell -c "mkdir docs" -c "echo hello > docs/readme" -c "ls -l docs"`,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().StringArrayVarP(&shellCommands, "command", "c", nil, "run this line instead of reading standard input (repeatable)")
}

func runShell(cmd *cobra.Command, args []string) error {
	k, _, err := bootKernel(cmd.ErrOrStderr(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	if len(shellCommands) > 0 {
		for _, line := range shellCommands {
			if k.Halted() {
				break
			}
			k.TypeLine(line)
		}
	} else {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for !k.Halted() && scanner.Scan() {
			k.TypeLine(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return errors.CombineErrors(errors.Wrap(err, "reading input"), k.Shutdown())
		}
	}

	if !k.Halted() {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return k.Shutdown()
}
