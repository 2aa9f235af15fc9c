package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sarchlab/ossim/controller"
	"github.com/sarchlab/ossim/datarecording"
	"github.com/sarchlab/ossim/sim"
	"github.com/spf13/cobra"
)

var eventKinds = []*sim.HookPos{
	controller.HookPosRequest,
	controller.HookPosGrant,
	controller.HookPosDeny,
	controller.HookPosRelease,
	controller.HookPosTerminate,
	controller.HookPosStale,
	controller.HookPosDeadlock,
	controller.HookPosTick,
	controller.HookPosSpawn,
	controller.HookPosReap,
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report FILE",
		Short: "Prints the summary of a recorded run.",
		Long: "`report FILE` reads a SQLite recording written with --record " +
			"and prints the run settings, the final counters and the " +
			"number of events of each kind.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			reader, err := datarecording.NewReader(args[0])
			if err != nil {
				return err
			}
			defer reader.Close()

			return report(cmd.Context(), cmd.OutOrStdout(), reader)
		},
	}
}

func report(
	ctx context.Context,
	out io.Writer,
	reader *datarecording.Reader,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	info, err := reader.ExecInfo(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "--- Run ---")
	for _, e := range info {
		fmt.Fprintf(out, "%-20s %s\n", e.Property, e.Value)
	}

	summary, err := reader.Summary(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "--- Counters ---")
	for _, e := range summary {
		fmt.Fprintf(out, "%-20s %d\n", e.Counter, e.Value)
	}

	counts, err := reader.EventCounts(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "--- Events ---")
	for _, pos := range eventKinds {
		fmt.Fprintf(out, "%-20s %d\n",
			strings.ToLower(pos.Name), counts[pos.Name])
	}

	return nil
}
