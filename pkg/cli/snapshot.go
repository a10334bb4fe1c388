package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/platinummonkey/backstage/pkg/jobs"
)

func newSnapshotCommand() *Command {
	cmd := &Command{
		Name:        "snapshot",
		Description: "Export the authority matrix of every saved preset once",
		Flags:       flag.NewFlagSet("snapshot", flag.ContinueOnError),
	}

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		rt, err := loadRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close(context.Background())

		exporter, err := rt.Exporter(ctx)
		if err != nil {
			return err
		}
		return runSnapshot(ctx, rt.SnapshotJob(exporter), cmd.output())
	}
	return cmd
}

func runSnapshot(ctx context.Context, job *jobs.SnapshotJob, out io.Writer) error {
	report, err := job.Run(ctx)
	if report != nil {
		for _, key := range report.Exported {
			fmt.Fprintf(out, "exported %s\n", key)
		}
		failed := make([]string, 0, len(report.Failed))
		for id := range report.Failed {
			failed = append(failed, id)
		}
		sort.Strings(failed)
		for _, id := range failed {
			fmt.Fprintf(out, "failed %s: %v\n", id, report.Failed[id])
		}
	}
	return err
}
