package cli

import (
	"context"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/internal/resource"
	"github.com/me/gomint/internal/store"
	"github.com/me/gomint/internal/taskgroup"
	"github.com/me/gomint/pkg/model"
	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var showJobs bool

	cmd := &cobra.Command{
		Use:   "status <experiment-dir>",
		Short: "Show resources, jobs and the best observation of an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := config.Load(args[0], flagConfig)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			st, err := store.Open(ctx, store.Options{Address: exp.Database.Address, Database: exp.Database.Name}, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			return printExperimentStatus(ctx, cmd.OutOrStdout(), exp, st, showJobs)
		},
	}

	cmd.Flags().BoolVar(&showJobs, "jobs", true, "List every job")
	return cmd
}

func printExperimentStatus(ctx context.Context, w io.Writer, exp *config.Config, st store.Store, showJobs bool) error {
	jobs, err := st.LoadJobs(ctx, exp.ExperimentName)
	if err != nil {
		return err
	}
	resources, err := resource.FromConfig(exp, resource.BuildOptions{}, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Experiment: %s\n", exp.ExperimentName)
	fmt.Fprintf(w, "  Directory: %s\n", exp.ExperimentDir)
	fmt.Fprintf(w, "  Chooser:   %s\n", exp.Chooser)
	fmt.Fprintf(w, "  Jobs:      %d total, %d new, %d pending, %d complete, %d broken\n\n",
		len(jobs),
		len(model.FilterByStatus(jobs, model.JobStatusNew)),
		len(model.FilterByStatus(jobs, model.JobStatusPending)),
		len(model.FilterByStatus(jobs, model.JobStatusComplete)),
		len(model.FilterByStatus(jobs, model.JobStatusBroken)),
	)

	if err := resource.PrintStatus(w, resources.All(), jobs); err != nil {
		return err
	}

	if showJobs && len(jobs) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tRESOURCE\tVALUES\tPARAMS")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", j.ID, j.Status, j.Resource, formatValues(j.Values), formatParams(j))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	space, err := taskgroup.NewSpace(exp.Variables)
	if err != nil {
		return err
	}
	for _, task := range exp.Tasks {
		tg, err := taskgroup.Build(space, []string{task.Name}, jobs)
		if err != nil {
			return err
		}
		printTaskSummary(w, task.Name, tg, jobs)
	}
	return nil
}

// printTaskSummary writes the best job and summary statistics for one task.
func printTaskSummary(w io.Writer, task string, tg *taskgroup.TaskGroup, jobs []*model.Job) {
	var observed stats.Float64Data
	for _, v := range tg.Values[task] {
		if !math.IsNaN(v) {
			observed = append(observed, v)
		}
	}

	fmt.Fprintf(w, "\nTask %s: %d observations\n", task, len(observed))
	row, best := tg.Best(task)
	if row < 0 {
		return
	}

	id := tg.JobIDs[row]
	i := slices.IndexFunc(jobs, func(j *model.Job) bool { return j.ID == id })
	fmt.Fprintf(w, "  Best:   %g (job %d", best, id)
	if i >= 0 {
		fmt.Fprintf(w, ", %s", formatParams(jobs[i]))
	}
	fmt.Fprintln(w, ")")

	mean, _ := stats.Mean(observed)
	median, _ := stats.Median(observed)
	worst, _ := stats.Max(observed)
	fmt.Fprintf(w, "  Mean:   %g\n", mean)
	fmt.Fprintf(w, "  Median: %g\n", median)
	fmt.Fprintf(w, "  Worst:  %g\n", worst)
	if len(observed) > 1 {
		sd, _ := stats.StandardDeviationSample(observed)
		fmt.Fprintf(w, "  Stddev: %g\n", sd)
	}
}

func formatValues(values map[string]float64) string {
	if len(values) == 0 {
		return "-"
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%g", name, values[name]))
	}
	return strings.Join(parts, " ")
}

func formatParams(j *model.Job) string {
	names := make([]string, 0, len(j.Params))
	for name := range j.Params {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		vals := j.Params[name].Values
		if len(vals) == 1 {
			parts = append(parts, fmt.Sprintf("%s=%g", name, vals[0]))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", name, vals))
	}
	return strings.Join(parts, " ")
}
