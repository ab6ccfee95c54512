package cli

import (
	"github.com/me/gomint/internal/launcher"
	"github.com/me/gomint/internal/objective"
	"github.com/me/gomint/internal/store"
	"github.com/spf13/cobra"
)

func newLaunchCmd() *cobra.Command {
	var (
		experiment string
		address    string
		database   string
		jobID      int
	)

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Execute one dispatched job",
		Long: "Launch evaluates the objective for a single job record and stores the result.\n" +
			"Resources start it; it is not meant to be run by hand.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := store.Open(ctx, store.Options{Address: address, Database: database}, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			l := launcher.New(st, objective.NewResolver(logger), logger)
			return l.Launch(ctx, experiment, jobID)
		},
	}

	cmd.Flags().StringVar(&experiment, "experiment-name", "", "Experiment the job belongs to")
	cmd.Flags().StringVar(&address, "database-address", "", "Store address (SQLite path or mongodb:// URI)")
	cmd.Flags().StringVar(&database, "database-name", "", "Mongo database name")
	cmd.Flags().IntVar(&jobID, "job-id", 0, "Job to execute")
	cmd.MarkFlagRequired("experiment-name")
	cmd.MarkFlagRequired("database-address")
	cmd.MarkFlagRequired("job-id")
	return cmd
}
