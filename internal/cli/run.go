package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions — глобальные флаги CLI.
type rootOptions struct {
	apiURL   string
	jsonMode bool
}

// NewRootCmd собирает дерево команд операторского CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "rise",
		Short: "RISE simulation service operator CLI",
		Long:  "Инспекция и управление simulation runs через HTTP API сервиса RISE.",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	defaultAPI := os.Getenv("RISE_API_URL")
	if defaultAPI == "" {
		defaultAPI = "http://localhost:8000"
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", defaultAPI, "base URL of the RISE API")
	root.PersistentFlags().BoolVar(&opts.jsonMode, "json", false, "output as JSON")

	root.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
	)

	return root
}

// newRunCmd — группа команд управления runs.
func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage simulation runs",
	}

	cmd.AddCommand(
		newRunListCmd(opts),
		newRunShowCmd(opts),
		newRunStartCmd(opts),
	)

	return cmd
}

func newRunListCmd(opts *rootOptions) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List simulation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := NewClient(opts.apiURL).ListRuns(cmd.Context(), status, limit)
			if err != nil {
				return err
			}

			if opts.jsonMode {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			printRunsTable(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")

	return cmd
}

func newRunShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a single run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := NewClient(opts.apiURL).GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if opts.jsonMode {
				return printJSON(cmd.OutOrStdout(), run)
			}
			printRunDetails(cmd.OutOrStdout(), run)
			return nil
		},
	}
}

func newRunStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Request a new simulation run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := NewClient(opts.apiURL).StartRun(cmd.Context())
			if err != nil {
				return err
			}

			if opts.jsonMode {
				return printJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run accepted: %s (%s)\n", result.RunID, result.Status)
			return nil
		},
	}
}

// newStatusCmd — готовность пре-процессинга publish-сервиса.
func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show publish readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := NewClient(opts.apiURL).GetPublishStatus(cmd.Context())
			if err != nil {
				return err
			}

			if opts.jsonMode {
				return printJSON(cmd.OutOrStdout(), status)
			}
			if status.RunID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (latest run %s)\n", status.Status, status.RunID)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), status.Status)
			}
			return nil
		},
	}
}
