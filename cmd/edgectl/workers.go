package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/edgefaas/edgefaas/internal/orchestrator"
	"github.com/spf13/cobra"
)

func workersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Inspect and evict worker containers",
	}
	cmd.AddCommand(workersListCmd())
	cmd.AddCommand(workersDeleteCmd())
	return cmd
}

func workersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every worker the Orchestrator currently tracks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := orchestrator.NewClient(orchestratorURL, 10*time.Second)
			workers, err := client.List(context.Background())
			if err != nil {
				return fmt.Errorf("list workers: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFUNCTION\tENDPOINT\tCREATED\tLAST USED")
			for _, worker := range workers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					worker.ID, worker.Function, worker.Endpoint(),
					worker.CreatedAt.Format(time.RFC3339), worker.LastUsed.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func workersDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <worker-id>",
		Short: "Stop and remove a worker container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := orchestrator.NewClient(orchestratorURL, 10*time.Second)
			if err := client.Delete(context.Background(), args[0]); err != nil {
				return fmt.Errorf("delete worker: %w", err)
			}
			fmt.Printf("worker %s deleted\n", args[0])
			return nil
		},
	}
}
