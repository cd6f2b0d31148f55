package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var orchestratorURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "edgectl",
		Short: "Operator CLI for an edgefaas deployment",
		Long:  "Inspect and manage a running Gateway/Orchestrator pair: list and evict workers, mint dev tokens, and check health",
	}

	rootCmd.PersistentFlags().StringVar(&orchestratorURL, "orchestrator-url", "http://localhost:9090", "Orchestrator base URL")
	rootCmd.AddCommand(workersCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(healthCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
