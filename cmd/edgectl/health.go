package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func healthCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the Gateway and Orchestrator health endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			checkOne("gateway", gatewayURL+"/health")
			checkOne("orchestrator", orchestratorURL+"/health")
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway-url", "http://localhost:8080", "Gateway base URL")
	return cmd
}

func checkOne(name, url string) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("%-12s UNREACHABLE (%v)\n", name, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		fmt.Printf("%-12s OK\n", name)
	} else {
		fmt.Printf("%-12s UNHEALTHY (status %d)\n", name, resp.StatusCode)
	}
}
